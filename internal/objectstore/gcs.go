package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/jwalitptl/chartquery-api/internal/config"
	apperrors "github.com/jwalitptl/chartquery-api/pkg/errors"
)

type gcsStore struct {
	log     zerolog.Logger
	client  *storage.Client
	bucket  string
	timeout time.Duration
}

// NewGCSStore opens the bucket that ingestion writes document content into.
func NewGCSStore(ctx context.Context, cfg config.ObjectStoreConfig, log zerolog.Logger) (Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("missing object store bucket name")
	}

	// The engine only ever reads; write access stays with ingestion.
	client, err := storage.NewClient(ctx, option.WithScopes(storage.ScopeReadOnly))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &gcsStore{
		log:     log.With().Str("client", "objectstore").Logger(),
		client:  client,
		bucket:  cfg.Bucket,
		timeout: timeout,
	}, nil
}

func (s *gcsStore) GetObject(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reader, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, apperrors.ObjectNotFound(path, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.UpstreamTimeout("object_store", err)
		}
		return nil, fmt.Errorf("failed to open object %s: %w", path, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.UpstreamTimeout("object_store", err)
		}
		return nil, fmt.Errorf("failed to read object %s: %w", path, err)
	}
	return data, nil
}
