package semindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/chartquery-api/internal/config"
	"github.com/jwalitptl/chartquery-api/internal/model"
	apperrors "github.com/jwalitptl/chartquery-api/pkg/errors"
)

// Chunk is one semantic search hit. DocumentID always refers back into the
// structured store; the index never invents identifiers.
type Chunk struct {
	ChunkText   string    `json:"chunk_text"`
	DocumentID  uuid.UUID `json:"document_id"`
	SectionType string    `json:"section_type"`
	Score       float64   `json:"score"`
}

// Index is the semantic search capability. Implementations must honor
// exact-match filtering on patient_id, encounter_id and document_id; fuzzy
// matching on identifiers is forbidden.
type Index interface {
	Search(ctx context.Context, queryText string, filter model.RetrievalFilter, topK int) ([]Chunk, error)
}

type client struct {
	log        zerolog.Logger
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient builds the HTTP client for the vector search service.
func NewClient(cfg config.SemanticIndexConfig, log zerolog.Logger) (Index, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("missing semantic index base URL")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &client{
		log:        log.With().Str("client", "semindex").Logger(),
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		timeout:    timeout,
		httpClient: &http.Client{},
	}, nil
}

type searchRequest struct {
	Query           string         `json:"query"`
	Filter          map[string]any `json:"filter"`
	TopK            int            `json:"top_k"`
	IncludeMetadata bool           `json:"include_metadata"`
}

type searchResponse struct {
	Matches []Chunk `json:"matches"`
}

// Search issues a filtered similarity query. The patient scope check here is
// the last line of defense: the strategy selector validates filters before
// calling, and anything that slips through is a fatal programming error, not
// a retryable condition.
func (c *client) Search(ctx context.Context, queryText string, filter model.RetrievalFilter, topK int) ([]Chunk, error) {
	if !filter.Scoped() {
		c.log.Error().Str("query", queryText).Msg("semantic query rejected: no patient scope")
		return nil, apperrors.IsolationViolation("retrieval filter has no patient_id")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(searchRequest{
		Query:           queryText,
		Filter:          filter.Metadata(),
		TopK:            topK,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, apperrors.UpstreamTimeout("semantic_index", err)
		}
		return nil, fmt.Errorf("semantic index request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("semantic index returned status %d", resp.StatusCode)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return out.Matches, nil
}
