package objectstore

import "context"

// Store is the object storage capability holding raw document content.
// Missing objects surface as ErrObjectNotFound so callers can fall back to
// filtered semantic search.
type Store interface {
	GetObject(ctx context.Context, path string) ([]byte, error)
}
