package harvest

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// BlobStore writes artifacts and returns a URI. Implementations must never expose a
// partially written object at its final path.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Ledger records terminal unit outcomes outside the archive.
type Ledger interface {
	RecordUnit(ctx context.Context, record UnitRecord) error
}

// Hasher computes digests for artifact integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
