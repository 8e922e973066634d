package catalog

import (
	"context"
	"io"
	"time"
)

// Fetcher performs a single HTTP GET. Transport failures are returned as errors;
// any HTTP status, including 4xx/5xx, is a successful fetch.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// ArchiveStore writes raw payloads and returns a URI.
type ArchiveStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes notification payloads to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
