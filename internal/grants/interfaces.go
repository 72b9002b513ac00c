package grants

import (
	"context"
	"io"
	"time"
)

// Store is the write side used by the cascading loader. Insert methods
// return the generated surrogate key.
type Store interface {
	Reset(ctx context.Context) error
	InsertSolicitation(ctx context.Context, s Solicitation) (int64, error)
	InsertTopic(ctx context.Context, t Topic) (int64, error)
	InsertSubtopic(ctx context.Context, st Subtopic) (int64, error)
}

// Catalog is the read side served by the query API.
type Catalog interface {
	ListSolicitations(ctx context.Context, page Page) ([]Solicitation, error)
	GetSolicitation(ctx context.Context, id int64) (Solicitation, error)
	SearchSolicitations(ctx context.Context, filter SolicitationFilter) ([]Solicitation, error)
	SearchTopics(ctx context.Context, filter TopicFilter) ([]Topic, error)
	Ping(ctx context.Context) error
}

// PageFetcher retrieves one page of raw solicitation records.
type PageFetcher interface {
	FetchPage(ctx context.Context, start, rows int) ([]RawRecord, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archived batches.
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
