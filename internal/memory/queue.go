package memory

import (
	"context"
	"strings"
)

// Publisher hands an ingestion off to a queue.
type Publisher interface {
	PublishIngest(ctx context.Context, owner, role, text string) error
}

// QueueOracle publishes ingestions for a worker to apply and reads directly
// from the backing store.
type QueueOracle struct {
	pub    Publisher
	reader Oracle
}

func NewQueueOracle(pub Publisher, reader Oracle) *QueueOracle {
	return &QueueOracle{pub: pub, reader: reader}
}

func (q *QueueOracle) Ingest(ctx context.Context, owner, role, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return q.pub.PublishIngest(ctx, owner, role, text)
}

func (q *QueueOracle) Retrieve(ctx context.Context, owner, query string) (string, error) {
	return q.reader.Retrieve(ctx, owner, query)
}
