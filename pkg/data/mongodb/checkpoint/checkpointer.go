package checkpoint

import (
	"context"

	"github.com/cosmosetl/cosmos-indexer/pkg/checkpointer"
)

// Checkpointer is a MongoDB-backed implementation of the checkpointer.Checkpointer interface.
type Checkpointer struct {
	repo Repository
}

func NewCheckpointer(repo Repository) *Checkpointer {
	return &Checkpointer{repo: repo}
}

// Write advances the job's watermark. It never regresses.
func (c *Checkpointer) Write(ctx context.Context, jobID string, height uint64) error {
	return c.repo.Advance(ctx, jobID, height)
}

// Read returns the job's watermark, creating its record on first access.
func (c *Checkpointer) Read(ctx context.Context, jobID string) (uint64, bool, error) {
	collector, err := c.repo.GetOrCreate(ctx, jobID)
	if err != nil {
		return 0, false, err
	}
	height, ok := collector.Height()
	return height, ok, nil
}

var _ checkpointer.Checkpointer = (*Checkpointer)(nil)
