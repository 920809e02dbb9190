package checkpointer

import (
	"context"
	"fmt"
	"time"
)

// Checkpointer abstracts checkpoint persistence across different data stores. A checkpoint
// tracks the last processed block height of one ingestion job, enabling resumption after
// restarts or failures.
type Checkpointer interface {
	// Write persists height as the job's watermark. Implementations must not let the
	// watermark regress.
	Write(ctx context.Context, jobID string, height uint64) error

	// Read retrieves the job's watermark. The checkpoint record is created on first access;
	// exists is false until a height has been written.
	Read(ctx context.Context, jobID string) (height uint64, exists bool, err error)
}

// WriteWithRetry persists height, retrying failed writes per cfg.
//
// Returns nil on success or on context cancellation (graceful shutdown), or an error if the
// write fails after all retries.
func WriteWithRetry(
	ctx context.Context,
	checkpointer Checkpointer,
	cfg Config,
	jobID string,
	height uint64,
) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil
		}

		writeCtx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
		lastErr = checkpointer.Write(writeCtx, jobID, height)
		cancel()

		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			return nil
		}

		// Don't sleep after the last attempt
		if attempt < cfg.MaxRetries {
			select {
			case <-time.After(cfg.RetryBackoff):
			case <-ctx.Done():
				return nil
			}
		}
	}

	return fmt.Errorf("failed to write checkpoint (job: %s, height: %d) after %d retries: %w",
		jobID, height, cfg.MaxRetries+1, lastErr)
}
