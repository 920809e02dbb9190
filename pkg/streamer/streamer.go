// Package streamer follows the chain head, exporting one batch of heights at
// a time and advancing the job's checkpoint after each.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cosmosetl/cosmos-indexer/internal/contractfilter"
	"github.com/cosmosetl/cosmos-indexer/pkg/chainclient"
	"github.com/cosmosetl/cosmos-indexer/pkg/checkpointer"
	"github.com/cosmosetl/cosmos-indexer/pkg/metrics"
)

// DefaultCollectorID is the checkpoint identity used when none is configured.
const DefaultCollectorID = "streaming_collector"

// RangeExporter persists one height range.
type RangeExporter interface {
	ExportRange(ctx context.Context, start, end uint64, filter contractfilter.Filter) error
}

// Config holds the configuration for the streamer.
type Config struct {
	CollectorID string
	StartBlock  uint64 // first height exported when the job has no checkpoint
	EndBlock    uint64 // last height to export, 0 to follow the head forever
	Lag         uint64 // heights to stay behind the head
	BatchSize   uint64 // heights per range export
	Period      time.Duration
	RetryErrors bool // keep running after a failed step
	Checkpoint  checkpointer.Config
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CollectorID: DefaultCollectorID,
		StartBlock:  1,
		BatchSize:   10,
		Period:      10 * time.Second,
		Checkpoint:  checkpointer.DefaultConfig(),
	}
}

func (c Config) validate() error {
	if c.CollectorID == "" {
		return errors.New("invalid collector id: must not be empty")
	}
	if c.BatchSize == 0 {
		return errors.New("invalid batch size: must be greater than 0")
	}
	if c.Period <= 0 {
		return errors.New("invalid period: must be greater than 0")
	}
	if c.EndBlock != 0 && c.EndBlock < c.StartBlock {
		return fmt.Errorf("invalid end block: %d is below start block %d", c.EndBlock, c.StartBlock)
	}
	return nil
}

// Streamer drives range exports from the checkpoint towards the chain head.
type Streamer struct {
	cfg        Config
	exporter   RangeExporter
	probe      chainclient.HeightProbe
	checkpoint checkpointer.Checkpointer
	filter     contractfilter.Filter
	log        *zap.SugaredLogger
	metrics    *metrics.Metrics // nil if metrics disabled

	reachedEnd bool
}

// Option configures the Streamer.
type Option func(*Streamer)

// WithMetrics enables metrics collection for the streamer.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Streamer) {
		s.metrics = m
	}
}

// New creates a streamer.
func New(
	cfg Config,
	exporter RangeExporter,
	probe chainclient.HeightProbe,
	cp checkpointer.Checkpointer,
	log *zap.SugaredLogger,
	opts ...Option,
) (*Streamer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Streamer{
		cfg:        cfg,
		exporter:   exporter,
		probe:      probe,
		checkpoint: cp,
		filter:     contractfilter.NewMemory(),
		log:        log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run exports batches until the context is canceled or EndBlock has been
// checkpointed. It sleeps for Period whenever it has caught up with the head
// and, if RetryErrors is set, after a failed step.
func (s *Streamer) Run(ctx context.Context) error {
	s.log.Infow("starting streamer",
		"collector_id", s.cfg.CollectorID,
		"start_block", s.cfg.StartBlock,
		"end_block", s.cfg.EndBlock,
		"lag", s.cfg.Lag,
		"batch_size", s.cfg.BatchSize,
	)
	for {
		if ctx.Err() != nil {
			return nil
		}

		caughtUp, err := s.Step(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil && !s.cfg.RetryErrors:
			return err
		case err != nil:
			s.log.Errorw("step failed, retrying", "error", err, "wait", s.cfg.Period)
		case s.reachedEnd:
			s.log.Infow("reached end block", "end_block", s.cfg.EndBlock)
			return nil
		case !caughtUp:
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.Period):
		}
	}
}

// Step exports the next batch after the checkpoint and advances the
// checkpoint to its last height. It reports whether the exported batch
// reached the target height, or whether there was nothing to export.
func (s *Streamer) Step(ctx context.Context) (bool, error) {
	last, exists, err := s.checkpoint.Read(ctx, s.cfg.CollectorID)
	if err != nil {
		s.metrics.IncError(metrics.ErrTypeCheckpoint)
		return false, fmt.Errorf("read checkpoint %s: %w", s.cfg.CollectorID, err)
	}
	next := s.cfg.StartBlock
	if exists {
		next = last + 1
	}

	target, ok, err := s.target(ctx)
	if err != nil {
		return false, err
	}
	if !ok || next > target {
		s.reachedEnd = s.cfg.EndBlock != 0 && exists && last >= s.cfg.EndBlock
		return true, nil
	}
	end := min(next+s.cfg.BatchSize-1, target)

	s.log.Debugw("exporting batch", "start", next, "end", end, "target", target)
	if err := s.exporter.ExportRange(ctx, next, end, s.filter); err != nil {
		return false, err
	}

	if err := checkpointer.WriteWithRetry(ctx, s.checkpoint, s.cfg.Checkpoint, s.cfg.CollectorID, end); err != nil {
		s.metrics.IncError(metrics.ErrTypeCheckpoint)
		return false, err
	}
	// WriteWithRetry gives up without an error once ctx is done.
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.metrics.SetCheckpointHeight(end)
	s.reachedEnd = s.cfg.EndBlock != 0 && end >= s.cfg.EndBlock
	return end == target, nil
}

// target is the highest height that may be exported now. It reports false
// while the chain is shorter than the lag.
func (s *Streamer) target(ctx context.Context) (uint64, bool, error) {
	head, err := s.probe.CurrentHeight(ctx)
	if err != nil {
		s.metrics.IncError(metrics.ErrTypeHeadProbe)
		return 0, false, fmt.Errorf("probe chain head: %w", err)
	}
	s.metrics.SetChainHead(head)

	if head < s.cfg.Lag {
		return 0, false, nil
	}
	target := head - s.cfg.Lag
	if s.cfg.EndBlock != 0 {
		target = min(target, s.cfg.EndBlock)
	}
	return target, true, nil
}
