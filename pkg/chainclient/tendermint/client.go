// Package tendermint fetches blocks, transactions and events from a
// CometBFT/Tendermint node over its JSON-RPC interface.
package tendermint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ava-labs/coreth/rpc"
	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/cosmosetl/cosmos-indexer/pkg/chainclient"
	"github.com/cosmosetl/cosmos-indexer/pkg/metrics"
)

// blockTimeCacheSize bounds the heights whose block time is remembered
// between FetchBlocks and FetchTransactionsAndEvents.
const blockTimeCacheSize = 4096

// Config holds the configuration for the node client.
type Config struct {
	URL            string
	Timeout        time.Duration // per request
	MaxConcurrency int64         // concurrent requests against the node
	MaxRetries     uint64        // retries of a failed request
	PerPage        int           // tx_search page size, at most 100
	BatchSize      int           // block requests per JSON-RPC batch
}

// DefaultConfig returns a Config with sensible defaults for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		Timeout:        30 * time.Second,
		MaxConcurrency: 8,
		MaxRetries:     5,
		PerPage:        100,
		BatchSize:      20,
	}
}

// Client talks to one CometBFT node.
type Client struct {
	cfg        Config
	rpc        *rpc.Client
	httpClient *http.Client
	sem        *semaphore.Weighted
	times      *lru.Cache // height -> block time
	log        *zap.SugaredLogger
	metrics    *metrics.Metrics // nil if metrics disabled
	newBackOff func() backoff.BackOff
}

var _ chainclient.ChainClient = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithMetrics enables metrics collection for the client.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBackOff replaces the retry schedule. Retries are still capped by
// Config.MaxRetries.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) {
		c.newBackOff = f
	}
}

// New creates a new node client.
func New(ctx context.Context, cfg Config, log *zap.SugaredLogger, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("invalid url: must not be empty")
	}
	if cfg.MaxConcurrency <= 0 {
		return nil, errors.New("invalid max concurrency: must be greater than 0")
	}
	if cfg.PerPage <= 0 || cfg.PerPage > 100 {
		return nil, errors.New("invalid page size: must be between 1 and 100")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("invalid batch size: must be greater than 0")
	}

	times, err := lru.New(blockTimeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create block time cache: %w", err)
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		sem:        semaphore.NewWeighted(cfg.MaxConcurrency),
		times:      times,
		log:        log,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(c)
	}

	rc, err := rpc.DialOptions(ctx, cfg.URL, rpc.WithHTTPClient(c.httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial cometbft rpc: %w", err)
	}
	c.rpc = rc
	return c, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	c.rpc.Close()
}

// call performs one JSON-RPC request, retrying transport failures and 5xx
// responses. Node-reported errors are not retried.
func (c *Client) call(ctx context.Context, method string, out interface{}, args ...interface{}) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	c.metrics.IncRPCInFlight()
	defer c.metrics.DecRPCInFlight()
	start := time.Now()

	err := c.retry(ctx, method, func() error {
		return classify(c.rpc.CallContext(ctx, out, method, args...))
	})

	c.metrics.RecordRPCCall(method, err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// batch sends elems as a single JSON-RPC batch. A failed element fails the
// whole batch, and a retry resends every element.
func (c *Client) batch(ctx context.Context, method string, elems []rpc.BatchElem) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	c.metrics.IncRPCInFlight()
	defer c.metrics.DecRPCInFlight()
	start := time.Now()

	err := c.retry(ctx, method, func() error {
		for i := range elems {
			elems[i].Error = nil
		}
		if err := c.rpc.BatchCallContext(ctx, elems); err != nil {
			return classify(err)
		}
		for _, e := range elems {
			if e.Error == nil {
				continue
			}
			err := classify(e.Error)
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				return backoff.Permanent(fmt.Errorf("%s %v: %w", e.Method, e.Args, perm.Err))
			}
			return fmt.Errorf("%s %v: %w", e.Method, e.Args, err)
		}
		return nil
	})

	c.metrics.RecordRPCCall(method, err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s batch: %w", method, err)
	}
	return nil
}

func (c *Client) retry(ctx context.Context, method string, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.cfg.MaxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		c.log.Debugw("retrying rpc call", "method", method, "wait", wait, "error", err)
	}
	return backoff.RetryNotify(op, b, notify)
}

// classify maps a client error onto the retry policy. Errors reported by the
// node become a permanent *RPCError, whether they arrive in a 200 body or in
// the body of a 5xx.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return backoff.Permanent(toRPCError(rpcErr))
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		var body struct {
			Error *RPCError `json:"error"`
		}
		if json.Unmarshal(httpErr.Body, &body) == nil && body.Error != nil {
			return backoff.Permanent(body.Error)
		}
		if httpErr.StatusCode >= http.StatusInternalServerError || httpErr.StatusCode == http.StatusTooManyRequests {
			return err
		}
		return backoff.Permanent(err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, rpc.ErrNoResult) {
		return backoff.Permanent(err)
	}
	return err
}

func toRPCError(e rpc.Error) *RPCError {
	out := &RPCError{Code: e.ErrorCode(), Message: e.Error()}
	if de, ok := e.(rpc.DataError); ok && de.ErrorData() != nil {
		if s, ok := de.ErrorData().(string); ok {
			out.Data = s
		} else {
			out.Data = fmt.Sprint(de.ErrorData())
		}
	}
	return out
}
