// Package redis implements the persistence and notification ports on Redis.
//
// Records and join states are stored as JSON documents. Read-modify-write
// updates run as optimistic WATCH/MULTI transactions and retry on conflict.
package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix is prepended to every key and channel.
const DefaultPrefix = "processengine:"

// DefaultConflictBackoff paces retries of conflicting transactions.
var DefaultConflictBackoff backoff.Strategy = backoff.WithTransforms(
	backoff.Exponential(time.Millisecond),
	linger.FullJitter,
	linger.Limiter(0, 50*time.Millisecond),
)

// maxAttempts bounds the retries of one optimistic transaction.
const maxAttempts = 100

type options struct {
	prefix  string
	backoff backoff.Strategy
	logger  *slog.Logger
}

// Option configures the adapters of this package.
type Option func(*options)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithConflictBackoff sets the retry strategy of optimistic transactions.
func WithConflictBackoff(s backoff.Strategy) Option {
	return func(o *options) {
		o.backoff = s
	}
}

// WithLogger sets the logger. Only the notifier logs.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(opts []Option) options {
	o := options{
		prefix:  DefaultPrefix,
		backoff: DefaultConflictBackoff,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewClient connects to a Redis server.
func NewClient(address, password string, db int) *backend.Client {
	return backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
}

// watch runs fn in an optimistic transaction over keys, retrying while
// another client modifies them concurrently.
func watch(ctx context.Context, client *backend.Client, o options, fn func(*backend.Tx) error, keys ...string) error {
	counter := backoff.Counter{Strategy: o.backoff}
	for attempt := 1; ; attempt++ {
		err := client.Watch(ctx, fn, keys...)
		if !errors.Is(err, backend.TxFailedErr) {
			return err
		}
		if attempt == maxAttempts {
			return fmt.Errorf("transaction on %v gave up after %d conflicts: %w", keys, attempt, err)
		}
		if err := counter.Sleep(ctx, err); err != nil {
			return err
		}
	}
}
