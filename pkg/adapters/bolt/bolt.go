// Package bolt implements the persistence ports on a bbolt database file.
//
// Every write runs in one bbolt write transaction, which also serializes the
// join updates of concurrent branches.
package bolt

import (
	"context"
	"errors"
	"os"

	"github.com/dogmatiq/linger"
	"go.etcd.io/bbolt"
)

var (
	instancesBucket = []byte("flow_node_instances")
	indexBucket     = []byte("index")
	joinsBucket     = []byte("joins")
)

// Open creates and opens a database at path.
//
// The file lock wait is bounded by the deadline of ctx, if any.
func Open(ctx context.Context, path string) (*bbolt.DB, error) {
	if ctx.Err() != nil {
		// A non-positive timeout means "wait forever" to bbolt.
		return nil, ctx.Err()
	}

	opts := *bbolt.DefaultOptions
	if timeout, ok := linger.FromContextDeadline(ctx); ok {
		opts.Timeout = timeout
	}

	db, err := bbolt.Open(path, os.FileMode(0o600), &opts)
	if errors.Is(err, bbolt.ErrTimeout) {
		err = context.DeadlineExceeded
	}
	return db, err
}

// bucket gets nested buckets, or nil if any of them does not exist.
func bucket(tx *bbolt.Tx, path ...[]byte) *bbolt.Bucket {
	b := tx.Bucket(path[0])
	for _, n := range path[1:] {
		if b == nil {
			return nil
		}
		b = b.Bucket(n)
	}
	return b
}

// createBucket creates nested buckets.
func createBucket(tx *bbolt.Tx, path ...[]byte) (*bbolt.Bucket, error) {
	b, err := tx.CreateBucketIfNotExists(path[0])
	if err != nil {
		return nil, err
	}
	for _, n := range path[1:] {
		if b, err = b.CreateBucketIfNotExists(n); err != nil {
			return nil, err
		}
	}
	return b, nil
}
