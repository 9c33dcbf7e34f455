package repository

import (
	"context"
)

// Query is a single user prompt. It is never persisted.
type Query struct {
	Text string
}

// ChunkSequence is a pull-based stream of text fragments produced by one backend.
//
// Recv returns the next fragment, io.EOF once the backend finished normally, or the
// terminal error that ended the stream. The terminal result repeats on every later
// call. Close stops production and releases every resource the stream holds; it is
// safe to call more than once and must be called even after io.EOF.
type ChunkSequence interface {
	Recv() (string, error)
	Close() error
}

// Dispatcher starts a stream for a query on a specific backend.
type Dispatcher interface {
	Stream(ctx context.Context, q Query, d Descriptor) (ChunkSequence, error)
}

// Selector picks the backend that answers a query. It never fails.
type Selector interface {
	Select(ctx context.Context, q Query) Descriptor
}
