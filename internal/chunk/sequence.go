// Package chunk turns a push-style producer into the pull-based ChunkSequence
// consumed by the HTTP layer and the CLI.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

// ErrClosed is returned by Recv once the consumer has closed the sequence.
var ErrClosed = errors.New("chunk sequence closed")

// Emit hands one fragment to the consumer and blocks until it is taken.
// It fails once the consumer has gone away; producers must stop on error.
type Emit func(text string) error

// Producer writes fragments in backend order and returns the terminal error, or nil
// when the backend finished normally. It must release everything it acquired
// before returning.
type Producer func(ctx context.Context, emit Emit) error

// Sequence is a one-shot, ordered stream backed by a producer goroutine.
type Sequence struct {
	cancel context.CancelFunc
	items  chan string
	done   chan struct{}
	err    error

	mu       sync.Mutex
	closed   bool
	terminal error
}

var _ repository.ChunkSequence = (*Sequence)(nil)

// Start runs p in its own goroutine. Fragments are handed over one at a time with
// no buffering, so the producer never runs ahead of the consumer.
func Start(ctx context.Context, p Producer) *Sequence {
	ctx, cancel := context.WithCancel(ctx)
	s := &Sequence{
		cancel: cancel,
		items:  make(chan string),
		done:   make(chan struct{}),
	}
	go s.run(ctx, p)
	return s
}

func (s *Sequence) run(ctx context.Context, p Producer) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.err = fmt.Errorf("chunk producer panic: %v", r)
		}
	}()

	s.err = p(ctx, func(text string) error {
		if text == "" {
			return nil
		}
		select {
		case s.items <- text:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Recv returns the next fragment, io.EOF at the normal end, or the terminal error.
func (s *Sequence) Recv() (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if s.terminal != nil {
		err := s.terminal
		s.mu.Unlock()
		return "", err
	}
	s.mu.Unlock()

	select {
	case text := <-s.items:
		return text, nil
	case <-s.done:
	}

	err := s.err
	if err == nil {
		err = io.EOF
	}
	s.mu.Lock()
	s.terminal = err
	s.mu.Unlock()
	return "", err
}

// Close cancels the producer and waits until it has released its resources.
func (s *Sequence) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
	return nil
}

// Collect reads seq to the end and returns the concatenated text. A terminal error
// is returned alongside whatever text arrived before it. Collect does not close seq.
func Collect(seq repository.ChunkSequence) (string, error) {
	var b strings.Builder
	for {
		text, err := seq.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(text)
	}
}

// Fragments is a fixed in-memory sequence, mostly useful for tests and fakes.
func Fragments(ctx context.Context, err error, texts ...string) *Sequence {
	return Start(ctx, func(ctx context.Context, emit Emit) error {
		for _, t := range texts {
			if e := emit(t); e != nil {
				return e
			}
		}
		return err
	})
}
