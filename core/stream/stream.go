// Package stream turns lazily produced chunks into incrementally flushed
// output. A Stream is pulled one chunk at a time; nothing is read ahead.
package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("stream closed")

// Stream is a pull-based sequence of chunks. Next returns io.EOF once the
// sequence is exhausted. Close releases the producer and is idempotent.
type Stream interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Func is a pull callback. It returns io.EOF when done.
type Func func(ctx context.Context) ([]byte, error)

type funcStream struct {
	fn     Func
	closed bool
}

// FromFunc adapts a pull callback. fn is only called from Next.
func FromFunc(fn Func) Stream {
	return &funcStream{fn: fn}
}

func (s *funcStream) Next(ctx context.Context) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.fn(ctx)
}

func (s *funcStream) Close() error {
	s.closed = true
	return nil
}

// FromSlice streams a fixed list of chunks.
func FromSlice(chunks ...[]byte) Stream {
	i := 0
	return FromFunc(func(context.Context) ([]byte, error) {
		if i >= len(chunks) {
			return nil, io.EOF
		}
		c := chunks[i]
		i++
		return c, nil
	})
}

// FromStrings is FromSlice for string chunks.
func FromStrings(chunks ...string) Stream {
	b := make([][]byte, len(chunks))
	for i, c := range chunks {
		b[i] = []byte(c)
	}
	return FromSlice(b...)
}

type seqStream struct {
	next func() ([]byte, bool)
	stop func()
	once sync.Once
}

// FromSeq adapts an iterator. The iterator body only advances when Next is
// called; Close stops it, running its deferred cleanup.
func FromSeq(seq iter.Seq[[]byte]) Stream {
	next, stop := iter.Pull(seq)
	return &seqStream{next: next, stop: stop}
}

func (s *seqStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, ok := s.next()
	if !ok {
		return nil, io.EOF
	}
	return c, nil
}

func (s *seqStream) Close() error {
	s.once.Do(s.stop)
	return nil
}

type chanStream struct {
	ch     <-chan []byte
	cancel func()
	once   sync.Once
}

// FromChannel reads chunks until ch is closed. cancel, if non-nil, is called
// once on Close so the sender can stop.
func FromChannel(ch <-chan []byte, cancel func()) Stream {
	return &chanStream{ch: ch, cancel: cancel}
}

func (s *chanStream) Next(ctx context.Context) ([]byte, error) {
	select {
	case c, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *chanStream) Close() error {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	return nil
}
