package stream

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Writer is the transport side of a stream: each chunk is written and then
// flushed before the next one is pulled.
type Writer interface {
	Write(p []byte) (int, error)
	Flush() error
}

// Pump copies s to w one chunk at a time and returns the number of chunks
// written. It stops pulling as soon as ctx is done or a write fails, and
// always closes s. A clean end of stream returns a nil error.
func Pump(ctx context.Context, s Stream, w Writer) (n int, err error) {
	defer func() {
		if cerr := s.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		chunk, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}

		if _, err := w.Write(chunk); err != nil {
			return n, err
		}
		if err := w.Flush(); err != nil {
			return n, err
		}
		n++
	}
}

// Map transforms every chunk of s.
func Map(s Stream, fn func([]byte) []byte) Stream {
	return &mapStream{src: s, fn: fn}
}

type mapStream struct {
	src Stream
	fn  func([]byte) []byte
}

func (m *mapStream) Next(ctx context.Context) ([]byte, error) {
	c, err := m.src.Next(ctx)
	if err != nil {
		return nil, err
	}
	return m.fn(c), nil
}

func (m *mapStream) Close() error {
	return m.src.Close()
}

// Collect drains s into memory. Intended for tests and small bodies.
func Collect(ctx context.Context, s Stream) ([][]byte, error) {
	var out [][]byte
	defer s.Close()
	for {
		c, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
}

// OnClose runs fn once after s is closed.
func OnClose(s Stream, fn func()) Stream {
	return &hookStream{Stream: s, onClose: fn}
}

// Observe calls fn for every chunk pulled from s.
func Observe(s Stream, fn func(chunk []byte)) Stream {
	return &hookStream{Stream: s, onChunk: fn}
}

type hookStream struct {
	Stream
	onChunk func([]byte)
	onClose func()
	once    sync.Once
}

func (h *hookStream) Next(ctx context.Context) ([]byte, error) {
	c, err := h.Stream.Next(ctx)
	if err == nil && h.onChunk != nil {
		h.onChunk(c)
	}
	return c, err
}

func (h *hookStream) Close() error {
	err := h.Stream.Close()
	h.once.Do(func() {
		if h.onClose != nil {
			h.onClose()
		}
	})
	return err
}
