package stream

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
)

// PanicError is returned by Next when a Generate producer panicked. The
// producer runs on its own goroutine, out of reach of request-level
// recovery.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("stream producer panic: %v", e.Value)
}

// Yield hands one chunk to the consumer. It blocks until the consumer asks
// for the following chunk and returns false once the consumer is gone.
type Yield func(chunk []byte) bool

// Producer pushes chunks through yield and returns when done. It must stop
// when yield returns false or ctx is cancelled.
type Producer func(ctx context.Context, yield Yield) error

type genStream struct {
	produce Producer

	out  chan []byte
	pull chan struct{}
	done chan struct{}
	err  error

	cancel    context.CancelFunc
	started   bool
	closeOnce sync.Once
}

// Generate runs produce in its own goroutine, started on the first Next.
// The producer runs in lockstep with the consumer: after handing over a
// chunk it stays parked until the next pull, so it never works ahead.
// The producer context derives from the context of the first Next call,
// which is the request context when served, so a client disconnect stops
// production. Close cancels the producer and waits for it to return.
func Generate(produce Producer) Stream {
	return &genStream{
		produce: produce,
		out:     make(chan []byte),
		pull:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *genStream) start(ctx context.Context) {
	pctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	go func() {
		defer close(s.done)
		defer cancel()
		defer func() {
			if v := recover(); v != nil {
				s.err = &PanicError{Value: v, Stack: debug.Stack()}
			}
		}()
		s.err = s.produce(pctx, func(chunk []byte) bool {
			select {
			case s.out <- chunk:
			case <-pctx.Done():
				return false
			}
			select {
			case <-s.pull:
				return true
			case <-pctx.Done():
				return false
			}
		})
	}()
}

func (s *genStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !s.started {
		s.start(ctx)
	} else {
		select {
		case s.pull <- struct{}{}:
		case <-s.done:
			return nil, s.result()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	select {
	case chunk := <-s.out:
		return chunk, nil
	case <-s.done:
		return nil, s.result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *genStream) result() error {
	if s.err != nil {
		return s.err
	}
	return io.EOF
}

func (s *genStream) Close() error {
	s.closeOnce.Do(func() {
		if !s.started {
			return
		}
		s.cancel()
		<-s.done
	})
	return nil
}
