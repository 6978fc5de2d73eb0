package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"sync/atomic"
	"testing"
	"time"
)

type recordingWriter struct {
	writes  [][]byte
	flushes int
	failAt  int
	onWrite func(n int)
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if w.failAt > 0 && len(w.writes)+1 == w.failAt {
		return 0, errors.New("broken pipe")
	}
	w.writes = append(w.writes, append([]byte(nil), p...))
	if w.onWrite != nil {
		w.onWrite(len(w.writes))
	}
	return len(p), nil
}

func (w *recordingWriter) Flush() error {
	w.flushes++
	return nil
}

// TestPumpWritesEveryChunkInOrder - N chunks give exactly N writes, in order
func TestPumpWritesEveryChunkInOrder(t *testing.T) {
	w := &recordingWriter{}
	n, err := Pump(context.Background(), FromStrings("a", "b", "c", "d"), w)
	if err != nil {
		t.Fatalf("Pump error: %v", err)
	}
	if n != 4 || len(w.writes) != 4 {
		t.Fatalf("Expected 4 writes, got n=%d writes=%d", n, len(w.writes))
	}
	if w.flushes != 4 {
		t.Errorf("Expected a flush per chunk, got %d", w.flushes)
	}
	got := bytes.Join(w.writes, nil)
	if string(got) != "abcd" {
		t.Errorf("Expected abcd, got %q", got)
	}
}

// TestPumpStopsPullingOnCancel - cancel after K chunks, no more pulls
func TestPumpStopsPullingOnCancel(t *testing.T) {
	const total, k = 10, 3

	var pulls atomic.Int32
	var closed atomic.Bool
	src := &trackingStream{
		next: func(context.Context) ([]byte, error) {
			i := pulls.Add(1)
			if int(i) > total {
				return nil, io.EOF
			}
			return []byte{byte('0' + i)}, nil
		},
		onClose: func() { closed.Store(true) },
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &recordingWriter{onWrite: func(n int) {
		if n == k {
			cancel()
		}
	}}

	n, err := Pump(ctx, src, w)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if n != k {
		t.Errorf("Expected %d chunks written, got %d", k, n)
	}
	if got := pulls.Load(); got != k {
		t.Errorf("Expected %d pulls, got %d", k, got)
	}
	if !closed.Load() {
		t.Error("Stream should be closed after cancellation")
	}
}

func TestPumpStopsOnWriteError(t *testing.T) {
	var pulls int
	src := FromFunc(func(context.Context) ([]byte, error) {
		pulls++
		return []byte("x"), nil
	})

	n, err := Pump(context.Background(), src, &recordingWriter{failAt: 2})
	if err == nil {
		t.Fatal("Expected write error")
	}
	if n != 1 || pulls != 2 {
		t.Errorf("Expected n=1 pulls=2, got n=%d pulls=%d", n, pulls)
	}
}

func TestFromSeqIsLazyAndReleased(t *testing.T) {
	var produced int
	var cleaned bool
	seq := iter.Seq[[]byte](func(yield func([]byte) bool) {
		defer func() { cleaned = true }()
		for i := 0; i < 100; i++ {
			produced++
			if !yield([]byte("tok ")) {
				return
			}
		}
	})

	s := FromSeq(seq)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := s.Next(ctx); err != nil {
			t.Fatalf("Next error: %v", err)
		}
	}
	s.Close()

	if produced != 2 {
		t.Errorf("Expected 2 produced chunks, got %d", produced)
	}
	if !cleaned {
		t.Error("Iterator cleanup should run on Close")
	}
}

// TestGenerateLockstep - the producer never works ahead of the consumer
func TestGenerateLockstep(t *testing.T) {
	var produced atomic.Int32
	s := Generate(func(ctx context.Context, yield Yield) error {
		for i := 0; i < 5; i++ {
			produced.Add(1)
			if !yield([]byte{byte('a' + i)}) {
				return nil
			}
		}
		return nil
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := s.Next(ctx); err != nil {
			t.Fatalf("Next error: %v", err)
		}
	}
	time.Sleep(20 * time.Millisecond)
	if got := produced.Load(); got != 2 {
		t.Errorf("Expected 2 produced chunks, got %d", got)
	}

	s.Close()
	time.Sleep(10 * time.Millisecond)
	if got := produced.Load(); got != 2 {
		t.Errorf("Producer continued after Close: %d", got)
	}
}

func TestGenerateCollectsAll(t *testing.T) {
	s := Generate(func(ctx context.Context, yield Yield) error {
		for _, c := range []string{"one", "two", "three"} {
			if !yield([]byte(c)) {
				return ctx.Err()
			}
		}
		return nil
	})

	chunks, err := Collect(context.Background(), s)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if len(chunks) != 3 || string(chunks[2]) != "three" {
		t.Errorf("Unexpected chunks: %q", chunks)
	}
}

func TestGenerateProducerError(t *testing.T) {
	boom := errors.New("upstream failed")
	s := Generate(func(ctx context.Context, yield Yield) error {
		yield([]byte("partial"))
		return boom
	})

	_, err := Pump(context.Background(), s, &recordingWriter{})
	if !errors.Is(err, boom) {
		t.Errorf("Expected producer error, got %v", err)
	}
}

func TestGenerateProducerPanic(t *testing.T) {
	s := Generate(func(ctx context.Context, yield Yield) error {
		yield([]byte("a"))
		panic("producer bug")
	})

	w := &recordingWriter{}
	n, err := Pump(context.Background(), s, w)

	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected *PanicError, got %v", err)
	}
	if pe.Value != "producer bug" || len(pe.Stack) == 0 {
		t.Errorf("Unexpected panic error %+v", pe)
	}
	if n != 1 || string(w.writes[0]) != "a" {
		t.Errorf("Expected the chunk before the panic to be written, got %d %q", n, w.writes)
	}
}

// TestGenerateDisconnectStopsProducer - cancelling the request context
// releases a producer blocked on a slow upstream
func TestGenerateDisconnectStopsProducer(t *testing.T) {
	exited := make(chan struct{})
	s := Generate(func(ctx context.Context, yield Yield) error {
		defer close(exited)
		yield([]byte("first"))
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := s.Next(ctx); err != nil {
		t.Fatalf("Next error: %v", err)
	}
	cancel()
	s.Close()

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("Producer goroutine still running after disconnect")
	}
}

func TestFromChannel(t *testing.T) {
	ch := make(chan []byte, 2)
	ch <- []byte("x")
	ch <- []byte("y")
	close(ch)

	cancelled := false
	chunks, err := Collect(context.Background(), FromChannel(ch, func() { cancelled = true }))
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if len(chunks) != 2 {
		t.Errorf("Expected 2 chunks, got %d", len(chunks))
	}
	if !cancelled {
		t.Error("cancel should run on Close")
	}
}

func TestMap(t *testing.T) {
	s := Map(FromStrings("a", "b"), func(c []byte) []byte {
		return append(c, '!')
	})
	chunks, _ := Collect(context.Background(), s)
	if string(bytes.Join(chunks, nil)) != "a!b!" {
		t.Errorf("Unexpected output %q", chunks)
	}
}

func TestObserveAndOnClose(t *testing.T) {
	var seen []string
	closes := 0
	s := OnClose(Observe(FromStrings("x", "y"), func(c []byte) {
		seen = append(seen, string(c))
	}), func() { closes++ })

	if _, err := Pump(context.Background(), s, &recordingWriter{}); err != nil {
		t.Fatalf("Pump error: %v", err)
	}
	s.Close()

	if len(seen) != 2 || seen[0] != "x" || seen[1] != "y" {
		t.Errorf("Expected observer to see x, y, got %v", seen)
	}
	if closes != 1 {
		t.Errorf("Expected close hook once, got %d", closes)
	}
}

func BenchmarkPump(b *testing.B) {
	chunks := make([][]byte, 64)
	for i := range chunks {
		chunks[i] = []byte("data: token\n\n")
	}
	w := &discardWriter{}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Pump(context.Background(), FromSlice(chunks...), w)
	}
}

type trackingStream struct {
	next    func(context.Context) ([]byte, error)
	onClose func()
}

func (s *trackingStream) Next(ctx context.Context) ([]byte, error) { return s.next(ctx) }
func (s *trackingStream) Close() error {
	s.onClose()
	return nil
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
func (discardWriter) Flush() error                { return nil }
