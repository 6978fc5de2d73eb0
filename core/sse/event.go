package sse

import (
	"context"
	"encoding/json"
	"iter"
	"strconv"
	"strings"

	"github.com/searchktools/quickapi/core/http"
	"github.com/searchktools/quickapi/core/stream"
)

// Event represents a Server-Sent Event
type Event struct {
	ID    string
	Event string
	Data  string
	Retry int // milliseconds
}

// FormatEvent renders an event in wire format. Multi-line data is split into
// several data fields so the client reassembles it with newlines.
func FormatEvent(event *Event) []byte {
	var buf []byte

	if event.ID != "" {
		buf = append(buf, "id: "...)
		buf = append(buf, event.ID...)
		buf = append(buf, '\n')
	}

	if event.Event != "" {
		buf = append(buf, "event: "...)
		buf = append(buf, event.Event...)
		buf = append(buf, '\n')
	}

	if event.Retry > 0 {
		buf = append(buf, "retry: "...)
		buf = strconv.AppendInt(buf, int64(event.Retry), 10)
		buf = append(buf, '\n')
	}

	if event.Data != "" {
		data := strings.ReplaceAll(event.Data, "\r\n", "\n")
		for _, line := range strings.Split(data, "\n") {
			buf = append(buf, "data: "...)
			buf = append(buf, line...)
			buf = append(buf, '\n')
		}
	}

	buf = append(buf, '\n')
	return buf
}

// Headers are the response headers every event stream carries.
func Headers() map[string]string {
	return map[string]string{
		"Content-Type":      "text/event-stream",
		"Cache-Control":     "no-cache",
		"Connection":        "keep-alive",
		"X-Accel-Buffering": "no",
	}
}

// Response wraps an already formatted stream in a 200 event-stream response.
func Response(s stream.Stream) *http.Response {
	resp := http.Streaming(200, "", s)
	for k, v := range Headers() {
		resp.Header.Set(k, v)
	}
	return resp
}

// FromSeq formats each event of seq as it is pulled.
func FromSeq(seq iter.Seq[*Event]) stream.Stream {
	return stream.FromSeq(func(yield func([]byte) bool) {
		for ev := range seq {
			if !yield(FormatEvent(ev)) {
				return
			}
		}
	})
}

// Generate runs a push producer of events, see stream.Generate.
func Generate(produce func(ctx context.Context, send func(*Event) bool) error) stream.Stream {
	return stream.Generate(func(ctx context.Context, yield stream.Yield) error {
		return produce(ctx, func(ev *Event) bool {
			return yield(FormatEvent(ev))
		})
	})
}

// NewMessageEvent creates a plain message event.
func NewMessageEvent(message string) *Event {
	return &Event{
		Event: "message",
		Data:  message,
	}
}

// NewErrorEvent reports a failure in the middle of a stream, after the
// status line has already gone out.
func NewErrorEvent(message string) *Event {
	return &Event{
		Event: "error",
		Data:  message,
	}
}

// NewProgressEvent reports progress of a long running task.
func NewProgressEvent(current, total int, message string) *Event {
	data, _ := json.Marshal(map[string]any{
		"current": current,
		"total":   total,
		"message": message,
	})
	return &Event{
		Event: "progress",
		Data:  string(data),
	}
}

// NewJSONEvent marshals v as the data of an event of the given type.
func NewJSONEvent(eventType string, v any) (*Event, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Event{Event: eventType, Data: string(data)}, nil
}

// EventStream adapts a pull function of events to a wire stream. next
// returns io.EOF to end the stream.
func EventStream(next func(ctx context.Context) (*Event, error)) stream.Stream {
	return stream.FromFunc(func(ctx context.Context) ([]byte, error) {
		ev, err := next(ctx)
		if err != nil {
			return nil, err
		}
		return FormatEvent(ev), nil
	})
}
