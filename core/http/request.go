package http

import (
	"context"
	"errors"
	"io"
	"net/textproto"
	"net/url"
	"sync"
)

// ErrBodyTooLarge is returned when a request body exceeds the configured limit.
var ErrBodyTooLarge = errors.New("request body too large")

// Request is the transport-independent view of an incoming request.
// Headers use canonical MIME keys, so lookups are case-insensitive.
type Request struct {
	Method string
	Path   string
	Proto  string

	Header textproto.MIMEHeader
	Query  url.Values

	// Path parameters, filled in by the dispatcher after routing.
	Params map[string]string

	// Route is the matched pattern, empty before routing.
	Route string

	RemoteAddr string

	ctx context.Context

	body     io.ReadCloser
	maxBody  int64
	bodyOnce sync.Once
	bodyBuf  []byte
	bodyErr  error
}

// NewRequest builds a request. body may be nil.
func NewRequest(ctx context.Context, method, target string, header textproto.MIMEHeader, body io.ReadCloser) *Request {
	if ctx == nil {
		ctx = context.Background()
	}
	if header == nil {
		header = make(textproto.MIMEHeader)
	}

	path, rawQuery := target, ""
	for i := 0; i < len(target); i++ {
		if target[i] == '?' {
			path, rawQuery = target[:i], target[i+1:]
			break
		}
	}
	query, _ := url.ParseQuery(rawQuery)

	return &Request{
		Method: method,
		Path:   path,
		Proto:  "HTTP/1.1",
		Header: header,
		Query:  query,
		ctx:    ctx,
		body:   body,
	}
}

// Context returns the request context. It is cancelled when the client goes away.
func (r *Request) Context() context.Context {
	return r.ctx
}

// WithContext returns a shallow copy of r carrying ctx. The body is shared.
func (r *Request) WithContext(ctx context.Context) *Request {
	if ctx == nil {
		panic("nil context")
	}
	r2 := &Request{
		Method:     r.Method,
		Path:       r.Path,
		Proto:      r.Proto,
		Header:     r.Header,
		Query:      r.Query,
		Params:     r.Params,
		Route:      r.Route,
		RemoteAddr: r.RemoteAddr,
		ctx:        ctx,
		maxBody:    r.maxBody,
	}
	r2.body = &sharedBody{parent: r}
	return r2
}

// SetMaxBodySize caps the number of bytes Body will read. Zero means unlimited.
func (r *Request) SetMaxBodySize(n int64) {
	r.maxBody = n
}

// Param returns a path parameter.
func (r *Request) Param(key string) string {
	return r.Params[key]
}

// QueryValue returns the first value of a query parameter.
func (r *Request) QueryValue(key string) string {
	return r.Query.Get(key)
}

// GetHeader returns the first value of a request header.
func (r *Request) GetHeader(key string) string {
	return r.Header.Get(key)
}

// BodyReader exposes the raw body for streaming consumption. Once Body has
// been called the reader is drained; use one or the other.
func (r *Request) BodyReader() io.Reader {
	if r.body == nil {
		return eofReader{}
	}
	return r.body
}

// Body reads the whole body once and caches it.
func (r *Request) Body() ([]byte, error) {
	if sb, ok := r.body.(*sharedBody); ok {
		return sb.parent.Body()
	}
	r.bodyOnce.Do(func() {
		if r.body == nil {
			return
		}
		defer r.body.Close()

		var src io.Reader = r.body
		if r.maxBody > 0 {
			src = io.LimitReader(r.body, r.maxBody+1)
		}
		r.bodyBuf, r.bodyErr = io.ReadAll(src)
		if r.bodyErr == nil && r.maxBody > 0 && int64(len(r.bodyBuf)) > r.maxBody {
			r.bodyBuf = nil
			r.bodyErr = ErrBodyTooLarge
		}
	})
	return r.bodyBuf, r.bodyErr
}

// Bind decodes the body with the codec matching Content-Type (JSON by default).
func (r *Request) Bind(v any) error {
	data, err := r.Body()
	if errors.Is(err, ErrBodyTooLarge) {
		return &Error{Status: 413, Detail: "request body too large", Err: err}
	}
	if err != nil {
		return err
	}
	codec := CodecForContentType(r.Header.Get(HeaderContentType))
	if err := codec.Decode(data, v); err != nil {
		return BadRequest("malformed " + codec.Name() + " body")
	}
	return nil
}

type sharedBody struct {
	parent *Request
}

func (b *sharedBody) Read(p []byte) (int, error) {
	if b.parent.body == nil {
		return 0, io.EOF
	}
	return b.parent.body.Read(p)
}

func (b *sharedBody) Close() error {
	return nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
