package http

import (
	"bufio"
	"net"
	"net/textproto"

	"github.com/searchktools/quickapi/core/stream"
)

// Common header names and content types.
const (
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderAllow         = "Allow"
	HeaderRequestID     = "X-Request-Id"
	HeaderAuthorization = "Authorization"

	MIMEApplicationJSON     = "application/json"
	MIMEApplicationProtobuf = "application/x-protobuf"
	MIMETextPlain           = "text/plain; charset=utf-8"
	MIMETextHTML            = "text/html; charset=utf-8"
	MIMEOctetStream         = "application/octet-stream"
)

// TakeoverFunc receives the raw connection after the response head has been
// written. It owns the connection and must close it.
type TakeoverFunc func(conn net.Conn, rw *bufio.ReadWriter)

// Response is produced by handlers and middleware. Exactly one of Body or
// Stream is used; Stream wins when both are set.
type Response struct {
	Status int
	Header textproto.MIMEHeader
	Body   []byte

	// Stream is pulled chunk by chunk and flushed as it goes.
	Stream stream.Stream

	// Takeover, when set, hijacks the connection (protocol upgrades).
	Takeover TakeoverFunc
}

// NewResponse creates an empty response with the given status.
func NewResponse(status int) *Response {
	return &Response{
		Status: status,
		Header: make(textproto.MIMEHeader),
	}
}

// SetHeader sets a response header and returns the response for chaining.
func (r *Response) SetHeader(key, value string) *Response {
	if r.Header == nil {
		r.Header = make(textproto.MIMEHeader)
	}
	r.Header.Set(key, value)
	return r
}

// IsStream reports whether the body is produced lazily.
func (r *Response) IsStream() bool {
	return r.Stream != nil
}

// Text returns a plain text response.
func Text(status int, s string) *Response {
	return Data(status, MIMETextPlain, []byte(s))
}

// HTML returns an HTML response.
func HTML(status int, s string) *Response {
	return Data(status, MIMETextHTML, []byte(s))
}

// Data returns a response with an explicit content type.
func Data(status int, contentType string, data []byte) *Response {
	resp := NewResponse(status)
	resp.Header.Set(HeaderContentType, contentType)
	resp.Body = data
	return resp
}

// JSON encodes v as JSON. Encoding failures surface as an error so the
// dispatcher can turn them into a 500.
func JSON(status int, v any) (*Response, error) {
	return Encode(status, jsonCodec, v)
}

// Proto encodes a protobuf message.
func Proto(status int, v any) (*Response, error) {
	return Encode(status, protobufCodec, v)
}

// Encode encodes v with the given codec.
func Encode(status int, codec Codec, v any) (*Response, error) {
	data, err := codec.Encode(v)
	if err != nil {
		return nil, err
	}
	return Data(status, codec.ContentType(), data), nil
}

// Negotiate picks JSON or protobuf from the Accept header.
func Negotiate(req *Request, status int, v any) (*Response, error) {
	return Encode(status, CodecForAccept(req.Header.Get("Accept")), v)
}

// Streaming returns a chunked response fed from s.
func Streaming(status int, contentType string, s stream.Stream) *Response {
	resp := NewResponse(status)
	if contentType != "" {
		resp.Header.Set(HeaderContentType, contentType)
	}
	resp.Stream = s
	return resp
}
