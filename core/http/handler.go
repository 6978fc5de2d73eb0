package http

// HandlerFunc handles a routed request. Returning a nil response with a nil
// error means 204 No Content.
type HandlerFunc func(req *Request) (*Response, error)

// Static returns a handler that always replies with a copy of resp.
func Static(resp *Response) HandlerFunc {
	return func(*Request) (*Response, error) {
		cp := NewResponse(resp.Status)
		for k, v := range resp.Header {
			cp.Header[k] = append([]string(nil), v...)
		}
		cp.Body = resp.Body
		return cp, nil
	}
}
