package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/searchktools/quickapi/core/http"
)

// PanicError carries a recovered panic value and the stack it was raised on.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Recovery converts a panic in any inner layer into a *PanicError, which the
// dispatcher answers with a 500. The serving loop is unaffected.
func Recovery() Middleware {
	return func(req *http.Request, next Next) (resp *http.Response, err error) {
		defer func() {
			if r := recover(); r != nil {
				resp, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		return next(req)
	}
}
