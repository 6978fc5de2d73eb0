package router

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("route not found")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrInvalidPattern   = errors.New("invalid route pattern")
	ErrFrozen           = errors.New("route table is frozen")
)

// DuplicateRouteError is returned when (method, normalized pattern) is
// already registered.
type DuplicateRouteError struct {
	Method   string
	Pattern  string
	Existing string
}

func (e *DuplicateRouteError) Error() string {
	return fmt.Sprintf("duplicate route %s %s (conflicts with %s)", e.Method, e.Pattern, e.Existing)
}

// MethodNotAllowedError means the path matched but not for this method.
type MethodNotAllowedError struct {
	Method  string
	Path    string
	Allowed []string
}

func (e *MethodNotAllowedError) Error() string {
	return fmt.Sprintf("method %s not allowed for %s (allowed: %s)", e.Method, e.Path, strings.Join(e.Allowed, ", "))
}

func (e *MethodNotAllowedError) Is(target error) bool {
	return target == ErrMethodNotAllowed
}
