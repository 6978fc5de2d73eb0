package router

import (
	"fmt"
	"strings"
)

type segment struct {
	text  string // static text or parameter name
	nType nodeType
}

// parsePattern splits a route pattern into segments. Parameters are written
// {name} or :name; a trailing wildcard is {name...} or *name.
func parsePattern(pattern string) ([]segment, error) {
	if pattern == "" || pattern[0] != '/' {
		return nil, fmt.Errorf("%w: %q must begin with '/'", ErrInvalidPattern, pattern)
	}

	parts := splitPath(pattern)
	segs := make([]segment, 0, len(parts))
	seen := make(map[string]bool)

	for i, part := range parts {
		seg := segment{text: part, nType: static}

		switch {
		case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}"):
			name := part[1 : len(part)-1]
			seg.nType = param
			if strings.HasSuffix(name, "...") {
				name = strings.TrimSuffix(name, "...")
				seg.nType = catchAll
			}
			seg.text = name
		case strings.HasPrefix(part, ":"):
			seg.nType = param
			seg.text = part[1:]
		case strings.HasPrefix(part, "*"):
			seg.nType = catchAll
			seg.text = part[1:]
		case strings.ContainsAny(part, "{}"):
			return nil, fmt.Errorf("%w: %q has a malformed parameter in segment %q", ErrInvalidPattern, pattern, part)
		}

		if seg.nType != static {
			if seg.text == "" {
				return nil, fmt.Errorf("%w: %q: wildcards must be named", ErrInvalidPattern, pattern)
			}
			if strings.ContainsAny(seg.text, "{}:*/") {
				return nil, fmt.Errorf("%w: %q: bad parameter name %q", ErrInvalidPattern, pattern, seg.text)
			}
			if seen[seg.text] {
				return nil, fmt.Errorf("%w: %q: duplicate parameter %q", ErrInvalidPattern, pattern, seg.text)
			}
			seen[seg.text] = true
		}
		if seg.nType == catchAll && i != len(parts)-1 {
			return nil, fmt.Errorf("%w: %q: catch-all routes are only allowed at the end of the path", ErrInvalidPattern, pattern)
		}

		segs = append(segs, seg)
	}
	return segs, nil
}

// normalize renders segments with parameter names erased, so patterns that
// differ only in parameter names compare equal.
func normalize(segs []segment) string {
	if len(segs) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, s := range segs {
		b.WriteByte('/')
		switch s.nType {
		case param:
			b.WriteString("{}")
		case catchAll:
			b.WriteString("{...}")
		default:
			b.WriteString(s.text)
		}
	}
	return b.String()
}

// splitPath drops the leading slash and a single trailing slash. The root
// path yields no segments.
func splitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Template renders the route with every parameter in {name} form, the
// notation OpenAPI uses. A wildcard renders as a single {name} too.
func (r *Route) Template() string {
	if r.Normalized == "/" {
		return "/"
	}
	var b strings.Builder
	i := 0
	for _, part := range splitPath(r.Normalized) {
		b.WriteByte('/')
		if (part == "{}" || part == "{...}") && i < len(r.ParamNames) {
			b.WriteString("{" + r.ParamNames[i] + "}")
			i++
			continue
		}
		b.WriteString(part)
	}
	return b.String()
}

// IsWildcard reports whether the last parameter captures the rest of the path.
func (r *Route) IsWildcard() bool {
	return strings.HasSuffix(r.Normalized, "{...}")
}
