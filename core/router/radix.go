package router

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/searchktools/quickapi/core/http"
)

type nodeType uint8

const (
	static   nodeType = iota // default
	param                    // {name} or :name
	catchAll                 // {name...} or *name
)

// Route is a registered (method, pattern) pair. Immutable once registered.
type Route struct {
	Method     string
	Pattern    string
	Normalized string
	ParamNames []string
	Handler    http.HandlerFunc
}

// Params holds path parameters extracted by Match.
type Params map[string]string

type node struct {
	path     string
	nType    nodeType
	children map[string]*node // static children by segment
	param    *node
	catchAll *node

	routes  map[string]*Route // method -> route
	methods []string          // registration order, for Allow
}

func (n *node) child(seg segment) *node {
	switch seg.nType {
	case param:
		if n.param == nil {
			n.param = &node{path: "{}", nType: param}
		}
		return n.param
	case catchAll:
		if n.catchAll == nil {
			n.catchAll = &node{path: "{...}", nType: catchAll}
		}
		return n.catchAll
	default:
		if n.children == nil {
			n.children = make(map[string]*node)
		}
		c, ok := n.children[seg.text]
		if !ok {
			c = &node{path: seg.text}
			n.children[seg.text] = c
		}
		return c
	}
}

// Table is the route table. Register before Freeze; after Freeze it is
// read-only and Match takes no locks.
type Table struct {
	mu     sync.RWMutex
	root   *node
	routes []*Route
	frozen atomic.Bool

	// staticIndex maps fully static paths to their node, built on Freeze.
	staticIndex map[string]*node
}

// New creates an empty route table.
func New() *Table {
	return &Table{root: &node{path: "/"}}
}

// Register adds a route. It fails with *DuplicateRouteError if the same
// method and normalized pattern already exist.
func (t *Table) Register(method, pattern string, handler http.HandlerFunc) (*Route, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: nil handler for %s %s", ErrInvalidPattern, method, pattern)
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return nil, fmt.Errorf("%w: empty method for %s", ErrInvalidPattern, pattern)
	}

	segs, err := parsePattern(pattern)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frozen.Load() {
		return nil, ErrFrozen
	}

	n := t.root
	var names []string
	for _, seg := range segs {
		n = n.child(seg)
		if seg.nType != static {
			names = append(names, seg.text)
		}
	}

	if existing, ok := n.routes[method]; ok {
		return nil, &DuplicateRouteError{Method: method, Pattern: pattern, Existing: existing.Pattern}
	}

	r := &Route{
		Method:     method,
		Pattern:    pattern,
		Normalized: normalize(segs),
		ParamNames: names,
		Handler:    handler,
	}
	if n.routes == nil {
		n.routes = make(map[string]*Route)
	}
	n.routes[method] = r
	n.methods = append(n.methods, method)
	t.routes = append(t.routes, r)
	return r, nil
}

// Freeze makes the table read-only and builds the static lookup index.
func (t *Table) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen.Load() {
		return
	}

	t.staticIndex = make(map[string]*node)
	var walk func(n *node, prefix string)
	walk = func(n *node, prefix string) {
		if len(n.routes) > 0 {
			key := prefix
			if key == "" {
				key = "/"
			}
			t.staticIndex[key] = n
		}
		for seg, c := range n.children {
			walk(c, prefix+"/"+seg)
		}
	}
	walk(t.root, "")
	t.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (t *Table) Frozen() bool {
	return t.frozen.Load()
}

// Routes returns the registered routes in registration order.
func (t *Table) Routes() []*Route {
	if !t.frozen.Load() {
		t.mu.RLock()
		defer t.mu.RUnlock()
	}
	out := make([]*Route, len(t.routes))
	copy(out, t.routes)
	return out
}

type candidate struct {
	n      *node
	values []string
}

// Match resolves method and path. Static segments win over parameters,
// parameters over wildcards; a branch that dead-ends is backtracked. When
// the path matches only under other methods the error is a
// *MethodNotAllowedError listing them.
func (t *Table) Match(method, path string) (*Route, Params, error) {
	if !t.frozen.Load() {
		t.mu.RLock()
		defer t.mu.RUnlock()
	}
	method = strings.ToUpper(method)

	if t.staticIndex != nil {
		key := "/" + strings.Join(splitPath(path), "/")
		if n, ok := t.staticIndex[key]; ok {
			if r := lookupMethod(n, method); r != nil {
				return r, Params{}, nil
			}
		}
	}

	var cands []candidate
	collect(t.root, splitPath(path), nil, &cands)
	if len(cands) == 0 {
		return nil, nil, ErrNotFound
	}

	for _, c := range cands {
		if r := lookupMethod(c.n, method); r != nil {
			params := make(Params, len(r.ParamNames))
			for i, name := range r.ParamNames {
				if i < len(c.values) {
					params[name] = c.values[i]
				}
			}
			return r, params, nil
		}
	}

	var allowed []string
	seen := make(map[string]bool)
	for _, c := range cands {
		for _, m := range c.n.methods {
			if !seen[m] {
				seen[m] = true
				allowed = append(allowed, m)
			}
		}
		if seen["GET"] && !seen["HEAD"] {
			seen["HEAD"] = true
			allowed = append(allowed, "HEAD")
		}
	}
	return nil, nil, &MethodNotAllowedError{Method: method, Path: path, Allowed: allowed}
}

func lookupMethod(n *node, method string) *Route {
	if r, ok := n.routes[method]; ok {
		return r
	}
	if method == "HEAD" {
		return n.routes["GET"]
	}
	return nil
}

// collect appends every terminal node matching segs, in precedence order.
func collect(n *node, segs []string, values []string, out *[]candidate) {
	if len(segs) == 0 {
		if len(n.routes) > 0 {
			*out = append(*out, candidate{n: n, values: append([]string(nil), values...)})
		}
		if n.catchAll != nil && len(n.catchAll.routes) > 0 {
			*out = append(*out, candidate{n: n.catchAll, values: append(append([]string(nil), values...), "")})
		}
		return
	}

	if c, ok := n.children[segs[0]]; ok {
		collect(c, segs[1:], values, out)
	}
	if n.param != nil && segs[0] != "" {
		collect(n.param, segs[1:], append(values, segs[0]), out)
	}
	if n.catchAll != nil && len(n.catchAll.routes) > 0 {
		rest := strings.Join(segs, "/")
		*out = append(*out, candidate{n: n.catchAll, values: append(append([]string(nil), values...), rest)})
	}
}
