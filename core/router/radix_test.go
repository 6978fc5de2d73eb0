package router

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/searchktools/quickapi/core/http"
)

func noop(*http.Request) (*http.Response, error) { return nil, nil }

func mustRegister(t *testing.T, tbl *Table, method, pattern string) *Route {
	t.Helper()
	r, err := tbl.Register(method, pattern, noop)
	if err != nil {
		t.Fatalf("Register %s %s: %v", method, pattern, err)
	}
	return r
}

// TestTableBasic tests basic static routing
func TestTableBasic(t *testing.T) {
	tbl := New()
	mustRegister(t, tbl, "GET", "/")
	mustRegister(t, tbl, "GET", "/hello")
	mustRegister(t, tbl, "GET", "/hello/world")
	tbl.Freeze()

	tests := []struct {
		path        string
		shouldMatch bool
	}{
		{"/", true},
		{"/hello", true},
		{"/hello/", true},
		{"/hello/world", true},
		{"/notfound", false},
		{"/hello/world/again", false},
	}

	for _, tt := range tests {
		r, _, err := tbl.Match("GET", tt.path)
		matched := err == nil && r != nil
		if matched != tt.shouldMatch {
			t.Errorf("Path %s: expected match=%v, got match=%v (err=%v)", tt.path, tt.shouldMatch, matched, err)
		}
		if !tt.shouldMatch && !errors.Is(err, ErrNotFound) {
			t.Errorf("Path %s: expected ErrNotFound, got %v", tt.path, err)
		}
	}
}

func TestTableParams(t *testing.T) {
	tbl := New()
	mustRegister(t, tbl, "GET", "/items/{id}")
	mustRegister(t, tbl, "GET", "/users/:user/posts/{post}")
	mustRegister(t, tbl, "GET", "/static/{path...}")
	tbl.Freeze()

	tests := []struct {
		path   string
		params Params
	}{
		{"/items/42", Params{"id": "42"}},
		{"/users/ann/posts/7", Params{"user": "ann", "post": "7"}},
		{"/static/css/site.css", Params{"path": "css/site.css"}},
		{"/static", Params{"path": ""}},
	}

	for _, tt := range tests {
		_, params, err := tbl.Match("GET", tt.path)
		if err != nil {
			t.Errorf("Path %s: unexpected error %v", tt.path, err)
			continue
		}
		if !reflect.DeepEqual(params, tt.params) {
			t.Errorf("Path %s: expected %v, got %v", tt.path, tt.params, params)
		}
	}
}

// TestTablePriority tests route priority (static > param > wildcard)
func TestTablePriority(t *testing.T) {
	tbl := New()
	wild := mustRegister(t, tbl, "GET", "/user/*rest")
	param := mustRegister(t, tbl, "GET", "/user/{id}")
	exact := mustRegister(t, tbl, "GET", "/user/admin")
	tbl.Freeze()

	tests := []struct {
		path string
		want *Route
	}{
		{"/user/admin", exact},
		{"/user/123", param},
		{"/user/123/settings", wild},
	}

	for _, tt := range tests {
		r, _, err := tbl.Match("GET", tt.path)
		if err != nil {
			t.Fatalf("Path %s: %v", tt.path, err)
		}
		if r != tt.want {
			t.Errorf("Path %s: expected %s, got %s", tt.path, tt.want.Pattern, r.Pattern)
		}
	}
}

// TestTableBacktracking - a static branch that dead-ends falls back to a
// parameter branch
func TestTableBacktracking(t *testing.T) {
	tbl := New()
	mustRegister(t, tbl, "GET", "/a/b/c")
	p := mustRegister(t, tbl, "GET", "/a/{x}/d")
	tbl.Freeze()

	r, params, err := tbl.Match("GET", "/a/b/d")
	if err != nil {
		t.Fatalf("Match error: %v", err)
	}
	if r != p || params["x"] != "b" {
		t.Errorf("Expected %s with x=b, got %s %v", p.Pattern, r.Pattern, params)
	}
}

// TestTableMethodFallsBackToParam - a static node lacking the method does
// not shadow a parameter route that has it
func TestTableMethodFallsBackToParam(t *testing.T) {
	tbl := New()
	mustRegister(t, tbl, "POST", "/items/new")
	get := mustRegister(t, tbl, "GET", "/items/{id}")
	tbl.Freeze()

	r, params, err := tbl.Match("GET", "/items/new")
	if err != nil {
		t.Fatalf("Match error: %v", err)
	}
	if r != get || params["id"] != "new" {
		t.Errorf("Expected GET /items/{id} with id=new, got %s %v", r.Pattern, params)
	}
}

func TestTableMethodNotAllowed(t *testing.T) {
	tbl := New()
	mustRegister(t, tbl, "GET", "/items/{id}")
	mustRegister(t, tbl, "DELETE", "/items/{id}")
	tbl.Freeze()

	_, _, err := tbl.Match("POST", "/items/42")
	if !errors.Is(err, ErrMethodNotAllowed) {
		t.Fatalf("Expected ErrMethodNotAllowed, got %v", err)
	}

	var mna *MethodNotAllowedError
	if !errors.As(err, &mna) {
		t.Fatalf("Expected *MethodNotAllowedError, got %T", err)
	}
	want := []string{"GET", "DELETE", "HEAD"}
	if !reflect.DeepEqual(mna.Allowed, want) {
		t.Errorf("Expected allowed %v, got %v", want, mna.Allowed)
	}
}

func TestTableHeadFallsBackToGet(t *testing.T) {
	tbl := New()
	get := mustRegister(t, tbl, "GET", "/ping")
	tbl.Freeze()

	r, _, err := tbl.Match("HEAD", "/ping")
	if err != nil || r != get {
		t.Errorf("HEAD should resolve to GET route, got %v %v", r, err)
	}
}

func TestTableDuplicate(t *testing.T) {
	tests := []struct {
		first, second string
		method2       string
		dup           bool
	}{
		{"/items/{id}", "/items/{id}", "GET", true},
		{"/items/{id}", "/items/{key}", "GET", true},
		{"/items/{id}", "/items/:id", "GET", true},
		{"/items", "/items/", "GET", true},
		{"/items/{id}", "/items/{id}", "get", true},
		{"/items/{id}", "/items/{id}", "POST", false},
		{"/items/{id}", "/items/{id...}", "GET", false},
	}

	for _, tt := range tests {
		tbl := New()
		mustRegister(t, tbl, "GET", tt.first)
		_, err := tbl.Register(tt.method2, tt.second, noop)

		var dup *DuplicateRouteError
		if got := errors.As(err, &dup); got != tt.dup {
			t.Errorf("%s then %s %s: expected duplicate=%v, got err=%v", tt.first, tt.method2, tt.second, tt.dup, err)
		}
	}
}

func TestTableInvalidPatterns(t *testing.T) {
	patterns := []string{
		"",
		"items",
		"/items/{}",
		"/items/:",
		"/files/*",
		"/files/*rest/more",
		"/a/{x}/b/{x}",
		"/a/b{c}",
	}

	for _, p := range patterns {
		if _, err := New().Register("GET", p, noop); !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("Pattern %q: expected ErrInvalidPattern, got %v", p, err)
		}
	}
}

func TestTableFrozen(t *testing.T) {
	tbl := New()
	tbl.Freeze()
	if _, err := tbl.Register("GET", "/late", noop); !errors.Is(err, ErrFrozen) {
		t.Errorf("Expected ErrFrozen, got %v", err)
	}
}

func TestTableRoutesOrder(t *testing.T) {
	tbl := New()
	mustRegister(t, tbl, "GET", "/b")
	mustRegister(t, tbl, "POST", "/a")
	mustRegister(t, tbl, "GET", "/c/{id}")

	routes := tbl.Routes()
	var got []string
	for _, r := range routes {
		got = append(got, r.Method+" "+r.Pattern)
	}
	want := []string{"GET /b", "POST /a", "GET /c/{id}"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if !reflect.DeepEqual(routes[2].ParamNames, []string{"id"}) {
		t.Errorf("Unexpected param names %v", routes[2].ParamNames)
	}
}

// TestTableConcurrentMatch - a frozen table is shared by many goroutines
func TestTableConcurrentMatch(t *testing.T) {
	tbl := New()
	for i := 0; i < 50; i++ {
		mustRegister(t, tbl, "GET", fmt.Sprintf("/r%d/{id}", i))
	}
	tbl.Freeze()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				path := fmt.Sprintf("/r%d/%d", i%50, g)
				if _, params, err := tbl.Match("GET", path); err != nil || params["id"] != fmt.Sprint(g) {
					t.Errorf("Match %s: %v %v", path, params, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
}

// Benchmarks
func BenchmarkTableStatic(b *testing.B) {
	tbl := New()
	tbl.Register("GET", "/hello/world", noop)
	tbl.Freeze()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tbl.Match("GET", "/hello/world")
	}
}

func BenchmarkTableParam(b *testing.B) {
	tbl := New()
	tbl.Register("GET", "/user/{id}", noop)
	tbl.Freeze()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tbl.Match("GET", "/user/123")
	}
}

func TestRouteTemplate(t *testing.T) {
	tbl := New()
	tests := map[string]string{
		"/":                   "/",
		"/items/:id":          "/items/{id}",
		"/users/{uid}/posts/": "/users/{uid}/posts",
		"/static/*path":       "/static/{path}",
		"/files/{name...}":    "/files/{name}",
	}
	for pattern, want := range tests {
		r := mustRegister(t, tbl, "GET", pattern)
		if got := r.Template(); got != want {
			t.Errorf("Template(%q): expected %q, got %q", pattern, want, got)
		}
	}
}
