// Package docs derives an OpenAPI 3.0 document from the route table.
package docs

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/searchktools/quickapi/core/http"
	"github.com/searchktools/quickapi/core/router"
)

type Document struct {
	OpenAPI string              `json:"openapi"`
	Info    Info                `json:"info"`
	Paths   map[string]PathItem `json:"paths"`
}

type Info struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// PathItem maps lower-case methods to operations.
type PathItem map[string]*Operation

type Operation struct {
	OperationID string              `json:"operationId"`
	Parameters  []Parameter         `json:"parameters,omitempty"`
	Responses   map[string]Response `json:"responses"`
}

type Parameter struct {
	Name        string `json:"name"`
	In          string `json:"in"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
	Schema      Schema `json:"schema"`
}

type Schema struct {
	Type string `json:"type"`
}

type Response struct {
	Description string `json:"description"`
}

// OpenAPI builds the document for routes. HEAD and OPTIONS routes are
// skipped; they are implied by GET and answered automatically.
func OpenAPI(title, version string, routes []*router.Route) *Document {
	doc := &Document{
		OpenAPI: "3.0.3",
		Info:    Info{Title: title, Version: version},
		Paths:   make(map[string]PathItem),
	}

	for _, r := range routes {
		if r.Method == "HEAD" || r.Method == "OPTIONS" {
			continue
		}
		path := r.Template()
		item := doc.Paths[path]
		if item == nil {
			item = make(PathItem)
			doc.Paths[path] = item
		}

		op := &Operation{
			OperationID: operationID(r.Method, path),
			Responses: map[string]Response{
				"default": {Description: "Response or structured error"},
			},
		}
		for i, name := range r.ParamNames {
			p := Parameter{Name: name, In: "path", Required: true, Schema: Schema{Type: "string"}}
			if r.IsWildcard() && i == len(r.ParamNames)-1 {
				p.Description = "Remainder of the path, may contain slashes"
			}
			op.Parameters = append(op.Parameters, p)
		}
		item[strings.ToLower(r.Method)] = op
	}
	return doc
}

// operationID turns GET /items/{id} into get_items_id.
func operationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, part := range strings.Split(path, "/") {
		part = strings.Trim(part, "{}")
		if part == "" {
			continue
		}
		b.WriteByte('_')
		for _, c := range part {
			if c == '-' || c == '.' {
				c = '_'
			}
			b.WriteRune(c)
		}
	}
	return b.String()
}

// Handler serves the document as JSON. routes is called on the first
// request, after the route table is complete.
func Handler(title, version string, routes func() []*router.Route) http.HandlerFunc {
	var (
		once sync.Once
		body []byte
		err  error
	)
	return func(*http.Request) (*http.Response, error) {
		once.Do(func() {
			body, err = json.Marshal(OpenAPI(title, version, routes()))
		})
		if err != nil {
			return nil, err
		}
		return http.Data(200, http.MIMEApplicationJSON, body), nil
	}
}
