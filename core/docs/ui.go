package docs

import (
	"bytes"
	"html/template"
	"sync"

	"github.com/searchktools/quickapi/core/http"
)

var uiTemplate = template.Must(template.New("swagger-ui").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>{{.Title}} - API Documentation</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
  <style>body { margin: 0; padding: 0; }</style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = function() {
      SwaggerUIBundle({
        url: {{.SpecPath}},
        dom_id: '#swagger-ui',
        presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
        layout: 'BaseLayout',
        deepLinking: true
      });
    };
  </script>
</body>
</html>
`))

// UIHandler serves a Swagger UI page that loads the document at specPath.
// The page pulls its assets from a CDN.
func UIHandler(title, specPath string) http.HandlerFunc {
	var (
		once sync.Once
		body []byte
		err  error
	)
	return func(*http.Request) (*http.Response, error) {
		once.Do(func() {
			var buf bytes.Buffer
			err = uiTemplate.Execute(&buf, struct{ Title, SpecPath string }{title, specPath})
			body = buf.Bytes()
		})
		if err != nil {
			return nil, err
		}
		return http.Data(200, http.MIMETextHTML, body), nil
	}
}
