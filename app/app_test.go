package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/searchktools/quickapi/config"
	qhttp "github.com/searchktools/quickapi/core/http"
	"github.com/searchktools/quickapi/core/middleware"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Log.Level = "error"
	return &cfg
}

// start runs a in the background and returns its base URL and a stop func
// that returns Run's error.
func start(t *testing.T, a *App) (string, func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()

	select {
	case <-a.Ready():
	case err := <-errc:
		cancel()
		t.Fatalf("Run returned before listening: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("server did not become ready")
	}

	stop := func() error {
		cancel()
		select {
		case err := <-errc:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("Run did not return after cancel")
			return nil
		}
	}
	return "http://" + a.Addr().String(), stop
}

func get(t *testing.T, url string, header map[string]string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRunServesRoutesMetricsAndDocs(t *testing.T) {
	a := New(testConfig())
	a.Engine().GET("/hello/{name}", func(req *qhttp.Request) (*qhttp.Response, error) {
		return qhttp.Text(200, "hello "+req.Param("name")), nil
	})

	base, stop := start(t, a)

	if status, body := get(t, base+"/hello/ada", nil); status != 200 || body != "hello ada" {
		t.Errorf("Expected 200 %q, got %d %q", "hello ada", status, body)
	}
	if status, _ := get(t, base+"/missing", nil); status != 404 {
		t.Errorf("Expected 404, got %d", status)
	}

	status, body := get(t, base+"/metrics", nil)
	if status != 200 || !strings.Contains(body, "quickapi_requests_total") {
		t.Errorf("metrics endpoint: status %d, body missing request counter", status)
	}

	status, body = get(t, base+"/openapi.json", nil)
	if status != 200 || !strings.Contains(body, `"/hello/{name}"`) {
		t.Errorf("docs endpoint: status %d body %s", status, body)
	}
	status, body = get(t, base+"/docs", nil)
	if status != 200 || !strings.Contains(body, "swagger-ui") {
		t.Errorf("docs page: status %d", status)
	}

	if err := stop(); err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestRunHooks(t *testing.T) {
	a := New(testConfig())

	var mu sync.Mutex
	var order []string
	record := func(name string) Hook {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	a.OnStartup(record("start"))
	a.OnShutdown(record("close-db"))
	a.OnShutdown(record("flush"))

	_, stop := start(t, a)
	if err := stop(); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	got := strings.Join(order, ",")
	if got != "start,flush,close-db" {
		t.Errorf("Expected hooks start,flush,close-db, got %s", got)
	}
}

func TestRunStartupHookFailure(t *testing.T) {
	a := New(testConfig())
	boom := errors.New("boom")
	a.OnStartup(func(context.Context) error { return boom })

	err := a.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("Expected startup error, got %v", err)
	}
}

func TestRunBuildFailure(t *testing.T) {
	a := New(testConfig())
	h := func(*qhttp.Request) (*qhttp.Response, error) { return nil, nil }
	a.Engine().GET("/dup", h)
	a.Engine().GET("/dup", h)

	if err := a.Run(context.Background()); err == nil {
		t.Error("Expected a build error for a duplicate route")
	}
}

func TestJWTProtectsRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.Enabled = true
	cfg.JWT.Secret = "test-secret"
	cfg.JWT.ExcludePaths = []string{"/public"}

	a := New(cfg)
	ok := func(*qhttp.Request) (*qhttp.Response, error) { return qhttp.Text(200, "ok"), nil }
	a.Engine().GET("/private", ok)
	a.Engine().GET("/public", ok)

	base, stop := start(t, a)
	defer stop()

	if status, _ := get(t, base+"/private", nil); status != 401 {
		t.Errorf("Expected 401 without a token, got %d", status)
	}
	if status, _ := get(t, base+"/public", nil); status != 200 {
		t.Errorf("Expected excluded path to pass, got %d", status)
	}
	if status, _ := get(t, base+"/openapi.json", nil); status != 200 {
		t.Errorf("Expected docs to be reachable without a token, got %d", status)
	}
	if status, _ := get(t, base+"/docs", nil); status != 200 {
		t.Errorf("Expected docs page to be reachable without a token, got %d", status)
	}

	token, err := middleware.SignToken([]byte("test-secret"), map[string]any{
		"sub": "ada",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if status, _ := get(t, base+"/private", map[string]string{"Authorization": "Bearer " + token}); status != 200 {
		t.Errorf("Expected 200 with a valid token, got %d", status)
	}
}

func TestDebugRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.Debug = true
	a := New(cfg)
	a.Engine().POST("/items", func(*qhttp.Request) (*qhttp.Response, error) { return nil, nil })

	base, stop := start(t, a)
	defer stop()

	status, body := get(t, base+"/debug/routes", nil)
	if status != 200 || !strings.Contains(body, `"pattern":"/items"`) {
		t.Errorf("debug routes: status %d body %s", status, body)
	}
}
