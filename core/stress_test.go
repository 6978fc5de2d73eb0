package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/searchktools/quickapi/core/http"
	"github.com/searchktools/quickapi/core/middleware"
)

func TestConcurrentDispatch(t *testing.T) {
	var calls atomic.Int64
	counter := func(req *http.Request, next middleware.Next) (*http.Response, error) {
		calls.Add(1)
		return next(req)
	}

	e := NewEngine(quietOptions())
	e.Use(middleware.RequestID(), counter)
	e.GET("/users/{id}", func(req *http.Request) (*http.Response, error) {
		return http.Text(200, "user "+req.Param("id")), nil
	})
	e.GET("/users/{id}/posts/{post}", func(req *http.Request) (*http.Response, error) {
		return http.Text(200, req.Param("id")+"/"+req.Param("post")), nil
	})
	e.GET("/files/{path...}", func(req *http.Request) (*http.Response, error) {
		return http.Text(200, req.Param("path")), nil
	})
	e.GET("/boom", func(*http.Request) (*http.Response, error) {
		panic("boom")
	})
	d := mustBuild(t, e)

	const workers, perWorker = 16, 500
	var wg sync.WaitGroup
	errs := make(chan string, workers)

	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				var target, want string
				status := 200
				switch i % 4 {
				case 0:
					target, want = fmt.Sprintf("/users/%d", w), fmt.Sprintf("user %d", w)
				case 1:
					target, want = fmt.Sprintf("/users/%d/posts/%d", w, i), fmt.Sprintf("%d/%d", w, i)
				case 2:
					target, want = fmt.Sprintf("/files/a/%d/b", i), fmt.Sprintf("a/%d/b", i)
				case 3:
					target, status = "/boom", 500
				}

				resp := dispatch(d, "GET", target)
				if resp.Status != status || (want != "" && string(resp.Body) != want) {
					errs <- fmt.Sprintf("GET %s: got %d %q", target, resp.Status, resp.Body)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for msg := range errs {
		t.Error(msg)
	}
	if got := calls.Load(); got != workers*perWorker {
		t.Errorf("Expected %d middleware calls, got %d", workers*perWorker, got)
	}
}
