package middleware

import (
	nethttp "net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/searchktools/quickapi/core/http"
)

// CORSConfig configures cross-origin resource sharing. "*" in AllowOrigins,
// AllowMethods or AllowHeaders means any.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSConfig allows any origin with the common methods.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}
}

// CORS adds CORS headers to responses and answers preflight requests with
// 204 without running the handler.
func CORS(cfg CORSConfig) Middleware {
	anyOrigin := slices.Contains(cfg.AllowOrigins, "*")
	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")
	anyHeader := slices.Contains(cfg.AllowHeaders, "*")
	anyMethod := slices.Contains(cfg.AllowMethods, "*")
	expose := strings.Join(cfg.ExposeHeaders, ", ")

	allowed := func(origin string) bool {
		return anyOrigin || slices.Contains(cfg.AllowOrigins, origin)
	}

	// With credentials the origin must be echoed, never "*".
	allowOrigin := func(resp *http.Response, origin string) {
		if anyOrigin && !cfg.AllowCredentials {
			resp.SetHeader("Access-Control-Allow-Origin", "*")
		} else {
			resp.SetHeader("Access-Control-Allow-Origin", origin)
			resp.Header.Add("Vary", "Origin")
		}
		if cfg.AllowCredentials {
			resp.SetHeader("Access-Control-Allow-Credentials", "true")
		}
	}

	return func(req *http.Request, next Next) (*http.Response, error) {
		origin := req.GetHeader("Origin")
		if origin == "" || !allowed(origin) {
			return next(req)
		}

		reqMethod := req.GetHeader("Access-Control-Request-Method")
		if req.Method == nethttp.MethodOptions && reqMethod != "" {
			resp := http.NewResponse(nethttp.StatusNoContent)
			allowOrigin(resp, origin)
			if anyMethod {
				resp.SetHeader("Access-Control-Allow-Methods", reqMethod)
			} else {
				resp.SetHeader("Access-Control-Allow-Methods", methods)
			}
			if anyHeader {
				if h := req.GetHeader("Access-Control-Request-Headers"); h != "" {
					resp.SetHeader("Access-Control-Allow-Headers", h)
				}
			} else if headers != "" {
				resp.SetHeader("Access-Control-Allow-Headers", headers)
			}
			if cfg.MaxAge > 0 {
				resp.SetHeader("Access-Control-Max-Age", strconv.Itoa(int(cfg.MaxAge.Seconds())))
			}
			return resp, nil
		}

		resp, err := next(req)
		if resp != nil {
			allowOrigin(resp, origin)
			if expose != "" {
				resp.SetHeader("Access-Control-Expose-Headers", expose)
			}
		}
		return resp, err
	}
}
