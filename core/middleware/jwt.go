package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/searchktools/quickapi/core/http"
)

// JWTConfig configures HS256 bearer token authentication.
type JWTConfig struct {
	// Secret is the HMAC key. Required.
	Secret []byte
	// Issuer is the expected iss claim. If empty, issuer is not validated.
	Issuer string
	// Audience is the expected aud claim. If empty, audience is not validated.
	Audience string
	// Leeway tolerates clock skew on exp/nbf/iat.
	Leeway time.Duration
	// ExcludePaths are path prefixes served without a token.
	ExcludePaths []string
	Logger       *slog.Logger
}

type claimsKeyType struct{}

var claimsKey = claimsKeyType{}

// ClaimsFromContext returns the validated token claims.
func ClaimsFromContext(ctx context.Context) (jwtlib.MapClaims, bool) {
	c, ok := ctx.Value(claimsKey).(jwtlib.MapClaims)
	return c, ok
}

// ErrMissingSecret is returned by SignToken for an empty key.
var ErrMissingSecret = errors.New("jwt: empty secret")

// SignToken issues an HS256 token for claims.
func SignToken(secret []byte, claims jwtlib.MapClaims) (string, error) {
	if len(secret) == 0 {
		return "", ErrMissingSecret
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(secret)
}

// JWTAuth rejects requests without a valid bearer token with a structured
// 401. The claims of an accepted token are stored in the request context.
func JWTAuth(cfg JWTConfig) Middleware {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwtlib.WithLeeway(cfg.Leeway))
	}
	parser := jwtlib.NewParser(opts...)

	keyFunc := func(*jwtlib.Token) (any, error) {
		if len(cfg.Secret) == 0 {
			return nil, ErrMissingSecret
		}
		return cfg.Secret, nil
	}

	unauthorized := func(req *http.Request, detail string) *http.Response {
		resp := http.ErrorResponse(nethttp.StatusUnauthorized, detail, RequestIDFromContext(req.Context()))
		resp.SetHeader("WWW-Authenticate", `Bearer realm="api"`)
		return resp
	}

	return func(req *http.Request, next Next) (*http.Response, error) {
		for _, p := range cfg.ExcludePaths {
			if strings.HasPrefix(req.Path, p) {
				return next(req)
			}
		}

		header := req.GetHeader(http.HeaderAuthorization)
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(tokenStr) == "" {
			return unauthorized(req, "missing bearer token"), nil
		}

		claims := jwtlib.MapClaims{}
		token, err := parser.ParseWithClaims(strings.TrimSpace(tokenStr), claims, keyFunc)
		if err != nil || !token.Valid {
			logger.Debug("jwt validation failed", "path", req.Path, "error", err)
			detail := "invalid token"
			if errors.Is(err, jwtlib.ErrTokenExpired) {
				detail = "token expired"
			}
			return unauthorized(req, detail), nil
		}

		return next(req.WithContext(context.WithValue(req.Context(), claimsKey, claims)))
	}
}

// Subject returns the sub claim of the authenticated request, if any.
func Subject(ctx context.Context) (string, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("no token claims in context")
	}
	return claims.GetSubject()
}
