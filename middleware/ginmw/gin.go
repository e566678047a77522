// Package ginmw provides Gin HTTP middleware that verifies signed unsubscribe
// tokens through a *sendgate.Gateway.
//
// Every verification failure gets the same response, so a caller cannot learn
// which check rejected a token. The specific reason is logged server side by
// the token service.
package ginmw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/paywise/sendgate"
)

// Context keys for storing token data in gin.Context.
const (
	KeyTokenPayload = "sendgate_token_payload"
	KeyEmail        = "sendgate_email"
)

// DefaultQueryParam carries the token in unsubscribe links.
const DefaultQueryParam = "token"

// Error bodies.
const (
	errInvalidLink       = "invalid or expired link"
	errNotConfigured     = "token service not configured"
	errVerifyUnavailable = "verification temporarily unavailable"
)

// TokenOption configures Token middleware behavior.
type TokenOption func(*tokenConfig)

type tokenConfig struct {
	queryParam    string
	header        string
	excludedPaths map[string]bool
}

// WithQueryParam sets the query parameter holding the token. Default: "token".
func WithQueryParam(name string) TokenOption {
	return func(cfg *tokenConfig) { cfg.queryParam = name }
}

// WithHeader also accepts the token from header name when the query
// parameter is absent.
func WithHeader(name string) TokenOption {
	return func(cfg *tokenConfig) { cfg.header = name }
}

// WithExcludedPaths sets paths that skip verification (e.g. health checks).
func WithExcludedPaths(paths ...string) TokenOption {
	return func(cfg *tokenConfig) {
		for _, p := range paths {
			cfg.excludedPaths[p] = true
		}
	}
}

// Token returns Gin middleware that verifies the request's unsubscribe token
// via gw.Tokens(). On success the payload is stored in the Gin context
// (GetTokenPayload, GetEmail) and in the request context
// (sendgate.TokenPayloadFromContext). Responds with 400 if the token is
// missing or fails any check.
func Token(gw *sendgate.Gateway, opts ...TokenOption) gin.HandlerFunc {
	cfg := &tokenConfig{queryParam: DefaultQueryParam, excludedPaths: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(c *gin.Context) {
		if cfg.excludedPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		tok := extractToken(c, cfg)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errInvalidLink})
			return
		}

		tokens := gw.Tokens()
		if tokens == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errNotConfigured})
			return
		}

		payload, err := tokens.Verify(c.Request.Context(), tok)
		if err != nil {
			if sendgate.IsTokenFailure(err) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errInvalidLink})
				return
			}
			gw.Logger().ErrorContext(c.Request.Context(), "token verification error", "error", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": errVerifyUnavailable})
			return
		}

		c.Set(KeyTokenPayload, payload)
		c.Set(KeyEmail, payload.Email)
		c.Request = c.Request.WithContext(sendgate.WithTokenPayload(c.Request.Context(), payload))

		c.Next()
	}
}

// --- Context helpers ---

// GetTokenPayload returns the verified payload from the Gin context.
func GetTokenPayload(c *gin.Context) *sendgate.TokenPayload {
	v, _ := c.Get(KeyTokenPayload)
	p, _ := v.(*sendgate.TokenPayload)
	return p
}

// GetEmail returns the verified subject email from the Gin context.
func GetEmail(c *gin.Context) string {
	v, _ := c.Get(KeyEmail)
	s, _ := v.(string)
	return s
}

func extractToken(c *gin.Context, cfg *tokenConfig) string {
	if tok := strings.TrimSpace(c.Query(cfg.queryParam)); tok != "" {
		return tok
	}
	if cfg.header != "" {
		return strings.TrimSpace(c.GetHeader(cfg.header))
	}
	return ""
}
