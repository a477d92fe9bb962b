package app

import (
	"net/http"

	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/ShemaiahYaba/academic-repo/internal/observability"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the base middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	stack := []func(http.Handler) http.Handler{
		secureMiddleware.Handler,
	}
	if cfg.Metrics != nil {
		stack = append(stack, cfg.Metrics.Middleware)
	}
	return stack
}

// AuthRateLimiter throttles credential endpoints per client IP.
func AuthRateLimiter(cfg *Config) func(http.Handler) http.Handler {
	limit := 10
	window := cfg.AuthRateLimitWindow
	if cfg.AuthRateLimit > 0 {
		limit = cfg.AuthRateLimit
	}
	return httprate.LimitByIP(limit, window)
}
