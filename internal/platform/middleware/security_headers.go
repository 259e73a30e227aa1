package middleware

import (
	"github.com/labstack/echo/v4"
)

const hstsValue = "max-age=31536000; includeSubDomains"

// baseSecurityHeaders apply to every response. Report payloads and PDF
// downloads carry patient data, so nothing is cacheable, embeddable or
// indexable.
var baseSecurityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "0"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; sandbox"},
	{"Cross-Origin-Resource-Policy", "same-origin"},
	{"Referrer-Policy", "no-referrer"},
	{"X-Robots-Tag", "noindex, nofollow"},
	{"Cache-Control", "no-store"},
	{"Pragma", "no-cache"},
}

type SecurityHeadersConfig struct {
	// HSTS adds Strict-Transport-Security. Off for plain-HTTP dev servers.
	HSTS bool
}

func SecurityHeaders(cfg SecurityHeadersConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range baseSecurityHeaders {
				h.Set(kv[0], kv[1])
			}
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			return next(c)
		}
	}
}
