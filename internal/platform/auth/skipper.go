package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths lists route templates that bypass authentication.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

const publicPrefix = "/api/public/"

// AuthSkipper returns true for requests whose path should skip authentication.
// Pass this function as the Skipper on JWTConfig.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

// IsPublicPath reports whether path is a health check or lives under
// /api/public/.
func IsPublicPath(path string) bool {
	return publicPaths[path] || strings.HasPrefix(path, publicPrefix)
}
