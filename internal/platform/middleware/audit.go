package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/medrecords/internal/platform/auth"
)

// Route parameters that carry a plaintext national identifier. They are
// never logged; only a blind index prefix is recorded.
var identifierParams = []string{"aadhaar", "patientId"}

// patientRefLen is how much of the blind index is written to the audit log.
const patientRefLen = 12

// AuditEntry records who touched which record, how, and the outcome.
type AuditEntry struct {
	Timestamp  time.Time
	RequestID  string
	UserID     string
	UserRoles  []string
	Resource   string
	Action     string
	Route      string
	Method     string
	ReportID   string
	PatientRef string
	IPAddress  string
	StatusCode int
}

// IdentifierHasher maps a plaintext identifier to its blind index.
type IdentifierHasher interface {
	Hash(plaintext string) (string, error)
}

// Audit logs every /api/v1/ request once the handler returns. hasher may be
// nil, in which case identifier parameters are dropped from the entry.
func Audit(logger zerolog.Logger, hasher IdentifierHasher) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if !strings.HasPrefix(route, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			entry := buildEntry(c, err, hasher)
			evt := logger.Info()
			if entry.StatusCode == http.StatusForbidden || entry.StatusCode == http.StatusUnauthorized {
				evt = logger.Warn()
			}
			evt.
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("route", entry.Route).
				Str("report_id", entry.ReportID).
				Str("patient_ref", entry.PatientRef).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("record_access")

			return err
		}
	}
}

func buildEntry(c echo.Context, err error, hasher IdentifierHasher) AuditEntry {
	req := c.Request()
	ctx := req.Context()
	route := c.Path()

	entry := AuditEntry{
		Timestamp:  time.Now().UTC(),
		UserID:     auth.UserIDFromContext(ctx),
		UserRoles:  auth.RolesFromContext(ctx),
		Resource:   resourceFromRoute(route),
		Action:     auditAction(req.Method, route),
		Route:      route,
		Method:     req.Method,
		ReportID:   c.Param("id"),
		IPAddress:  c.RealIP(),
		StatusCode: responseStatus(c, err),
	}
	if rid, ok := c.Get("request_id").(string); ok {
		entry.RequestID = rid
	}
	if hasher != nil {
		entry.PatientRef = patientRef(c, hasher)
	}
	return entry
}

func patientRef(c echo.Context, hasher IdentifierHasher) string {
	for _, name := range identifierParams {
		v := c.Param(name)
		if v == "" {
			continue
		}
		h, err := hasher.Hash(v)
		if err != nil {
			return "invalid"
		}
		return h[:patientRefLen]
	}
	return ""
}

// responseStatus reports the status the client will see. The handler error
// has not been written yet when this middleware runs.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// resourceFromRoute returns the first segment after /api/v1/.
func resourceFromRoute(route string) string {
	rest := strings.TrimPrefix(route, "/api/v1/")
	seg, _, _ := strings.Cut(rest, "/")
	if seg == "" {
		return "unknown"
	}
	return seg
}

// auditAction names the operation. Identifier routes are named by their
// last segment (encrypt, decrypt, mask); others map from the HTTP method.
func auditAction(method, route string) string {
	if strings.HasPrefix(route, "/api/v1/aadhaar/") {
		return strings.TrimPrefix(route, "/api/v1/aadhaar/")
	}
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		if strings.Contains(route, "search") || strings.HasSuffix(route, "/reports") || strings.Contains(route, "/patient/") {
			return "search"
		}
		return "read"
	}
}
