package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey     contextKey = "user_id"
	UserRolesKey  contextKey = "user_roles"
	PatientRefKey contextKey = "patient_ref"
)

// Claims are the bearer token claims. PatientRef is the blind index of the
// patient's own identifier and is set only on patient tokens.
type Claims struct {
	jwt.RegisteredClaims
	Roles      []string `json:"roles"`
	PatientRef string   `json:"patient_ref,omitempty"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	Skipper    func(echo.Context) bool
}

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	Subject    string
	Roles      []string
	PatientRef string
}

// ParseToken validates an HS256 token against cfg.
func ParseToken(cfg JWTConfig, tokenStr string) (*Claims, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("no signing key configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// IssueToken signs a token for subject with the given roles.
func IssueToken(cfg JWTConfig, subject string, roles []string, patientRef string, ttl time.Duration) (string, error) {
	if len(cfg.SigningKey) == 0 {
		return "", errors.New("no signing key configured")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles:      roles,
		PatientRef: patientRef,
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.SigningKey)
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func authenticate(cfg JWTConfig, c echo.Context) error {
	tokenStr, err := bearerToken(c)
	if err != nil {
		return err
	}
	claims, err := ParseToken(cfg, tokenStr)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	setIdentity(c, Identity{Subject: claims.Subject, Roles: claims.Roles, PatientRef: claims.PatientRef})
	return nil
}

func setIdentity(c echo.Context, id Identity) {
	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, UserIDKey, id.Subject)
	ctx = context.WithValue(ctx, UserRolesKey, id.Roles)
	ctx = context.WithValue(ctx, PatientRefKey, id.PatientRef)
	c.SetRequest(c.Request().WithContext(ctx))
}

// JWTMiddleware requires a valid HS256 bearer token on every request not
// excluded by cfg.Skipper.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}
			if err := authenticate(cfg, c); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// DevAuthMiddleware is a permissive middleware for development. Requests
// without an Authorization header run as an admin "dev-user"; requests with
// one are validated like JWTMiddleware when a signing key is configured.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") == "" || len(cfg.SigningKey) == 0 {
				setIdentity(c, Identity{Subject: "dev-user", Roles: []string{RoleAdmin}})
				return next(c)
			}
			if err := authenticate(cfg, c); err != nil {
				return err
			}
			return next(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

func PatientRefFromContext(ctx context.Context) string {
	ref, _ := ctx.Value(PatientRefKey).(string)
	return ref
}
