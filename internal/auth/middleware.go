package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// MainTenantID is the district office tenant, which administers every school.
const MainTenantID int64 = 1

const (
	// expiryWarning is how close to expiry a token must be for responses to
	// carry the X-Token-Expires-* headers.
	expiryWarning = time.Hour
	maxTokenBytes = 8192
)

type claimsKey struct{}
type targetTenantKey struct{}

// ErrorResponse is the body of every rejected request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WithClaims returns a context carrying the caller's verified claims.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the caller's claims, or nil outside Authenticate.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// UserIDFromContext is the acting user, 0 when unauthenticated.
func UserIDFromContext(ctx context.Context) int64 {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.UserID
	}
	return 0
}

// TenantIDFromContext is the caller's own tenant, 0 when unauthenticated.
func TenantIDFromContext(ctx context.Context) int64 {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.TenantID
	}
	return 0
}

// CanAccessTenant reports whether the caller may act on tenantID: its own
// tenant, or any tenant for callers from the main tenant.
func CanAccessTenant(ctx context.Context, tenantID int64) bool {
	own := TenantIDFromContext(ctx)
	return own > 0 && tenantID > 0 && (own == tenantID || own == MainTenantID)
}

// TargetTenantFromContext is the tenant a ScopeTenant route acts on.
func TargetTenantFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(targetTenantKey{}).(int64)
	return id
}

func deny(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// rejection is why a request failed authentication.
type rejection struct {
	code    string
	message string
}

func bearerToken(r *http.Request) (string, *rejection) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", &rejection{"MISSING_AUTH_HEADER", "Authorization header required"}
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", &rejection{"INVALID_AUTH_FORMAT", "Expected: Bearer <token>"}
	}
	if len(token) > maxTokenBytes || strings.Count(token, ".") != 2 {
		return "", &rejection{"MALFORMED_TOKEN", "Token is malformed"}
	}
	return token, nil
}

func classifyTokenError(err error) *rejection {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &rejection{"TOKEN_EXPIRED", "Token has expired"}
	case errors.Is(err, jwt.ErrTokenMalformed):
		return &rejection{"MALFORMED_TOKEN", "Token is malformed"}
	case errors.Is(err, jwt.ErrTokenUnverifiable), errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return &rejection{"INVALID_SIGNATURE", "Token signature is not valid"}
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return &rejection{"FOREIGN_TOKEN", "Token was not issued for this service"}
	}
	return &rejection{"INVALID_TOKEN", "Invalid token"}
}

// checkScope rejects tokens that verify but cannot be scoped to a tenant.
func checkScope(c *Claims) *rejection {
	switch {
	case c.UserID <= 0:
		return &rejection{"INVALID_USER_ID", "Token names no user"}
	case c.TenantID <= 0:
		return &rejection{"INVALID_TENANT_ID", "Token names no tenant"}
	case !c.HasRole(RoleAdmin, RoleEditor, RoleViewer):
		return &rejection{"NO_ROLES", "Token carries no inventory role"}
	}
	return nil
}

// Authenticate verifies the bearer token and scopes the request to the
// token's tenant. Tokens close to expiry get X-Token-Expires-At and
// X-Token-Expires-In headers on the response.
func Authenticate(jwtManager *JWTManager, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, rej := bearerToken(r)
			var claims *Claims
			if rej == nil {
				var err error
				if claims, err = jwtManager.ValidateToken(token); err != nil {
					rej = classifyTokenError(err)
				} else {
					rej = checkScope(claims)
				}
			}
			if rej != nil {
				log.WithFields(logrus.Fields{"path": r.URL.Path, "code": rej.code}).Debug("request not authenticated")
				deny(w, http.StatusUnauthorized, rej.code, rej.message)
				return
			}

			if claims.IsExpiringSoon(expiryWarning) {
				w.Header().Set("X-Token-Expires-At", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
				w.Header().Set("X-Token-Expires-In", time.Until(claims.ExpiresAt.Time).Round(time.Second).String())
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// guard admits requests whose claims satisfy allowed.
func guard(allowed func(*Claims) bool, code, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				deny(w, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "Authentication required")
				return
			}
			if !allowed(claims) {
				deny(w, http.StatusForbidden, code, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireWriter admits callers allowed to change assets. Viewers are refused.
func RequireWriter(next http.Handler) http.Handler {
	return guard((*Claims).CanWrite, "READ_ONLY", "Viewers cannot change the inventory")(next)
}

// RequireAdmin admits administrators of any tenant.
func RequireAdmin(next http.Handler) http.Handler {
	return guard(func(c *Claims) bool { return c.HasRole(RoleAdmin) },
		"INSUFFICIENT_PERMISSIONS", "Administrator role required")(next)
}

// RequireMainTenant admits only callers from the district office.
func RequireMainTenant(next http.Handler) http.Handler {
	return guard(func(c *Claims) bool { return c.TenantID == MainTenantID },
		"MAIN_TENANT_ONLY", "Only the district office may do this")(next)
}

// ScopeTenant resolves the tenant a route acts on through param and admits
// the request only when CanAccessTenant allows it. Handlers read the tenant
// back with TargetTenantFromContext.
func ScopeTenant(param func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(param(r), 10, 64)
			if err != nil || id <= 0 {
				deny(w, http.StatusBadRequest, "INVALID_TENANT", "Tenant id must be a positive integer")
				return
			}
			if ClaimsFromContext(r.Context()) == nil {
				deny(w, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "Authentication required")
				return
			}
			if !CanAccessTenant(r.Context(), id) {
				deny(w, http.StatusForbidden, "TENANT_ACCESS_DENIED", "Tenant belongs to another school")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), targetTenantKey{}, id)))
		})
	}
}
