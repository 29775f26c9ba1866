package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	testSecret   = "campus-inventory-test-secret-of-32+bytes"
	testIssuer   = "campus-inventory"
	testAudience = "campus-inventory-api"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newManager(expiry time.Duration) *JWTManager {
	return NewJWTManager(testSecret, testIssuer, testAudience, expiry)
}

func quietLogger() logrus.FieldLogger {
	log, _ := logtest.NewNullLogger()
	return log
}

// echo reports what the guarded handler saw.
var echo = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-User", jsonInt(UserIDFromContext(r.Context())))
	w.Header().Set("X-Tenant", jsonInt(TenantIDFromContext(r.Context())))
	w.Header().Set("X-Target", jsonInt(TargetTenantFromContext(r.Context())))
	w.WriteHeader(http.StatusOK)
})

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func requestAs(claims *Claims) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	if claims != nil {
		req = req.WithContext(WithClaims(req.Context(), claims))
	}
	return req
}

func TestValidateConfig(t *testing.T) {
	tests := map[string]struct {
		manager *JWTManager
		wantErr string
	}{
		"valid":          {manager: newManager(time.Hour)},
		"empty secret":   {manager: NewJWTManager("", testIssuer, testAudience, time.Hour), wantErr: "must not be empty"},
		"short secret":   {manager: NewJWTManager("short", testIssuer, testAudience, time.Hour), wantErr: "at least 32"},
		"no issuer":      {manager: NewJWTManager(testSecret, "", testAudience, time.Hour), wantErr: "issuer"},
		"no audience":    {manager: NewJWTManager(testSecret, testIssuer, "", time.Hour), wantErr: "audience"},
		"expiry not set": {manager: NewJWTManager(testSecret, testIssuer, testAudience, 0), wantErr: "expiry"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := tc.manager.ValidateConfig()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	m := newManager(time.Hour)

	token, err := m.GenerateToken(42, 3, []string{RoleEditor})
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, int64(3), claims.TenantID)
	assert.Equal(t, []string{RoleEditor}, claims.Roles)
	assert.Equal(t, "42", claims.Subject)

	for name, generate := range map[string]func() (string, error){
		"no user":   func() (string, error) { return m.GenerateToken(0, 3, []string{RoleAdmin}) },
		"no tenant": func() (string, error) { return m.GenerateToken(42, 0, []string{RoleAdmin}) },
		"no roles":  func() (string, error) { return m.GenerateToken(42, 3, nil) },
	} {
		_, err := generate()
		assert.Error(t, err, name)
	}
}

func TestClaimsPermissions(t *testing.T) {
	tests := map[string]struct {
		roles    []string
		canWrite bool
		isAdmin  bool
	}{
		"admin":          {roles: []string{RoleAdmin}, canWrite: true, isAdmin: true},
		"editor":         {roles: []string{RoleEditor}, canWrite: true},
		"viewer":         {roles: []string{RoleViewer}},
		"viewer, editor": {roles: []string{RoleViewer, RoleEditor}, canWrite: true},
		"unknown role":   {roles: []string{"auditor"}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := &Claims{Roles: tc.roles}
			assert.Equal(t, tc.canWrite, c.CanWrite())
			assert.Equal(t, tc.isAdmin, c.HasRole(RoleAdmin))
		})
	}
}

func TestIsExpiringSoon(t *testing.T) {
	at := func(d time.Duration) *Claims {
		return &Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(d))}}
	}
	assert.True(t, at(30*time.Minute).IsExpiringSoon(time.Hour))
	assert.True(t, at(-time.Minute).IsExpiringSoon(time.Hour), "expired tokens count as expiring")
	assert.False(t, at(2*time.Hour).IsExpiringSoon(time.Hour))
	assert.False(t, (&Claims{}).IsExpiringSoon(time.Hour), "no expiry set")
}

func TestCanAccessTenant(t *testing.T) {
	tests := map[string]struct {
		caller *Claims
		target int64
		want   bool
	}{
		"own tenant":             {caller: &Claims{TenantID: 4}, target: 4, want: true},
		"another school":         {caller: &Claims{TenantID: 4}, target: 5},
		"district office":        {caller: &Claims{TenantID: MainTenantID}, target: 5, want: true},
		"district office itself": {caller: &Claims{TenantID: MainTenantID}, target: MainTenantID, want: true},
		"school to district":     {caller: &Claims{TenantID: 4}, target: MainTenantID},
		"invalid target":         {caller: &Claims{TenantID: MainTenantID}, target: 0},
		"unauthenticated":        {target: 4},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if tc.caller != nil {
				ctx = WithClaims(ctx, tc.caller)
			}
			assert.Equal(t, tc.want, CanAccessTenant(ctx, tc.target))
		})
	}
}

func TestAuthenticate(t *testing.T) {
	m := newManager(time.Hour)
	valid, err := m.GenerateToken(7, 3, []string{RoleViewer})
	require.NoError(t, err)
	expired, err := newManager(-time.Minute).GenerateToken(7, 3, []string{RoleViewer})
	require.NoError(t, err)
	foreign, err := NewJWTManager(testSecret, testIssuer, "another-api", time.Hour).GenerateToken(7, 3, []string{RoleViewer})
	require.NoError(t, err)
	forged, err := NewJWTManager("a-different-secret-that-is-32-bytes!!", testIssuer, testAudience, time.Hour).
		GenerateToken(7, 3, []string{RoleViewer})
	require.NoError(t, err)
	roleless, err := m.GenerateToken(7, 3, []string{"auditor"})
	require.NoError(t, err)

	tests := map[string]struct {
		header   string
		wantCode string
	}{
		"missing header": {wantCode: "MISSING_AUTH_HEADER"},
		"basic auth":     {header: "Basic dXNlcjpwYXNz", wantCode: "INVALID_AUTH_FORMAT"},
		"empty bearer":   {header: "Bearer   ", wantCode: "INVALID_AUTH_FORMAT"},
		"not a jwt":      {header: "Bearer opaque", wantCode: "MALFORMED_TOKEN"},
		"garbage jwt":    {header: "Bearer a.b.c", wantCode: "MALFORMED_TOKEN"},
		"expired":        {header: "Bearer " + expired, wantCode: "TOKEN_EXPIRED"},
		"other audience": {header: "Bearer " + foreign, wantCode: "FOREIGN_TOKEN"},
		"wrong secret":   {header: "Bearer " + forged, wantCode: "INVALID_SIGNATURE"},
		"no known role":  {header: "Bearer " + roleless, wantCode: "NO_ROLES"},
		"valid viewer":   {header: "Bearer " + valid},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/devices", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			Authenticate(m, quietLogger())(echo).ServeHTTP(rec, req)

			if tc.wantCode != "" {
				assert.Equal(t, http.StatusUnauthorized, rec.Code)
				assert.Equal(t, tc.wantCode, decodeError(t, rec).Code)
				return
			}
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "7", rec.Header().Get("X-User"))
			assert.Equal(t, "3", rec.Header().Get("X-Tenant"))
			assert.Empty(t, rec.Header().Get("X-Token-Expires-At"), "an hour-long token is not close to expiry")
		})
	}
}

func TestAuthenticateWarnsBeforeExpiry(t *testing.T) {
	token, err := newManager(30*time.Minute).GenerateToken(7, 3, []string{RoleEditor})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	Authenticate(newManager(30*time.Minute), quietLogger())(echo).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	expiresAt, err := time.Parse(time.RFC3339, rec.Header().Get("X-Token-Expires-At"))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), expiresAt, time.Minute)
	left, err := time.ParseDuration(rec.Header().Get("X-Token-Expires-In"))
	require.NoError(t, err)
	assert.InDelta(t, (30 * time.Minute).Seconds(), left.Seconds(), 60)
}

func TestRoleGuards(t *testing.T) {
	admin := &Claims{UserID: 1, TenantID: 4, Roles: []string{RoleAdmin}}
	editor := &Claims{UserID: 2, TenantID: 4, Roles: []string{RoleEditor}}
	viewer := &Claims{UserID: 3, TenantID: 4, Roles: []string{RoleViewer}}
	district := &Claims{UserID: 4, TenantID: MainTenantID, Roles: []string{RoleAdmin}}

	tests := map[string]struct {
		guard    func(http.Handler) http.Handler
		caller   *Claims
		want     int
		wantCode string
	}{
		"writer admits admin":   {guard: RequireWriter, caller: admin, want: http.StatusOK},
		"writer admits editor":  {guard: RequireWriter, caller: editor, want: http.StatusOK},
		"writer refuses viewer": {guard: RequireWriter, caller: viewer, want: http.StatusForbidden, wantCode: "READ_ONLY"},
		"writer needs claims":   {guard: RequireWriter, want: http.StatusUnauthorized, wantCode: "AUTHENTICATION_REQUIRED"},
		"admin admits admin":    {guard: RequireAdmin, caller: admin, want: http.StatusOK},
		"admin refuses editor":  {guard: RequireAdmin, caller: editor, want: http.StatusForbidden, wantCode: "INSUFFICIENT_PERMISSIONS"},
		"main admits district":  {guard: RequireMainTenant, caller: district, want: http.StatusOK},
		"main refuses school":   {guard: RequireMainTenant, caller: admin, want: http.StatusForbidden, wantCode: "MAIN_TENANT_ONLY"},
		"main needs claims":     {guard: RequireMainTenant, want: http.StatusUnauthorized, wantCode: "AUTHENTICATION_REQUIRED"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tc.guard(echo).ServeHTTP(rec, requestAs(tc.caller))

			assert.Equal(t, tc.want, rec.Code)
			if tc.wantCode != "" {
				assert.Equal(t, tc.wantCode, decodeError(t, rec).Code)
			}
		})
	}
}

func TestScopeTenant(t *testing.T) {
	school := &Claims{UserID: 1, TenantID: 4, Roles: []string{RoleAdmin}}
	district := &Claims{UserID: 2, TenantID: MainTenantID, Roles: []string{RoleAdmin}}

	tests := map[string]struct {
		param      string
		caller     *Claims
		want       int
		wantCode   string
		wantTarget string
	}{
		"own tenant":         {param: "4", caller: school, want: http.StatusOK, wantTarget: "4"},
		"another school":     {param: "5", caller: school, want: http.StatusForbidden, wantCode: "TENANT_ACCESS_DENIED"},
		"district to school": {param: "5", caller: district, want: http.StatusOK, wantTarget: "5"},
		"not a number":       {param: "five", caller: district, want: http.StatusBadRequest, wantCode: "INVALID_TENANT"},
		"zero":               {param: "0", caller: district, want: http.StatusBadRequest, wantCode: "INVALID_TENANT"},
		"unauthenticated":    {param: "4", want: http.StatusUnauthorized, wantCode: "AUTHENTICATION_REQUIRED"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			scope := ScopeTenant(func(*http.Request) string { return tc.param })
			scope(echo).ServeHTTP(rec, requestAs(tc.caller))

			assert.Equal(t, tc.want, rec.Code)
			if tc.wantCode != "" {
				assert.Equal(t, tc.wantCode, decodeError(t, rec).Code)
				return
			}
			assert.Equal(t, tc.wantTarget, rec.Header().Get("X-Target"))
		})
	}
}
