package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
)

// Claims represents the JWT claims structure
type Claims struct {
	UserID   int64    `json:"uid"`
	TenantID int64    `json:"tenant_id"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// JWTManager handles JWT operations
type JWTManager struct {
	secret   string
	issuer   string
	audience string
	expiry   time.Duration
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secret, issuer, audience string, expiry time.Duration) *JWTManager {
	return &JWTManager{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		expiry:   expiry,
	}
}

// ValidateConfig checks the manager settings before any token is issued.
func (j *JWTManager) ValidateConfig() error {
	if j.secret == "" {
		return errors.New("JWT secret must not be empty")
	}
	if len(j.secret) < 32 {
		return errors.New("JWT secret must be at least 32 characters")
	}
	if j.issuer == "" {
		return errors.New("JWT issuer must not be empty")
	}
	if j.audience == "" {
		return errors.New("JWT audience must not be empty")
	}
	if j.expiry <= 0 {
		return errors.New("JWT expiry must be positive")
	}
	return nil
}

// GenerateToken creates a new JWT token
func (j *JWTManager) GenerateToken(userID, tenantID int64, roles []string) (string, error) {
	if userID <= 0 {
		return "", errors.New("user ID must be positive")
	}
	if tenantID <= 0 {
		return "", errors.New("tenant ID must be positive")
	}
	if len(roles) == 0 {
		return "", errors.New("at least one role is required")
	}
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		TenantID: tenantID,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(j.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    j.issuer,
			Audience:  jwt.ClaimStrings{j.audience},
			Subject:   fmt.Sprintf("%d", userID),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.secret))
}

// ValidateToken validates and parses a JWT token
func (j *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(j.secret), nil
	}, jwt.WithIssuer(j.issuer), jwt.WithAudience(j.audience))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// Roles recognised by the API.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// HasRole checks if the user has any of the required roles
func (c *Claims) HasRole(requiredRoles ...string) bool {
	return lo.Some(c.Roles, requiredRoles)
}

// CanWrite reports whether the claims allow asset changes.
func (c *Claims) CanWrite() bool {
	return c.HasRole(RoleAdmin, RoleEditor)
}

// IsExpiringSoon reports whether the token expires within d. Tokens that
// have already expired count as expiring.
func (c *Claims) IsExpiringSoon(d time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Until(c.ExpiresAt.Time) <= d
}
