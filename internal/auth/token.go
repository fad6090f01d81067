package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spec-kit/chatdesk/internal/domain"
)

const issuer = "chatdesk"

// ErrInvalidToken is returned for tokens that fail signature, expiry or issuer checks.
var ErrInvalidToken = errors.New("invalid token")

// TokenManager issues and validates staff access tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttlMinutes int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &TokenManager{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute, now: time.Now}
}

// Claims is the access token payload. The role is informational; requests
// are authorized against the stored staff record.
type Claims struct {
	Role domain.StaffRole `json:"role"`
	jwt.RegisteredClaims
}

// Issue signs a token for staff.
func (tm *TokenManager) Issue(staff *domain.StaffMember) (string, time.Time, error) {
	now := tm.now()
	expiresAt := now.Add(tm.ttl)
	claims := &Claims{
		Role: staff.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   staff.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse validates a token and returns its claims.
func (tm *TokenManager) Parse(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseStaffID validates tokenStr and returns the staff id it was issued to.
// The realtime hub authenticates sockets with it.
func (tm *TokenManager) ParseStaffID(tokenStr string) (string, error) {
	claims, err := tm.Parse(tokenStr)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
