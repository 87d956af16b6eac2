// Package session mints and verifies the signed bearer tokens the panel
// API uses. Tokens are self-contained: a base64url JSON claims document
// plus an HMAC-SHA256 signature over it, so verification needs no
// server-side session table.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// DefaultTTL is how long a minted token stays valid.
const DefaultTTL = 8 * time.Hour

// Panel roles, in ascending privilege.
const (
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
	RoleOwner     = "owner"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrExpiredToken = errors.New("session token expired")
)

var roleRank = map[string]int{
	RoleModerator: 1,
	RoleAdmin:     2,
	RoleOwner:     3,
}

// ValidRole reports whether role names a known panel role.
func ValidRole(role string) bool {
	_, ok := roleRank[role]
	return ok
}

// RoleAtLeast reports whether role carries at least the privilege of
// min. Unknown roles never satisfy anything.
func RoleAtLeast(role, min string) bool {
	r, ok := roleRank[role]
	m, ok2 := roleRank[min]
	return ok && ok2 && r >= m
}

// Claims is what a token asserts about its bearer.
type Claims struct {
	UserID    int64  `json:"uid"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	ExpiresAt int64  `json:"exp"` // unix seconds
}

// Manager signs and checks tokens with a shared secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewManager creates a Manager. A zero ttl uses DefaultTTL.
func NewManager(secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Mint issues a token for the given user.
func (m *Manager) Mint(userID int64, name, role string) (string, error) {
	claims := Claims{
		UserID:    userID,
		Name:      name,
		Role:      role,
		ExpiresAt: m.now().Add(m.ttl).Unix(),
	}
	body, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	payload := base64.RawURLEncoding.EncodeToString(body)
	return payload + "." + m.sign(payload), nil
}

// Verify checks the token's signature and expiry and returns its
// claims.
func (m *Manager) Verify(token string) (Claims, error) {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok || payload == "" || sig == "" {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(sig), []byte(m.sign(payload))) {
		return Claims{}, ErrInvalidToken
	}
	body, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(body, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if m.now().Unix() >= claims.ExpiresAt {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func (m *Manager) sign(payload string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
