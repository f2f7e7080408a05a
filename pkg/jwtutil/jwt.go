package jwtutil

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TypeSession = "session"
	TypeVerify  = "verify"
)

var (
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrWrongTokenType = errors.New("invalid token type")
)

// Claims is carried by every token issued by the service. SessionID is only
// set on session tokens, Email only on verification tokens.
type Claims struct {
	Type      string `json:"typ"`
	SessionID string `json:"sid,omitempty"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the numeric subject of the token
func (c *Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrInvalidToken
	}
	return uint(id), nil
}

// Manager signs and validates HS256 tokens with a single key
type Manager struct {
	secret []byte
	now    func() time.Time
}

func NewManager(signingKey string) *Manager {
	return &Manager{secret: []byte(signingKey), now: time.Now}
}

// GenerateSessionToken signs a session token bound to a server-side session row
func (m *Manager) GenerateSessionToken(userID uint, sessionID string, ttl time.Duration) (string, error) {
	return m.sign(Claims{Type: TypeSession, SessionID: sessionID}, userID, ttl)
}

// GenerateVerifyToken signs an email verification token
func (m *Manager) GenerateVerifyToken(userID uint, email string, ttl time.Duration) (string, error) {
	return m.sign(Claims{Type: TypeVerify, Email: email}, userID, ttl)
}

func (m *Manager) sign(claims Claims, userID uint, ttl time.Duration) (string, error) {
	now := m.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses the token, checks signature and expiry and makes sure it
// is of the expected type
func (m *Manager) ValidateToken(tokenString, expectedType string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Type != expectedType {
		return nil, ErrWrongTokenType
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return claims, nil
}
