package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Session is a server-side login record referenced by the session cookie
type Session struct {
	ID        string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID    uint      `json:"user_id" gorm:"not null;index"`
	UserAgent string    `json:"user_agent" gorm:"type:varchar(255)"`
	IP        string    `json:"ip" gorm:"type:varchar(64)"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	User      User      `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// IsExpired checks if the session is past its lifetime
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// PasswordResetToken stores the hash of a one-time reset token
type PasswordResetToken struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	TokenHash string     `json:"-" gorm:"type:char(64);uniqueIndex;not null"`
	UserID    uint       `json:"user_id" gorm:"not null;index"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	User      User       `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// IsUsable checks the token is neither consumed nor expired
func (t *PasswordResetToken) IsUsable() bool {
	return t.UsedAt == nil && time.Now().Before(t.ExpiresAt)
}

// HashToken returns the hex SHA-256 of a raw token as stored in TokenHash
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
