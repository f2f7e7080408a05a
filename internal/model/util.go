package model

import (
	"crypto/rand"
	"encoding/base64"
)

// GenerateSecureToken creates a URL-safe random token string
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// All lists every model in migration order
func All() []interface{} {
	return []interface{}{
		&User{},
		&Item{},
		&Chat{},
		&Favorite{},
		&RecentlyViewed{},
		&Order{},
		&Session{},
		&PasswordResetToken{},
		&UploadGrant{},
	}
}
