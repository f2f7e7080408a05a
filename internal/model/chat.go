package model

import (
	"time"
)

// MaxMessageLength bounds Chat.Content in characters
const MaxMessageLength = 5000

// Chat is a single directed message between two users.
// Only IsRead changes after creation.
type Chat struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	SenderID   uint      `json:"sender_id" gorm:"not null;index;check:sender_id <> receiver_id"`
	ReceiverID uint      `json:"receiver_id" gorm:"not null;index"`
	Content    string    `json:"content" gorm:"type:text;not null"`
	SentAt     time.Time `json:"timestamp" gorm:"not null;index"`
	IsRead     bool      `json:"is_read" gorm:"default:false;index"`
	Sender     User      `json:"-" gorm:"foreignKey:SenderID;constraint:OnDelete:CASCADE"`
	Receiver   User      `json:"-" gorm:"foreignKey:ReceiverID;constraint:OnDelete:CASCADE"`
}

// CounterpartOf returns the other participant of the message
func (m *Chat) CounterpartOf(userID uint) uint {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}
