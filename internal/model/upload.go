package model

import (
	"time"
)

// UploadGrant records a bucket key presigned for a user. A client-supplied
// image key is only accepted from the user it was issued to.
type UploadGrant struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	ObjectKey string    `json:"object_key" gorm:"type:varchar(512);uniqueIndex;not null"`
	UserID    uint      `json:"user_id" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"`
	User      User      `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}
