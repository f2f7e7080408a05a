package model

import (
	"time"
)

// ItemStatus is the lifecycle state of a listing
type ItemStatus string

const (
	ItemStatusActive   ItemStatus = "active"
	ItemStatusInactive ItemStatus = "inactive"
)

// MaxTitleLength bounds Item.Title
const MaxTitleLength = 150

// Item represents a marketplace listing. Deleting an item moves it to
// ItemStatusInactive; the row is never removed.
type Item struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	Title           string     `json:"title" gorm:"type:varchar(150);not null"`
	Description     string     `json:"description" gorm:"type:text"`
	Category        string     `json:"category" gorm:"type:varchar(64);index"`
	Size            string     `json:"size" gorm:"type:varchar(32)"`
	SellerType      string     `json:"seller_type" gorm:"type:varchar(32);index"`
	Condition       string     `json:"condition" gorm:"type:varchar(32);index"`
	Price           float64    `json:"price" gorm:"not null;check:price >= 0"`
	ImageURL        string     `json:"image_url" gorm:"type:varchar(512)"`
	Status          ItemStatus `json:"status" gorm:"type:varchar(16);not null;default:active;index"`
	SearchEmbedding string     `json:"-" gorm:"type:text"`
	SellerID        uint       `json:"seller_id" gorm:"not null;index"`
	Seller          User       `json:"-" gorm:"foreignKey:SellerID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsActive reports whether the listing is publicly visible
func (i *Item) IsActive() bool {
	return i.Status == ItemStatusActive
}

// VisibleTo reports whether the item may be shown to the given viewer.
// Inactive items stay addressable by their seller only.
func (i *Item) VisibleTo(viewerID uint) bool {
	return i.IsActive() || (viewerID != 0 && viewerID == i.SellerID)
}
