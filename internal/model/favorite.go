package model

import (
	"time"
)

// Favorite is the user/item favorites join table. The composite primary key
// keeps a single row per pair.
type Favorite struct {
	UserID    uint      `json:"user_id" gorm:"primaryKey;autoIncrement:false"`
	ItemID    uint      `json:"item_id" gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt time.Time `json:"created_at"`
	User      User      `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Item      Item      `json:"-" gorm:"foreignKey:ItemID;constraint:OnDelete:CASCADE"`
}

// RecentlyViewed records the last time a user opened an item.
// Re-viewing updates ViewedAt on the existing row.
type RecentlyViewed struct {
	ID       uint      `json:"id" gorm:"primaryKey"`
	UserID   uint      `json:"user_id" gorm:"not null;uniqueIndex:idx_recently_viewed_user_item"`
	ItemID   uint      `json:"item_id" gorm:"not null;uniqueIndex:idx_recently_viewed_user_item"`
	ViewedAt time.Time `json:"viewed_at" gorm:"not null;index"`
	User     User      `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Item     Item      `json:"-" gorm:"foreignKey:ItemID;constraint:OnDelete:CASCADE"`
}

// TableName keeps the table name singular like the rest of the history tables
func (RecentlyViewed) TableName() string {
	return "recently_viewed"
}
