package model

import (
	"time"
)

// Order links a buyer to a purchased item. Only counted in profile statistics.
type Order struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	BuyerID   uint      `json:"buyer_id" gorm:"not null;index"`
	ItemID    uint      `json:"item_id" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"`
	Buyer     User      `json:"-" gorm:"foreignKey:BuyerID"`
	Item      Item      `json:"-" gorm:"foreignKey:ItemID"`
}
