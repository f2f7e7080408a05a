package handler

import (
	"context"
	"time"

	"github.com/Mule-Mart/Mule-Mart/internal/model"
	"github.com/Mule-Mart/Mule-Mart/pkg/storage"
	"github.com/Mule-Mart/Mule-Mart/prometheus"
	"go.uber.org/zap"
)

// SellerSummary is the public part of a user embedded in other payloads
type SellerSummary struct {
	ID           uint   `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	FullName     string `json:"full_name"`
	ProfileImage string `json:"profile_image"`
}

type ItemResponse struct {
	ID          uint           `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Size        string         `json:"size"`
	SellerType  string         `json:"seller_type"`
	Condition   string         `json:"condition"`
	Price       float64        `json:"price"`
	ImageURL    string         `json:"image_url"`
	IsActive    bool           `json:"is_active"`
	SellerID    uint           `json:"seller_id"`
	Seller      *SellerSummary `json:"seller,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type UserResponse struct {
	ID           uint       `json:"id"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	FullName     string     `json:"full_name"`
	Email        string     `json:"email,omitempty"`
	ProfileImage string     `json:"profile_image"`
	IsVerified   bool       `json:"is_verified"`
	CreatedAt    time.Time  `json:"created_at"`
	Stats        *UserStats `json:"stats,omitempty"`
}

type ListingStats struct {
	Active int64 `json:"active"`
	Total  int64 `json:"total"`
}

type OrderStats struct {
	AsBuyer  int64 `json:"as_buyer"`
	AsSeller int64 `json:"as_seller"`
}

type UserStats struct {
	AccountCreated time.Time    `json:"account_created"`
	IsVerified     bool         `json:"is_verified"`
	Listings       ListingStats `json:"listings"`
	Orders         OrderStats   `json:"orders"`
	Favorites      int64        `json:"favorites"`
	RecentlyViewed int64        `json:"recently_viewed"`
}

// imageURL turns a stored image reference into something a browser can load.
// Bucket keys get a presigned GET URL, anything else is returned unchanged.
func (h *Handler) imageURL(ctx context.Context, log *zap.Logger, key string) string {
	if key == "" || !storage.IsManagedKey(key) {
		return key
	}
	u, err := h.storage.GenerateGetURL(ctx, key)
	if err != nil {
		log.Warn("Failed to presign image", zap.String("key", key), zap.Error(err))
		return ""
	}
	return u
}

func (h *Handler) sellerSummary(ctx context.Context, log *zap.Logger, u *model.User) *SellerSummary {
	return &SellerSummary{
		ID:           u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		FullName:     u.FullName(),
		ProfileImage: h.imageURL(ctx, log, u.ProfileImage),
	}
}

// serializeItem expects Seller to be preloaded; it is left out otherwise
func (h *Handler) serializeItem(ctx context.Context, log *zap.Logger, item *model.Item) ItemResponse {
	resp := ItemResponse{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Category:    item.Category,
		Size:        item.Size,
		SellerType:  item.SellerType,
		Condition:   item.Condition,
		Price:       item.Price,
		ImageURL:    h.imageURL(ctx, log, item.ImageURL),
		IsActive:    item.IsActive(),
		SellerID:    item.SellerID,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
	if item.Seller.ID != 0 {
		resp.Seller = h.sellerSummary(ctx, log, &item.Seller)
	}
	return resp
}

func (h *Handler) serializeItems(ctx context.Context, log *zap.Logger, items []model.Item) []ItemResponse {
	out := make([]ItemResponse, 0, len(items))
	for i := range items {
		out = append(out, h.serializeItem(ctx, log, &items[i]))
	}
	return out
}

// serializeUser renders a profile. includeEmail is only set for the owner.
func (h *Handler) serializeUser(ctx context.Context, log *zap.Logger, u *model.User, includeEmail bool, stats *UserStats) UserResponse {
	resp := UserResponse{
		ID:           u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		FullName:     u.FullName(),
		ProfileImage: h.imageURL(ctx, log, u.ProfileImage),
		IsVerified:   u.IsVerified,
		CreatedAt:    u.CreatedAt,
		Stats:        stats,
	}
	if includeEmail {
		resp.Email = u.Email
	}
	return resp
}

// userStats aggregates the activity counters of a user. Favorites and views
// only count items that are still active.
func (h *Handler) userStats(ctx context.Context, u *model.User) (*UserStats, error) {
	db := h.db.WithContext(ctx)
	stats := &UserStats{AccountCreated: u.CreatedAt, IsVerified: u.IsVerified}

	queries := []func() error{
		func() error {
			return db.Model(&model.Item{}).Where("seller_id = ? AND status = ?", u.ID, model.ItemStatusActive).Count(&stats.Listings.Active).Error
		},
		func() error {
			return db.Model(&model.Item{}).Where("seller_id = ?", u.ID).Count(&stats.Listings.Total).Error
		},
		func() error {
			return db.Model(&model.Order{}).Where("buyer_id = ?", u.ID).Count(&stats.Orders.AsBuyer).Error
		},
		func() error {
			return db.Model(&model.Order{}).
				Joins("JOIN items ON items.id = orders.item_id").
				Where("items.seller_id = ?", u.ID).
				Count(&stats.Orders.AsSeller).Error
		},
		func() error {
			return db.Model(&model.Favorite{}).
				Joins("JOIN items ON items.id = favorites.item_id").
				Where("favorites.user_id = ? AND items.status = ?", u.ID, model.ItemStatusActive).
				Count(&stats.Favorites).Error
		},
		func() error {
			return db.Model(&model.RecentlyViewed{}).
				Joins("JOIN items ON items.id = recently_viewed.item_id").
				Where("recently_viewed.user_id = ? AND items.status = ?", u.ID, model.ItemStatusActive).
				Count(&stats.RecentlyViewed).Error
		},
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	for _, query := range queries {
		if err := query(); err != nil {
			return nil, err
		}
	}
	return stats, nil
}
