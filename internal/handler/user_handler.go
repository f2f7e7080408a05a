package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Mule-Mart/Mule-Mart/internal/middleware"
	"github.com/Mule-Mart/Mule-Mart/internal/model"
	"github.com/Mule-Mart/Mule-Mart/internal/response"
	"github.com/Mule-Mart/Mule-Mart/pkg/logger"
	"github.com/Mule-Mart/Mule-Mart/pkg/storage"
	"github.com/Mule-Mart/Mule-Mart/prometheus"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxNameLength           = 150
	defaultRecentlyViewed   = 10
	maxRecentlyViewed       = 50
	profileImageField       = "profile_image"
	profileImageUploadField = "newFilename"
)

type recentlyViewedEntry struct {
	Item     ItemResponse `json:"item"`
	ViewedAt time.Time    `json:"viewed_at"`
}

func (h *Handler) findUser(ctx context.Context, id uint) (*model.User, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var user model.User
	if err := h.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// currentUser loads the authenticated user. A missing row means the account
// was removed while the session was alive, which is reported as 401.
func (h *Handler) currentUser(c echo.Context) (*model.User, error) {
	log := logger.FromContext(c)

	user, err := h.findUser(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.Unauthorized(c, "")
		}
		log.Error("Failed to load current user", zap.Error(err))
		return nil, response.Internal(c)
	}
	return user, nil
}

// GetUser returns a public profile with statistics
func (h *Handler) GetUser(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()

	id, ok := parseID(c, "id")
	if !ok {
		return response.NotFound(c, "User not found")
	}
	user, err := h.findUser(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NotFound(c, "User not found")
		}
		log.Error("Failed to load user", zap.Uint("target_user_id", id), zap.Error(err))
		return response.Internal(c)
	}

	stats, err := h.userStats(ctx, user)
	if err != nil {
		log.Error("Failed to compute user stats", zap.Uint("target_user_id", id), zap.Error(err))
		return response.Internal(c)
	}
	return response.OK(c, "User profile retrieved successfully", h.serializeUser(ctx, log, user, false, stats))
}

// GetUserListings returns the active listings of a seller
func (h *Handler) GetUserListings(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()

	id, ok := parseID(c, "id")
	if !ok {
		return response.NotFound(c, "User not found")
	}
	user, err := h.findUser(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NotFound(c, "User not found")
		}
		log.Error("Failed to load user", zap.Uint("target_user_id", id), zap.Error(err))
		return response.Internal(c)
	}

	page := response.ParsePage(c, defaultItemsPerPage, maxItemsPerPage)
	items, total, err := h.sellerListings(ctx, user.ID, nil, page)
	if err != nil {
		log.Error("Failed to list user items", zap.Uint("target_user_id", id), zap.Error(err))
		return response.Internal(c)
	}

	return response.OK(c, "User listings retrieved successfully", echo.Map{
		"seller":     h.serializeUser(ctx, log, user, false, nil),
		"listings":   h.serializeItems(ctx, log, items),
		"pagination": page.Meta(total),
	})
}

// sellerListings pages through a seller's active items. Every search term
// must appear in the title.
func (h *Handler) sellerListings(ctx context.Context, sellerID uint, terms []string, page response.Page) ([]model.Item, int64, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	query := h.db.WithContext(ctx).Model(&model.Item{}).
		Where("seller_id = ? AND status = ?", sellerID, model.ItemStatusActive)
	for _, term := range terms {
		query = query.Where(`LOWER(title) LIKE ? ESCAPE '\'`, "%"+escapeLike(strings.ToLower(term))+"%")
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []model.Item
	err := query.Preload("Seller").
		Order("created_at DESC, id DESC").
		Offset(page.Offset()).
		Limit(page.PerPage).
		Find(&items).Error
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// GetCurrentUser returns the caller's own profile including email and stats
func (h *Handler) GetCurrentUser(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()

	user, err := h.currentUser(c)
	if user == nil {
		return err
	}
	stats, err := h.userStats(ctx, user)
	if err != nil {
		log.Error("Failed to compute user stats", zap.Error(err))
		return response.Internal(c)
	}
	return response.OK(c, "Current user profile retrieved successfully", h.serializeUser(ctx, log, user, true, stats))
}

// UpdateCurrentUser changes the caller's name and optionally the profile
// image, either uploaded directly or through the presigned flow. Everything
// is validated before the row is written; the replaced image is deleted
// after the write.
func (h *Handler) UpdateCurrentUser(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()

	user, err := h.currentUser(c)
	if user == nil {
		return err
	}

	fields, err := readFields(c)
	if err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	errs := make(map[string]string)
	firstName := strings.TrimSpace(fields["first_name"])
	lastName := strings.TrimSpace(fields["last_name"])
	validateName(errs, "first_name", "First name", firstName)
	validateName(errs, "last_name", "Last name", lastName)
	if len(errs) > 0 {
		return response.ValidationError(c, errs)
	}

	fh, err := formFile(c, profileImageField)
	if err != nil {
		return response.ValidationError(c, map[string]string{profileImageField: "Invalid image upload"})
	}
	var contentType string
	newKey := strings.TrimSpace(fields[profileImageUploadField])

	switch {
	case fh != nil:
		contentType, err = sniffImage(fh)
		if err != nil {
			log.Error("Failed to read profile image", zap.Error(err))
			return response.Internal(c)
		}
		if !storage.IsMimetypeAllowed(contentType) {
			return response.Error(c, http.StatusBadRequest, "Invalid profile image", map[string]string{profileImageField: "Unsupported file type"})
		}

	case newKey != "":
		ok, reason, err := h.storage.ValidateProfileImageUpload(ctx, newKey, user.ProfileImage)
		if err != nil {
			log.Error("Failed to validate profile image", zap.String("key", newKey), zap.Error(err))
			return response.Internal(c)
		}
		if !ok {
			log.Info("Rejected profile image", zap.String("key", newKey), zap.String("reason", reason))
			return response.Error(c, http.StatusBadRequest, "Invalid profile image", map[string]string{profileImageUploadField: reason})
		}
		owned, err := h.ownsUpload(ctx, user.ID, newKey)
		if err != nil {
			log.Error("Failed to check upload grant", zap.String("key", newKey), zap.Error(err))
			return response.Internal(c)
		}
		if !owned {
			log.Warn("Rejected profile image not issued to user", zap.String("key", newKey), zap.Uint("user_id", user.ID))
			return response.Error(c, http.StatusBadRequest, "Invalid profile image", map[string]string{profileImageUploadField: notIssuedReason(newKey)})
		}
	}

	if fh != nil {
		f, err := fh.Open()
		if err != nil {
			log.Error("Failed to open profile image", zap.Error(err))
			return response.Internal(c)
		}
		newKey, err = h.storage.Upload(ctx, fh.Filename, storage.ProfileImagesFolder, contentType, f, fh.Size)
		f.Close()
		if err != nil {
			log.Error("Failed to upload profile image", zap.Error(err))
			return response.Internal(c)
		}
	}

	previousImage := user.ProfileImage
	user.FirstName = firstName
	user.LastName = lastName
	if newKey != "" {
		user.ProfileImage = newKey
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	if err := h.db.WithContext(ctx).Save(user).Error; err != nil {
		log.Error("Failed to update profile", zap.Error(err))
		if fh != nil {
			h.deleteImage(ctx, log, newKey)
		}
		return response.Internal(c)
	}

	if fh == nil && newKey != "" {
		h.releaseUpload(ctx, log, newKey)
	}
	if previousImage != "" && previousImage != user.ProfileImage {
		h.deleteImage(ctx, log, previousImage)
	}

	stats, err := h.userStats(ctx, user)
	if err != nil {
		log.Error("Failed to compute user stats", zap.Error(err))
		return response.Internal(c)
	}

	prometheus.RecordAuthOperation("profile_update")
	log.Info("Profile updated", zap.Uint("user_id", user.ID), zap.Bool("image_changed", previousImage != user.ProfileImage))
	return response.OK(c, "Profile updated successfully", h.serializeUser(ctx, log, user, true, stats))
}

func validateName(errs map[string]string, field, label, value string) {
	switch {
	case value == "":
		errs[field] = label + " is required"
	case utf8.RuneCountInString(value) > maxNameLength:
		errs[field] = "Max length is 150 characters"
	}
}

// ProfileImageUploadURL presigns a direct upload of a new profile image
func (h *Handler) ProfileImageUploadURL(c echo.Context) error {
	return h.presignUpload(c, storage.ProfileImagesFolder)
}

// GetMyListings pages through the caller's active listings, optionally
// narrowed by search terms
func (h *Handler) GetMyListings(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	searchText := strings.TrimSpace(c.QueryParam("search"))
	page := response.ParsePage(c, defaultItemsPerPage, maxItemsPerPage)

	items, total, err := h.sellerListings(ctx, userID, strings.Fields(searchText), page)
	if err != nil {
		log.Error("Failed to list own items", zap.Error(err))
		return response.Internal(c)
	}

	return response.OK(c, "Your listings retrieved successfully", echo.Map{
		"listings":   h.serializeItems(ctx, log, items),
		"pagination": page.Meta(total),
		"filters":    echo.Map{"search": searchText},
	})
}

// GetMyFavorites lists favorited items that are still active, most recently
// favorited first
func (h *Handler) GetMyFavorites(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	userID := middleware.UserID(c)
	page := response.ParsePage(c, defaultItemsPerPage, maxItemsPerPage)

	defer prometheus.TrackDBOperation("query")(time.Now())

	query := h.db.WithContext(ctx).Model(&model.Item{}).
		Joins("JOIN favorites ON favorites.item_id = items.id").
		Where("favorites.user_id = ? AND items.status = ?", userID, model.ItemStatusActive).
		Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		log.Error("Failed to count favorites", zap.Error(err))
		return response.Internal(c)
	}

	var items []model.Item
	err := query.Preload("Seller").
		Order("favorites.created_at DESC, items.id DESC").
		Offset(page.Offset()).
		Limit(page.PerPage).
		Find(&items).Error
	if err != nil {
		log.Error("Failed to list favorites", zap.Error(err))
		return response.Internal(c)
	}

	return response.OK(c, "Your favorites retrieved successfully", echo.Map{
		"favorites":  h.serializeItems(ctx, log, items),
		"pagination": page.Meta(total),
	})
}

// GetRecentlyViewed lists the caller's viewed items, newest view first.
// limit is accepted as an alias of per_page.
func (h *Handler) GetRecentlyViewed(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	page := response.ParsePage(c, defaultRecentlyViewed, maxRecentlyViewed)
	if c.QueryParam("per_page") == "" && c.QueryParam("limit") != "" {
		page.PerPage = response.ParseLimit(c, "limit", defaultRecentlyViewed, maxRecentlyViewed)
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	query := h.db.WithContext(ctx).Model(&model.RecentlyViewed{}).
		Joins("JOIN items ON items.id = recently_viewed.item_id").
		Where("recently_viewed.user_id = ? AND items.status = ?", userID, model.ItemStatusActive).
		Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		log.Error("Failed to count viewed items", zap.Error(err))
		return response.Internal(c)
	}

	var views []model.RecentlyViewed
	err := query.Preload("Item.Seller").
		Order("recently_viewed.viewed_at DESC, recently_viewed.id DESC").
		Offset(page.Offset()).
		Limit(page.PerPage).
		Find(&views).Error
	if err != nil {
		log.Error("Failed to list viewed items", zap.Error(err))
		return response.Internal(c)
	}

	entries := make([]recentlyViewedEntry, 0, len(views))
	for i := range views {
		entries = append(entries, recentlyViewedEntry{
			Item:     h.serializeItem(ctx, log, &views[i].Item),
			ViewedAt: views[i].ViewedAt,
		})
	}

	return response.OK(c, "Recently viewed items retrieved successfully", echo.Map{
		"recently_viewed": entries,
		"pagination":      page.Meta(total),
	})
}

// GetMyStats returns the caller's activity counters
func (h *Handler) GetMyStats(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()

	user, err := h.currentUser(c)
	if user == nil {
		return err
	}
	stats, err := h.userStats(ctx, user)
	if err != nil {
		log.Error("Failed to compute user stats", zap.Error(err))
		return response.Internal(c)
	}
	return response.OK(c, "User statistics retrieved successfully", stats)
}
