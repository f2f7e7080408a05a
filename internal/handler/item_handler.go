package handler

import (
	"context"
	"errors"
	"math"
	"mime/multipart"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Mule-Mart/Mule-Mart/internal/middleware"
	"github.com/Mule-Mart/Mule-Mart/internal/model"
	"github.com/Mule-Mart/Mule-Mart/internal/response"
	"github.com/Mule-Mart/Mule-Mart/internal/search"
	"github.com/Mule-Mart/Mule-Mart/pkg/logger"
	"github.com/Mule-Mart/Mule-Mart/pkg/storage"
	"github.com/Mule-Mart/Mule-Mart/prometheus"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultItemsPerPage    = 20
	maxItemsPerPage        = 100
	defaultAutocomplete    = 8
	maxAutocomplete        = 50
	itemImageField         = "image"
	itemImageFilenameField = "image_filename"
)

var itemSortOrders = map[string]string{
	"newest":     "created_at DESC, id DESC",
	"oldest":     "created_at ASC, id ASC",
	"price_low":  "price ASC, id ASC",
	"price_high": "price DESC, id DESC",
}

type itemFilters struct {
	Search     string `json:"search"`
	Category   string `json:"category"`
	SellerType string `json:"seller_type"`
	Condition  string `json:"condition"`
	SortBy     string `json:"sort_by"`
}

type autocompleteEntry struct {
	ID    uint   `json:"id"`
	Title string `json:"title"`
	Image string `json:"image"`
}

// ListItems returns active listings with optional filters, search and sorting
func (h *Handler) ListItems(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()

	filters := itemFilters{
		Search:     strings.TrimSpace(c.QueryParam("search")),
		Category:   strings.TrimSpace(c.QueryParam("category")),
		SellerType: strings.TrimSpace(c.QueryParam("seller_type")),
		Condition:  strings.TrimSpace(c.QueryParam("condition")),
		SortBy:     c.QueryParam("sort_by"),
	}
	order, ok := itemSortOrders[filters.SortBy]
	if !ok {
		filters.SortBy = "newest"
		order = itemSortOrders["newest"]
	}
	page := response.ParsePage(c, defaultItemsPerPage, maxItemsPerPage)

	query := h.db.WithContext(ctx).Model(&model.Item{}).Where("status = ?", model.ItemStatusActive)

	if filters.Search != "" {
		ids, err := h.searchItemIDs(ctx, filters.Search)
		if err != nil {
			log.Error("Item search failed", zap.String("search", filters.Search), zap.Error(err))
			return response.Internal(c)
		}
		if len(ids) == 0 {
			return response.OK(c, "Items retrieved successfully", echo.Map{
				"items":      []ItemResponse{},
				"pagination": page.Meta(0),
				"filters":    filters,
			})
		}
		query = query.Where("id IN ?", ids)
	}
	if filters.Category != "" {
		query = query.Where("category = ?", filters.Category)
	}
	if filters.SellerType != "" {
		query = query.Where("seller_type = ?", filters.SellerType)
	}
	if filters.Condition != "" {
		query = query.Where("condition = ?", filters.Condition)
	}
	query = query.Session(&gorm.Session{})

	defer prometheus.TrackDBOperation("query")(time.Now())

	var total int64
	if err := query.Count(&total).Error; err != nil {
		log.Error("Failed to count items", zap.Error(err))
		return response.Internal(c)
	}

	var items []model.Item
	err := query.Preload("Seller").
		Order(order).
		Offset(page.Offset()).
		Limit(page.PerPage).
		Find(&items).Error
	if err != nil {
		log.Error("Failed to list items", zap.Error(err))
		return response.Internal(c)
	}

	return response.OK(c, "Items retrieved successfully", echo.Map{
		"items":      h.serializeItems(ctx, log, items),
		"pagination": page.Meta(total),
		"filters":    filters,
	})
}

// searchItemIDs ranks the active listings against a free-text query
func (h *Handler) searchItemIDs(ctx context.Context, q string) ([]uint, error) {
	var rows []model.Item
	err := h.db.WithContext(ctx).
		Select("id", "title", "description", "search_embedding").
		Where("status = ?", model.ItemStatusActive).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	candidates := make([]search.Candidate, 0, len(rows))
	for _, r := range rows {
		candidates = append(candidates, search.Candidate{
			ID:        r.ID,
			Embedding: r.SearchEmbedding,
			Text:      r.Title + " " + r.Description,
		})
	}
	return h.ranker.Rank(q, candidates, search.DefaultLimit), nil
}

// Autocomplete suggests active listings whose title contains q
func (h *Handler) Autocomplete(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()

	q := strings.TrimSpace(c.QueryParam("q"))
	limit := response.ParseLimit(c, "limit", defaultAutocomplete, maxAutocomplete)
	if q == "" {
		return response.OK(c, "No query provided", []autocompleteEntry{})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var items []model.Item
	err := h.db.WithContext(ctx).
		Select("id", "title", "image_url", "created_at").
		Where("status = ?", model.ItemStatusActive).
		Where(`LOWER(title) LIKE ? ESCAPE '\'`, "%"+escapeLike(strings.ToLower(q))+"%").
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		log.Error("Autocomplete query failed", zap.Error(err))
		return response.Internal(c)
	}

	results := make([]autocompleteEntry, 0, len(items))
	for _, item := range items {
		results = append(results, autocompleteEntry{
			ID:    item.ID,
			Title: item.Title,
			Image: h.imageURL(ctx, log, item.ImageURL),
		})
	}
	return response.OK(c, "Autocomplete results retrieved", results)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// GetItem returns one listing. Inactive listings are only visible to their seller.
func (h *Handler) GetItem(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()

	id, ok := parseID(c, "id")
	if !ok {
		return response.NotFound(c, "Item not found")
	}

	item, err := h.findItem(ctx, id, true)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NotFound(c, "Item not found")
		}
		log.Error("Failed to load item", zap.Uint("item_id", id), zap.Error(err))
		return response.Internal(c)
	}

	viewerID := middleware.UserID(c)
	if !item.VisibleTo(viewerID) {
		return response.NotFound(c, "Item not found")
	}

	if viewerID != 0 {
		// Losing a view record must not fail the page
		if err := h.recordView(ctx, viewerID, item.ID); err != nil {
			log.Warn("Failed to record item view",
				zap.Uint("user_id", viewerID),
				zap.Uint("item_id", item.ID),
				zap.Error(err))
		}
	}
	prometheus.RecordItemOperation("view")

	return response.OK(c, "Item retrieved successfully", h.serializeItem(ctx, log, item))
}

func (h *Handler) findItem(ctx context.Context, id uint, withSeller bool) (*model.Item, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	query := h.db.WithContext(ctx)
	if withSeller {
		query = query.Preload("Seller")
	}
	var item model.Item
	if err := query.First(&item, id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// recordView upserts the (user, item) view row so a user has one row per item
func (h *Handler) recordView(ctx context.Context, userID, itemID uint) error {
	defer prometheus.TrackDBOperation("insert")(time.Now())

	view := model.RecentlyViewed{UserID: userID, ItemID: itemID, ViewedAt: time.Now().UTC()}
	return h.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"viewed_at"}),
		}).
		Create(&view).Error
}

// parsePrice accepts values like "$1,299.50"
func parsePrice(raw string) (float64, bool) {
	clean := strings.TrimSpace(strings.NewReplacer("$", "", ",", "").Replace(raw))
	if clean == "" {
		return 0, false
	}
	price, err := strconv.ParseFloat(clean, 64)
	if err != nil || price < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, false
	}
	return price, true
}

func validateTitle(title string) string {
	if title == "" {
		return "Item title is required"
	}
	if utf8.RuneCountInString(title) > model.MaxTitleLength {
		return "Title must be 150 characters or less"
	}
	return ""
}

// itemImage is the image attached to a create or update request, validated
// but not yet stored
type itemImage struct {
	file        *multipart.FileHeader
	contentType string
	key         string
}

func (img *itemImage) present() bool {
	return img.file != nil || img.key != ""
}

// readItemImage validates the image part of an item request. Field errors go
// into errs; err is only set for infrastructure failures.
func (h *Handler) readItemImage(c echo.Context, fields map[string]string, errs map[string]string) (*itemImage, error) {
	ctx := c.Request().Context()
	img := &itemImage{}

	fh, err := formFile(c, itemImageField)
	if err != nil {
		errs[itemImageField] = "Invalid image upload"
		return img, nil
	}
	if fh != nil {
		contentType, err := sniffImage(fh)
		if err != nil {
			return nil, err
		}
		if !storage.IsMimetypeAllowed(contentType) {
			errs[itemImageField] = "File type not allowed"
			return img, nil
		}
		img.file = fh
		img.contentType = contentType
		return img, nil
	}

	key := strings.TrimSpace(fields[itemImageFilenameField])
	if key == "" {
		return img, nil
	}
	ok, reason, err := h.storage.ValidateItemImageUpload(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		errs[itemImageFilenameField] = reason
		return img, nil
	}
	owned, err := h.ownsUpload(ctx, middleware.UserID(c), key)
	if err != nil {
		return nil, err
	}
	if !owned {
		errs[itemImageFilenameField] = notIssuedReason(key)
		return img, nil
	}
	img.key = key
	return img, nil
}

// store uploads a multipart image and returns the key to save on the item
func (h *Handler) storeItemImage(ctx context.Context, img *itemImage) (string, error) {
	if img.file == nil {
		return img.key, nil
	}
	f, err := img.file.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	return h.storage.Upload(ctx, img.file.Filename, storage.ItemImagesFolder, img.contentType, f, img.file.Size)
}

// CreateItem lists a new item for the current user. Accepts JSON or a form,
// with an optional multipart image or a previously uploaded image_filename.
func (h *Handler) CreateItem(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	fields, err := readFields(c)
	if err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	errs := make(map[string]string)
	title := strings.TrimSpace(fields["title"])
	if msg := validateTitle(title); msg != "" {
		errs["title"] = msg
	}

	var price float64
	if raw, ok := fields["price"]; !ok || strings.TrimSpace(raw) == "" {
		errs["price"] = "Price is required"
	} else if price, ok = parsePrice(raw); !ok {
		errs["price"] = "Price must be a valid positive number"
	}

	img, err := h.readItemImage(c, fields, errs)
	if err != nil {
		log.Error("Failed to validate item image", zap.Error(err))
		return response.Internal(c)
	}
	if len(errs) > 0 {
		return response.ValidationError(c, errs)
	}

	imageKey, err := h.storeItemImage(ctx, img)
	if err != nil {
		log.Error("Failed to upload item image", zap.Error(err))
		return response.Internal(c)
	}

	description := strings.TrimSpace(fields["description"])
	item := model.Item{
		Title:           title,
		Description:     description,
		Category:        strings.TrimSpace(fields["category"]),
		Size:            strings.TrimSpace(fields["size"]),
		SellerType:      strings.TrimSpace(fields["seller_type"]),
		Condition:       strings.TrimSpace(fields["condition"]),
		Price:           price,
		ImageURL:        imageKey,
		Status:          model.ItemStatusActive,
		SearchEmbedding: h.ranker.Embed(title + " " + description),
		SellerID:        userID,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := h.db.WithContext(ctx).Omit(clause.Associations).Create(&item).Error; err != nil {
		log.Error("Failed to create item", zap.Error(err))
		if img.file != nil {
			h.deleteImage(ctx, log, imageKey)
		}
		return response.Internal(c)
	}
	if img.key != "" {
		h.releaseUpload(ctx, log, img.key)
	}

	created, err := h.findItem(ctx, item.ID, true)
	if err != nil {
		log.Error("Failed to reload item", zap.Uint("item_id", item.ID), zap.Error(err))
		return response.Internal(c)
	}

	prometheus.RecordItemOperation("create")
	log.Info("Item created", zap.Uint("item_id", item.ID), zap.Uint("user_id", userID))
	return response.Created(c, "Item created successfully", h.serializeItem(ctx, log, created))
}

// UpdateItem applies a partial update to a listing owned by the current user
func (h *Handler) UpdateItem(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	id, ok := parseID(c, "id")
	if !ok {
		return response.NotFound(c, "Item not found")
	}
	item, err := h.findItem(ctx, id, false)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NotFound(c, "Item not found")
		}
		log.Error("Failed to load item", zap.Uint("item_id", id), zap.Error(err))
		return response.Internal(c)
	}
	if item.SellerID != userID {
		log.Warn("Rejected item update by non-owner", zap.Uint("item_id", id), zap.Uint("user_id", userID))
		return response.Forbidden(c, "Not authorized to update this item")
	}

	fields, err := readFields(c)
	if err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	errs := make(map[string]string)
	updated := *item

	if raw, ok := fields["title"]; ok {
		updated.Title = strings.TrimSpace(raw)
		if msg := validateTitle(updated.Title); msg != "" {
			errs["title"] = msg
		}
	}
	if raw, ok := fields["price"]; ok {
		if updated.Price, ok = parsePrice(raw); !ok {
			errs["price"] = "Price must be a valid positive number"
		}
	}
	if raw, ok := fields["is_active"]; ok {
		active, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			errs["is_active"] = "Must be true or false"
		} else if active {
			updated.Status = model.ItemStatusActive
		} else {
			updated.Status = model.ItemStatusInactive
		}
	}
	for name, dest := range map[string]*string{
		"description": &updated.Description,
		"category":    &updated.Category,
		"size":        &updated.Size,
		"seller_type": &updated.SellerType,
		"condition":   &updated.Condition,
	} {
		if raw, ok := fields[name]; ok {
			*dest = strings.TrimSpace(raw)
		}
	}

	img, err := h.readItemImage(c, fields, errs)
	if err != nil {
		log.Error("Failed to validate item image", zap.Error(err))
		return response.Internal(c)
	}
	if len(errs) > 0 {
		return response.ValidationError(c, errs)
	}

	previousImage := item.ImageURL
	if img.present() {
		key, err := h.storeItemImage(ctx, img)
		if err != nil {
			log.Error("Failed to upload item image", zap.Error(err))
			return response.Internal(c)
		}
		updated.ImageURL = key
	}
	updated.SearchEmbedding = h.ranker.Embed(updated.Title + " " + updated.Description)

	defer prometheus.TrackDBOperation("update")(time.Now())
	if err := h.db.WithContext(ctx).Omit(clause.Associations).Save(&updated).Error; err != nil {
		log.Error("Failed to update item", zap.Uint("item_id", id), zap.Error(err))
		if img.file != nil {
			h.deleteImage(ctx, log, updated.ImageURL)
		}
		return response.Internal(c)
	}

	if img.key != "" {
		h.releaseUpload(ctx, log, img.key)
	}
	if previousImage != "" && previousImage != updated.ImageURL {
		h.deleteImage(ctx, log, previousImage)
	}

	reloaded, err := h.findItem(ctx, id, true)
	if err != nil {
		log.Error("Failed to reload item", zap.Uint("item_id", id), zap.Error(err))
		return response.Internal(c)
	}

	prometheus.RecordItemOperation("update")
	log.Info("Item updated", zap.Uint("item_id", id), zap.Uint("user_id", userID))
	return response.OK(c, "Item updated successfully", h.serializeItem(ctx, log, reloaded))
}

// DeleteItem marks a listing inactive; the row is kept
func (h *Handler) DeleteItem(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	id, ok := parseID(c, "id")
	if !ok {
		return response.NotFound(c, "Item not found")
	}
	item, err := h.findItem(ctx, id, false)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NotFound(c, "Item not found")
		}
		log.Error("Failed to load item", zap.Uint("item_id", id), zap.Error(err))
		return response.Internal(c)
	}
	if item.SellerID != userID {
		return response.Forbidden(c, "Not authorized to delete this item")
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	err = h.db.WithContext(ctx).Model(item).Update("status", model.ItemStatusInactive).Error
	if err != nil {
		log.Error("Failed to deactivate item", zap.Uint("item_id", id), zap.Error(err))
		return response.Internal(c)
	}

	prometheus.RecordItemOperation("delete")
	log.Info("Item deactivated", zap.Uint("item_id", id), zap.Uint("user_id", userID))
	return response.OK(c, "Item deleted successfully", nil)
}

// AddFavorite is idempotent; only active items can be favorited
func (h *Handler) AddFavorite(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	id, ok := parseID(c, "id")
	if !ok {
		return response.NotFound(c, "Item not found")
	}
	item, err := h.findItem(ctx, id, false)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Error("Failed to load item", zap.Uint("item_id", id), zap.Error(err))
		return response.Internal(c)
	}
	if err != nil || !item.IsActive() {
		return response.NotFound(c, "Item not found")
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	fav := model.Favorite{UserID: userID, ItemID: item.ID, CreatedAt: time.Now().UTC()}
	err = h.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&fav).Error
	if err != nil {
		log.Error("Failed to add favorite", zap.Uint("item_id", id), zap.Error(err))
		return response.Internal(c)
	}

	prometheus.RecordFavoriteOperation("add")
	return response.OK(c, "Added to favorites", nil)
}

// RemoveFavorite is a no-op when the item was not favorited
func (h *Handler) RemoveFavorite(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	id, ok := parseID(c, "id")
	if !ok {
		return response.NotFound(c, "Item not found")
	}
	if _, err := h.findItem(ctx, id, false); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NotFound(c, "Item not found")
		}
		log.Error("Failed to load item", zap.Uint("item_id", id), zap.Error(err))
		return response.Internal(c)
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	err := h.db.WithContext(ctx).
		Where("user_id = ? AND item_id = ?", userID, id).
		Delete(&model.Favorite{}).Error
	if err != nil {
		log.Error("Failed to remove favorite", zap.Uint("item_id", id), zap.Error(err))
		return response.Internal(c)
	}

	prometheus.RecordFavoriteOperation("remove")
	return response.OK(c, "Removed from favorites", nil)
}

type imageURLRequest struct {
	Filename    string `json:"filename" validate:"required,max=255"`
	ContentType string `json:"content_type" validate:"required"`
}

func (r *imageURLRequest) Normalize() {
	r.Filename = strings.TrimSpace(r.Filename)
	r.ContentType = strings.TrimSpace(r.ContentType)
}

// ItemImageUploadURL presigns a direct upload of a listing image
func (h *Handler) ItemImageUploadURL(c echo.Context) error {
	return h.presignUpload(c, storage.ItemImagesFolder)
}

func (h *Handler) presignUpload(c echo.Context, folder string) error {
	log := logger.FromContext(c)

	var req imageURLRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	upload, err := h.storage.CreateUpload(ctx, req.Filename, folder, req.ContentType)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedContentType) {
			return response.ValidationError(c, map[string]string{"content_type": "Unsupported image type"})
		}
		log.Error("Failed to presign upload", zap.String("folder", folder), zap.Error(err))
		return response.Internal(c)
	}
	if err := h.grantUpload(ctx, userID, upload.NewFilename); err != nil {
		log.Error("Failed to record upload grant", zap.String("key", upload.NewFilename), zap.Error(err))
		return response.Internal(c)
	}

	log.Info("Presigned image upload",
		zap.Uint("user_id", userID),
		zap.String("key", upload.NewFilename))
	return response.OK(c, "Upload URL generated", upload)
}

