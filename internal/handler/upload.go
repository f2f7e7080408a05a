package handler

import (
	"context"
	"fmt"
	"mime/multipart"
	"time"

	"github.com/Mule-Mart/Mule-Mart/internal/model"
	"github.com/Mule-Mart/Mule-Mart/pkg/storage"
	"github.com/Mule-Mart/Mule-Mart/prometheus"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

// sniffImage detects the content type of an uploaded file from its bytes
// rather than trusting the client's header
func sniffImage(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	return mt.String(), nil
}

func notIssuedReason(key string) string {
	return fmt.Sprintf("Image `%s` was not uploaded by this account", key)
}

// grantUpload remembers that key was presigned for userID
func (h *Handler) grantUpload(ctx context.Context, userID uint, key string) error {
	defer prometheus.TrackDBOperation("insert")(time.Now())
	grant := model.UploadGrant{ObjectKey: key, UserID: userID}
	return h.db.WithContext(ctx).Omit(clause.Associations).Create(&grant).Error
}

// ownsUpload reports whether key was presigned for userID and not yet used
func (h *Handler) ownsUpload(ctx context.Context, userID uint, key string) (bool, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	var n int64
	err := h.db.WithContext(ctx).Model(&model.UploadGrant{}).
		Where("object_key = ? AND user_id = ?", key, userID).
		Count(&n).Error
	return n > 0, err
}

// releaseUpload drops the grant once the key is stored on a row
func (h *Handler) releaseUpload(ctx context.Context, log *zap.Logger, key string) {
	defer prometheus.TrackDBOperation("delete")(time.Now())
	if err := h.db.WithContext(ctx).Where("object_key = ?", key).Delete(&model.UploadGrant{}).Error; err != nil {
		log.Warn("Failed to release upload grant", zap.String("key", key), zap.Error(err))
	}
}

// imageInUse reports whether any profile or listing still points at key
func (h *Handler) imageInUse(ctx context.Context, key string) (bool, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	db := h.db.WithContext(ctx)

	var users, items int64
	if err := db.Model(&model.User{}).Where("profile_image = ?", key).Count(&users).Error; err != nil {
		return false, err
	}
	if err := db.Model(&model.Item{}).Where("image_url = ?", key).Count(&items).Error; err != nil {
		return false, err
	}
	return users+items > 0, nil
}

// deleteImage removes a replaced bucket object unless another row still
// references it. Failures are logged only.
func (h *Handler) deleteImage(ctx context.Context, log *zap.Logger, key string) {
	if !storage.IsManagedKey(key) {
		return
	}
	inUse, err := h.imageInUse(ctx, key)
	if err != nil {
		log.Warn("Failed to check image references", zap.String("key", key), zap.Error(err))
		return
	}
	if inUse {
		log.Info("Kept image still referenced elsewhere", zap.String("key", key))
		return
	}
	if err := h.storage.DeleteFile(ctx, key); err != nil {
		log.Warn("Failed to delete old image", zap.String("key", key), zap.Error(err))
	}
}
