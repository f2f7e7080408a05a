// Package storage manages listing and profile images kept in the object
// storage bucket: key generation, presigned URLs, existence checks and
// post-upload validation.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Mule-Mart/Mule-Mart/prometheus"
)

const (
	ProfileImagesFolder = "profile_images"
	ItemImagesFolder    = "item_images"

	// DefaultPresignExpiry is the lifetime of presigned PUT and GET URLs
	DefaultPresignExpiry = time.Hour
)

// ErrUnsupportedContentType is returned for MIME types outside the allow-list
var ErrUnsupportedContentType = errors.New("unsupported image content type")

// allowedImageTypes maps accepted image MIME types to their file extension
var allowedImageTypes = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// IsMimetypeAllowed reports whether uploads of the MIME type are accepted
func IsMimetypeAllowed(mimetype string) bool {
	_, ok := allowedImageTypes[normalizeMimetype(mimetype)]
	return ok
}

// MimetypeToExtension returns the extension for an allowed MIME type
func MimetypeToExtension(mimetype string) (string, error) {
	ext, ok := allowedImageTypes[normalizeMimetype(mimetype)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedContentType, mimetype)
	}
	return ext, nil
}

func normalizeMimetype(mimetype string) string {
	if i := strings.IndexByte(mimetype, ';'); i >= 0 {
		mimetype = mimetype[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimetype))
}

// ObjectStore is the bucket client used by Service
type ObjectStore interface {
	PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	// Exists returns false with a nil error when the object is absent
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// Service wraps an ObjectStore with the folder conventions of the application
type Service struct {
	store  ObjectStore
	expiry time.Duration
	now    func() time.Time
}

// NewService creates a storage service; a non-positive expiry uses DefaultPresignExpiry
func NewService(store ObjectStore, expiry time.Duration) *Service {
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}
	return &Service{
		store:  store,
		expiry: expiry,
		now:    time.Now,
	}
}

// PresignedUpload is returned to clients for a direct-to-bucket upload
type PresignedUpload struct {
	PutURL      string `json:"putUrl"`
	NewFilename string `json:"newFilename"`
}

// CreateUpload generates a fresh key in folder and a presigned PUT URL for it
func (s *Service) CreateUpload(ctx context.Context, originalFilename, folder, contentType string) (*PresignedUpload, error) {
	if !IsMimetypeAllowed(contentType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}

	key := GenerateUniqueFilename(originalFilename, folder, contentType, s.now())
	putURL, err := s.GeneratePutURL(ctx, key, contentType)
	if err != nil {
		return nil, err
	}

	return &PresignedUpload{PutURL: putURL, NewFilename: key}, nil
}

// GeneratePutURL presigns an upload of key with the given content type
func (s *Service) GeneratePutURL(ctx context.Context, key, contentType string) (string, error) {
	defer prometheus.TrackStorageOperation("presign_put")(time.Now())

	u, err := s.store.PresignPut(ctx, key, normalizeMimetype(contentType), s.expiry)
	if err != nil {
		prometheus.RecordStorageError("presign_put")
		return "", fmt.Errorf("presign put %q: %w", key, err)
	}
	return u, nil
}

// GenerateGetURL presigns a download of key. The object's existence is not checked.
func (s *Service) GenerateGetURL(ctx context.Context, key string) (string, error) {
	defer prometheus.TrackStorageOperation("presign_get")(time.Now())

	u, err := s.store.PresignGet(ctx, key, s.expiry)
	if err != nil {
		prometheus.RecordStorageError("presign_get")
		return "", fmt.Errorf("presign get %q: %w", key, err)
	}
	return u, nil
}

// FileExists checks the bucket for key
func (s *Service) FileExists(ctx context.Context, key string) (bool, error) {
	defer prometheus.TrackStorageOperation("exists")(time.Now())

	ok, err := s.store.Exists(ctx, key)
	if err != nil {
		prometheus.RecordStorageError("exists")
		return false, fmt.Errorf("check %q: %w", key, err)
	}
	return ok, nil
}

// DeleteFile removes key from the bucket. Deleting a missing object is not an error.
func (s *Service) DeleteFile(ctx context.Context, key string) error {
	defer prometheus.TrackStorageOperation("delete")(time.Now())

	if err := s.store.Delete(ctx, key); err != nil {
		prometheus.RecordStorageError("delete")
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Upload stores body under a new key in folder and returns the key
func (s *Service) Upload(ctx context.Context, originalFilename, folder, contentType string, body io.Reader, size int64) (string, error) {
	if !IsMimetypeAllowed(contentType) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
	defer prometheus.TrackStorageOperation("put")(time.Now())

	key := GenerateUniqueFilename(originalFilename, folder, contentType, s.now())
	if err := s.store.Put(ctx, key, body, size, normalizeMimetype(contentType)); err != nil {
		prometheus.RecordStorageError("put")
		return "", fmt.Errorf("upload %q: %w", key, err)
	}
	return key, nil
}

// ValidateProfileImageUpload checks a client-uploaded profile image key: it
// must live under the profile image folder, differ from the current image and
// exist in the bucket. A false result carries the reason; err is only set when
// the bucket could not be queried.
func (s *Service) ValidateProfileImageUpload(ctx context.Context, newKey, currentKey string) (bool, string, error) {
	if !strings.HasPrefix(newKey, ProfileImagesFolder+"/") {
		return false, fmt.Sprintf("Invalid profile image path: `%s`", newKey), nil
	}
	if newKey == currentKey {
		return false, fmt.Sprintf("New profile image `%s` must be different from current profile image `%s`", newKey, currentKey), nil
	}

	exists, err := s.FileExists(ctx, newKey)
	if err != nil {
		return false, "", err
	}
	if !exists {
		return false, fmt.Sprintf("New profile image file `%s` does not exist", newKey), nil
	}
	return true, "", nil
}

// ValidateItemImageUpload checks a client-uploaded item image key
func (s *Service) ValidateItemImageUpload(ctx context.Context, key string) (bool, string, error) {
	if !strings.HasPrefix(key, ItemImagesFolder+"/") {
		return false, fmt.Sprintf("Invalid item image path: `%s`", key), nil
	}

	exists, err := s.FileExists(ctx, key)
	if err != nil {
		return false, "", err
	}
	if !exists {
		return false, fmt.Sprintf("Item image file `%s` does not exist", key), nil
	}
	return true, "", nil
}

// IsManagedKey reports whether key points into one of the bucket folders
func IsManagedKey(key string) bool {
	return strings.HasPrefix(key, ProfileImagesFolder+"/") || strings.HasPrefix(key, ItemImagesFolder+"/")
}
