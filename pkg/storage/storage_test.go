package storage_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/Mule-Mart/Mule-Mart/pkg/storage"
	"github.com/Mule-Mart/Mule-Mart/pkg/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMimetypeAllowed(t *testing.T) {
	for _, mt := range []string{"image/png", "image/jpeg", "image/webp", "image/gif", "IMAGE/PNG", "image/jpeg; charset=binary"} {
		assert.True(t, storage.IsMimetypeAllowed(mt), mt)
	}
	for _, mt := range []string{"", "image/svg+xml", "application/pdf", "text/html"} {
		assert.False(t, storage.IsMimetypeAllowed(mt), mt)
	}

	ext, err := storage.MimetypeToExtension("image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "jpg", ext)

	_, err = storage.MimetypeToExtension("image/bmp")
	assert.ErrorIs(t, err, storage.ErrUnsupportedContentType)
}

func TestSecureFilename(t *testing.T) {
	cases := []struct{ in, want string }{
		{"photo.png", "photo.png"},
		{"My Summer Photo.JPG", "My_Summer_Photo.JPG"},
		{"../../etc/passwd", "etc_passwd"},
		{"café déjà vu.webp", "cafe_deja_vu.webp"},
		{"weird$%chars!.gif", "weirdchars.gif"},
		{"日本語", ""},
		{"  spaced   out  .png ", "spaced_out_.png"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, storage.SecureFilename(tc.in), tc.in)
	}
}

var keyPattern = regexp.MustCompile(`^profile_images/\d{8}_\d{6}_[0-9a-f]{8}_[A-Za-z0-9._-]+$`)

func TestGenerateUniqueFilename(t *testing.T) {
	now := time.Date(2024, 1, 31, 23, 59, 58, 0, time.FixedZone("X", 3600))

	key := storage.GenerateUniqueFilename("Holiday Pic.jpeg", storage.ProfileImagesFolder, "image/png", now)
	assert.Regexp(t, keyPattern, key)
	assert.True(t, strings.HasPrefix(key, "profile_images/20240131_225958_"), key)
	assert.True(t, strings.HasSuffix(key, "_Holiday_Pic.png"), key)

	other := storage.GenerateUniqueFilename("Holiday Pic.jpeg", storage.ProfileImagesFolder, "image/png", now)
	assert.NotEqual(t, key, other)

	key = storage.GenerateUniqueFilename("日本語", storage.ItemImagesFolder, "image/gif", now)
	assert.True(t, strings.HasSuffix(key, "_image.gif"), key)
	assert.True(t, strings.HasPrefix(key, "item_images/"), key)
}

func TestCreateUpload(t *testing.T) {
	svc := storage.NewService(storagetest.New(), 0)

	up, err := svc.CreateUpload(context.Background(), "me.png", storage.ProfileImagesFolder, "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(up.NewFilename, "profile_images/"))
	assert.Contains(t, up.PutURL, "expires=3600")
	assert.Contains(t, up.PutURL, "method=PUT")

	_, err = svc.CreateUpload(context.Background(), "me.svg", storage.ProfileImagesFolder, "image/svg+xml")
	assert.ErrorIs(t, err, storage.ErrUnsupportedContentType)
}

func TestValidateProfileImageUpload(t *testing.T) {
	store := storagetest.New()
	svc := storage.NewService(store, time.Hour)
	ctx := context.Background()
	store.Add("profile_images/new.png", []byte("x"))

	ok, reason, err := svc.ValidateProfileImageUpload(ctx, "item_images/new.png", "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "Invalid profile image path")

	ok, reason, err = svc.ValidateProfileImageUpload(ctx, "profile_images/new.png", "profile_images/new.png")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "must be different")

	ok, reason, err = svc.ValidateProfileImageUpload(ctx, "profile_images/missing.png", "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "does not exist")

	ok, _, err = svc.ValidateProfileImageUpload(ctx, "profile_images/new.png", "profile_images/old.png")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestValidateItemImageUpload(t *testing.T) {
	store := storagetest.New()
	svc := storage.NewService(store, time.Hour)
	ctx := context.Background()
	store.Add("item_images/a.png", []byte("x"))

	ok, _, err := svc.ValidateItemImageUpload(ctx, "item_images/a.png")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, reason, err := svc.ValidateItemImageUpload(ctx, "profile_images/a.png")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "Invalid item image path")

	ok, _, err = svc.ValidateItemImageUpload(ctx, "item_images/b.png")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExistenceErrorsPropagate(t *testing.T) {
	store := storagetest.New()
	store.ExistsErr = errors.New("connection reset")
	svc := storage.NewService(store, time.Hour)

	_, err := svc.FileExists(context.Background(), "item_images/a.png")
	assert.Error(t, err)

	ok, reason, err := svc.ValidateProfileImageUpload(context.Background(), "profile_images/a.png", "")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Empty(t, reason)
}

func TestUploadAndDelete(t *testing.T) {
	store := storagetest.New()
	svc := storage.NewService(store, time.Hour)
	ctx := context.Background()

	key, err := svc.Upload(ctx, "shoe.jpg", storage.ItemImagesFolder, "image/jpeg", strings.NewReader("jpegdata"), 8)
	require.NoError(t, err)
	assert.True(t, store.Has(key))
	assert.Equal(t, "image/jpeg", store.ContentType(key))

	require.NoError(t, svc.DeleteFile(ctx, key))
	assert.False(t, store.Has(key))

	store.DeleteErr = errors.New("denied")
	assert.Error(t, svc.DeleteFile(ctx, "item_images/other.png"))
}

func TestIsManagedKey(t *testing.T) {
	assert.True(t, storage.IsManagedKey("item_images/a.png"))
	assert.True(t, storage.IsManagedKey("profile_images/a.png"))
	assert.False(t, storage.IsManagedKey("https://cdn.example.com/a.png"))
	assert.False(t, storage.IsManagedKey(""))
}
