package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Mule-Mart/Mule-Mart/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (a *testApp) reloadUser(t *testing.T, id uint) model.User {
	t.Helper()
	var u model.User
	require.NoError(t, a.db.First(&u, id).Error)
	return u
}

func TestGetUserPublicProfile(t *testing.T) {
	app := newTestApp(t)
	user := app.createUser(t, "ada@example.com", "Ada")
	app.createItem(t, user, "Desk", 10, nil)

	rec := app.do(t, http.MethodGet, fmt.Sprintf("/api/v1/users/%d", user.ID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "ada@example.com")

	var profile UserResponse
	decodeData(t, rec, &profile)
	assert.Equal(t, "Ada Tester", profile.FullName)
	require.NotNil(t, profile.Stats)
	assert.Equal(t, int64(1), profile.Stats.Listings.Active)

	rec = app.do(t, http.MethodGet, "/api/v1/users/9999", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found", decode(t, rec).Message)
}

func TestGetCurrentUser(t *testing.T) {
	app := newTestApp(t)
	user := app.createUser(t, "ada@example.com", "Ada")

	rec := app.do(t, http.MethodGet, "/api/v1/users/me", nil, app.login(t, user))
	require.Equal(t, http.StatusOK, rec.Code)

	var profile UserResponse
	decodeData(t, rec, &profile)
	assert.Equal(t, "ada@example.com", profile.Email)
	assert.NotNil(t, profile.Stats)

	rec = app.do(t, http.MethodGet, "/api/v1/users/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdateProfileNames(t *testing.T) {
	app := newTestApp(t)
	user := app.createUser(t, "ada@example.com", "Ada")
	token := app.login(t, user)

	rec := app.do(t, http.MethodPut, "/api/v1/users/me", map[string]string{
		"first_name": " Augusta ",
		"last_name":  "King",
	}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stored := app.reloadUser(t, user.ID)
	assert.Equal(t, "Augusta", stored.FirstName)
	assert.Equal(t, "King", stored.LastName)

	rec = app.do(t, http.MethodPut, "/api/v1/users/me", map[string]string{
		"first_name": "",
		"last_name":  strings.Repeat("k", 151),
	}, token)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "First name is required", env.Errors["first_name"])
	assert.Equal(t, "Max length is 150 characters", env.Errors["last_name"])
	assert.Equal(t, "Augusta", app.reloadUser(t, user.ID).FirstName)
}

func TestUpdateProfileImageMissingFromBucket(t *testing.T) {
	app := newTestApp(t)
	user := app.createUser(t, "ada@example.com", "Ada")
	require.NoError(t, app.db.Model(&user).Update("profile_image", "profile_images/old.png").Error)
	app.store.Add("profile_images/old.png", pngHeader)

	rec := app.do(t, http.MethodPut, "/api/v1/users/me", map[string]string{
		"first_name":  "Ada",
		"last_name":   "Changed",
		"newFilename": "profile_images/never-uploaded.png",
	}, app.login(t, user))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	env := decode(t, rec)
	assert.Equal(t, "Invalid profile image", env.Message)
	assert.Equal(t, "New profile image file `profile_images/never-uploaded.png` does not exist", env.Errors["newFilename"])

	stored := app.reloadUser(t, user.ID)
	assert.Equal(t, "profile_images/old.png", stored.ProfileImage)
	assert.Equal(t, "Tester", stored.LastName)
	assert.Empty(t, app.store.Deleted())
	assert.True(t, app.store.Has("profile_images/old.png"))
}

func TestUpdateProfileImagePresignedFlow(t *testing.T) {
	app := newTestApp(t)
	user := app.createUser(t, "ada@example.com", "Ada")
	require.NoError(t, app.db.Model(&user).Update("profile_image", "profile_images/old.png").Error)
	app.store.Add("profile_images/old.png", pngHeader)
	token := app.login(t, user)

	rec := app.do(t, http.MethodPost, "/api/v1/users/me/profile-image-url", map[string]string{
		"filename":     "Portrait.webp",
		"content_type": "image/webp",
	}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var presigned struct {
		PutURL      string `json:"putUrl"`
		NewFilename string `json:"newFilename"`
	}
	decodeData(t, rec, &presigned)
	require.True(t, strings.HasPrefix(presigned.NewFilename, "profile_images/"), presigned.NewFilename)
	assert.True(t, strings.HasSuffix(presigned.NewFilename, "_Portrait.webp"), presigned.NewFilename)

	// The client uploads straight to the bucket
	app.store.Add(presigned.NewFilename, []byte("RIFF"))

	rec = app.do(t, http.MethodPut, "/api/v1/users/me", map[string]string{
		"first_name":  "Ada",
		"last_name":   "Lovelace",
		"newFilename": presigned.NewFilename,
	}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var profile UserResponse
	decodeData(t, rec, &profile)
	assert.True(t, strings.HasPrefix(profile.ProfileImage, "https://bucket.test/"+presigned.NewFilename), profile.ProfileImage)

	assert.Equal(t, presigned.NewFilename, app.reloadUser(t, user.ID).ProfileImage)
	assert.Equal(t, []string{"profile_images/old.png"}, app.store.Deleted())
}

func TestUpdateProfileImageRejectsBadKeys(t *testing.T) {
	app := newTestApp(t)
	user := app.createUser(t, "ada@example.com", "Ada")
	require.NoError(t, app.db.Model(&user).Update("profile_image", "profile_images/current.png").Error)
	app.store.Add("profile_images/current.png", pngHeader)
	app.store.Add("item_images/chair.png", pngHeader)
	token := app.login(t, user)

	cases := map[string]string{
		"item_images/chair.png":      "Invalid profile image path: `item_images/chair.png`",
		"profile_images/current.png": "New profile image `profile_images/current.png` must be different from current profile image `profile_images/current.png`",
	}
	for key, reason := range cases {
		rec := app.do(t, http.MethodPut, "/api/v1/users/me", map[string]string{
			"first_name":  "Ada",
			"last_name":   "Tester",
			"newFilename": key,
		}, token)
		require.Equal(t, http.StatusBadRequest, rec.Code, key)
		assert.Equal(t, reason, decode(t, rec).Errors["newFilename"])
	}
	assert.Empty(t, app.store.Deleted())
}

func TestUpdateProfileImageBucketError(t *testing.T) {
	app := newTestApp(t)
	user := app.createUser(t, "ada@example.com", "Ada")
	app.store.ExistsErr = errors.New("connection reset")

	rec := app.do(t, http.MethodPut, "/api/v1/users/me", map[string]string{
		"first_name":  "Ada",
		"last_name":   "Tester",
		"newFilename": "profile_images/new.png",
	}, app.login(t, user))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, app.reloadUser(t, user.ID).ProfileImage)
}

func TestUpdateProfileImageOldImageDeleteFailureIsIgnored(t *testing.T) {
	app := newTestApp(t)
	user := app.createUser(t, "ada@example.com", "Ada")
	require.NoError(t, app.db.Model(&user).Update("profile_image", "profile_images/old.png").Error)
	app.store.Add("profile_images/new.png", pngHeader)
	app.grantUpload(t, user, "profile_images/new.png")
	app.store.DeleteErr = errors.New("access denied")

	rec := app.do(t, http.MethodPut, "/api/v1/users/me", map[string]string{
		"first_name":  "Ada",
		"last_name":   "Tester",
		"newFilename": "profile_images/new.png",
	}, app.login(t, user))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "profile_images/new.png", app.reloadUser(t, user.ID).ProfileImage)
	assert.Equal(t, []string{"profile_images/old.png"}, app.store.Deleted())
}

func TestUpdateProfileImageMultipart(t *testing.T) {
	app := newTestApp(t)
	user := app.createUser(t, "ada@example.com", "Ada")
	token := app.login(t, user)

	rec := app.doMultipart(t, http.MethodPut, "/api/v1/users/me",
		map[string]string{"first_name": "Ada", "last_name": "Tester"},
		&upload{field: "profile_image", filename: "me.png", data: pngHeader},
		token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored := app.reloadUser(t, user.ID)
	assert.True(t, strings.HasPrefix(stored.ProfileImage, "profile_images/"), stored.ProfileImage)
	assert.True(t, app.store.Has(stored.ProfileImage))

	rec = app.doMultipart(t, http.MethodPut, "/api/v1/users/me",
		map[string]string{"first_name": "Ada", "last_name": "Tester"},
		&upload{field: "profile_image", filename: "me.png", data: []byte("#!/bin/sh\necho hi\n")},
		token)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unsupported file type", decode(t, rec).Errors["profile_image"])
	assert.Equal(t, stored.ProfileImage, app.reloadUser(t, user.ID).ProfileImage)
}

func TestGetMyListingsSearch(t *testing.T) {
	app := newTestApp(t)
	user := app.createUser(t, "ada@example.com", "Ada")
	token := app.login(t, user)
	app.createItem(t, user, "Red chair", 10, nil)
	app.createItem(t, user, "Red table", 10, nil)
	app.createItem(t, user, "Blue chair", 10, nil)
	app.createItem(t, user, "Red chair (sold)", 10, func(i *model.Item) {
		i.Status = model.ItemStatusInactive
	})

	var data struct {
		Listings   []ItemResponse    `json:"listings"`
		Pagination paginationBody    `json:"pagination"`
		Filters    map[string]string `json:"filters"`
	}
	decodeData(t, app.do(t, http.MethodGet, "/api/v1/users/me/listings?search=red+CHAIR", nil, token), &data)
	require.Len(t, data.Listings, 1)
	assert.Equal(t, "Red chair", data.Listings[0].Title)
	assert.Equal(t, "red CHAIR", data.Filters["search"])

	decodeData(t, app.do(t, http.MethodGet, "/api/v1/users/me/listings?per_page=2", nil, token), &data)
	assert.Len(t, data.Listings, 2)
	assert.Equal(t, int64(3), data.Pagination.Total)
	assert.Equal(t, 2, data.Pagination.Pages)
}

func TestGetRecentlyViewed(t *testing.T) {
	app := newTestApp(t)
	seller := app.createUser(t, "seller@example.com", "Sam")
	viewer := app.createUser(t, "viewer@example.com", "Vic")
	token := app.login(t, viewer)

	first := app.createItem(t, seller, "Desk", 10, nil)
	second := app.createItem(t, seller, "Lamp", 10, nil)
	hidden := app.createItem(t, seller, "Rug", 10, nil)
	for _, id := range []uint{first.ID, hidden.ID, second.ID} {
		require.Equal(t, http.StatusOK, app.do(t, http.MethodGet, itemPath(id), nil, token).Code)
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, app.db.Model(&hidden).Update("status", model.ItemStatusInactive).Error)

	var data struct {
		RecentlyViewed []struct {
			Item     ItemResponse `json:"item"`
			ViewedAt time.Time    `json:"viewed_at"`
		} `json:"recently_viewed"`
		Pagination paginationBody `json:"pagination"`
	}
	decodeData(t, app.do(t, http.MethodGet, "/api/v1/users/me/recently-viewed", nil, token), &data)
	require.Len(t, data.RecentlyViewed, 2)
	assert.Equal(t, second.ID, data.RecentlyViewed[0].Item.ID)
	assert.Equal(t, first.ID, data.RecentlyViewed[1].Item.ID)
	require.NotNil(t, data.RecentlyViewed[0].Item.Seller)
	assert.Equal(t, seller.ID, data.RecentlyViewed[0].Item.Seller.ID)
	assert.Equal(t, 10, data.Pagination.PerPage)

	decodeData(t, app.do(t, http.MethodGet, "/api/v1/users/me/recently-viewed?limit=1", nil, token), &data)
	require.Len(t, data.RecentlyViewed, 1)
	assert.Equal(t, second.ID, data.RecentlyViewed[0].Item.ID)
	assert.Equal(t, 2, data.Pagination.Pages)
}

func TestGetMyStats(t *testing.T) {
	app := newTestApp(t)
	user := app.createUser(t, "ada@example.com", "Ada")
	other := app.createUser(t, "other@example.com", "Olga")
	token := app.login(t, user)

	mine := app.createItem(t, user, "Desk", 10, nil)
	app.createItem(t, user, "Old desk", 10, func(i *model.Item) {
		i.Status = model.ItemStatusInactive
	})
	theirs := app.createItem(t, other, "Lamp", 10, nil)

	require.NoError(t, app.db.Omit("Buyer", "Item").Create(&model.Order{BuyerID: user.ID, ItemID: theirs.ID}).Error)
	require.NoError(t, app.db.Omit("Buyer", "Item").Create(&model.Order{BuyerID: other.ID, ItemID: mine.ID}).Error)
	require.NoError(t, app.db.Omit("User", "Item").Create(&model.Favorite{UserID: user.ID, ItemID: theirs.ID}).Error)
	require.Equal(t, http.StatusOK, app.do(t, http.MethodGet, itemPath(theirs.ID), nil, token).Code)

	rec := app.do(t, http.MethodGet, "/api/v1/users/me/stats", nil, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stats UserStats
	decodeData(t, rec, &stats)
	assert.Equal(t, int64(1), stats.Listings.Active)
	assert.Equal(t, int64(2), stats.Listings.Total)
	assert.Equal(t, int64(1), stats.Orders.AsBuyer)
	assert.Equal(t, int64(1), stats.Orders.AsSeller)
	assert.Equal(t, int64(1), stats.Favorites)
	assert.Equal(t, int64(1), stats.RecentlyViewed)
	assert.False(t, stats.IsVerified)
}

func TestUpdateProfileImageRejectsAnotherUsersKey(t *testing.T) {
	app := newTestApp(t)
	victim := app.createUser(t, "victim@example.com", "Vic")
	attacker := app.createUser(t, "mallory@example.com", "Mallory")
	victimKey := "profile_images/20240101_000000_aaaaaaaa_me.png"
	require.NoError(t, app.db.Model(&victim).Update("profile_image", victimKey).Error)
	app.store.Add(victimKey, pngHeader)

	rec := app.do(t, http.MethodPut, "/api/v1/users/me", map[string]string{
		"first_name":  "Mallory",
		"last_name":   "Tester",
		"newFilename": victimKey,
	}, app.login(t, attacker))
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, notIssuedReason(victimKey), decode(t, rec).Errors["newFilename"])

	assert.Empty(t, app.reloadUser(t, attacker.ID).ProfileImage)
	assert.Equal(t, victimKey, app.reloadUser(t, victim.ID).ProfileImage)
	assert.True(t, app.store.Has(victimKey))
	assert.Empty(t, app.store.Deleted())
}

func TestUpdateProfileImageKeepsSharedOldImage(t *testing.T) {
	app := newTestApp(t)
	owner := app.createUser(t, "owner@example.com", "Olive")
	other := app.createUser(t, "other@example.com", "Otto")
	shared := "profile_images/20240101_000000_bbbbbbbb_shared.png"
	require.NoError(t, app.db.Model(&owner).Update("profile_image", shared).Error)
	require.NoError(t, app.db.Model(&other).Update("profile_image", shared).Error)
	app.store.Add(shared, pngHeader)

	rec := app.doMultipart(t, http.MethodPut, "/api/v1/users/me",
		map[string]string{"first_name": "Otto", "last_name": "Tester"},
		&upload{field: "profile_image", filename: "new.png", data: pngHeader},
		app.login(t, other))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.NotEqual(t, shared, app.reloadUser(t, other.ID).ProfileImage)
	assert.True(t, app.store.Has(shared))
	assert.Empty(t, app.store.Deleted())
}

func TestPresignedProfileKeyIsSingleUse(t *testing.T) {
	app := newTestApp(t)
	user := app.createUser(t, "ada@example.com", "Ada")
	token := app.login(t, user)
	key := "profile_images/20240101_000000_cccccccc_me.png"
	app.store.Add(key, pngHeader)
	app.grantUpload(t, user, key)

	body := map[string]string{"first_name": "Ada", "last_name": "Tester", "newFilename": key}
	require.Equal(t, http.StatusOK, app.do(t, http.MethodPut, "/api/v1/users/me", body, token).Code)
	assert.Zero(t, countRows(t, app, &model.UploadGrant{}))
}
