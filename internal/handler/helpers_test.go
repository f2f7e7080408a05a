package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Mule-Mart/Mule-Mart/internal/middleware"
	"github.com/Mule-Mart/Mule-Mart/internal/model"
	"github.com/Mule-Mart/Mule-Mart/internal/search"
	"github.com/Mule-Mart/Mule-Mart/pkg/config"
	"github.com/Mule-Mart/Mule-Mart/pkg/database"
	"github.com/Mule-Mart/Mule-Mart/pkg/jwtutil"
	"github.com/Mule-Mart/Mule-Mart/pkg/storage"
	"github.com/Mule-Mart/Mule-Mart/pkg/storage/storagetest"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const testPassword = "password123"

// pngHeader is enough for content sniffing to report image/png
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (m *fakeMailer) messages() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

type testApp struct {
	e      *echo.Echo
	db     *gorm.DB
	store  *storagetest.Store
	mail   *fakeMailer
	tokens *jwtutil.Manager
}

func newTestApp(t *testing.T) *testApp {
	return newTestAppWithLimiter(t, middleware.NewRateLimiter(1000, 1000))
}

func newTestAppWithLimiter(t *testing.T, limiter *middleware.RateLimiter) *testApp {
	t.Helper()

	db, err := database.OpenInMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	app := &testApp{
		db:     db,
		store:  storagetest.New(),
		mail:   &fakeMailer{},
		tokens: jwtutil.NewManager("test-signing-key"),
	}

	h := New(Deps{
		DB:      db,
		Storage: storage.NewService(app.store, time.Hour),
		Mailer:  app.mail,
		Tokens:  app.tokens,
		Session: config.SessionConfig{
			Lifetime:       time.Hour,
			VerifyTokenTTL: time.Hour,
			ResetTokenTTL:  time.Hour,
			CookieName:     "session",
		},
		BaseURL: "http://mulemart.test",
	})
	app.e = NewRouter(h, RouterConfig{
		Auth:        middleware.NewAuthenticator(db, app.tokens, "session"),
		AuthLimiter: limiter,
		Logger:      zap.NewNop(),
		BodyLimit:   "10M",
	})
	return app
}

func (a *testApp) createUser(t *testing.T, email, firstName string) model.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	user := model.User{
		Email:     email,
		Password:  string(hashed),
		FirstName: firstName,
		LastName:  "Tester",
	}
	require.NoError(t, a.db.Create(&user).Error)
	return user
}

// login opens a session for user without going through the login endpoint
func (a *testApp) login(t *testing.T, user model.User) string {
	t.Helper()
	session := model.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, a.db.Omit(clause.Associations).Create(&session).Error)

	token, err := a.tokens.GenerateSessionToken(user.ID, session.ID, time.Hour)
	require.NoError(t, err)
	return token
}

// grantUpload records key as presigned for user, as the image-url endpoints do
func (a *testApp) grantUpload(t *testing.T, user model.User, key string) {
	t.Helper()
	grant := model.UploadGrant{ObjectKey: key, UserID: user.ID}
	require.NoError(t, a.db.Omit(clause.Associations).Create(&grant).Error)
}

func (a *testApp) createItem(t *testing.T, seller model.User, title string, price float64, mutate func(*model.Item)) model.Item {
	t.Helper()
	item := model.Item{
		Title:           title,
		Price:           price,
		Status:          model.ItemStatusActive,
		SellerID:        seller.ID,
		SearchEmbedding: search.NewKeywordRanker().Embed(title),
	}
	if mutate != nil {
		mutate(&item)
	}
	require.NoError(t, a.db.Omit(clause.Associations).Create(&item).Error)
	return item
}

func (a *testApp) serve(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

// do sends body as JSON when it is not nil
func (a *testApp) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return a.serve(req, token)
}

type upload struct {
	field, filename string
	data            []byte
}

func (a *testApp) doMultipart(t *testing.T, method, path string, fields map[string]string, file *upload, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		part, err := w.CreateFormFile(file.field, file.filename)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return a.serve(req, token)
}

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Errors  map[string]string `json:"errors"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

// decodeData unmarshals the data field of the envelope into v
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) envelope {
	t.Helper()
	env := decode(t, rec)
	require.NoError(t, json.Unmarshal(env.Data, v), string(env.Data))
	return env
}

type paginationBody struct {
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
	Pages   int   `json:"pages"`
}
