package middleware

import (
	"errors"
	"strings"

	"github.com/Mule-Mart/Mule-Mart/internal/model"
	"github.com/Mule-Mart/Mule-Mart/internal/response"
	"github.com/Mule-Mart/Mule-Mart/pkg/jwtutil"
	"github.com/Mule-Mart/Mule-Mart/pkg/logger"
	"github.com/Mule-Mart/Mule-Mart/prometheus"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	UserIDKey    = "user_id"
	SessionIDKey = "session_id"
)

var errNoToken = errors.New("missing session token")

// Authenticator resolves the session cookie (or a Bearer token carrying the
// same session JWT) to a live server-side session
type Authenticator struct {
	db         *gorm.DB
	tokens     *jwtutil.Manager
	cookieName string
}

func NewAuthenticator(db *gorm.DB, tokens *jwtutil.Manager, cookieName string) *Authenticator {
	return &Authenticator{db: db, tokens: tokens, cookieName: cookieName}
}

// RequireAuth rejects requests without an active session with 401
func (a *Authenticator) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		log := logger.FromContext(c)

		session, err := a.authenticate(c)
		if err != nil {
			if errors.Is(err, errNoToken) {
				prometheus.RecordAuthError("missing_token")
			} else {
				log.Warn("Rejected session", zap.Error(err))
				prometheus.RecordAuthError("invalid_token")
			}
			return response.Unauthorized(c, "Authentication required")
		}

		c.Set(UserIDKey, session.UserID)
		c.Set(SessionIDKey, session.ID)
		return next(c)
	}
}

// OptionalAuth identifies the user when a valid session is present and lets
// anonymous requests through otherwise
func (a *Authenticator) OptionalAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if session, err := a.authenticate(c); err == nil {
			c.Set(UserIDKey, session.UserID)
			c.Set(SessionIDKey, session.ID)
		}
		return next(c)
	}
}

func (a *Authenticator) authenticate(c echo.Context) (*model.Session, error) {
	token := a.tokenFromRequest(c)
	if token == "" {
		return nil, errNoToken
	}

	claims, err := a.tokens.ValidateToken(token, jwtutil.TypeSession)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}

	var session model.Session
	err = a.db.WithContext(c.Request().Context()).
		Where("id = ?", claims.SessionID).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("session revoked")
		}
		return nil, err
	}

	if session.UserID != userID {
		return nil, errors.New("session does not belong to token subject")
	}
	if session.IsExpired() {
		return nil, errors.New("session expired")
	}
	return &session, nil
}

func (a *Authenticator) tokenFromRequest(c echo.Context) string {
	if cookie, err := c.Cookie(a.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	parts := strings.SplitN(c.Request().Header.Get(echo.HeaderAuthorization), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// UserID returns the authenticated user id, or 0 for anonymous requests
func UserID(c echo.Context) uint {
	id, _ := c.Get(UserIDKey).(uint)
	return id
}

// SessionID returns the id of the current session, if any
func SessionID(c echo.Context) string {
	id, _ := c.Get(SessionIDKey).(string)
	return id
}
