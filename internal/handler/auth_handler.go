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
	"github.com/Mule-Mart/Mule-Mart/pkg/jwtutil"
	"github.com/Mule-Mart/Mule-Mart/pkg/logger"
	"github.com/Mule-Mart/Mule-Mart/pkg/mailer"
	"github.com/Mule-Mart/Mule-Mart/prometheus"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const invalidCredentials = "Invalid email or password"

type signupRequest struct {
	FirstName       string `json:"first_name" form:"first_name" validate:"required,max=150"`
	LastName        string `json:"last_name" form:"last_name" validate:"required,max=150"`
	Email           string `json:"email" form:"email" validate:"required,email,max=254"`
	Password        string `json:"password" form:"password" validate:"required,min=8,eqfield=ConfirmPassword"`
	ConfirmPassword string `json:"confirm_password" form:"confirm_password" validate:"required"`
}

func (r *signupRequest) Normalize() {
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Email = model.NormalizeEmail(r.Email)
}

type loginRequest struct {
	Email    string `json:"email" form:"email" validate:"required"`
	Password string `json:"password" form:"password" validate:"required"`
}

func (r *loginRequest) Normalize() {
	r.Email = model.NormalizeEmail(r.Email)
}

type emailRequest struct {
	Email string `json:"email" form:"email" validate:"required,email"`
}

func (r *emailRequest) Normalize() {
	r.Email = model.NormalizeEmail(r.Email)
}

type resetPasswordRequest struct {
	Token    string `json:"token" form:"token" validate:"required"`
	Password string `json:"password" form:"password" validate:"required,min=8"`
}

func (r *resetPasswordRequest) Normalize() {
	r.Token = strings.TrimSpace(r.Token)
}

func (h *Handler) emailExists(ctx context.Context, email string) (bool, error) {
	var count int64
	err := h.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", email).Count(&count).Error
	return count > 0, err
}

// Signup creates an unverified account and mails a verification link
func (h *Handler) Signup(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()

	var req signupRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		prometheus.RecordAuthError("invalid_request")
		return err
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())

	exists, err := h.emailExists(ctx, req.Email)
	if err != nil {
		log.Error("Failed to check email", zap.Error(err))
		return response.Internal(c)
	}
	if exists {
		prometheus.RecordAuthError("email_taken")
		return response.ValidationError(c, map[string]string{"email": "An account with this email already exists"})
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("Failed to hash password", zap.Error(err))
		return response.Internal(c)
	}

	user := model.User{
		Email:     req.Email,
		Password:  string(hashed),
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}
	if err := h.db.WithContext(ctx).Create(&user).Error; err != nil {
		// A concurrent signup may have claimed the address after the check
		if exists, checkErr := h.emailExists(ctx, req.Email); checkErr == nil && exists {
			prometheus.RecordAuthError("email_taken")
			return response.ValidationError(c, map[string]string{"email": "An account with this email already exists"})
		}
		log.Error("Failed to create user", zap.Error(err))
		return response.Internal(c)
	}

	h.sendVerification(ctx, log, &user)

	prometheus.RecordAuthOperation("signup")
	log.Info("User signed up", zap.Uint("user_id", user.ID))
	return response.Created(c, "Account created. Please verify your email.", h.serializeUser(ctx, log, &user, true, nil))
}

// sendVerification mails a signed verification link. Delivery failures are
// logged and do not fail the request.
func (h *Handler) sendVerification(ctx context.Context, log *zap.Logger, user *model.User) {
	token, err := h.tokens.GenerateVerifyToken(user.ID, user.Email, h.session.VerifyTokenTTL)
	if err != nil {
		log.Error("Failed to generate verification token", zap.Uint("user_id", user.ID), zap.Error(err))
		return
	}
	subject, body := mailer.VerificationEmail(h.baseURL, user.FirstName, token)
	if err := h.mailer.Send(ctx, user.Email, subject, body); err != nil {
		log.Error("Failed to send verification email", zap.Uint("user_id", user.ID), zap.Error(err))
	}
}

// Login checks the credentials, opens a server-side session and sets the
// session cookie. The signed token is also returned for API clients.
func (h *Handler) Login(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()

	var req loginRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		prometheus.RecordAuthError("invalid_request")
		return err
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	var user model.User
	if err := h.db.WithContext(ctx).Where("email = ?", req.Email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			prometheus.RecordAuthError("user_not_found")
			return response.Unauthorized(c, invalidCredentials)
		}
		log.Error("Failed to load user", zap.Error(err))
		return response.Internal(c)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		log.Info("Invalid password", zap.Uint("user_id", user.ID))
		prometheus.RecordAuthError("invalid_password")
		return response.Unauthorized(c, invalidCredentials)
	}

	session := model.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		UserAgent: truncate(c.Request().UserAgent(), 255),
		IP:        truncate(c.RealIP(), 64),
		ExpiresAt: time.Now().Add(h.session.Lifetime),
	}
	if err := h.db.WithContext(ctx).Omit(clause.Associations).Create(&session).Error; err != nil {
		log.Error("Failed to create session", zap.Uint("user_id", user.ID), zap.Error(err))
		return response.Internal(c)
	}

	token, err := h.tokens.GenerateSessionToken(user.ID, session.ID, h.session.Lifetime)
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return response.Internal(c)
	}

	c.SetCookie(&http.Cookie{
		Name:     h.session.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	prometheus.RecordAuthOperation("login")
	log.Info("User logged in", zap.Uint("user_id", user.ID))
	return response.OK(c, "Login successful", echo.Map{
		"token":      token,
		"expires_at": session.ExpiresAt,
		"user":       h.serializeUser(ctx, log, &user, true, nil),
	})
}

// Logout revokes the current session and clears the cookie
func (h *Handler) Logout(c echo.Context) error {
	log := logger.FromContext(c)

	defer prometheus.TrackDBOperation("delete")(time.Now())
	err := h.db.WithContext(c.Request().Context()).
		Where("id = ?", middleware.SessionID(c)).
		Delete(&model.Session{}).Error
	if err != nil {
		log.Error("Failed to delete session", zap.Error(err))
		return response.Internal(c)
	}

	c.SetCookie(&http.Cookie{
		Name:     h.session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	prometheus.RecordAuthOperation("logout")
	return response.OK(c, "Logged out successfully", nil)
}

// ForgotPassword issues a one-hour reset token. The response is the same
// whether or not the address belongs to an account.
func (h *Handler) ForgotPassword(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()

	var req emailRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	const sent = "Password reset instructions sent"

	defer prometheus.TrackDBOperation("insert")(time.Now())

	var user model.User
	if err := h.db.WithContext(ctx).Where("email = ?", req.Email).First(&user).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error("Failed to load user", zap.Error(err))
		}
		return response.OK(c, sent, nil)
	}

	raw, err := model.GenerateSecureToken()
	if err != nil {
		log.Error("Failed to generate reset token", zap.Error(err))
		return response.OK(c, sent, nil)
	}
	reset := model.PasswordResetToken{
		TokenHash: model.HashToken(raw),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(h.session.ResetTokenTTL),
	}
	if err := h.db.WithContext(ctx).Omit(clause.Associations).Create(&reset).Error; err != nil {
		log.Error("Failed to store reset token", zap.Uint("user_id", user.ID), zap.Error(err))
		return response.OK(c, sent, nil)
	}

	subject, body := mailer.PasswordResetEmail(h.baseURL, user.FirstName, raw)
	if err := h.mailer.Send(ctx, user.Email, subject, body); err != nil {
		log.Error("Failed to send reset email", zap.Uint("user_id", user.ID), zap.Error(err))
	}

	prometheus.RecordAuthOperation("forgot_password")
	return response.OK(c, sent, nil)
}

var errTokenConsumed = errors.New("reset token already used")

// ResetPassword consumes a reset token exactly once, sets the new password
// and revokes every session of the account
func (h *Handler) ResetPassword(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()

	var req resetPasswordRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	const invalidToken = "Invalid or expired token"

	defer prometheus.TrackDBOperation("update")(time.Now())

	var reset model.PasswordResetToken
	if err := h.db.WithContext(ctx).Where("token_hash = ?", model.HashToken(req.Token)).First(&reset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			prometheus.RecordAuthError("invalid_reset_token")
			return response.BadRequest(c, invalidToken)
		}
		log.Error("Failed to load reset token", zap.Error(err))
		return response.Internal(c)
	}
	if !reset.IsUsable() {
		prometheus.RecordAuthError("invalid_reset_token")
		return response.BadRequest(c, invalidToken)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("Failed to hash password", zap.Error(err))
		return response.Internal(c)
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&model.PasswordResetToken{}).
			Where("id = ? AND used_at IS NULL", reset.ID).
			Update("used_at", &now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errTokenConsumed
		}
		if err := tx.Model(&model.User{}).Where("id = ?", reset.UserID).Update("password", string(hashed)).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", reset.UserID).Delete(&model.Session{}).Error
	})
	if err != nil {
		if errors.Is(err, errTokenConsumed) {
			prometheus.RecordAuthError("invalid_reset_token")
			return response.BadRequest(c, invalidToken)
		}
		log.Error("Failed to reset password", zap.Uint("user_id", reset.UserID), zap.Error(err))
		return response.Internal(c)
	}

	prometheus.RecordAuthOperation("reset_password")
	log.Info("Password reset", zap.Uint("user_id", reset.UserID))
	return response.OK(c, "Password reset successful", nil)
}

// VerifyEmail marks the account in a verification token as verified. The
// token is bound to the address it was issued for and works once.
func (h *Handler) VerifyEmail(c echo.Context) error {
	log := logger.FromContext(c)

	const invalidToken = "Invalid or expired verification token"

	claims, err := h.tokens.ValidateToken(c.Param("token"), jwtutil.TypeVerify)
	if err != nil {
		prometheus.RecordAuthError("invalid_verify_token")
		return response.BadRequest(c, invalidToken)
	}
	userID, err := claims.UserID()
	if err != nil {
		prometheus.RecordAuthError("invalid_verify_token")
		return response.BadRequest(c, invalidToken)
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	res := h.db.WithContext(c.Request().Context()).Model(&model.User{}).
		Where("id = ? AND email = ? AND is_verified = ?", userID, claims.Email, false).
		Update("is_verified", true)
	if res.Error != nil {
		log.Error("Failed to verify email", zap.Uint("user_id", userID), zap.Error(res.Error))
		return response.Internal(c)
	}
	if res.RowsAffected == 0 {
		prometheus.RecordAuthError("invalid_verify_token")
		return response.BadRequest(c, invalidToken)
	}

	prometheus.RecordAuthOperation("verify_email")
	log.Info("Email verified", zap.Uint("user_id", userID))
	return response.OK(c, "Email verified successfully", nil)
}

// ResendVerification sends a new link to unverified accounts. The response
// does not reveal whether the account exists.
func (h *Handler) ResendVerification(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()

	var req emailRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	message := "If an account exists with " + req.Email + ", a verification email has been sent."

	var user model.User
	err := h.db.WithContext(ctx).Where("email = ?", req.Email).First(&user).Error
	switch {
	case err == nil:
		if !user.IsVerified {
			h.sendVerification(ctx, log, &user)
			prometheus.RecordAuthOperation("resend_verification")
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		log.Error("Failed to load user", zap.Error(err))
	}

	return response.OK(c, message, nil)
}

// Me returns the identity behind the current session
func (h *Handler) Me(c echo.Context) error {
	user, err := h.currentUser(c)
	if user == nil {
		return err
	}
	return response.OK(c, "Authenticated", echo.Map{
		"id":          user.ID,
		"first_name":  user.FirstName,
		"last_name":   user.LastName,
		"email":       user.Email,
		"is_verified": user.IsVerified,
	})
}

// truncate caps s at n bytes without splitting a UTF-8 sequence; invalid
// bytes are dropped first
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
