package handler

import (
	"github.com/Mule-Mart/Mule-Mart/internal/middleware"
	"github.com/Mule-Mart/Mule-Mart/internal/response"
	"github.com/Mule-Mart/Mule-Mart/pkg/logger"
	"github.com/Mule-Mart/Mule-Mart/prometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// RouterConfig carries the middleware and limits the router is built with
type RouterConfig struct {
	Auth        *middleware.Authenticator
	AuthLimiter *middleware.RateLimiter
	Logger      *zap.Logger
	BodyLimit   string
	CORSOrigins []string
}

// NewRouter builds the echo instance serving the pages and the /api/v1 API
func NewRouter(h *Handler, rc RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = NewValidator()
	e.Renderer = NewTemplateRenderer()
	e.HTTPErrorHandler = response.HTTPErrorHandler

	// Order matters: the request id must exist before the logger reads it
	e.Use(echomiddleware.Recover())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware(rc.Logger))
	e.Use(prometheus.MetricsMiddleware())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     rc.CORSOrigins,
		AllowCredentials: true,
	}))
	if rc.BodyLimit != "" {
		e.Use(echomiddleware.BodyLimit(rc.BodyLimit))
	}

	requireAuth := rc.Auth.RequireAuth
	optionalAuth := rc.Auth.OptionalAuth

	e.GET("/", h.Home, optionalAuth)
	e.GET("/health", h.HealthCheck)
	e.GET("/metrics", MetricsHandler)

	api := e.Group("/api/v1")

	auth := api.Group("/auth")
	if rc.AuthLimiter != nil {
		auth.Use(rc.AuthLimiter.Middleware)
	}
	auth.POST("/signup", h.Signup)
	auth.POST("/login", h.Login)
	auth.POST("/logout", h.Logout, requireAuth)
	auth.POST("/forgot-password", h.ForgotPassword)
	auth.POST("/reset-password", h.ResetPassword)
	auth.GET("/verify/:token", h.VerifyEmail)
	auth.POST("/resend-verification", h.ResendVerification)
	auth.GET("/me", h.Me, requireAuth)

	items := api.Group("/items")
	items.GET("", h.ListItems)
	items.GET("/autocomplete", h.Autocomplete)
	items.POST("/image-url", h.ItemImageUploadURL, requireAuth)
	items.GET("/:id", h.GetItem, optionalAuth)
	items.POST("", h.CreateItem, requireAuth)
	items.PUT("/:id", h.UpdateItem, requireAuth)
	items.DELETE("/:id", h.DeleteItem, requireAuth)
	items.POST("/:id/favorites", h.AddFavorite, requireAuth)
	items.DELETE("/:id/favorites", h.RemoveFavorite, requireAuth)

	users := api.Group("/users")
	users.GET("/me", h.GetCurrentUser, requireAuth)
	users.PUT("/me", h.UpdateCurrentUser, requireAuth)
	users.POST("/me/profile-image-url", h.ProfileImageUploadURL, requireAuth)
	users.GET("/me/listings", h.GetMyListings, requireAuth)
	users.GET("/me/favorites", h.GetMyFavorites, requireAuth)
	users.GET("/me/recently-viewed", h.GetRecentlyViewed, requireAuth)
	users.GET("/me/stats", h.GetMyStats, requireAuth)
	users.GET("/:id", h.GetUser)
	users.GET("/:id/listings", h.GetUserListings)

	chat := api.Group("/chat", requireAuth)
	chat.GET("/conversations", h.GetConversations)
	chat.GET("/unread-count", h.GetUnreadCount)
	chat.GET("/:user_id/messages", h.GetMessages)
	chat.POST("/:user_id/messages", h.SendMessage)
	chat.POST("/:user_id/messages/mark-read", h.MarkMessagesRead)
	chat.DELETE("/messages/:message_id", h.DeleteMessage)

	return e
}
