package handler

import (
	"embed"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/Mule-Mart/Mule-Mart/internal/middleware"
	"github.com/Mule-Mart/Mule-Mart/internal/model"
	"github.com/Mule-Mart/Mule-Mart/internal/response"
	"github.com/Mule-Mart/Mule-Mart/pkg/logger"
	"github.com/Mule-Mart/Mule-Mart/prometheus"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	homeLatestItems   = 12
	homeRecentlyViews = 6
)

//go:embed templates/*.html
var templateFS embed.FS

// TemplateRenderer renders the embedded page templates for echo
type TemplateRenderer struct {
	templates *template.Template
}

func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
	}
}

func (r *TemplateRenderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	return r.templates.ExecuteTemplate(w, name, data)
}

type homePage struct {
	User           *model.User
	Items          []ItemResponse
	RecentlyViewed []ItemResponse
}

// Home renders the landing page: the newest listings, plus the visitor's
// recently viewed items when signed in
func (h *Handler) Home(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()
	db := h.db.WithContext(ctx)

	defer prometheus.TrackDBOperation("query")(time.Now())

	var items []model.Item
	err := db.Where("status = ?", model.ItemStatusActive).
		Order("created_at DESC, id DESC").
		Limit(homeLatestItems).
		Find(&items).Error
	if err != nil {
		log.Error("Failed to load latest items", zap.Error(err))
		return response.Internal(c)
	}
	page := homePage{Items: h.serializeItems(ctx, log, items)}

	if userID := middleware.UserID(c); userID != 0 {
		user, err := h.findUser(ctx, userID)
		if err != nil {
			log.Warn("Failed to load signed in user", zap.Error(err))
		} else {
			page.User = user
		}

		var viewed []model.Item
		err = db.Joins("JOIN recently_viewed ON recently_viewed.item_id = items.id").
			Where("recently_viewed.user_id = ? AND items.status = ?", userID, model.ItemStatusActive).
			Order("recently_viewed.viewed_at DESC").
			Limit(homeRecentlyViews).
			Find(&viewed).Error
		if err != nil {
			log.Warn("Failed to load recently viewed items", zap.Error(err))
		} else {
			page.RecentlyViewed = h.serializeItems(ctx, log, viewed)
		}
	}

	return c.Render(http.StatusOK, "home.html", page)
}
