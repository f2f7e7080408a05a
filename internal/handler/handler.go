package handler

import (
	"github.com/Mule-Mart/Mule-Mart/internal/search"
	"github.com/Mule-Mart/Mule-Mart/pkg/config"
	"github.com/Mule-Mart/Mule-Mart/pkg/jwtutil"
	"github.com/Mule-Mart/Mule-Mart/pkg/mailer"
	"github.com/Mule-Mart/Mule-Mart/pkg/storage"
	"gorm.io/gorm"
)

// Deps are the collaborators shared by every handler
type Deps struct {
	DB      *gorm.DB
	Storage *storage.Service
	Mailer  mailer.Mailer
	Tokens  *jwtutil.Manager
	Ranker  search.Ranker
	Session config.SessionConfig
	BaseURL string
}

// Handler serves the marketplace API and pages
type Handler struct {
	db      *gorm.DB
	storage *storage.Service
	mailer  mailer.Mailer
	tokens  *jwtutil.Manager
	ranker  search.Ranker
	session config.SessionConfig
	baseURL string
}

func New(d Deps) *Handler {
	ranker := d.Ranker
	if ranker == nil {
		ranker = search.NewKeywordRanker()
	}
	return &Handler{
		db:      d.DB,
		storage: d.Storage,
		mailer:  d.Mailer,
		tokens:  d.Tokens,
		ranker:  ranker,
		session: d.Session,
		baseURL: d.BaseURL,
	}
}
