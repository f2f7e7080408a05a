package main

import (
	"github.com/Mule-Mart/Mule-Mart/internal/handler"
	"github.com/Mule-Mart/Mule-Mart/internal/middleware"
	"github.com/Mule-Mart/Mule-Mart/pkg/config"
	"github.com/Mule-Mart/Mule-Mart/pkg/database"
	"github.com/Mule-Mart/Mule-Mart/pkg/jwtutil"
	"github.com/Mule-Mart/Mule-Mart/pkg/logger"
	"github.com/Mule-Mart/Mule-Mart/pkg/mailer"
	"github.com/Mule-Mart/Mule-Mart/pkg/storage"

	"go.uber.org/zap"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logger.InitLogger(cfg)
	log := logger.GetLogger()
	log.Info("Starting Mule Mart...", cfg.LogConfig()...)

	db, err := database.InitDB(&cfg.DB)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}
	log.Info("Database connection established", zap.String("driver", cfg.DB.Driver))

	store, err := storage.NewMinioStore(cfg.Storage)
	if err != nil {
		log.Fatal("Failed to initialize object storage", zap.Error(err))
	}

	tokens := jwtutil.NewManager(cfg.Session.SigningKey)

	h := handler.New(handler.Deps{
		DB:      db,
		Storage: storage.NewService(store, cfg.Storage.PresignExpiry),
		Mailer:  mailer.New(cfg.Mail, log),
		Tokens:  tokens,
		Session: cfg.Session,
		BaseURL: cfg.Server.BaseURL,
	})

	e := handler.NewRouter(h, handler.RouterConfig{
		Auth:        middleware.NewAuthenticator(db, tokens, cfg.Session.CookieName),
		AuthLimiter: middleware.NewRateLimiter(cfg.RateLimit.AuthRPS, cfg.RateLimit.AuthBurst),
		Logger:      log,
		BodyLimit:   cfg.Server.BodyLimit,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	port := cfg.Server.Port
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
