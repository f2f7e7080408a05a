package middleware

import (
	"github.com/Mule-Mart/Mule-Mart/pkg/logger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const RequestIDKey = logger.RequestIDKey

// RequestIDMiddleware keeps the caller's X-Request-ID or assigns a new one
func RequestIDMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := c.Request().Header.Get(RequestIDKey)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.New().String()
		}
		c.Set(RequestIDKey, requestID)
		c.Response().Header().Set(RequestIDKey, requestID)
		return next(c)
	}
}
