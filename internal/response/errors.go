package response

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Mule-Mart/Mule-Mart/pkg/logger"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// HTTPErrorHandler renders errors escaping handlers (routing misses, body
// limit, panics recovered by middleware, unexpected failures) as the envelope
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "An unexpected error occurred"

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		switch m := he.Message.(type) {
		case string:
			message = m
		case error:
			message = m.Error()
		default:
			message = fmt.Sprint(m)
		}
		if status >= http.StatusInternalServerError {
			message = http.StatusText(status)
		}
	}

	if status >= http.StatusInternalServerError {
		logger.FromContext(c).Error("Unhandled error",
			zap.Error(err),
			zap.String("path", c.Request().URL.Path),
			zap.Stack("stack"))
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = Error(c, status, message, nil)
	}
	if writeErr != nil {
		logger.FromContext(c).Error("Failed to write error response", zap.Error(writeErr))
	}
}
