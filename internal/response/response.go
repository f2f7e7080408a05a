// Package response renders the JSON envelope shared by every API endpoint:
//
//	{"success": bool, "message": string, "data": any, "errors": {field: message}}
package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Envelope is the body of every API response
type Envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    interface{}       `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// Success writes a success envelope with the given status
func Success(c echo.Context, status int, message string, data interface{}) error {
	if message == "" {
		message = "Success"
	}
	return c.JSON(status, Envelope{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// OK is Success with http.StatusOK
func OK(c echo.Context, message string, data interface{}) error {
	return Success(c, http.StatusOK, message, data)
}

// Created is Success with http.StatusCreated
func Created(c echo.Context, message string, data interface{}) error {
	return Success(c, http.StatusCreated, message, data)
}

// Error writes an error envelope. errors may be nil.
func Error(c echo.Context, status int, message string, errors map[string]string) error {
	return c.JSON(status, Envelope{
		Success: false,
		Message: message,
		Errors:  errors,
	})
}

// ValidationError writes a 400 envelope carrying field level messages
func ValidationError(c echo.Context, errors map[string]string) error {
	return Error(c, http.StatusBadRequest, "Validation failed", errors)
}

func BadRequest(c echo.Context, message string) error {
	return Error(c, http.StatusBadRequest, message, nil)
}

func Unauthorized(c echo.Context, message string) error {
	if message == "" {
		message = "Authentication required"
	}
	return Error(c, http.StatusUnauthorized, message, nil)
}

func Forbidden(c echo.Context, message string) error {
	return Error(c, http.StatusForbidden, message, nil)
}

func NotFound(c echo.Context, message string) error {
	return Error(c, http.StatusNotFound, message, nil)
}

// Internal writes the generic 500 envelope. The cause must be logged by the caller.
func Internal(c echo.Context) error {
	return Error(c, http.StatusInternalServerError, "An unexpected error occurred", nil)
}
