package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lllypuk/dashhost/internal/domain/errs"
)

// Response represents a standard API response.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents an error in the API response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondJSON sends a successful JSON response.
func RespondJSON(c echo.Context, code int, data any) error {
	return c.JSON(code, Response{
		Success: true,
		Data:    data,
	})
}

// RespondOK sends a 200 OK response with data.
func RespondOK(c echo.Context, data any) error {
	return RespondJSON(c, http.StatusOK, data)
}

// RespondAccepted sends a 202 Accepted response with data.
func RespondAccepted(c echo.Context, data any) error {
	return RespondJSON(c, http.StatusAccepted, data)
}

// RespondError maps err onto a status code through the shared sentinels in
// errs. Anything unrecognized becomes a 500 without leaking the detail.
func RespondError(c echo.Context, err error) error {
	statusCode, apiError := mapError(err)
	return c.JSON(statusCode, Response{
		Success: false,
		Error:   apiError,
	})
}

// RespondErrorWithCode sends an error JSON response with a specific HTTP status code.
func RespondErrorWithCode(c echo.Context, code int, errorCode, message string) error {
	return c.JSON(code, Response{
		Success: false,
		Error: &Error{
			Code:    errorCode,
			Message: message,
		},
	})
}

// errorMappings is checked in order; the first sentinel found in the chain wins.
var errorMappings = []struct {
	target  error
	status  int
	code    string
	message string // empty keeps err.Error()
}{
	{errs.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "The requested resource was not found"},
	{errs.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT", ""},
	{errs.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE", ""},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT", "The operation timed out"},
}

func mapError(err error) (int, *Error) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.message
		if msg == "" {
			msg = err.Error()
		}
		return m.status, &Error{Code: m.code, Message: msg}
	}

	return http.StatusInternalServerError, &Error{
		Code:    "INTERNAL_ERROR",
		Message: "An internal error occurred",
	}
}
