package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/townin/geocore/internal/core/domain"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // Error code: bad_request, not_found, internal_error, etc.
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, 400, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, 404, "not_found", msg)
}

// errUnprocessable returns a 422 error.
func errUnprocessable(c *fiber.Ctx, msg string) error {
	return newError(c, 422, "unprocessable", msg)
}

// errConflict returns a 409 error.
func errConflict(c *fiber.Ctx, msg string) error {
	return newError(c, 409, "conflict", msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, 500, "internal_error", msg)
}

// domainErrorStatus maps the domain error taxonomy to an HTTP status and code.
func domainErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidCoordinate),
		errors.Is(err, domain.ErrUnknownHubCategory):
		return 422, "unprocessable"
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrNotFound):
		return 404, "not_found"
	case errors.Is(err, domain.ErrConflictRetryable),
		errors.Is(err, domain.ErrDuplicateMember):
		return 409, "conflict"
	case errors.Is(err, domain.ErrTimeout):
		return 504, "timeout"
	default:
		return 500, "internal_error"
	}
}

// respondDomainError translates the domain error taxonomy to HTTP statuses.
func respondDomainError(c *fiber.Ctx, err error) error {
	status, code := domainErrorStatus(err)
	return newError(c, status, code, err.Error())
}
