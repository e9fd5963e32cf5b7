package response

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/gamassss/edgelink/internal/logger"
	"github.com/gin-gonic/gin"
)

type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrorResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors"`
}

func Success(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func Error(c *gin.Context, statusCode int, message string) {
	c.AbortWithStatusJSON(statusCode, Response{
		Success: false,
		Error:   message,
	})
}

func ValidationErrors(c *gin.Context, errors []ValidationError) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ValidationErrorResponse{
		Success: false,
		Message: "Validation failed",
		Errors:  errors,
	})
}

func Created(c *gin.Context, message string, data interface{}) {
	Success(c, http.StatusCreated, message, data)
}

func OK(c *gin.Context, message string, data interface{}) {
	Success(c, http.StatusOK, message, data)
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

func InternalServerError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, message)
}

func Conflict(c *gin.Context, message string) {
	Error(c, http.StatusConflict, message)
}

// SetRateLimitHeaders writes the X-RateLimit-* headers. reset is sent as
// unix seconds.
func SetRateLimitHeaders(c *gin.Context, limit, remaining int, reset time.Time) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}

// StatusFor maps a domain error to its HTTP status. Unknown errors are 500.
func StatusFor(err error) int {
	var (
		rateLimited   *domain.RateLimitedError
		invalidConfig *domain.InvalidRoutingConfigError
		invalidField  *domain.ValidationError
	)

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone
	case errors.As(err, &rateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrPasswordRequired), errors.Is(err, domain.ErrIdentityRequired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrPasswordIncorrect), errors.Is(err, domain.ErrPlanRequired), errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrSlugTaken), errors.Is(err, domain.ErrWebhookLimit):
		return http.StatusConflict
	case errors.As(err, &invalidConfig), errors.As(err, &invalidField), errors.Is(err, domain.ErrExpiryInPast):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// FromError writes the error response for err. Internal errors are logged
// and replaced by a generic message.
func FromError(c *gin.Context, err error) {
	status := StatusFor(err)

	var rateLimited *domain.RateLimitedError
	if errors.As(err, &rateLimited) {
		SetRateLimitHeaders(c, rateLimited.Limit, rateLimited.Remaining, rateLimited.ResetAt)
		retryAfter := rateLimited.RetryAfter(time.Now())
		c.Header("Retry-After", strconv.Itoa(int(retryAfter/time.Second)))
	}

	if status == http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("Request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
		c.Error(err)
		InternalServerError(c, "Internal server error")
		return
	}

	Error(c, status, err.Error())
}
