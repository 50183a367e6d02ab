package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/spotter/internal/apperrors"
	"github.com/MarcoPoloResearchLab/spotter/internal/pins"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorPayload struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	Field             string `json:"field,omitempty"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds,omitempty"`
}

// writeError maps the error taxonomy onto HTTP statuses.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	var validation *apperrors.ValidationError
	var rateLimited *apperrors.RateLimitedError
	var notFound *apperrors.NotFoundError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_request", Message: validation.Error(), Field: validation.Field})
	case errors.As(err, &rateLimited):
		retryAfter := rateLimited.RetryAfterSeconds()
		c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		c.JSON(http.StatusTooManyRequests, errorPayload{Error: "rate_limited", Message: rateLimited.Error(), RetryAfterSeconds: retryAfter})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, errorPayload{Error: "not_found", Message: notFound.Error()})
	case errors.Is(err, apperrors.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Message: "authentication required"})
	case errors.Is(err, apperrors.ErrConflict):
		c.JSON(http.StatusConflict, errorPayload{Error: "conflict", Message: err.Error()})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorPayload{Error: "internal_error", Message: "internal server error"})
	}
}

// renderPins resolves usernames in one directory call and renders the views.
func (h *httpHandler) renderPins(ctx context.Context, list []pins.Pin) ([]pins.View, error) {
	ownerIDs := make([]int64, 0, len(list))
	seen := make(map[int64]struct{}, len(list))
	for _, pin := range list {
		if _, ok := seen[pin.OwnerID]; ok {
			continue
		}
		seen[pin.OwnerID] = struct{}{}
		ownerIDs = append(ownerIDs, pin.OwnerID)
	}
	names := map[int64]string{}
	if len(ownerIDs) > 0 {
		resolved, err := h.directory.Usernames(ctx, ownerIDs)
		if err != nil {
			return nil, err
		}
		names = resolved
	}
	views := make([]pins.View, 0, len(list))
	for _, pin := range list {
		views = append(views, pins.NewView(pin, usernameOrFallback(names, pin.OwnerID)))
	}
	return views, nil
}

func usernameOrFallback(names map[int64]string, ownerID int64) string {
	if name, ok := names[ownerID]; ok && name != "" {
		return name
	}
	return "user-" + strconv.FormatInt(ownerID, 10)
}

func parseID(raw, field string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError(field, "must be a positive integer")
	}
	return id, nil
}
