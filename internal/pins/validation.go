package pins

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/spotter/internal/apperrors"
)

const (
	// MaxDescriptionLength is counted in Unicode code points.
	MaxDescriptionLength = 500
	maxImageURLLength    = 1024
)

// ValidateDraft checks coordinates, description length, and the image
// reference. It never touches storage.
func ValidateDraft(draft Draft) error {
	if draft.OwnerID <= 0 {
		return apperrors.NewValidationError("userID", "must be positive")
	}
	if math.IsNaN(draft.Lat) || draft.Lat < -90 || draft.Lat > 90 {
		return apperrors.NewValidationError("lat", "must be between -90 and 90")
	}
	if math.IsNaN(draft.Lng) || draft.Lng < -180 || draft.Lng > 180 {
		return apperrors.NewValidationError("lng", "must be between -180 and 180")
	}
	if utf8.RuneCountInString(draft.Description) > MaxDescriptionLength {
		return apperrors.NewValidationError("description", fmt.Sprintf("must be at most %d characters", MaxDescriptionLength))
	}
	if draft.ImageURL != nil {
		if err := validateImageURL(*draft.ImageURL); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeDescription trims surrounding whitespace.
func NormalizeDescription(description string) string {
	return strings.TrimSpace(description)
}

// validateImageURL accepts absolute http(s) URLs and server-relative paths.
func validateImageURL(raw string) error {
	if raw == "" {
		return apperrors.NewValidationError("image_url", "must not be empty")
	}
	if len(raw) > maxImageURLLength {
		return apperrors.NewValidationError("image_url", fmt.Sprintf("must be at most %d bytes", maxImageURLLength))
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return apperrors.NewValidationError("image_url", "must be a valid URL")
	}
	switch {
	case parsed.Scheme == "" && parsed.Host == "" && strings.HasPrefix(parsed.Path, "/"):
		return nil
	case (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != "":
		return nil
	default:
		return apperrors.NewValidationError("image_url", "must be an http(s) URL or an absolute path")
	}
}
