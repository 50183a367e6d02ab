package server

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/spotter/internal/apperrors"
	"github.com/MarcoPoloResearchLab/spotter/internal/images"
	"github.com/MarcoPoloResearchLab/spotter/internal/pins"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// multipart overhead beyond the image itself
const formOverheadBytes = 1 << 20

type createPinJSON struct {
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	Description string   `json:"description"`
	ImageURL    *string  `json:"image_url"`
}

func (h *httpHandler) handleCreatePin(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		h.writeError(c, apperrors.ErrUnauthenticated)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+formOverheadBytes)

	request, cleanup, err := h.bindCreateRequest(c)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	request.Principal = principal

	pin, err := h.ingestor.Create(c.Request.Context(), request)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pins.NewView(pin, principal.Username))
}

// bindCreateRequest accepts JSON, urlencoded, and multipart bodies. The
// returned cleanup closes an uploaded file, if any.
func (h *httpHandler) bindCreateRequest(c *gin.Context) (pins.CreateRequest, func(), error) {
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var body createPinJSON
		if err := c.ShouldBindJSON(&body); err != nil {
			return pins.CreateRequest{}, nil, apperrors.NewValidationError("body", "must be valid JSON")
		}
		return pins.CreateRequest{
			Lat:         body.Lat,
			Lng:         body.Lng,
			Description: body.Description,
			ImageURL:    nonEmpty(body.ImageURL),
		}, nil, nil
	}

	lat, err := formFloat(c, "lat")
	if err != nil {
		return pins.CreateRequest{}, nil, err
	}
	lng, err := formFloat(c, "lng")
	if err != nil {
		return pins.CreateRequest{}, nil, err
	}
	request := pins.CreateRequest{
		Lat:         lat,
		Lng:         lng,
		Description: c.PostForm("description"),
	}
	if raw, ok := c.GetPostForm("image_url"); ok {
		request.ImageURL = nonEmpty(&raw)
	}

	header, err := c.FormFile("image")
	switch {
	case err == nil:
		file, openErr := header.Open()
		if openErr != nil {
			h.logger.Warn("uploaded image could not be opened", zap.Error(openErr))
			return request, nil, nil
		}
		request.Image = &images.Upload{Filename: header.Filename, Reader: file}
		return request, func() { _ = file.Close() }, nil
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart), errors.Is(err, multipart.ErrMessageTooLarge):
		return request, nil, nil
	default:
		h.logger.Debug("image form field unreadable", zap.Error(err))
		return request, nil, nil
	}
}

func formFloat(c *gin.Context, field string) (*float64, error) {
	raw := strings.TrimSpace(c.PostForm(field))
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperrors.NewValidationError(field, "must be a number")
	}
	return &value, nil
}

func nonEmpty(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (h *httpHandler) handleGetPin(c *gin.Context) {
	pinID, err := parseID(c.Param("pinID"), "pinID")
	if err != nil {
		h.writeError(c, err)
		return
	}
	pin, err := h.pins.Get(c.Request.Context(), pinID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respondPins(c, []pins.Pin{pin}, true)
}

func (h *httpHandler) handleListWeekly(c *gin.Context) {
	list, err := h.pins.ListWeekly(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respondPins(c, list, false)
}

func (h *httpHandler) handleListMine(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		h.writeError(c, apperrors.ErrUnauthenticated)
		return
	}
	list, err := h.pins.ListByOwner(c.Request.Context(), principal.OwnerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respondPins(c, list, false)
}

func (h *httpHandler) handleListByOwner(c *gin.Context) {
	ownerID, err := parseID(c.Param("userID"), "userID")
	if err != nil {
		h.writeError(c, err)
		return
	}
	list, err := h.pins.ListByOwner(c.Request.Context(), ownerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respondPins(c, list, false)
}

func (h *httpHandler) respondPins(c *gin.Context, list []pins.Pin, single bool) {
	views, err := h.renderPins(c.Request.Context(), list)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if single {
		c.JSON(http.StatusOK, views[0])
		return
	}
	c.JSON(http.StatusOK, views)
}
