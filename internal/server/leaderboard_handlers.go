package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/spotter/internal/apperrors"
	"github.com/MarcoPoloResearchLab/spotter/internal/leaderboard"
	"github.com/gin-gonic/gin"
)

type leaderboardEntryView struct {
	UserID     int64  `json:"userID"`
	Username   string `json:"username"`
	WeeklyPins int64  `json:"weeklyPins"`
	TotalPins  int64  `json:"totalPins"`
}

type leaderboardView struct {
	Entries    []leaderboardEntryView `json:"entries"`
	TotalCount int                    `json:"totalCount"`
	Page       int                    `json:"page"`
	PageSize   int                    `json:"pageSize"`
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	page, err := queryInt(c, "page", leaderboard.DefaultPage)
	if err != nil {
		h.writeError(c, err)
		return
	}
	pageSize, err := queryInt(c, "pageSize", leaderboard.DefaultPageSize)
	if err != nil {
		h.writeError(c, err)
		return
	}

	result, err := h.leaderboard.Query(c.Request.Context(), leaderboard.Request{
		Type:     c.Query("type"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	entries := make([]leaderboardEntryView, 0, len(result.Entries))
	for _, entry := range result.Entries {
		entries = append(entries, leaderboardEntryView{
			UserID:     entry.UserID,
			Username:   entry.Username,
			WeeklyPins: entry.WeeklyPins,
			TotalPins:  entry.TotalPins,
		})
	}
	c.JSON(http.StatusOK, leaderboardView{
		Entries:    entries,
		TotalCount: result.TotalCount,
		Page:       page,
		PageSize:   pageSize,
	})
}

func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewValidationError(name, "must be an integer")
	}
	return value, nil
}
