// Package leaderboard ranks owners by how many pins they have created.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/spotter/internal/apperrors"
	"github.com/MarcoPoloResearchLab/spotter/internal/pins"
	"go.uber.org/zap"
)

// Type selects the count a leaderboard is ranked by.
type Type string

const (
	TypeWeekly  Type = "weekly"
	TypeAllTime Type = "all-time"

	// DefaultPage and DefaultPageSize apply when a client omits paging.
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var (
	errMissingSource    = errors.New("leaderboard: snapshot source is required")
	errMissingDirectory = errors.New("leaderboard: owner directory is required")
)

// ParseType matches a ranking type case-insensitively.
func ParseType(raw string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeWeekly:
		return TypeWeekly, nil
	case TypeAllTime:
		return TypeAllTime, nil
	case "":
		return "", apperrors.NewValidationError("type", "is required")
	default:
		return "", apperrors.NewValidationError("type", fmt.Sprintf("must be %q or %q", TypeWeekly, TypeAllTime))
	}
}

// Request is a leaderboard query.
type Request struct {
	Type     string
	Page     int
	PageSize int
}

// Entry is one ranked owner.
type Entry struct {
	UserID     int64
	Username   string
	WeeklyPins int64
	TotalPins  int64
}

// Page is a slice of the ranking plus the number of ranked owners.
type Page struct {
	Entries    []Entry
	TotalCount int
}

// SnapshotSource reads per-owner counts.
type SnapshotSource interface {
	Snapshot(ctx context.Context, since time.Time) ([]pins.OwnerCounts, error)
}

// UsernameDirectory resolves display names for owners.
type UsernameDirectory interface {
	Usernames(ctx context.Context, ownerIDs []int64) (map[int64]string, error)
}

// QueryMetrics observes leaderboard traffic.
type QueryMetrics interface {
	LeaderboardQuery(rankingType string)
}

type noopMetrics struct{}

func (noopMetrics) LeaderboardQuery(string) {}

// Config describes the dependencies of the aggregator.
type Config struct {
	Source    SnapshotSource
	Directory UsernameDirectory
	Metrics   QueryMetrics
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service computes rankings from the pin store at query time.
type Service struct {
	source    SnapshotSource
	directory UsernameDirectory
	metrics   QueryMetrics
	clock     func() time.Time
	logger    *zap.Logger
}

// NewService constructs the aggregator.
func NewService(cfg Config) (*Service, error) {
	if cfg.Source == nil {
		return nil, errMissingSource
	}
	if cfg.Directory == nil {
		return nil, errMissingDirectory
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		source:    cfg.Source,
		directory: cfg.Directory,
		metrics:   metrics,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Query validates the request, then ranks one consistent snapshot.
func (s *Service) Query(ctx context.Context, request Request) (Page, error) {
	rankingType, err := ParseType(request.Type)
	if err != nil {
		return Page{}, err
	}
	if request.Page < 1 {
		return Page{}, apperrors.NewValidationError("page", "must be at least 1")
	}
	if request.PageSize < 1 || request.PageSize > MaxPageSize {
		return Page{}, apperrors.NewValidationError("pageSize", fmt.Sprintf("must be between 1 and %d", MaxPageSize))
	}
	s.metrics.LeaderboardQuery(string(rankingType))

	since := s.clock().UTC().Add(-pins.WeeklyWindow)
	counts, err := s.source.Snapshot(ctx, since)
	if err != nil {
		s.logger.Error("leaderboard snapshot failed",
			zap.String("type", string(rankingType)),
			zap.Error(err))
		return Page{}, fmt.Errorf("leaderboard: snapshot: %w", err)
	}

	ranked, total := rank(counts, rankingType, request.Page, request.PageSize)
	entries := make([]Entry, 0, len(ranked))
	if len(ranked) == 0 {
		return Page{Entries: entries, TotalCount: total}, nil
	}

	ownerIDs := make([]int64, 0, len(ranked))
	for _, row := range ranked {
		ownerIDs = append(ownerIDs, row.OwnerID)
	}
	names, err := s.directory.Usernames(ctx, ownerIDs)
	if err != nil {
		s.logger.Error("leaderboard username lookup failed", zap.Error(err))
		return Page{}, fmt.Errorf("leaderboard: usernames: %w", err)
	}
	for _, row := range ranked {
		username, ok := names[row.OwnerID]
		if !ok {
			username = "user-" + strconv.FormatInt(row.OwnerID, 10)
		}
		entries = append(entries, Entry{
			UserID:     row.OwnerID,
			Username:   username,
			WeeklyPins: row.RecentPins,
			TotalPins:  row.TotalPins,
		})
	}
	return Page{Entries: entries, TotalCount: total}, nil
}

// rank keeps owners with a qualifying count, orders them by that count
// descending then owner id ascending, and cuts the requested page.
func rank(counts []pins.OwnerCounts, rankingType Type, page, pageSize int) ([]pins.OwnerCounts, int) {
	score := func(row pins.OwnerCounts) int64 {
		if rankingType == TypeWeekly {
			return row.RecentPins
		}
		return row.TotalPins
	}

	qualifying := make([]pins.OwnerCounts, 0, len(counts))
	for _, row := range counts {
		if score(row) > 0 {
			qualifying = append(qualifying, row)
		}
	}
	sort.Slice(qualifying, func(left, right int) bool {
		leftScore, rightScore := score(qualifying[left]), score(qualifying[right])
		if leftScore != rightScore {
			return leftScore > rightScore
		}
		return qualifying[left].OwnerID < qualifying[right].OwnerID
	})

	total := len(qualifying)
	// compare in page units so huge page numbers cannot overflow the offset
	if total == 0 || page-1 > (total-1)/pageSize {
		return nil, total
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if end > total {
		end = total
	}
	return qualifying[start:end], total
}
