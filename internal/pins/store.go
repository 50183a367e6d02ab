package pins

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/spotter/internal/apperrors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OwnerDirectory answers whether an owner is registered.
type OwnerDirectory interface {
	Exists(ctx context.Context, ownerID int64) (bool, error)
}

// StoreConfig describes the dependencies of the pin store.
type StoreConfig struct {
	Database  *gorm.DB
	Directory OwnerDirectory
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Store persists and reads pins.
type Store struct {
	db        *gorm.DB
	directory OwnerDirectory
	clock     func() time.Time
	logger    *zap.Logger
}

// NewStore constructs a pin store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, reasonDatabase, errMissingDatabase)
	}
	if cfg.Directory == nil {
		return nil, newServiceError(opStoreNew, "missing_directory", errMissingDirectory)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:        cfg.Database,
		directory: cfg.Directory,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Create validates the draft, then assigns an id and timestamp and persists
// the pin in one transaction.
func (s *Store) Create(ctx context.Context, draft Draft) (Pin, error) {
	draft.Description = NormalizeDescription(draft.Description)
	if err := ValidateDraft(draft); err != nil {
		return Pin{}, err
	}

	pin := Pin{
		OwnerID:         draft.OwnerID,
		Lat:             draft.Lat,
		Lng:             draft.Lng,
		Description:     draft.Description,
		ImageURL:        draft.ImageURL,
		CreatedAtMillis: s.clock().UTC().UnixMilli(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&pin).Error
	})
	if err != nil {
		logError(s.logger, opCreate, "insert_failed", err, zap.Int64("owner_id", draft.OwnerID))
		return Pin{}, newServiceError(opCreate, "insert_failed", err)
	}
	return pin, nil
}

// Get returns a single pin by id.
func (s *Store) Get(ctx context.Context, pinID int64) (Pin, error) {
	var pin Pin
	err := s.db.WithContext(ctx).Where("pin_id = ?", pinID).Take(&pin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Pin{}, apperrors.NewNotFoundError("pin", strconv.FormatInt(pinID, 10))
	}
	if err != nil {
		logError(s.logger, opGet, reasonQuery, err, zap.Int64("pin_id", pinID))
		return Pin{}, newServiceError(opGet, reasonQuery, err)
	}
	return pin, nil
}

// ListByOwner returns the owner's pins in creation order. Unknown owners are
// NotFound; known owners with no pins get an empty slice.
func (s *Store) ListByOwner(ctx context.Context, ownerID int64) ([]Pin, error) {
	exists, err := s.directory.Exists(ctx, ownerID)
	if err != nil {
		logError(s.logger, opListByOwner, "directory_failed", err, zap.Int64("owner_id", ownerID))
		return nil, newServiceError(opListByOwner, "directory_failed", err)
	}
	if !exists {
		return nil, apperrors.NewNotFoundError("user", strconv.FormatInt(ownerID, 10))
	}

	pins := make([]Pin, 0)
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("pin_id ASC").
		Find(&pins).Error; err != nil {
		logError(s.logger, opListByOwner, reasonQuery, err, zap.Int64("owner_id", ownerID))
		return nil, newServiceError(opListByOwner, reasonQuery, err)
	}
	return pins, nil
}

// ListWeekly returns pins created within the trailing week, newest first.
func (s *Store) ListWeekly(ctx context.Context) ([]Pin, error) {
	since := s.clock().UTC().Add(-WeeklyWindow).UnixMilli()

	pins := make([]Pin, 0)
	if err := s.db.WithContext(ctx).
		Where("created_at_ms >= ?", since).
		Order("created_at_ms DESC").
		Order("pin_id DESC").
		Find(&pins).Error; err != nil {
		logError(s.logger, opListWeekly, reasonQuery, err)
		return nil, newServiceError(opListWeekly, reasonQuery, err)
	}
	return pins, nil
}

// Snapshot returns per-owner totals and the count of pins created at or after
// since, read inside one transaction.
func (s *Store) Snapshot(ctx context.Context, since time.Time) ([]OwnerCounts, error) {
	sinceMillis := since.UTC().UnixMilli()

	counts := make([]OwnerCounts, 0)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Model(&Pin{}).
			Select("owner_id, COUNT(*) AS total_pins, COALESCE(SUM(CASE WHEN created_at_ms >= ? THEN 1 ELSE 0 END), 0) AS recent_pins", sinceMillis).
			Group("owner_id").
			Scan(&counts).Error
	})
	if err != nil {
		logError(s.logger, opSnapshot, reasonQuery, err)
		return nil, newServiceError(opSnapshot, reasonQuery, err)
	}
	return counts, nil
}

// Now exposes the store clock so readers share one notion of time.
func (s *Store) Now() time.Time {
	return s.clock()
}
