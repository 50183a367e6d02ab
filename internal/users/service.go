package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/spotter/internal/apperrors"
	"github.com/MarcoPoloResearchLab/spotter/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for the owner directory.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Service is the owner directory: it records users seen through session
// tokens and answers existence and username lookups.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
	cache  sync.Map
}

// NewService constructs the directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
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
		db:     cfg.Database,
		logger: logger,
		now:    clock,
		cache:  sync.Map{},
	}, nil
}

// EnsureUser resolves the principal for validated session claims, creating the
// directory row the first time an owner is seen.
func (s *Service) EnsureUser(ctx context.Context, claims auth.SessionClaims) (auth.Principal, error) {
	if claims.UserID <= 0 {
		return auth.Principal{}, ErrInvalidIdentity
	}

	if cached, ok := s.cache.Load(claims.UserID); ok {
		if username, ok := cached.(string); ok {
			return auth.Principal{OwnerID: claims.UserID, Username: username}, nil
		}
	}

	db := s.db.WithContext(ctx)
	var user User
	err := db.Where("user_id = ?", claims.UserID).Take(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		username := normalize(claims.Username)
		if username == "" || utf8.RuneCountInString(username) > maxUsernameLength {
			username = fallbackUsername(claims.UserID)
		}
		user = User{
			UserID:     claims.UserID,
			Username:   username,
			LastSeenAt: s.now().UTC(),
		}
		created, err := s.createForClaims(ctx, user)
		if err != nil {
			return auth.Principal{}, err
		}
		user = created
	case err != nil:
		return auth.Principal{}, err
	default:
		if updateErr := db.Model(&User{}).
			Where("user_id = ?", user.UserID).
			Update("last_seen_at", s.now().UTC()).
			Error; updateErr != nil {
			s.logger.Warn("failed to record user activity", zap.Int64("user_id", user.UserID), zap.Error(updateErr))
		}
	}

	s.cache.Store(user.UserID, user.Username)
	return auth.Principal{OwnerID: user.UserID, Username: user.Username}, nil
}

// createForClaims inserts the directory row for a first-seen owner. A row
// written concurrently for the same id wins; a username taken by another
// owner falls back to the generated name.
func (s *Service) createForClaims(ctx context.Context, user User) (User, error) {
	db := s.db.WithContext(ctx)
	err := db.Create(&user).Error
	if err == nil || !isUniqueViolation(err) {
		return user, err
	}

	var existing User
	if lookupErr := db.Where("user_id = ?", user.UserID).Take(&existing).Error; lookupErr == nil {
		return existing, nil
	}

	fallback := fallbackUsername(user.UserID)
	if user.Username == fallback {
		return User{}, fmt.Errorf("%w: username %q already taken", apperrors.ErrConflict, fallback)
	}
	s.logger.Warn("username taken; using generated name",
		zap.Int64("user_id", user.UserID),
		zap.String("username", user.Username))
	user.Username = fallback
	if err := db.Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("%w: username %q already taken", apperrors.ErrConflict, fallback)
		}
		return User{}, err
	}
	return user, nil
}

// Create registers a new user with the given username.
func (s *Service) Create(ctx context.Context, username string) (User, error) {
	trimmed := normalize(username)
	if trimmed == "" {
		return User{}, apperrors.NewValidationError("username", "is required")
	}
	if utf8.RuneCountInString(trimmed) > maxUsernameLength {
		return User{}, apperrors.NewValidationError("username", fmt.Sprintf("must be at most %d characters", maxUsernameLength))
	}

	user := User{Username: trimmed, LastSeenAt: s.now().UTC()}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("%w: username %q already taken", apperrors.ErrConflict, trimmed)
		}
		return User{}, err
	}
	s.cache.Store(user.UserID, user.Username)
	return user, nil
}

// Exists reports whether the owner is present in the directory.
func (s *Service) Exists(ctx context.Context, ownerID int64) (bool, error) {
	if ownerID <= 0 {
		return false, nil
	}
	if _, ok := s.cache.Load(ownerID); ok {
		return true, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("user_id = ?", ownerID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Usernames returns the usernames of the requested owners. Unknown owners are
// absent from the result.
func (s *Service) Usernames(ctx context.Context, ownerIDs []int64) (map[int64]string, error) {
	result := make(map[int64]string, len(ownerIDs))
	missing := make([]int64, 0, len(ownerIDs))
	for _, ownerID := range ownerIDs {
		if cached, ok := s.cache.Load(ownerID); ok {
			if username, ok := cached.(string); ok {
				result[ownerID] = username
				continue
			}
		}
		missing = append(missing, ownerID)
	}
	if len(missing) == 0 {
		return result, nil
	}

	var rows []User
	if err := s.db.WithContext(ctx).Where("user_id IN ?", missing).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.UserID] = row.Username
		s.cache.Store(row.UserID, row.Username)
	}
	return result, nil
}

func fallbackUsername(userID int64) string {
	return "user-" + strconv.FormatInt(userID, 10)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
