package users

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/spotter/internal/apperrors"
	"github.com/MarcoPoloResearchLab/spotter/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/go-cmp/cmp"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("failed to migrate user schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func TestEnsureUserCreatesOnceAndCaches(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	claims := auth.SessionClaims{UserID: 12, Username: " nutcracker "}
	principal, err := service.EnsureUser(ctx, claims)
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if principal.OwnerID != 12 || principal.Username != "nutcracker" {
		t.Fatalf("unexpected principal: %+v", principal)
	}

	// second call should hit cache and not create a duplicate record.
	if _, err := service.EnsureUser(ctx, claims); err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
	var count int64
	if err := db.Model(&User{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one user row, got %d", count)
	}
}

func TestEnsureUserFallsBackWhenUsernameMissing(t *testing.T) {
	service, _ := newTestService(t)

	principal, err := service.EnsureUser(context.Background(), auth.SessionClaims{UserID: 77})
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if principal.Username != "user-77" {
		t.Fatalf("expected fallback username, got %q", principal.Username)
	}
}

func TestEnsureUserFallsBackWhenUsernameTaken(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	taken, err := service.Create(ctx, "acorn")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	ownerID := taken.UserID + 100

	principal, err := service.EnsureUser(ctx, auth.SessionClaims{UserID: ownerID, Username: "acorn"})
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if principal.OwnerID != ownerID || principal.Username != fmt.Sprintf("user-%d", ownerID) {
		t.Fatalf("expected generated username, got %+v", principal)
	}

	// later requests keep resolving the same principal
	again, err := service.EnsureUser(ctx, auth.SessionClaims{UserID: ownerID, Username: "acorn"})
	if err != nil || again != principal {
		t.Fatalf("expected stable principal, got %+v, %v", again, err)
	}
}

func TestEnsureUserRejectsInvalidIdentity(t *testing.T) {
	service, _ := newTestService(t)

	if _, err := service.EnsureUser(context.Background(), auth.SessionClaims{}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected invalid identity, got %v", err)
	}
}

func TestCreateRejectsDuplicateUsername(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	first, err := service.Create(ctx, "acorn")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if first.UserID <= 0 {
		t.Fatalf("expected assigned user id, got %d", first.UserID)
	}
	if _, err := service.Create(ctx, "acorn"); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := service.Create(ctx, "   "); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExistsAndUsernames(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	if err := db.Create(&[]User{{UserID: 1, Username: "alpha"}, {UserID: 2, Username: "beta"}}).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	exists, err := service.Exists(ctx, 2)
	if err != nil || !exists {
		t.Fatalf("expected owner 2 to exist: %v %v", exists, err)
	}
	exists, err = service.Exists(ctx, 3)
	if err != nil || exists {
		t.Fatalf("expected owner 3 to be unknown: %v %v", exists, err)
	}

	names, err := service.Usernames(ctx, []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("usernames failed: %v", err)
	}
	want := map[int64]string{1: "alpha", 2: "beta"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("unexpected usernames (-want +got):\n%s", diff)
	}
}
