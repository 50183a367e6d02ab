package pins

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type stubDirectory struct {
	owners map[int64]bool
}

func (d stubDirectory) Exists(_ context.Context, ownerID int64) (bool, error) {
	return d.owners[ownerID], nil
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(delta time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(delta)
	c.mu.Unlock()
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "pins.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Pin{}); err != nil {
		t.Fatalf("failed to migrate pin schema: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, clock *manualClock, owners ...int64) *Store {
	t.Helper()
	known := make(map[int64]bool, len(owners))
	for _, owner := range owners {
		known[owner] = true
	}
	store, err := NewStore(StoreConfig{
		Database:  openTestDatabase(t),
		Directory: stubDirectory{owners: known},
		Clock:     clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func float64Pointer(value float64) *float64 {
	return &value
}

func stringPointer(value string) *string {
	return &value
}
