package pins

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/spotter/internal/apperrors"
	"github.com/google/go-cmp/cmp"
)

var storeEpoch = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func TestStoreCreateAssignsIncreasingIDs(t *testing.T) {
	clock := &manualClock{now: storeEpoch}
	store := newTestStore(t, clock, 1)
	ctx := context.Background()

	first, err := store.Create(ctx, Draft{OwnerID: 1, Lat: 34.0224, Lng: -118.2851, Description: "  by the fountain "})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	clock.Advance(time.Second)
	second, err := store.Create(ctx, Draft{OwnerID: 1, Lat: 0, Lng: 0})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if second.PinID <= first.PinID {
		t.Fatalf("expected increasing ids, got %d then %d", first.PinID, second.PinID)
	}
	if first.Description != "by the fountain" {
		t.Fatalf("expected trimmed description, got %q", first.Description)
	}
	if !first.CreatedAt().Equal(storeEpoch) {
		t.Fatalf("unexpected timestamp %s", first.CreatedAt())
	}

	reloaded, err := store.Get(ctx, first.PinID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if diff := cmp.Diff(first, reloaded); diff != "" {
		t.Fatalf("reloaded pin differs (-want +got):\n%s", diff)
	}
}

func TestStoreCreateValidation(t *testing.T) {
	store := newTestStore(t, &manualClock{now: storeEpoch}, 1)

	testCases := map[string]struct {
		draft Draft
		field string
	}{
		"latitude above range":  {draft: Draft{OwnerID: 1, Lat: 91, Lng: 0}, field: "lat"},
		"longitude above range": {draft: Draft{OwnerID: 1, Lat: 0, Lng: 181}, field: "lng"},
		"description too long":  {draft: Draft{OwnerID: 1, Description: strings.Repeat("\U0001F43F", MaxDescriptionLength+1)}, field: "description"},
		"relative image url":    {draft: Draft{OwnerID: 1, ImageURL: stringPointer("uploads/x.png")}, field: "image_url"},
	}
	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := store.Create(context.Background(), testCase.draft)
			var validationErr *apperrors.ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if validationErr.Field != testCase.field {
				t.Fatalf("expected field %q, got %q", testCase.field, validationErr.Field)
			}
		})
	}

	if _, err := store.Create(context.Background(), Draft{OwnerID: 1, Description: strings.Repeat("\U0001F43F", MaxDescriptionLength)}); err != nil {
		t.Fatalf("description at the limit should be accepted: %v", err)
	}
}

func TestStoreGetMissingPin(t *testing.T) {
	store := newTestStore(t, &manualClock{now: storeEpoch})

	if _, err := store.Get(context.Background(), 404); !apperrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreListByOwner(t *testing.T) {
	clock := &manualClock{now: storeEpoch}
	store := newTestStore(t, clock, 1, 2)
	ctx := context.Background()

	var created []int64
	for index := 0; index < 3; index++ {
		pin, err := store.Create(ctx, Draft{OwnerID: 1, Lat: float64(index), Lng: 0})
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		created = append(created, pin.PinID)
		clock.Advance(time.Minute)
	}

	listed, err := store.ListByOwner(ctx, 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if diff := cmp.Diff(created, pinIDs(listed)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}

	empty, err := store.ListByOwner(ctx, 2)
	if err != nil {
		t.Fatalf("list for known owner failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}

	if _, err := store.ListByOwner(ctx, 3); !apperrors.IsNotFound(err) {
		t.Fatalf("expected not found for unknown owner, got %v", err)
	}
}

func TestStoreListWeeklyNewestFirstWithinWindow(t *testing.T) {
	clock := &manualClock{now: storeEpoch}
	store := newTestStore(t, clock, 1, 2)
	ctx := context.Background()

	old, err := store.Create(ctx, Draft{OwnerID: 1})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	clock.Advance(2 * 24 * time.Hour)
	middle, _ := store.Create(ctx, Draft{OwnerID: 2})
	sameInstant, _ := store.Create(ctx, Draft{OwnerID: 1})
	clock.Advance(time.Hour)
	newest, _ := store.Create(ctx, Draft{OwnerID: 2})

	clock.Advance(WeeklyWindow - 2*24*time.Hour)
	weekly, err := store.ListWeekly(ctx)
	if err != nil {
		t.Fatalf("list weekly failed: %v", err)
	}
	want := []int64{newest.PinID, sameInstant.PinID, middle.PinID}
	if diff := cmp.Diff(want, pinIDs(weekly)); diff != "" {
		t.Fatalf("unexpected weekly feed (-want +got):\n%s", diff)
	}
	for _, pin := range weekly {
		if pin.PinID == old.PinID {
			t.Fatalf("pin older than a week should be excluded")
		}
	}
}

func TestStoreSnapshotCountsTotalsAndRecent(t *testing.T) {
	clock := &manualClock{now: storeEpoch}
	store := newTestStore(t, clock, 1, 2)
	ctx := context.Background()

	_, _ = store.Create(ctx, Draft{OwnerID: 1})
	clock.Advance(10 * 24 * time.Hour)
	_, _ = store.Create(ctx, Draft{OwnerID: 1})
	_, _ = store.Create(ctx, Draft{OwnerID: 2})

	counts, err := store.Snapshot(ctx, clock.Now().Add(-WeeklyWindow))
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	byOwner := make(map[int64]OwnerCounts, len(counts))
	for _, entry := range counts {
		byOwner[entry.OwnerID] = entry
	}
	want := map[int64]OwnerCounts{
		1: {OwnerID: 1, TotalPins: 2, RecentPins: 1},
		2: {OwnerID: 2, TotalPins: 1, RecentPins: 1},
	}
	if diff := cmp.Diff(want, byOwner); diff != "" {
		t.Fatalf("unexpected counts (-want +got):\n%s", diff)
	}
}

func pinIDs(pins []Pin) []int64 {
	ids := make([]int64, 0, len(pins))
	for _, pin := range pins {
		ids = append(ids, pin.PinID)
	}
	return ids
}
