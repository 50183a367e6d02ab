package pins

import (
	"math"
	"testing"

	"github.com/MarcoPoloResearchLab/spotter/internal/apperrors"
)

func TestValidateDraftBoundaries(t *testing.T) {
	accepted := []Draft{
		{OwnerID: 1, Lat: 34.0224, Lng: -118.2851},
		{OwnerID: 1, Lat: -90, Lng: -180},
		{OwnerID: 1, Lat: 90, Lng: 180},
		{OwnerID: 1, ImageURL: stringPointer("https://cdn.example.com/a.jpg")},
		{OwnerID: 1, ImageURL: stringPointer("/uploads/a.jpg")},
	}
	for _, draft := range accepted {
		if err := ValidateDraft(draft); err != nil {
			t.Fatalf("expected %+v to be accepted: %v", draft, err)
		}
	}

	rejected := []Draft{
		{OwnerID: 0},
		{OwnerID: 1, Lat: 90.0001},
		{OwnerID: 1, Lng: -180.5},
		{OwnerID: 1, Lat: math.NaN()},
		{OwnerID: 1, Lng: math.Inf(1)},
		{OwnerID: 1, ImageURL: stringPointer("ftp://example.com/a.jpg")},
		{OwnerID: 1, ImageURL: stringPointer("")},
	}
	for _, draft := range rejected {
		if err := ValidateDraft(draft); !apperrors.IsValidation(err) {
			t.Fatalf("expected %+v to be rejected, got %v", draft, err)
		}
	}
}
