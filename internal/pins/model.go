package pins

import "time"

// WeeklyWindow is the trailing span covered by the weekly feed and ranking.
const WeeklyWindow = 7 * 24 * time.Hour

// Pin is a persisted geotagged sighting. Pins are immutable once created.
type Pin struct {
	PinID           int64   `gorm:"column:pin_id;primaryKey;autoIncrement;index:idx_pins_owner_pin,priority:2"`
	OwnerID         int64   `gorm:"column:owner_id;not null;index:idx_pins_owner_pin,priority:1"`
	Lat             float64 `gorm:"column:lat;not null"`
	Lng             float64 `gorm:"column:lng;not null"`
	Description     string  `gorm:"column:description;size:2048;not null;default:''"`
	ImageURL        *string `gorm:"column:image_url;size:1024"`
	CreatedAtMillis int64   `gorm:"column:created_at_ms;not null;index:idx_pins_created_at"`
}

// TableName exposes the table backing pins.
func (Pin) TableName() string {
	return "pins"
}

// CreatedAt returns the creation instant in UTC.
func (p Pin) CreatedAt() time.Time {
	return time.UnixMilli(p.CreatedAtMillis).UTC()
}

// Draft is a pin that has not been assigned an id or timestamp yet.
type Draft struct {
	OwnerID     int64
	Lat         float64
	Lng         float64
	Description string
	ImageURL    *string
}

// OwnerCounts is one owner's pin totals at a snapshot.
type OwnerCounts struct {
	OwnerID    int64 `gorm:"column:owner_id"`
	TotalPins  int64 `gorm:"column:total_pins"`
	RecentPins int64 `gorm:"column:recent_pins"`
}
