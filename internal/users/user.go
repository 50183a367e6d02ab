package users

import (
	"strings"
	"time"
)

const maxUsernameLength = 64

// User is a registered owner of pins.
type User struct {
	UserID     int64     `gorm:"column:user_id;primaryKey;autoIncrement"`
	Username   string    `gorm:"column:username;size:64;not null;uniqueIndex"`
	LastSeenAt time.Time `gorm:"column:last_seen_at"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing registered users.
func (User) TableName() string {
	return "users"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
