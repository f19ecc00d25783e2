package db

import "time"

// User is keyed by the transport-assigned user id, so the primary key is
// provided by the caller rather than auto-incremented.
type User struct {
	ID          int64     `gorm:"primaryKey;autoIncrement:false"`
	Username    string    `gorm:"size:64"`
	FirstName   string    `gorm:"size:64"`
	DisplayName string    `gorm:"size:32"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}
