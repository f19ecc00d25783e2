package db

import "time"

const (
	StatusWaiting  = "waiting"
	StatusActive   = "active"
	StatusFinished = "finished"
)

// GameSession codes are unique only among non-finished sessions, enforced at
// generation time rather than by the schema, so a finished game may keep a
// code that is later reissued.
type GameSession struct {
	ID                uint      `gorm:"primaryKey"`
	Code              string    `gorm:"size:6;index;not null"`
	Status            string    `gorm:"size:16;not null;default:'waiting'"`
	MaxLinesPerPlayer int       `gorm:"not null;default:2"`
	CurrentTurn       int       `gorm:"not null;default:0"`
	TotalLines        int       `gorm:"not null;default:0"`
	NextOrderIndex    int       `gorm:"not null;default:0"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}
