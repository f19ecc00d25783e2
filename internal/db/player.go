package db

import "time"

// Player records membership of a user in a session. OrderIndex is assigned
// from the session's monotonic counter and is never renumbered, even when
// other members leave.
type Player struct {
	ID         uint      `gorm:"primaryKey"`
	UserID     int64     `gorm:"index;not null;uniqueIndex:idx_players_game_user"`
	GameID     uint      `gorm:"index;not null;uniqueIndex:idx_players_game_user"`
	OrderIndex int       `gorm:"not null"`
	JoinedAt   time.Time `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}
