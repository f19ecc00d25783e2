package db

import "time"

// Line is immutable once written.
type Line struct {
	ID          uint      `gorm:"primaryKey"`
	GameID      uint      `gorm:"index;not null;uniqueIndex:idx_lines_game_number"`
	AuthorID    int64     `gorm:"index;not null"`
	Text        string    `gorm:"type:text;not null"`
	LineNumber  int       `gorm:"not null;uniqueIndex:idx_lines_game_number"`
	SubmittedAt time.Time `gorm:"not null"`
}
