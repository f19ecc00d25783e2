package game

import (
	"rhyme-circle/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// members returns the current membership of a session in turn order.
// Order indices are assigned from a monotonic counter and never renumbered,
// so the rotation is simply the surviving players sorted by index.
func members(tx *gorm.DB, gameID uint) ([]db.Player, error) {
	var players []db.Player
	err := tx.Where("game_id = ?", gameID).Order("order_index asc").Find(&players).Error
	return players, err
}

func memberIDs(players []db.Player) []int64 {
	ids := make([]int64, 0, len(players))
	for _, player := range players {
		ids = append(ids, player.UserID)
	}
	return ids
}

func otherMemberIDs(players []db.Player, userID int64) []int64 {
	ids := make([]int64, 0, len(players))
	for _, player := range players {
		if player.UserID == userID {
			continue
		}
		ids = append(ids, player.UserID)
	}
	return ids
}

// currentAuthor maps the session's turn pointer onto the live membership.
func currentAuthor(session *db.GameSession, players []db.Player) *db.Player {
	if session == nil || len(players) == 0 {
		return nil
	}
	return &players[session.CurrentTurn%len(players)]
}

func lineQuota(session *db.GameSession, memberCount int) int {
	if session == nil {
		return 0
	}
	return session.MaxLinesPerPlayer * memberCount
}

// lockForUpdate takes a row lock on Postgres so concurrent joins against the
// same session serialize on order assignment. SQLite (used in tests) has no
// FOR UPDATE and serializes writes on its own.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
