package game

import (
	"encoding/json"
	"time"

	"rhyme-circle/internal/db"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EventPayload struct {
	Code       string `json:"code,omitempty"`
	Player     string `json:"player,omitempty"`
	OrderIndex int    `json:"order_index,omitempty"`
	LineNumber int    `json:"line_number,omitempty"`
	Status     string `json:"status,omitempty"`
	Members    int    `json:"members,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func recordEvent(tx *gorm.DB, gameID uint, userID *int64, eventType string, payload EventPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	event := db.Event{
		GameID:    gameID,
		UserID:    userID,
		Type:      eventType,
		Payload:   datatypes.JSON(raw),
		CreatedAt: time.Now().UTC(),
	}
	return tx.Create(&event).Error
}
