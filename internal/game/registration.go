package game

import (
	"context"
	"errors"
	"log"
	"strings"
	"unicode/utf8"

	"rhyme-circle/internal/db"

	"gorm.io/gorm"
)

const (
	minDisplayName = 2
	maxDisplayName = 32
)

const fallbackName = "Player"

// Touch records a user on first contact without touching their chosen name.
func (e *Engine) Touch(ctx context.Context, userID int64, username, firstName string) error {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user db.User
		err := tx.Where("id = ?", userID).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			user = db.User{ID: userID, Username: username, FirstName: firstName}
			return tx.Create(&user).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&user).Updates(map[string]any{
			"username":   username,
			"first_name": firstName,
		}).Error
	})
}

// SetDisplayName validates and stores the user's chosen name. On a
// validation failure any previously stored name is left untouched.
func (e *Engine) SetDisplayName(ctx context.Context, userID int64, username, firstName, displayName string) error {
	name := strings.TrimSpace(displayName)
	if utf8.RuneCountInString(name) < minDisplayName {
		return &ValidationError{Reason: "the name must be at least 2 characters"}
	}
	if utf8.RuneCountInString(name) > maxDisplayName {
		return &ValidationError{Reason: "the name must be 32 characters or fewer"}
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user db.User
		err := tx.Where("id = ?", userID).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			user = db.User{
				ID:          userID,
				Username:    username,
				FirstName:   firstName,
				DisplayName: name,
			}
			return tx.Create(&user).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&user).Updates(map[string]any{
			"username":     username,
			"first_name":   firstName,
			"display_name": name,
		}).Error
	})
	if err != nil {
		return err
	}
	log.Printf("display name set user_id=%d name=%s", userID, name)
	return nil
}

// RegisteredName returns the user's chosen display name, and whether one
// has been set at all.
func (e *Engine) RegisteredName(ctx context.Context, userID int64) (string, bool, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	var user db.User
	err := e.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return user.DisplayName, user.DisplayName != "", nil
}

// displayName resolves a name for notifications, falling back to the
// platform name and then a generic label for unregistered users.
func (e *Engine) displayName(tx *gorm.DB, userID int64) (string, error) {
	var user db.User
	err := tx.Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fallbackName, nil
	}
	if err != nil {
		return "", err
	}
	if user.DisplayName != "" {
		return user.DisplayName, nil
	}
	if user.FirstName != "" {
		return user.FirstName, nil
	}
	return fallbackName, nil
}
