package game

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"rhyme-circle/internal/config"
	"rhyme-circle/internal/db"

	"gorm.io/gorm"
)

const maxLineLength = 500

// Notifier delivers a message to a set of users after a mutation has
// committed. Delivery is best-effort; the engine never learns about
// per-recipient failures.
type Notifier interface {
	NotifyAll(ctx context.Context, userIDs []int64, text string)
}

// Engine enforces the membership and lifecycle invariants of game sessions:
// a user belongs to at most one non-finished session, order indices within a
// session are distinct, and only waiting sessions accept joins.
type Engine struct {
	db       *gorm.DB
	cfg      config.Config
	notifier Notifier

	// newCode produces join code candidates; tests swap it to force
	// collisions.
	newCode func() string
}

func New(conn *gorm.DB, cfg config.Config, notifier Notifier) *Engine {
	return &Engine{db: conn, cfg: cfg, notifier: notifier, newCode: newJoinCode}
}

// outbound is a notification collected during a transaction and delivered
// only after commit, so a rollback never leaks messages.
type outbound struct {
	userIDs []int64
	text    string
}

type JoinResult struct {
	Session    db.GameSession
	OrderIndex int
}

type SubmitResult struct {
	Line     db.Line
	Finished bool
	NextID   int64
}

type StatusResult struct {
	Session  db.GameSession
	Player   db.Player
	Members  int
	TurnID   int64
	TurnName string
}

// CreateSession makes the user leave any current non-finished session, then
// creates a fresh waiting session with the user as its sole player.
func (e *Engine) CreateSession(ctx context.Context, userID int64) (*db.GameSession, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	var session db.GameSession
	var out []outbound
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := e.leaveCurrent(tx, userID, &out); err != nil {
			return err
		}
		code, err := e.freeJoinCode(tx)
		if err != nil {
			return err
		}
		session = db.GameSession{
			Code:              code,
			Status:            db.StatusWaiting,
			MaxLinesPerPlayer: e.cfg.MaxLinesPerPlayer,
			NextOrderIndex:    1,
		}
		if err := tx.Create(&session).Error; err != nil {
			return err
		}
		player := db.Player{
			UserID:     userID,
			GameID:     session.ID,
			OrderIndex: 0,
			JoinedAt:   time.Now().UTC(),
		}
		if err := tx.Create(&player).Error; err != nil {
			return err
		}
		return recordEvent(tx, session.ID, &userID, "game_created", EventPayload{Code: code})
	})
	if err != nil {
		return nil, err
	}
	e.send(ctx, out)
	log.Printf("game created game_id=%d code=%s user_id=%d", session.ID, session.Code, userID)
	return &session, nil
}

// JoinSession adds the user to the waiting session identified by code,
// leaving their current session first. Joining a session the user is already
// in fails with ErrAlreadyMember and mutates nothing.
func (e *Engine) JoinSession(ctx context.Context, userID int64, code string) (*JoinResult, error) {
	if !ValidCode(code) {
		return nil, &ValidationError{Reason: "that does not look like a game code"}
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	var result JoinResult
	var out []outbound
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session db.GameSession
		err := lockForUpdate(tx).
			Where("code = ? AND status = ?", code, db.StatusWaiting).
			First(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		var existing int64
		err = tx.Model(&db.Player{}).
			Where("game_id = ? AND user_id = ?", session.ID, userID).
			Count(&existing).Error
		if err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyMember
		}

		if _, err := e.leaveCurrent(tx, userID, &out); err != nil {
			return err
		}

		orderIndex := session.NextOrderIndex
		err = tx.Model(&db.GameSession{}).
			Where("id = ?", session.ID).
			Update("next_order_index", orderIndex+1).Error
		if err != nil {
			return err
		}
		player := db.Player{
			UserID:     userID,
			GameID:     session.ID,
			OrderIndex: orderIndex,
			JoinedAt:   time.Now().UTC(),
		}
		if err := tx.Create(&player).Error; err != nil {
			return err
		}

		name, err := e.displayName(tx, userID)
		if err != nil {
			return err
		}
		current, err := members(tx, session.ID)
		if err != nil {
			return err
		}
		if others := otherMemberIDs(current, userID); len(others) > 0 {
			out = append(out, outbound{
				userIDs: others,
				text:    fmt.Sprintf("👤 <b>%s</b> joined the game!", html.EscapeString(name)),
			})
		}
		session.NextOrderIndex = orderIndex + 1
		result = JoinResult{Session: session, OrderIndex: orderIndex}
		return recordEvent(tx, session.ID, &userID, "player_joined", EventPayload{
			Code:       session.Code,
			Player:     name,
			OrderIndex: orderIndex,
			Members:    len(current),
		})
	})
	if err != nil {
		return nil, err
	}
	e.send(ctx, out)
	log.Printf("player joined game_id=%d code=%s user_id=%d order_index=%d",
		result.Session.ID, result.Session.Code, userID, result.OrderIndex)
	return &result, nil
}

// LeaveSession removes the user from their current session. The last member
// leaving a waiting session deletes it; an active session left empty is
// finished instead, so its lines survive.
func (e *Engine) LeaveSession(ctx context.Context, userID int64) error {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	var out []outbound
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		left, err := e.leaveCurrent(tx, userID, &out)
		if err != nil {
			return err
		}
		if !left {
			return ErrNotInSession
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.send(ctx, out)
	return nil
}

// StartSession moves the caller's waiting session to active. Only the
// creator (order index 0) may start, and only with enough players.
func (e *Engine) StartSession(ctx context.Context, userID int64) (*db.GameSession, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	var session db.GameSession
	var out []outbound
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		player, found, err := e.currentMembership(tx, userID)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotInSession
		}
		err = lockForUpdate(tx).Where("id = ?", player.GameID).First(&session).Error
		if err != nil {
			return err
		}
		if session.Status != db.StatusWaiting {
			return ErrNotActive
		}
		if player.OrderIndex != 0 {
			return ErrNotCreator
		}
		current, err := members(tx, session.ID)
		if err != nil {
			return err
		}
		if len(current) < e.cfg.MinPlayersToStart {
			return ErrNotEnoughPlayers
		}
		err = tx.Model(&db.GameSession{}).
			Where("id = ?", session.ID).
			Updates(map[string]any{"status": db.StatusActive, "current_turn": 0}).Error
		if err != nil {
			return err
		}
		session.Status = db.StatusActive
		session.CurrentTurn = 0

		name, err := e.displayName(tx, userID)
		if err != nil {
			return err
		}
		if others := otherMemberIDs(current, userID); len(others) > 0 {
			out = append(out, outbound{
				userIDs: others,
				text:    fmt.Sprintf("🎬 <b>%s</b> started the game! It's their turn first.", html.EscapeString(name)),
			})
		}
		return recordEvent(tx, session.ID, &userID, "game_started", EventPayload{
			Code:    session.Code,
			Status:  db.StatusActive,
			Members: len(current),
		})
	})
	if err != nil {
		return nil, err
	}
	e.send(ctx, out)
	log.Printf("game started game_id=%d code=%s members_ready user_id=%d", session.ID, session.Code, userID)
	return &session, nil
}

// SubmitLine appends a line to the user's active session. It is only
// accepted on the author's turn; reaching the line quota finishes the game.
func (e *Engine) SubmitLine(ctx context.Context, userID int64, text string) (*SubmitResult, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, &ValidationError{Reason: "a line cannot be empty"}
	}
	if utf8.RuneCountInString(trimmed) > maxLineLength {
		return nil, &ValidationError{Reason: fmt.Sprintf("a line must be %d characters or fewer", maxLineLength)}
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	var result SubmitResult
	var out []outbound
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		player, found, err := e.currentMembership(tx, userID)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotInSession
		}
		var session db.GameSession
		if err := lockForUpdate(tx).Where("id = ?", player.GameID).First(&session).Error; err != nil {
			return err
		}
		if session.Status != db.StatusActive {
			return ErrNotActive
		}
		current, err := members(tx, session.ID)
		if err != nil {
			return err
		}
		author := currentAuthor(&session, current)
		if author == nil || author.UserID != userID {
			return ErrNotYourTurn
		}

		line := db.Line{
			GameID:      session.ID,
			AuthorID:    userID,
			Text:        trimmed,
			LineNumber:  session.TotalLines + 1,
			SubmittedAt: time.Now().UTC(),
		}
		if err := tx.Create(&line).Error; err != nil {
			return err
		}
		name, err := e.displayName(tx, userID)
		if err != nil {
			return err
		}
		if others := otherMemberIDs(current, userID); len(others) > 0 {
			out = append(out, outbound{
				userIDs: others,
				text:    fmt.Sprintf("📝 <b>%s</b>: %s", html.EscapeString(name), html.EscapeString(trimmed)),
			})
		}

		updates := map[string]any{"total_lines": session.TotalLines + 1}
		session.TotalLines++
		if session.TotalLines >= lineQuota(&session, len(current)) {
			updates["status"] = db.StatusFinished
			session.Status = db.StatusFinished
			out = append(out, outbound{
				userIDs: memberIDs(current),
				text:    fmt.Sprintf("🏁 The poem is complete — %d lines! Thanks for playing.", session.TotalLines),
			})
			if err := recordEvent(tx, session.ID, &userID, "game_finished", EventPayload{
				Code:       session.Code,
				Status:     db.StatusFinished,
				LineNumber: line.LineNumber,
			}); err != nil {
				return err
			}
		} else {
			session.CurrentTurn = (session.CurrentTurn + 1) % len(current)
			updates["current_turn"] = session.CurrentTurn
			next := currentAuthor(&session, current)
			result.NextID = next.UserID
			out = append(out, outbound{
				userIDs: []int64{next.UserID},
				text:    "✍️ It's your turn! Send your line.",
			})
			if err := recordEvent(tx, session.ID, &userID, "line_submitted", EventPayload{
				Code:       session.Code,
				Player:     name,
				LineNumber: line.LineNumber,
			}); err != nil {
				return err
			}
		}
		if err := tx.Model(&db.GameSession{}).Where("id = ?", session.ID).Updates(updates).Error; err != nil {
			return err
		}
		result.Line = line
		result.Finished = session.Status == db.StatusFinished
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.send(ctx, out)
	log.Printf("line submitted game_id=%d user_id=%d line_number=%d finished=%t",
		result.Line.GameID, userID, result.Line.LineNumber, result.Finished)
	return &result, nil
}

// Status describes the user's non-finished session for display.
func (e *Engine) Status(ctx context.Context, userID int64) (*StatusResult, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	var result StatusResult
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var player db.Player
		found, err := e.currentMembershipInto(tx, userID, &player)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotInSession
		}
		if err := tx.Where("id = ?", player.GameID).First(&result.Session).Error; err != nil {
			return err
		}
		result.Player = player
		current, err := members(tx, player.GameID)
		if err != nil {
			return err
		}
		result.Members = len(current)
		if result.Session.Status == db.StatusActive {
			if author := currentAuthor(&result.Session, current); author != nil {
				result.TurnID = author.UserID
				result.TurnName, err = e.displayName(tx, author.UserID)
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// leaveCurrent removes the user from whatever non-finished session they are
// in. It reports false when there was nothing to leave. Cleanup and
// notifications follow the session status: an emptied waiting session is
// deleted outright, an emptied active session is finished, and remaining
// members are told who left.
func (e *Engine) leaveCurrent(tx *gorm.DB, userID int64, out *[]outbound) (bool, error) {
	player, found, err := e.currentMembership(tx, userID)
	if err != nil || !found {
		return false, err
	}
	var session db.GameSession
	if err := lockForUpdate(tx).Where("id = ?", player.GameID).First(&session).Error; err != nil {
		return false, err
	}
	name, err := e.displayName(tx, userID)
	if err != nil {
		return false, err
	}
	before, err := members(tx, session.ID)
	if err != nil {
		return false, err
	}
	leaverPos := -1
	for i, member := range before {
		if member.UserID == userID {
			leaverPos = i
			break
		}
	}
	if err := tx.Delete(&db.Player{}, player.ID).Error; err != nil {
		return false, err
	}
	remaining, err := members(tx, session.ID)
	if err != nil {
		return false, err
	}

	if len(remaining) == 0 {
		if session.Status == db.StatusWaiting {
			// No orphaned empty waiting rooms.
			if err := tx.Where("game_id = ?", session.ID).Delete(&db.Event{}).Error; err != nil {
				return false, err
			}
			if err := tx.Delete(&db.GameSession{}, session.ID).Error; err != nil {
				return false, err
			}
			log.Printf("empty waiting game deleted game_id=%d code=%s", session.ID, session.Code)
			return true, nil
		}
		err := tx.Model(&db.GameSession{}).
			Where("id = ?", session.ID).
			Update("status", db.StatusFinished).Error
		if err != nil {
			return false, err
		}
		return true, recordEvent(tx, session.ID, &userID, "game_abandoned", EventPayload{
			Code:   session.Code,
			Player: name,
			Status: db.StatusFinished,
		})
	}

	text := fmt.Sprintf("👤 <b>%s</b> left the game.", html.EscapeString(name))
	if session.Status == db.StatusActive {
		// The turn stays with the same surviving author: positions above the
		// leaver shift down one, and the pointer wraps if the author at the
		// end of the rotation left.
		if leaverPos >= 0 && leaverPos < session.CurrentTurn {
			session.CurrentTurn--
		}
		session.CurrentTurn = session.CurrentTurn % len(remaining)
		err := tx.Model(&db.GameSession{}).
			Where("id = ?", session.ID).
			Update("current_turn", session.CurrentTurn).Error
		if err != nil {
			return false, err
		}
		if next := currentAuthor(&session, remaining); next != nil {
			nextName, err := e.displayName(tx, next.UserID)
			if err != nil {
				return false, err
			}
			text = fmt.Sprintf("👤 <b>%s</b> left the game. It's <b>%s</b>'s turn.",
				html.EscapeString(name), html.EscapeString(nextName))
		}
	}
	*out = append(*out, outbound{userIDs: memberIDs(remaining), text: text})
	return true, recordEvent(tx, session.ID, &userID, "player_left", EventPayload{
		Code:    session.Code,
		Player:  name,
		Members: len(remaining),
	})
}

func (e *Engine) currentMembership(tx *gorm.DB, userID int64) (db.Player, bool, error) {
	var player db.Player
	found, err := e.currentMembershipInto(tx, userID, &player)
	return player, found, err
}

func (e *Engine) currentMembershipInto(tx *gorm.DB, userID int64, player *db.Player) (bool, error) {
	err := tx.
		Select("players.*").
		Joins("JOIN game_sessions ON game_sessions.id = players.game_id").
		Where("players.user_id = ? AND game_sessions.status IN ?",
			userID, []string{db.StatusWaiting, db.StatusActive}).
		First(player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) freeJoinCode(tx *gorm.DB) (string, error) {
	for attempt := 0; attempt < e.cfg.CodeRetries; attempt++ {
		code := e.newCode()
		var count int64
		err := tx.Model(&db.GameSession{}).
			Where("code = ? AND status <> ?", code, db.StatusFinished).
			Count(&count).Error
		if err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
		log.Printf("join code collision code=%s attempt=%d", code, attempt+1)
	}
	return "", ErrCodeExhausted
}

func (e *Engine) send(ctx context.Context, out []outbound) {
	if e.notifier == nil {
		return
	}
	for _, message := range out {
		e.notifier.NotifyAll(ctx, message.userIDs, message.text)
	}
}

func (e *Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(e.cfg.StoreTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
