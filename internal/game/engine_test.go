package game

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"rhyme-circle/internal/config"
	"rhyme-circle/internal/db"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type sentMessage struct {
	UserIDs []int64
	Text    string
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *captureNotifier) NotifyAll(ctx context.Context, userIDs []int64, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]int64, len(userIDs))
	copy(ids, userIDs)
	n.sent = append(n.sent, sentMessage{UserIDs: ids, Text: text})
}

func (n *captureNotifier) messagesFor(userID int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var texts []string
	for _, message := range n.sent {
		for _, id := range message.UserIDs {
			if id == userID {
				texts = append(texts, message.Text)
			}
		}
	}
	return texts
}

func newTestEngine(t *testing.T) (*Engine, *captureNotifier, *gorm.DB) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	notifier := &captureNotifier{}
	return New(conn, config.Default(), notifier), notifier, conn
}

func register(t *testing.T, engine *Engine, userID int64, name string) {
	t.Helper()
	if err := engine.SetDisplayName(context.Background(), userID, "", "", name); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}

func activeMemberships(t *testing.T, conn *gorm.DB, userID int64) int64 {
	t.Helper()
	var count int64
	err := conn.Model(&db.Player{}).
		Joins("JOIN game_sessions ON game_sessions.id = players.game_id").
		Where("players.user_id = ? AND game_sessions.status IN ?",
			userID, []string{db.StatusWaiting, db.StatusActive}).
		Count(&count).Error
	if err != nil {
		t.Fatalf("count memberships: %v", err)
	}
	return count
}

func TestCreateSessionSoleMember(t *testing.T) {
	engine, _, conn := newTestEngine(t)
	register(t, engine, 1, "Ada")

	session, err := engine.CreateSession(context.Background(), 1)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if !ValidCode(session.Code) {
		t.Fatalf("expected a valid join code, got %q", session.Code)
	}
	if session.Status != db.StatusWaiting {
		t.Fatalf("expected waiting status, got %q", session.Status)
	}

	var players []db.Player
	if err := conn.Where("game_id = ?", session.ID).Find(&players).Error; err != nil {
		t.Fatalf("load players: %v", err)
	}
	if len(players) != 1 || players[0].UserID != 1 || players[0].OrderIndex != 0 {
		t.Fatalf("expected creator as sole player with order 0, got %#v", players)
	}
}

func TestCreateLeavesPreviousWaitingSession(t *testing.T) {
	engine, _, conn := newTestEngine(t)
	register(t, engine, 1, "Ada")

	first, err := engine.CreateSession(context.Background(), 1)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := engine.CreateSession(context.Background(), 1)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("expected a fresh session")
	}

	var gone db.GameSession
	err = conn.Where("id = ?", first.ID).First(&gone).Error
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected first session deleted, got %v", err)
	}
	if got := activeMemberships(t, conn, 1); got != 1 {
		t.Fatalf("expected exactly one live membership, got %d", got)
	}
}

func TestJoinAssignsNextOrderIndexAndNotifies(t *testing.T) {
	engine, notifier, _ := newTestEngine(t)
	register(t, engine, 1, "Ada")
	register(t, engine, 2, "Ben")

	session, err := engine.CreateSession(context.Background(), 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	result, err := engine.JoinSession(context.Background(), 2, session.Code)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if result.OrderIndex != 1 {
		t.Fatalf("expected order index 1, got %d", result.OrderIndex)
	}

	messages := notifier.messagesFor(1)
	if len(messages) != 1 || !strings.Contains(messages[0], "Ben") {
		t.Fatalf("expected Ada to hear about Ben joining, got %v", messages)
	}
	if got := notifier.messagesFor(2); len(got) != 0 {
		t.Fatalf("joining user should not be notified about themselves, got %v", got)
	}
}

func TestJoinUnknownOrStartedGame(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	register(t, engine, 1, "Ada")
	register(t, engine, 2, "Ben")
	register(t, engine, 3, "Cid")

	if _, err := engine.JoinSession(context.Background(), 1, "ZZZZZ9"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for unknown code, got %v", err)
	}

	session, err := engine.CreateSession(context.Background(), 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.JoinSession(context.Background(), 2, session.Code); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := engine.StartSession(context.Background(), 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := engine.JoinSession(context.Background(), 3, session.Code); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for active game, got %v", err)
	}
}

func TestJoinTwiceReportsAlreadyMember(t *testing.T) {
	engine, _, conn := newTestEngine(t)
	register(t, engine, 1, "Ada")
	register(t, engine, 2, "Ben")

	session, err := engine.CreateSession(context.Background(), 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.JoinSession(context.Background(), 2, session.Code); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := engine.JoinSession(context.Background(), 2, session.Code); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}

	var count int64
	if err := conn.Model(&db.Player{}).Where("game_id = ?", session.ID).Count(&count).Error; err != nil {
		t.Fatalf("count players: %v", err)
	}
	if count != 2 {
		t.Fatalf("membership should be unchanged, got %d players", count)
	}
}

func TestOrderIndexNotReusedAfterLeave(t *testing.T) {
	engine, _, conn := newTestEngine(t)
	register(t, engine, 1, "Ada")
	register(t, engine, 2, "Ben")
	register(t, engine, 3, "Cid")
	register(t, engine, 4, "Dee")

	session, err := engine.CreateSession(context.Background(), 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, userID := range []int64{2, 3} {
		if _, err := engine.JoinSession(context.Background(), userID, session.Code); err != nil {
			t.Fatalf("join %d: %v", userID, err)
		}
	}
	if err := engine.LeaveSession(context.Background(), 2); err != nil {
		t.Fatalf("leave: %v", err)
	}
	result, err := engine.JoinSession(context.Background(), 4, session.Code)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if result.OrderIndex != 3 {
		t.Fatalf("expected monotonic order index 3, got %d", result.OrderIndex)
	}

	var players []db.Player
	if err := conn.Where("game_id = ?", session.ID).Find(&players).Error; err != nil {
		t.Fatalf("load players: %v", err)
	}
	seen := map[int]bool{}
	for _, player := range players {
		if seen[player.OrderIndex] {
			t.Fatalf("duplicate order index %d", player.OrderIndex)
		}
		seen[player.OrderIndex] = true
	}
}

func TestLeaveLastMemberDeletesWaitingSession(t *testing.T) {
	engine, _, conn := newTestEngine(t)
	register(t, engine, 1, "Ada")

	session, err := engine.CreateSession(context.Background(), 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.LeaveSession(context.Background(), 1); err != nil {
		t.Fatalf("leave: %v", err)
	}

	var gone db.GameSession
	err = conn.Where("id = ?", session.ID).First(&gone).Error
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected waiting session deleted, got %v", err)
	}
}

func TestLeaveEmptiedActiveSessionPersistsFinished(t *testing.T) {
	engine, notifier, conn := newTestEngine(t)
	register(t, engine, 1, "Ada")
	register(t, engine, 2, "Ben")

	session, err := engine.CreateSession(context.Background(), 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.JoinSession(context.Background(), 2, session.Code); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := engine.StartSession(context.Background(), 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := engine.LeaveSession(context.Background(), 1); err != nil {
		t.Fatalf("first leave: %v", err)
	}

	messages := notifier.messagesFor(2)
	found := false
	for _, text := range messages {
		if strings.Contains(text, "Ada") && strings.Contains(text, "left") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Ben to hear that Ada left, got %v", messages)
	}

	if err := engine.LeaveSession(context.Background(), 2); err != nil {
		t.Fatalf("second leave: %v", err)
	}
	var kept db.GameSession
	if err := conn.Where("id = ?", session.ID).First(&kept).Error; err != nil {
		t.Fatalf("active session should persist, got %v", err)
	}
	if kept.Status != db.StatusFinished {
		t.Fatalf("abandoned session should be finished, got %q", kept.Status)
	}
}

func TestLeaveWithoutMembership(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	register(t, engine, 1, "Ada")

	if err := engine.LeaveSession(context.Background(), 1); !errors.Is(err, ErrNotInSession) {
		t.Fatalf("expected ErrNotInSession, got %v", err)
	}
}

func TestStartSessionRules(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	register(t, engine, 1, "Ada")
	register(t, engine, 2, "Ben")

	session, err := engine.CreateSession(context.Background(), 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.StartSession(context.Background(), 1); !errors.Is(err, ErrNotEnoughPlayers) {
		t.Fatalf("expected ErrNotEnoughPlayers, got %v", err)
	}
	if _, err := engine.JoinSession(context.Background(), 2, session.Code); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := engine.StartSession(context.Background(), 2); !errors.Is(err, ErrNotCreator) {
		t.Fatalf("expected ErrNotCreator, got %v", err)
	}
	started, err := engine.StartSession(context.Background(), 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != db.StatusActive || started.CurrentTurn != 0 {
		t.Fatalf("expected active session at turn 0, got %#v", started)
	}
}

func TestSubmitLineRotationAndFinish(t *testing.T) {
	engine, notifier, conn := newTestEngine(t)
	register(t, engine, 1, "Ada")
	register(t, engine, 2, "Ben")

	session, err := engine.CreateSession(context.Background(), 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.JoinSession(context.Background(), 2, session.Code); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := engine.StartSession(context.Background(), 1); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := engine.SubmitLine(context.Background(), 2, "out of turn"); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}

	// Default quota: 2 lines per player, 2 players, 4 lines total.
	lines := []struct {
		userID int64
		text   string
	}{
		{1, "Roses are red"},
		{2, "violets are blue"},
		{1, "this bot keeps the turn order"},
		{2, "and the poem too"},
	}
	for i, entry := range lines {
		result, err := engine.SubmitLine(context.Background(), entry.userID, entry.text)
		if err != nil {
			t.Fatalf("line %d: %v", i+1, err)
		}
		if result.Line.LineNumber != i+1 {
			t.Fatalf("expected line number %d, got %d", i+1, result.Line.LineNumber)
		}
		if want := i == len(lines)-1; result.Finished != want {
			t.Fatalf("line %d: finished=%t, want %t", i+1, result.Finished, want)
		}
	}

	var finished db.GameSession
	if err := conn.Where("id = ?", session.ID).First(&finished).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if finished.Status != db.StatusFinished || finished.TotalLines != 4 {
		t.Fatalf("expected finished session with 4 lines, got %#v", finished)
	}

	if _, err := engine.SubmitLine(context.Background(), 1, "one more"); !errors.Is(err, ErrNotInSession) {
		t.Fatalf("finished games accept no lines, got %v", err)
	}

	turnPrompts := 0
	for _, text := range notifier.messagesFor(2) {
		if strings.Contains(text, "your turn") {
			turnPrompts++
		}
	}
	if turnPrompts == 0 {
		t.Fatalf("expected Ben to be prompted for his turn")
	}
}

func TestSubmitLineValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	register(t, engine, 1, "Ada")

	var validation *ValidationError
	if _, err := engine.SubmitLine(context.Background(), 1, "   "); !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for blank line, got %v", err)
	}
	if _, err := engine.SubmitLine(context.Background(), 1, strings.Repeat("a", maxLineLength+1)); !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for oversized line, got %v", err)
	}
}

func TestSetDisplayNameValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	if err := engine.SetDisplayName(ctx, 1, "", "", "Ab"); err != nil {
		t.Fatalf("two-character name should be accepted: %v", err)
	}

	var validation *ValidationError
	if err := engine.SetDisplayName(ctx, 1, "", "", "A"); !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for short name, got %v", err)
	}
	if err := engine.SetDisplayName(ctx, 1, "", "", strings.Repeat("x", 33)); !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for long name, got %v", err)
	}

	name, registered, err := engine.RegisteredName(ctx, 1)
	if err != nil {
		t.Fatalf("registered name: %v", err)
	}
	if !registered || name != "Ab" {
		t.Fatalf("prior name should survive failed updates, got %q", name)
	}
}

func TestValidCode(t *testing.T) {
	valid := []string{"ABC123", "ZZZZZZ", "000000"}
	for _, code := range valid {
		if !ValidCode(code) {
			t.Fatalf("expected %q to be valid", code)
		}
	}
	invalid := []string{"", "abc123", "ABC12", "ABC1234", "ABC 12", "ABC12!"}
	for _, code := range invalid {
		if ValidCode(code) {
			t.Fatalf("expected %q to be invalid", code)
		}
	}
}

func TestCreateSessionRetriesCollidingCode(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	register(t, engine, 1, "Ada")
	register(t, engine, 2, "Ben")

	first, err := engine.CreateSession(context.Background(), 1)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	// First candidate collides with Ada's live session, second is free.
	codes := []string{first.Code, "FRESH1"}
	engine.newCode = func() string {
		code := codes[0]
		if len(codes) > 1 {
			codes = codes[1:]
		}
		return code
	}
	second, err := engine.CreateSession(context.Background(), 2)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.Code != "FRESH1" {
		t.Fatalf("expected the colliding code to be skipped, got %q", second.Code)
	}
}

func TestCreateSessionCodeExhaustion(t *testing.T) {
	engine, _, conn := newTestEngine(t)
	register(t, engine, 1, "Ada")
	register(t, engine, 2, "Ben")

	first, err := engine.CreateSession(context.Background(), 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Every candidate collides with the live session.
	engine.newCode = func() string { return first.Code }
	if _, err := engine.CreateSession(context.Background(), 2); !errors.Is(err, ErrCodeExhausted) {
		t.Fatalf("expected ErrCodeExhausted, got %v", err)
	}

	var sessions int64
	if err := conn.Model(&db.GameSession{}).Count(&sessions).Error; err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if sessions != 1 {
		t.Fatalf("failed create must not leave a session behind, got %d", sessions)
	}
	if got := activeMemberships(t, conn, 2); got != 0 {
		t.Fatalf("failed create must not leave a membership behind, got %d", got)
	}
}

func TestLeaveBeforeCurrentAuthorKeepsTurn(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	register(t, engine, 1, "Ada")
	register(t, engine, 2, "Ben")
	register(t, engine, 3, "Cid")

	ctx := context.Background()
	session, err := engine.CreateSession(ctx, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.JoinSession(ctx, 2, session.Code); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := engine.JoinSession(ctx, 3, session.Code); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := engine.StartSession(ctx, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := engine.SubmitLine(ctx, 1, "roses are red"); err != nil {
		t.Fatalf("first line: %v", err)
	}

	// It is Ben's turn; Ada leaving from an earlier slot must not steal it.
	if err := engine.LeaveSession(ctx, 1); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, err := engine.SubmitLine(ctx, 3, "violets are blue"); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("expected Cid to be out of turn, got %v", err)
	}
	if _, err := engine.SubmitLine(ctx, 2, "violets are blue"); err != nil {
		t.Fatalf("Ben should still hold the turn: %v", err)
	}
}

func TestNotificationsEscapeUserText(t *testing.T) {
	engine, notifier, _ := newTestEngine(t)
	register(t, engine, 1, "Ada")
	register(t, engine, 2, "B<i>en")

	ctx := context.Background()
	session, err := engine.CreateSession(ctx, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.JoinSession(ctx, 2, session.Code); err != nil {
		t.Fatalf("join: %v", err)
	}

	messages := notifier.messagesFor(1)
	if len(messages) != 1 || !strings.Contains(messages[0], "B&lt;i&gt;en") {
		t.Fatalf("expected the joiner's name escaped, got %v", messages)
	}
	if strings.Contains(messages[0], "<i>") {
		t.Fatalf("raw markup must not reach recipients, got %q", messages[0])
	}

	if _, err := engine.StartSession(ctx, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := engine.SubmitLine(ctx, 1, "roses are <3"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	var broadcast string
	for _, message := range notifier.messagesFor(2) {
		if strings.Contains(message, "roses are") {
			broadcast = message
		}
	}
	if !strings.Contains(broadcast, "roses are &lt;3") {
		t.Fatalf("expected the line text escaped, got %q", broadcast)
	}
}
