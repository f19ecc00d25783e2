package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"time"

	"rhyme-circle/internal/config"
	"rhyme-circle/internal/db"
	"rhyme-circle/internal/game"
	"rhyme-circle/internal/metrics"
)

// Update is one inbound message, already stripped of transport detail.
// Identity is whatever the transport vouches for.
type Update struct {
	UserID    int64
	Username  string
	FirstName string
	Text      string
}

// Dispatcher routes inbound updates to engine operations and keeps the
// short-lived per-user prompt state for two-step commands.
type Dispatcher struct {
	engine    *game.Engine
	sender    Sender
	prompts   *promptStore
	limiter   *userLimiter
	collector *metrics.Collector
	cfg       config.Config
}

func NewDispatcher(engine *game.Engine, sender Sender, collector *metrics.Collector, cfg config.Config) *Dispatcher {
	return &Dispatcher{
		engine:    engine,
		sender:    sender,
		prompts:   newPromptStore(time.Duration(cfg.PromptTTLSeconds) * time.Second),
		limiter:   newUserLimiter(cfg.CommandsPerMinute),
		collector: collector,
		cfg:       cfg,
	}
}

func (d *Dispatcher) Handle(ctx context.Context, update Update) {
	text := strings.TrimSpace(update.Text)
	if text == "" {
		return
	}
	if !d.limiter.Allow(update.UserID) {
		d.record("any", "rejected")
		d.reply(ctx, update.UserID, "Slow down a little ✋")
		return
	}
	if strings.HasPrefix(text, "/") {
		command, args := splitCommand(text)
		// A fresh command always supersedes a pending prompt.
		d.prompts.Clear(update.UserID)
		d.handleCommand(ctx, update, command, args)
		return
	}
	d.handleFreeText(ctx, update, text)
}

func (d *Dispatcher) handleCommand(ctx context.Context, update Update, command, args string) {
	if command == "/start" {
		d.handleStart(ctx, update)
		return
	}
	_, registered, err := d.engine.RegisteredName(ctx, update.UserID)
	if err != nil {
		d.record(command, "error")
		d.replyInternalError(ctx, update.UserID, command, err)
		return
	}
	if !registered {
		d.record(command, "rejected")
		d.reply(ctx, update.UserID, "Pick a name first! Send /start.")
		return
	}

	switch command {
	case "/newgame":
		d.handleNewGame(ctx, update)
	case "/join":
		d.handleJoin(ctx, update, args)
	case "/leave":
		d.handleLeave(ctx, update)
	case "/begin":
		d.handleBegin(ctx, update)
	case "/status":
		d.handleStatus(ctx, update)
	default:
		d.record(command, "rejected")
		d.reply(ctx, update.UserID, "Unknown command. Try /newgame, /join or /leave.")
	}
}

func (d *Dispatcher) handleStart(ctx context.Context, update Update) {
	if err := d.engine.Touch(ctx, update.UserID, update.Username, update.FirstName); err != nil {
		d.record("/start", "error")
		d.replyInternalError(ctx, update.UserID, "/start", err)
		return
	}
	name, registered, err := d.engine.RegisteredName(ctx, update.UserID)
	if err != nil {
		d.record("/start", "error")
		d.replyInternalError(ctx, update.UserID, "/start", err)
		return
	}
	if registered {
		d.record("/start", "ok")
		d.reply(ctx, update.UserID, fmt.Sprintf(
			"Welcome back, %s! 🌟\nReady to play? Send /newgame to start a new rhyme game.",
			html.EscapeString(name)))
		return
	}
	d.record("/start", "ok")
	d.prompts.Set(update.UserID, promptAwaitingName)
	d.reply(ctx, update.UserID,
		"Hi! 👋\nPick a creative name — other players will see it.\n\nSend your name:")
}

func (d *Dispatcher) handleNewGame(ctx context.Context, update Update) {
	session, err := d.engine.CreateSession(ctx, update.UserID)
	if err != nil {
		d.record("/newgame", "error")
		if errors.Is(err, game.ErrCodeExhausted) {
			d.reply(ctx, update.UserID, "Couldn't find a free game code. Please try again later.")
			return
		}
		d.replyInternalError(ctx, update.UserID, "/newgame", err)
		return
	}
	d.record("/newgame", "ok")
	if d.collector != nil {
		d.collector.RecordSessionCreated()
	}
	d.reply(ctx, update.UserID, fmt.Sprintf(
		"🎭 Game <b>#%s</b> created!\n\nSend this code to your friends:\n<code>/join %s</code>",
		session.Code, session.Code))
}

func (d *Dispatcher) handleJoin(ctx context.Context, update Update, args string) {
	code := strings.TrimSpace(args)
	if code == "" {
		d.record("/join", "ok")
		d.prompts.Set(update.UserID, promptAwaitingCode)
		d.reply(ctx, update.UserID, "Okay! Now send me the game code.")
		return
	}
	if !game.ValidCode(code) {
		d.record("/join", "rejected")
		d.prompts.Set(update.UserID, promptAwaitingCode)
		d.reply(ctx, update.UserID, "❌ That doesn't look like a game code.\nTry again")
		return
	}
	d.processJoin(ctx, update, code)
}

func (d *Dispatcher) processJoin(ctx context.Context, update Update, code string) {
	result, err := d.engine.JoinSession(ctx, update.UserID, code)
	switch {
	case err == nil:
		d.record("/join", "ok")
		d.prompts.Clear(update.UserID)
		d.reply(ctx, update.UserID, fmt.Sprintf("✅ You're in game <b>#%s</b>!", result.Session.Code))
	case errors.Is(err, game.ErrAlreadyMember):
		d.record("/join", "rejected")
		d.prompts.Clear(update.UserID)
		d.reply(ctx, update.UserID, "You're already in this game!")
	case errors.Is(err, game.ErrSessionNotFound):
		d.record("/join", "rejected")
		d.prompts.Clear(update.UserID)
		d.reply(ctx, update.UserID, "❌ Game not found or already started.")
	default:
		d.record("/join", "error")
		d.replyInternalError(ctx, update.UserID, "/join", err)
	}
}

func (d *Dispatcher) handleLeave(ctx context.Context, update Update) {
	err := d.engine.LeaveSession(ctx, update.UserID)
	switch {
	case err == nil:
		d.record("/leave", "ok")
		d.reply(ctx, update.UserID, "You left the game.")
	case errors.Is(err, game.ErrNotInSession):
		d.record("/leave", "rejected")
		d.reply(ctx, update.UserID, "You're not in any game.")
	default:
		d.record("/leave", "error")
		d.replyInternalError(ctx, update.UserID, "/leave", err)
	}
}

func (d *Dispatcher) handleBegin(ctx context.Context, update Update) {
	_, err := d.engine.StartSession(ctx, update.UserID)
	switch {
	case err == nil:
		d.record("/begin", "ok")
		d.reply(ctx, update.UserID, "🎬 The game is on! You're up first — send your line.")
	case errors.Is(err, game.ErrNotInSession):
		d.record("/begin", "rejected")
		d.reply(ctx, update.UserID, "You're not in any game. Create one with /newgame.")
	case errors.Is(err, game.ErrNotCreator):
		d.record("/begin", "rejected")
		d.reply(ctx, update.UserID, "Only the game creator can start it.")
	case errors.Is(err, game.ErrNotEnoughPlayers):
		d.record("/begin", "rejected")
		d.reply(ctx, update.UserID, fmt.Sprintf(
			"You need at least %d players to start. Share the code!", d.cfg.MinPlayersToStart))
	case errors.Is(err, game.ErrNotActive):
		d.record("/begin", "rejected")
		d.reply(ctx, update.UserID, "This game is already running.")
	default:
		d.record("/begin", "error")
		d.replyInternalError(ctx, update.UserID, "/begin", err)
	}
}

func (d *Dispatcher) handleStatus(ctx context.Context, update Update) {
	status, err := d.engine.Status(ctx, update.UserID)
	switch {
	case err == nil:
		d.record("/status", "ok")
		switch status.Session.Status {
		case db.StatusActive:
			turn := fmt.Sprintf("It's <b>%s</b>'s turn.", html.EscapeString(status.TurnName))
			if status.TurnID == update.UserID {
				turn = "It's your turn!"
			}
			d.reply(ctx, update.UserID, fmt.Sprintf(
				"Game <b>#%s</b> — %d players, %d lines so far. %s",
				status.Session.Code, status.Members, status.Session.TotalLines, turn))
		default:
			d.reply(ctx, update.UserID, fmt.Sprintf(
				"Game <b>#%s</b> — %d players waiting. Invite friends:\n<code>/join %s</code>",
				status.Session.Code, status.Members, status.Session.Code))
		}
	case errors.Is(err, game.ErrNotInSession):
		d.record("/status", "rejected")
		d.reply(ctx, update.UserID, "You're not in any game. Create one with /newgame.")
	default:
		d.record("/status", "error")
		d.replyInternalError(ctx, update.UserID, "/status", err)
	}
}

func (d *Dispatcher) handleFreeText(ctx context.Context, update Update, text string) {
	switch d.prompts.Get(update.UserID) {
	case promptAwaitingName:
		d.handleNameAnswer(ctx, update, text)
		return
	case promptAwaitingCode:
		d.handleCodeAnswer(ctx, update, text)
		return
	}

	_, registered, err := d.engine.RegisteredName(ctx, update.UserID)
	if err != nil {
		d.record("line", "error")
		d.replyInternalError(ctx, update.UserID, "line", err)
		return
	}
	if !registered {
		d.record("line", "rejected")
		d.reply(ctx, update.UserID, "Pick a name first! Send /start.")
		return
	}
	d.handleLine(ctx, update, text)
}

func (d *Dispatcher) handleNameAnswer(ctx context.Context, update Update, text string) {
	err := d.engine.SetDisplayName(ctx, update.UserID, update.Username, update.FirstName, text)
	var validation *game.ValidationError
	switch {
	case err == nil:
		d.record("register", "ok")
		d.prompts.Clear(update.UserID)
		d.reply(ctx, update.UserID, fmt.Sprintf(
			"Great! From now on everyone calls you <b>%s</b> ✨\nStart a new game with /newgame.",
			html.EscapeString(strings.TrimSpace(text))))
	case errors.As(err, &validation):
		d.record("register", "rejected")
		// Keep waiting for a usable name.
		d.prompts.Set(update.UserID, promptAwaitingName)
		d.reply(ctx, update.UserID, fmt.Sprintf("%s. Try again:", capitalize(validation.Reason)))
	default:
		d.record("register", "error")
		d.replyInternalError(ctx, update.UserID, "register", err)
	}
}

func (d *Dispatcher) handleCodeAnswer(ctx context.Context, update Update, text string) {
	code := strings.TrimSpace(text)
	if !game.ValidCode(code) {
		d.record("/join", "rejected")
		d.prompts.Set(update.UserID, promptAwaitingCode)
		d.reply(ctx, update.UserID, "❌ That doesn't look like a game code.\nTry again")
		return
	}
	d.processJoin(ctx, update, code)
}

func (d *Dispatcher) handleLine(ctx context.Context, update Update, text string) {
	result, err := d.engine.SubmitLine(ctx, update.UserID, text)
	var validation *game.ValidationError
	switch {
	case err == nil:
		d.record("line", "ok")
		if d.collector != nil {
			d.collector.RecordLineSubmitted()
		}
		if result.Finished {
			d.reply(ctx, update.UserID, "🏁 That was the last line — the poem is complete!")
			return
		}
		d.reply(ctx, update.UserID, fmt.Sprintf("Line %d saved.", result.Line.LineNumber))
	case errors.Is(err, game.ErrNotInSession):
		d.record("line", "rejected")
		d.reply(ctx, update.UserID, "Not sure what you mean. /newgame starts a game, /join joins one.")
	case errors.Is(err, game.ErrNotActive):
		d.record("line", "rejected")
		d.reply(ctx, update.UserID, "The game hasn't started yet. The creator can start it with /begin.")
	case errors.Is(err, game.ErrNotYourTurn):
		d.record("line", "rejected")
		d.reply(ctx, update.UserID, "⏳ It's not your turn yet.")
	case errors.As(err, &validation):
		d.record("line", "rejected")
		d.reply(ctx, update.UserID, capitalize(validation.Reason)+".")
	default:
		d.record("line", "error")
		d.replyInternalError(ctx, update.UserID, "line", err)
	}
}

func (d *Dispatcher) reply(ctx context.Context, userID int64, text string) {
	if err := d.sender.Send(ctx, userID, text); err != nil {
		log.Printf("reply failed user_id=%d err=%v", userID, err)
	}
}

func (d *Dispatcher) replyInternalError(ctx context.Context, userID int64, command string, err error) {
	log.Printf("command failed command=%s user_id=%d err=%v", command, userID, err)
	d.reply(ctx, userID, "Something went wrong. Please try again later.")
}

func (d *Dispatcher) record(command, outcome string) {
	if d.collector != nil {
		d.collector.RecordCommand(command, outcome)
	}
}

func splitCommand(text string) (string, string) {
	command, args, _ := strings.Cut(text, " ")
	// Group chats address commands as /cmd@BotName.
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	return strings.ToLower(command), strings.TrimSpace(args)
}

func capitalize(text string) string {
	if text == "" {
		return text
	}
	return strings.ToUpper(text[:1]) + text[1:]
}
