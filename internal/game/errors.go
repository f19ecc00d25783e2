package game

import "errors"

var (
	// ErrSessionNotFound covers both an unknown code and a session that is
	// no longer joinable.
	ErrSessionNotFound  = errors.New("game not found or already started")
	ErrAlreadyMember    = errors.New("already in this game")
	ErrNotInSession     = errors.New("not in a game")
	ErrCodeExhausted    = errors.New("could not generate a free join code")
	ErrNotCreator       = errors.New("only the game creator can start it")
	ErrNotEnoughPlayers = errors.New("not enough players to start")
	ErrNotYourTurn      = errors.New("not your turn")
	ErrNotActive        = errors.New("game is not active")
)

// ValidationError reports malformed caller input. The dispatcher re-prompts
// on it instead of treating it as a failure.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}
