package domain

import "errors"

var (
	// ErrDuelNotFound is returned when a duel id does not resolve.
	ErrDuelNotFound = errors.New("duel not found")
	// ErrRoundNotFound indicates the duel has no record for the requested round.
	ErrRoundNotFound = errors.New("duel round not found")
	// ErrQuestionNotFound indicates the catalog no longer knows a question.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrNoQuestions is returned when no pool in the cascade yields a question.
	ErrNoQuestions = errors.New("no questions available")
	// ErrAlreadyAnswered is a conflict: the participant already answered this round.
	ErrAlreadyAnswered = errors.New("round already answered")
	// ErrInvalidState means the duel is not in a status that permits the operation.
	ErrInvalidState = errors.New("duel is not in a valid state for this operation")
	// ErrInvalidTransition guards the forward-only lifecycle.
	ErrInvalidTransition = errors.New("illegal duel status transition")
	// ErrStaleDuel is returned by stores when a compare-and-set on the version fails.
	ErrStaleDuel = errors.New("duel was modified concurrently")
	// ErrNotParticipant is returned when a stranger acts on a duel.
	ErrNotParticipant = errors.New("user is not a participant of this duel")
	// ErrInvalidAnswer rejects indices outside the option range.
	ErrInvalidAnswer = errors.New("answer index must be between 0 and 3")
	// ErrSelfDuel rejects a duel where both participants are the same user.
	ErrSelfDuel = errors.New("cannot duel yourself")
	// ErrInvalidArgs is returned for empty ids.
	ErrInvalidArgs = errors.New("invalid arguments")
)

// Rejections are normal negative results shown to the user, not failures.
var (
	// ErrFocusMode rejects queueing or challenging a user in focus mode.
	ErrFocusMode = errors.New("user is in focus mode and is not accepting duels")
	// ErrActiveDuel rejects queueing while a duel is pending or running.
	ErrActiveDuel = errors.New("user already has an active duel")
)

// IsRejection reports whether err is a user-facing rejection.
func IsRejection(err error) bool {
	return errors.Is(err, ErrFocusMode) || errors.Is(err, ErrActiveDuel)
}

// IsConflict reports whether err signals a lost race or duplicate submission.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyAnswered) || errors.Is(err, ErrStaleDuel) || errors.Is(err, ErrInvalidState)
}
