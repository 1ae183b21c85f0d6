package domain

import (
	"fmt"
	"strings"
	"time"
)

// DuelStatus is the lifecycle state of a duel.
type DuelStatus uint8

const (
	StatusPending DuelStatus = iota + 1
	StatusInProgress
	StatusCompleted
	StatusCancelled
)

var statusNames = map[DuelStatus]string{
	StatusPending:    "PENDING",
	StatusInProgress: "IN_PROGRESS",
	StatusCompleted:  "COMPLETED",
	StatusCancelled:  "CANCELLED",
}

func (s DuelStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseStatus maps a stored status name back to its value.
func ParseStatus(raw string) (DuelStatus, bool) {
	for status, name := range statusNames {
		if strings.EqualFold(name, strings.TrimSpace(raw)) {
			return status, true
		}
	}
	return 0, false
}

// CanTransition reports whether moving from s to next is a legal forward step.
func (s DuelStatus) CanTransition(next DuelStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress || next == StatusCancelled
	case StatusInProgress:
		// CANCELLED is reachable only through Abort, for duels whose round record is gone.
		return next == StatusCompleted
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func (s DuelStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s DuelStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *DuelStatus) UnmarshalText(b []byte) error {
	parsed, ok := ParseStatus(string(b))
	if !ok {
		return ErrInvalidState
	}
	*s = parsed
	return nil
}

// Resolution records how a duel reached its terminal state.
type Resolution string

const (
	ResolutionNone         Resolution = ""
	ResolutionScore        Resolution = "score"
	ResolutionSuddenDeath  Resolution = "sudden_death"
	ResolutionAbandoned    Resolution = "abandoned"
	ResolutionForfeit      Resolution = "forfeit"
	ResolutionDraw         Resolution = "draw"
	ResolutionDeclined     Resolution = "declined"
	ResolutionInconsistent Resolution = "inconsistent"
)

// Difficulty is the tier a round's question is drawn from.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Category is the catalog pool a question belongs to.
type Category string

const (
	CategoryExam Category = "exam"
	CategoryQuiz Category = "quiz"
)

// AnySubject disables subject filtering.
const AnySubject = "any"

// Side identifies which participant slot a user occupies.
type Side uint8

const (
	SideNone Side = iota
	SideChallenger
	SideOpponent
)

// Duel is one PvP quiz match.
type Duel struct {
	ID              string     `json:"id"`
	ChallengerID    string     `json:"challengerId"`
	OpponentID      string     `json:"opponentId"`
	Status          DuelStatus `json:"status"`
	Subject         string     `json:"subject"`
	ChallengerScore int        `json:"challengerScore"`
	OpponentScore   int        `json:"opponentScore"`
	CurrentRound    int        `json:"currentRound"`
	SuddenDeath     bool       `json:"suddenDeath"`
	WinnerID        string     `json:"winnerId,omitempty"`
	Resolution      Resolution `json:"resolution,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	Version         int64      `json:"version"`
}

// SideOf returns the slot the user plays in this duel.
func (d *Duel) SideOf(userID string) Side {
	switch userID {
	case d.ChallengerID:
		return SideChallenger
	case d.OpponentID:
		return SideOpponent
	default:
		return SideNone
	}
}

// Other returns the id of the participant opposite userID, or "" for strangers.
func (d *Duel) Other(userID string) string {
	switch userID {
	case d.ChallengerID:
		return d.OpponentID
	case d.OpponentID:
		return d.ChallengerID
	default:
		return ""
	}
}

// Participants returns both user ids, challenger first.
func (d *Duel) Participants() [2]string {
	return [2]string{d.ChallengerID, d.OpponentID}
}

// Transition moves the duel to next if the lifecycle permits it.
func (d *Duel) Transition(next DuelStatus) error {
	if !d.Status.CanTransition(next) {
		return ErrInvalidTransition
	}
	d.Status = next
	return nil
}

// Complete finalizes an in-progress duel. An empty winner declares a draw.
func (d *Duel) Complete(winnerID string, resolution Resolution, at time.Time) error {
	if winnerID != "" && d.SideOf(winnerID) == SideNone {
		return ErrNotParticipant
	}
	if err := d.Transition(StatusCompleted); err != nil {
		return err
	}
	d.WinnerID = winnerID
	d.Resolution = resolution
	d.CompletedAt = &at
	d.UpdatedAt = at
	return nil
}

// Abort cancels an in-progress duel whose state can no longer be resolved.
func (d *Duel) Abort(at time.Time) error {
	if d.Status != StatusInProgress {
		return ErrInvalidTransition
	}
	d.Status = StatusCancelled
	d.Resolution = ResolutionInconsistent
	d.UpdatedAt = at
	return nil
}

// Leader returns the participant with the strictly higher score, or "" when level.
func (d *Duel) Leader() string {
	switch {
	case d.ChallengerScore > d.OpponentScore:
		return d.ChallengerID
	case d.OpponentScore > d.ChallengerScore:
		return d.OpponentID
	default:
		return ""
	}
}

// AnswerSlot is one participant's answer to a round.
type AnswerSlot struct {
	Index      *int       `json:"index,omitempty"`
	Correct    bool       `json:"correct"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
}

// Answered reports whether the slot holds a submission.
func (a AnswerSlot) Answered() bool {
	return a.Index != nil
}

// Record fills the slot; a slot can only be written once.
func (a *AnswerSlot) Record(index int, correct bool, at time.Time) error {
	if a.Answered() {
		return ErrAlreadyAnswered
	}
	a.Index = &index
	a.Correct = correct
	a.AnsweredAt = &at
	return nil
}

// DuelQuestion binds a catalog question to one round of a duel.
type DuelQuestion struct {
	DuelID      string     `json:"duelId"`
	QuestionID  string     `json:"questionId"`
	RoundNumber int        `json:"roundNumber"`
	Difficulty  Difficulty `json:"difficulty"`
	Challenger  AnswerSlot `json:"challenger"`
	Opponent    AnswerSlot `json:"opponent"`
}

// Slot returns the answer slot for the given side.
func (q *DuelQuestion) Slot(side Side) *AnswerSlot {
	switch side {
	case SideChallenger:
		return &q.Challenger
	case SideOpponent:
		return &q.Opponent
	default:
		return nil
	}
}

// BothAnswered reports whether the round can be resolved.
func (q *DuelQuestion) BothAnswered() bool {
	return q.Challenger.Answered() && q.Opponent.Answered()
}

// DuelState is the fully materialized read model of a duel.
type DuelState struct {
	Duel   Duel           `json:"duel"`
	Rounds []DuelQuestion `json:"rounds"`
}

// Round returns the round with the given number, if loaded.
func (s DuelState) Round(n int) (DuelQuestion, bool) {
	for _, r := range s.Rounds {
		if r.RoundNumber == n {
			return r, true
		}
	}
	return DuelQuestion{}, false
}

// Question is a multiple-choice catalog entry.
type Question struct {
	ID            string     `json:"id"`
	Subject       string     `json:"subject"`
	Category      Category   `json:"category"`
	Difficulty    Difficulty `json:"difficulty"`
	Prompt        string     `json:"prompt"`
	Options       []string   `json:"options"`
	CorrectOption string     `json:"correctOption"` // letter A-D
}

// MaxOptions is the number of choices a duel question exposes.
const MaxOptions = 4

// OptionLetter maps a zero-based answer index to the catalog letter convention.
func OptionLetter(index int) (string, bool) {
	if index < 0 || index >= MaxOptions {
		return "", false
	}
	return string(rune('A' + index)), true
}

// IsCorrect evaluates an answer index against the question's correct option.
func (q Question) IsCorrect(index int) bool {
	letter, ok := OptionLetter(index)
	if !ok {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(q.CorrectOption), letter)
}

// XPTotals is what the reward service reports back after an award.
type XPTotals struct {
	UserID  string `json:"userId"`
	TotalXP int64  `json:"totalXp"`
	Level   int    `json:"level"`
}

// XPPerLevel is how much XP separates two levels.
const XPPerLevel = 1000

// LevelFor maps an XP total to a 1-based level.
func LevelFor(total int64) int {
	if total < 0 {
		total = 0
	}
	return int(total/XPPerLevel) + 1
}

// PoolFilter narrows a catalog fetch. Empty fields are unfiltered.
type PoolFilter struct {
	Subject    string
	Difficulty Difficulty
	Category   Category
	Limit      int
}

// Key is a stable cache key for the filter.
func (f PoolFilter) Key() string {
	subject := strings.ToLower(strings.TrimSpace(f.Subject))
	if subject == "" {
		subject = AnySubject
	}
	return fmt.Sprintf("%s|%s|%s|%d", subject, f.Difficulty, f.Category, f.Limit)
}

// Matches reports whether q satisfies every set field of the filter.
func (f PoolFilter) Matches(q Question) bool {
	if s := strings.TrimSpace(f.Subject); s != "" && s != AnySubject && !strings.EqualFold(s, q.Subject) {
		return false
	}
	if f.Difficulty != "" && f.Difficulty != q.Difficulty {
		return false
	}
	if f.Category != "" && f.Category != q.Category {
		return false
	}
	return true
}
