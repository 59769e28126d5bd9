package models

import "time"

// BreakType identifies the kind of break a user is on
type BreakType string

const (
	BreakNone   BreakType = ""
	BreakToilet BreakType = "toilet"
	BreakEat    BreakType = "eat"
	BreakRest   BreakType = "rest"
)

// BreakTypes lists the real break types in display order
var BreakTypes = []BreakType{BreakToilet, BreakEat, BreakRest}

// Valid reports whether b is one of the real break types
func (b BreakType) Valid() bool {
	return b == BreakToilet || b == BreakEat || b == BreakRest
}

// ConversationState is the position of a user's conversation in the tracker
type ConversationState int

const (
	StateSelectingAction ConversationState = iota
	StateOnBreak
	StateConfirmCheckout
	// StateEnded means no session exists; only /start is accepted
	StateEnded
)

func (s ConversationState) String() string {
	switch s {
	case StateSelectingAction:
		return "selecting_action"
	case StateOnBreak:
		return "on_break"
	case StateConfirmCheckout:
		return "confirm_checkout"
	default:
		return "ended"
	}
}

// BreakTally holds the per-shift count and cumulative seconds for one break type
type BreakTally struct {
	Count   int
	Seconds float64
}

// Session is one user's in-memory record of the current shift
type Session struct {
	UserID      int64
	Username    string
	DisplayName string

	State ConversationState

	WorkStarted   bool
	WorkStartTime *time.Time

	OnBreak        bool
	BreakStartTime *time.Time
	CurrentBreak   BreakType

	Toilet BreakTally
	Eat    BreakTally
	Rest   BreakTally

	// MissedCheckoutLogged is set once the session was reported as left open past the shift boundary
	MissedCheckoutLogged bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSession returns a session with all counters at zero and work not started
func NewSession(userID int64, username, displayName string, now time.Time) *Session {
	return &Session{
		UserID:      userID,
		Username:    username,
		DisplayName: displayName,
		State:       StateSelectingAction,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Tally returns a pointer to the tally for b, or nil for BreakNone
func (s *Session) Tally(b BreakType) *BreakTally {
	switch b {
	case BreakToilet:
		return &s.Toilet
	case BreakEat:
		return &s.Eat
	case BreakRest:
		return &s.Rest
	}
	return nil
}

// ResetBreaks zeroes every break counter and cumulative duration
func (s *Session) ResetBreaks() {
	s.Toilet = BreakTally{}
	s.Eat = BreakTally{}
	s.Rest = BreakTally{}
}

// ClearBreak leaves the break state; cumulative tallies are kept
func (s *Session) ClearBreak() {
	s.OnBreak = false
	s.BreakStartTime = nil
	s.CurrentBreak = BreakNone
}

// TotalBreakSeconds sums cumulative seconds across all break types
func (s *Session) TotalBreakSeconds() float64 {
	return s.Toilet.Seconds + s.Eat.Seconds + s.Rest.Seconds
}

// Consistent reports whether the break invariants hold
func (s *Session) Consistent() bool {
	onBreakFields := s.BreakStartTime != nil && s.CurrentBreak != BreakNone
	if s.OnBreak != onBreakFields {
		return false
	}
	if !s.WorkStarted && s.OnBreak {
		return false
	}
	return true
}

// Clone returns a copy safe to read outside the owning user's lock
func (s *Session) Clone() *Session {
	c := *s
	if s.WorkStartTime != nil {
		t := *s.WorkStartTime
		c.WorkStartTime = &t
	}
	if s.BreakStartTime != nil {
		t := *s.BreakStartTime
		c.BreakStartTime = &t
	}
	return &c
}
