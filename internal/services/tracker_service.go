package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"shiftbot/internal/clock"
	"shiftbot/internal/logging"
	"shiftbot/internal/models"
)

// CommandStart opens a fresh session
const CommandStart = "/start"

// ErrUnknownAction is returned by Dispatch for text that is neither a command nor a button
var ErrUnknownAction = errors.New("unknown action")

// Actor identifies the Telegram user behind an action
type Actor struct {
	UserID      int64
	Username    string
	DisplayName string
}

// ActorFromUser builds an Actor from a Telegram user
func ActorFromUser(u *models.TelegramUser) Actor {
	return Actor{UserID: u.ID, Username: u.Username, DisplayName: u.FullName()}
}

// LogName is the name written to the activity log: the username, else the display name
func (a Actor) LogName() string {
	if a.Username != "" {
		return a.Username
	}
	return a.DisplayName
}

// Reply is what the transport renders back to the user after a transition
type Reply struct {
	Text           string
	Markdown       bool
	Keyboard       [][]string
	RemoveKeyboard bool
	State          models.ConversationState
}

// Reminders is the reminder scheduler as seen by the tracker
type Reminders interface {
	Schedule(userID int64, delay time.Duration, message string) error
	Cancel(userID int64)
}

// TrackerService runs the per-user work/break state machine
type TrackerService struct {
	clock     *clock.Clock
	store     *SessionStore
	reminders Reminders
	activity  ActivityLogger
	policy    models.ShiftPolicy
	metrics   *Metrics
}

// NewTrackerService wires the state machine to its collaborators
func NewTrackerService(clk *clock.Clock, store *SessionStore, reminders Reminders, activity ActivityLogger, policy models.ShiftPolicy, metrics *Metrics) *TrackerService {
	return &TrackerService{
		clock:     clk,
		store:     store,
		reminders: reminders,
		activity:  activity,
		policy:    policy,
		metrics:   metrics,
	}
}

// Policy returns the shift policy in force
func (s *TrackerService) Policy() models.ShiftPolicy {
	return s.policy
}

// Session returns a copy of the user's session, or nil
func (s *TrackerService) Session(userID int64) *models.Session {
	unlock := s.store.Lock(userID)
	defer unlock()
	if sess := s.store.Get(userID); sess != nil {
		return sess.Clone()
	}
	return nil
}

// Start resets the user's session and shows the main keyboard
func (s *TrackerService) Start(ctx context.Context, actor Actor) Reply {
	unlock := s.store.Lock(actor.UserID)
	defer unlock()
	return s.start(actor)
}

// StartWork checks the user in
func (s *TrackerService) StartWork(ctx context.Context, actor Actor) Reply {
	return s.withSession(ctx, actor, "start_work", s.startWork)
}

// StartBreak starts a break of type b
func (s *TrackerService) StartBreak(ctx context.Context, actor Actor, b models.BreakType) Reply {
	return s.withSession(ctx, actor, models.StartBreakEvent(b), func(ctx context.Context, actor Actor, sess *models.Session) Reply {
		return s.startBreak(ctx, actor, sess, b)
	})
}

// EndBreak ends the running break ("Back to Seat")
func (s *TrackerService) EndBreak(ctx context.Context, actor Actor) Reply {
	return s.withSession(ctx, actor, "end_break", s.endBreak)
}

// OffWork asks the user to confirm checkout
func (s *TrackerService) OffWork(ctx context.Context, actor Actor) Reply {
	return s.withSession(ctx, actor, "off_work", s.offWork)
}

// ConfirmOffWork checks the user out and reports the shift
func (s *TrackerService) ConfirmOffWork(ctx context.Context, actor Actor) Reply {
	return s.withSession(ctx, actor, "confirm_off_work", s.confirmOffWork)
}

// CancelOffWork abandons a pending checkout
func (s *TrackerService) CancelOffWork(ctx context.Context, actor Actor) Reply {
	return s.withSession(ctx, actor, "cancel_off_work", s.cancelOffWork)
}

// Dispatch routes a command or button label according to the user's conversation state
func (s *TrackerService) Dispatch(ctx context.Context, actor Actor, label string) (Reply, error) {
	unlock := s.store.Lock(actor.UserID)
	defer unlock()

	if label == CommandStart {
		return s.start(actor), nil
	}
	if !knownLabel(label) {
		return s.currentReply(actor.UserID, "Please use the keyboard buttons below."), ErrUnknownAction
	}

	sess := s.store.Get(actor.UserID)
	if sess == nil {
		s.metrics.transition("dispatch", "no_session")
		return noSessionReply(), nil
	}

	run := func(action string, fn func(context.Context, Actor, *models.Session) Reply) Reply {
		return s.run(ctx, actor, sess, action, fn)
	}

	switch sess.State {
	case models.StateSelectingAction:
		switch label {
		case models.ButtonStartWork:
			return run("start_work", s.startWork), nil
		case models.ButtonOffWork:
			return run("off_work", s.offWork), nil
		case models.ButtonToilet, models.ButtonEat, models.ButtonRest:
			b := breakForButton(label)
			return run(models.StartBreakEvent(b), func(ctx context.Context, actor Actor, sess *models.Session) Reply {
				return s.startBreak(ctx, actor, sess, b)
			}), nil
		}
	case models.StateOnBreak:
		if label == models.ButtonBackToSeat {
			return run("end_break", s.endBreak), nil
		}
	case models.StateConfirmCheckout:
		switch label {
		case models.ButtonConfirmYes:
			return run("confirm_off_work", s.confirmOffWork), nil
		case models.ButtonConfirmNo:
			return run("cancel_off_work", s.cancelOffWork), nil
		}
	}

	s.metrics.transition("dispatch", "out_of_state")
	return s.replyFor(sess, stateHint(sess.State)), nil
}

// withSession locks the user, loads the session and runs fn
func (s *TrackerService) withSession(ctx context.Context, actor Actor, action string, fn func(context.Context, Actor, *models.Session) Reply) Reply {
	unlock := s.store.Lock(actor.UserID)
	defer unlock()

	sess := s.store.Get(actor.UserID)
	if sess == nil {
		s.metrics.transition(action, "no_session")
		return noSessionReply()
	}
	return s.run(ctx, actor, sess, action, fn)
}

// run executes one transition on a locked session and persists the result
func (s *TrackerService) run(ctx context.Context, actor Actor, sess *models.Session, action string, fn func(context.Context, Actor, *models.Session) Reply) Reply {
	reply := fn(ctx, actor, sess)

	if reply.State == models.StateEnded {
		s.store.Delete(actor.UserID)
	} else {
		sess.State = reply.State
		sess.UpdatedAt = s.clock.Now()
		if !sess.Consistent() {
			slog.Warn("session invariant violated after transition", "user_id", actor.UserID, "action", action)
		}
		s.store.Put(sess)
	}
	s.metrics.sessions(s.store.Count())
	return reply
}

func (s *TrackerService) start(actor Actor) Reply {
	logger := logging.WithUser(actor.UserID, actor.LogName())

	s.reminders.Cancel(actor.UserID)

	sess := models.NewSession(actor.UserID, actor.Username, actor.DisplayName, s.clock.Now())
	s.store.Put(sess)
	s.metrics.sessions(s.store.Count())
	s.metrics.transition("start", "ok")

	logger.Info("started a new session", "first_name", actor.DisplayName)

	return Reply{
		Text:     "Welcome to the Work Tracker Bot! Please choose an action.",
		Keyboard: models.MainKeyboard(sess, s.policy),
		State:    models.StateSelectingAction,
	}
}

func (s *TrackerService) startWork(ctx context.Context, actor Actor, sess *models.Session) Reply {
	if sess.WorkStarted {
		s.metrics.transition("start_work", "rejected")
		return s.replyFor(sess, "You have already started your work session.")
	}

	now := s.clock.Now()
	sess.WorkStarted = true
	sess.WorkStartTime = &now
	sess.ResetBreaks()
	sess.ClearBreak()

	officialStart := s.policy.WorkStart.On(now)
	late := time.Duration(0)
	details := "Checked in on time."
	if now.After(officialStart) {
		late = now.Sub(officialStart)
		details = fmt.Sprintf("Checked in late by %s.", clock.Format(late))
	}

	s.record(ctx, actor, now, models.EventStartWork, details)
	s.metrics.transition("start_work", "ok")

	reply := s.replyFor(sess, renderCheckIn(actor, now, late, clock.ShiftDateOf(now)))
	reply.Markdown = true
	return reply
}

func (s *TrackerService) startBreak(ctx context.Context, actor Actor, sess *models.Session, b models.BreakType) Reply {
	action := models.StartBreakEvent(b)
	rule, ok := s.policy.Rule(b)
	if !ok {
		s.metrics.transition(action, "rejected")
		return s.replyFor(sess, "This break type is not available.")
	}

	if !sess.WorkStarted {
		s.metrics.transition(action, "rejected")
		return s.replyFor(sess, "You must start work before taking a break.")
	}
	if sess.OnBreak {
		s.metrics.transition(action, "rejected")
		return s.replyFor(sess, "You are already on a break.")
	}

	tally := sess.Tally(b)
	if tally.Count >= rule.Quota {
		s.metrics.transition(action, "rejected")
		return s.replyFor(sess, rule.QuotaMessage)
	}

	now := s.clock.Now()
	if rule.Window != nil && !rule.Window.Contains(now) {
		s.metrics.transition(action, "rejected")
		return s.replyFor(sess, fmt.Sprintf("%s is only allowed between %s and %s.", rule.WindowName, rule.Window.Start, rule.Window.End))
	}

	sess.OnBreak = true
	sess.BreakStartTime = &now
	sess.CurrentBreak = b
	tally.Count++

	s.record(ctx, actor, now, action, fmt.Sprintf("%s break #%d", rule.Label, tally.Count))
	s.scheduleBreakReminder(actor, rule, now)
	s.metrics.transition(action, "ok")

	return Reply{
		Text:     renderBreakStarted(actor, rule, now, tally.Count),
		Markdown: true,
		Keyboard: models.OnBreakKeyboard,
		State:    models.StateOnBreak,
	}
}

// scheduleBreakReminder arms the one-minute warning for a break that just started
func (s *TrackerService) scheduleBreakReminder(actor Actor, rule models.BreakRule, now time.Time) {
	var delay time.Duration
	switch {
	case rule.Limit > 0:
		delay = rule.Limit - s.policy.ReminderLead
	case rule.Window != nil:
		remaining := rule.Window.End.On(now).Sub(now)
		if remaining <= s.policy.ReminderLead {
			return
		}
		delay = remaining - s.policy.ReminderLead
	default:
		return
	}

	if err := s.reminders.Schedule(actor.UserID, delay, rule.ReminderMessage); err != nil {
		logging.WithUser(actor.UserID, actor.LogName()).Error("failed to schedule break reminder", "break", rule.Type, "error", err)
	}
}

func (s *TrackerService) endBreak(ctx context.Context, actor Actor, sess *models.Session) Reply {
	s.reminders.Cancel(actor.UserID)

	if sess.BreakStartTime == nil || !sess.CurrentBreak.Valid() {
		logging.WithUser(actor.UserID, actor.LogName()).Warn("break details missing on end_break, resetting break state",
			"on_break", sess.OnBreak, "break", sess.CurrentBreak)
		sess.ClearBreak()
		sess.State = models.StateSelectingAction
		s.metrics.transition("end_break", "recovered")
		return s.replyFor(sess, "Could not determine your break details. Returning to main menu.")
	}

	now := s.clock.Now()
	b := sess.CurrentBreak
	rule, _ := s.policy.Rule(b)
	started := *sess.BreakStartTime
	duration := now.Sub(started)

	tally := sess.Tally(b)
	tally.Seconds += duration.Seconds()

	late := ""
	switch {
	case rule.Limit > 0:
		if duration > rule.Limit {
			over := clock.Format(duration - rule.Limit)
			late = fmt.Sprintf("🚨 **You were late by %s.**", over)
			s.record(ctx, actor, now, models.OvertimeEvent(b), "Exceeded by "+over)
		}
	case rule.Window != nil:
		// The window belongs to the day the break started, even if it ends after midnight
		windowEnd := rule.Window.End.On(started)
		if now.After(windowEnd) {
			over := clock.Format(now.Sub(windowEnd))
			late = fmt.Sprintf("🚨 **%s ended at %s. You were late by %s.**", rule.WindowName, rule.Window.End, over)
			s.record(ctx, actor, now, models.OvertimeEvent(b), "Exceeded by "+over)
		}
	}

	text := renderBreakEnded(actor, sess, rule, now, duration, late)

	s.record(ctx, actor, now, models.EventEndBreak, fmt.Sprintf("Ended %s break. Duration: %s", b, clock.Format(duration)))
	sess.ClearBreak()
	sess.State = models.StateSelectingAction
	s.metrics.transition("end_break", "ok")

	reply := s.replyFor(sess, text)
	reply.Markdown = true
	return reply
}

func (s *TrackerService) offWork(ctx context.Context, actor Actor, sess *models.Session) Reply {
	if !sess.WorkStarted {
		s.metrics.transition("off_work", "rejected")
		return s.replyFor(sess, "You haven't started work yet.")
	}
	if sess.OnBreak {
		s.metrics.transition("off_work", "rejected")
		return Reply{
			Text:     "You must end your break before checking out.",
			Keyboard: models.OnBreakKeyboard,
			State:    models.StateOnBreak,
		}
	}

	s.metrics.transition("off_work", "ok")
	return Reply{
		Text:     "⚠️ Are you sure you want to check out?",
		Keyboard: models.ConfirmKeyboard,
		State:    models.StateConfirmCheckout,
	}
}

func (s *TrackerService) confirmOffWork(ctx context.Context, actor Actor, sess *models.Session) Reply {
	logger := logging.WithAction(logging.WithUser(actor.UserID, actor.LogName()), "confirm_off_work")

	if sess.WorkStartTime == nil {
		logger.Warn("work start time missing at checkout")
		s.metrics.transition("confirm_off_work", "recovered")
		return Reply{
			Text:     "Error: Could not find your work start time. Please /start again.",
			Keyboard: models.MainKeyboard(sess, s.policy),
			State:    models.StateSelectingAction,
		}
	}

	now := s.clock.Now()
	workStart := *sess.WorkStartTime

	totalWork := now.Sub(workStart).Seconds()
	totalBreak := sess.TotalBreakSeconds()
	pureWork := totalWork - totalBreak
	if pureWork < 0 {
		logger.Warn("break time exceeds elapsed work time, clamping pure work to zero",
			"total_work_seconds", totalWork, "total_break_seconds", totalBreak)
		pureWork = 0
	}

	overtime := time.Duration(0)
	if shiftEnd := clock.NextMidnight(workStart); now.After(shiftEnd) {
		overtime = now.Sub(shiftEnd)
		s.record(ctx, actor, now, models.EventWorkOvertime, "Duration: "+clock.Format(overtime))
	}

	report := checkoutReport{
		Now:        now,
		TotalWork:  totalWork,
		PureWork:   pureWork,
		TotalBreak: totalBreak,
		Overtime:   overtime,
		Toilet:     sess.Toilet,
		Eat:        sess.Eat,
		Rest:       sess.Rest,
	}

	s.record(ctx, actor, now, models.EventOffWork,
		fmt.Sprintf("Total work: %s, Pure work: %s", clock.FormatDuration(totalWork), clock.FormatDuration(pureWork)))
	s.reminders.Cancel(actor.UserID)
	s.metrics.transition("confirm_off_work", "ok")
	logger.Info("checked out", "total_work", clock.FormatDuration(totalWork))

	return Reply{
		Text:           renderCheckout(actor, report),
		Markdown:       true,
		RemoveKeyboard: true,
		State:          models.StateEnded,
	}
}

func (s *TrackerService) cancelOffWork(ctx context.Context, actor Actor, sess *models.Session) Reply {
	s.metrics.transition("cancel_off_work", "ok")
	return Reply{
		Text:     "Check-out cancelled. You are still on the clock.",
		Keyboard: models.MainKeyboard(sess, s.policy),
		State:    models.StateSelectingAction,
	}
}

// ReportStale logs missed_checkout for a session still checked in from before
// the shift boundary. The session stays open so the user can still end a break
// or check out. Returns true only the first time a session is reported.
func (s *TrackerService) ReportStale(ctx context.Context, userID int64, boundary time.Time) bool {
	unlock := s.store.Lock(userID)
	defer unlock()

	sess := s.store.Get(userID)
	if sess == nil || !sess.WorkStarted || sess.WorkStartTime == nil || !sess.WorkStartTime.Before(boundary) {
		return false
	}
	if sess.MissedCheckoutLogged {
		return false
	}

	actor := Actor{UserID: sess.UserID, Username: sess.Username, DisplayName: sess.DisplayName}
	details := fmt.Sprintf("Checked in at %s, no checkout before shift boundary", sess.WorkStartTime.Format("02/01 15:04:05"))
	if sess.OnBreak {
		details += fmt.Sprintf(" (still on %s break)", sess.CurrentBreak)
	}

	// Attribute the entry to the shift the session belonged to
	s.append(ctx, models.ActivityEntry{
		Timestamp: s.clock.Now(),
		UserID:    actor.UserID,
		Username:  actor.LogName(),
		Event:     models.EventMissedCheckout,
		Details:   details,
		ShiftDate: clock.ShiftDateOf(*sess.WorkStartTime),
	})

	// Mutated in place; a Put would refresh the idle expiry
	sess.MissedCheckoutLogged = true
	s.metrics.transition("missed_checkout", "ok")
	return true
}

// record appends an activity entry for now's shift
func (s *TrackerService) record(ctx context.Context, actor Actor, now time.Time, event, details string) {
	s.append(ctx, models.ActivityEntry{
		Timestamp: now,
		UserID:    actor.UserID,
		Username:  actor.LogName(),
		Event:     event,
		Details:   details,
		ShiftDate: clock.ShiftDateOf(now),
	})
}

// append writes to the activity log; failures never undo the transition
func (s *TrackerService) append(ctx context.Context, entry models.ActivityEntry) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Append(ctx, entry); err != nil {
		slog.Error("failed to write activity log", "user_id", entry.UserID, "event", entry.Event, "error", err)
	}
}

// replyFor answers with text and the keyboard for the session's current state
func (s *TrackerService) replyFor(sess *models.Session, text string) Reply {
	reply := Reply{Text: text, State: sess.State}
	switch sess.State {
	case models.StateOnBreak:
		reply.Keyboard = models.OnBreakKeyboard
	case models.StateConfirmCheckout:
		reply.Keyboard = models.ConfirmKeyboard
	default:
		reply.State = models.StateSelectingAction
		reply.Keyboard = models.MainKeyboard(sess, s.policy)
	}
	return reply
}

// currentReply answers with text and whatever keyboard the user should see now
func (s *TrackerService) currentReply(userID int64, text string) Reply {
	sess := s.store.Get(userID)
	if sess == nil {
		reply := noSessionReply()
		reply.Text = text + "\n" + reply.Text
		return reply
	}
	return s.replyFor(sess, text)
}

func noSessionReply() Reply {
	return Reply{
		Text:     "No active session. Please send /start to begin.",
		Keyboard: [][]string{{CommandStart}},
		State:    models.StateEnded,
	}
}

func stateHint(state models.ConversationState) string {
	switch state {
	case models.StateOnBreak:
		return "You are on a break. Tap " + models.ButtonBackToSeat + " when you are back."
	case models.StateConfirmCheckout:
		return "Please confirm your check-out: " + models.ButtonConfirmYes + " or " + models.ButtonConfirmNo + "."
	default:
		return "You are not on a break."
	}
}

func breakForButton(label string) models.BreakType {
	for b, button := range models.BreakButtons {
		if button == label {
			return b
		}
	}
	return models.BreakNone
}

func knownLabel(label string) bool {
	switch label {
	case models.ButtonStartWork, models.ButtonOffWork, models.ButtonToilet, models.ButtonEat,
		models.ButtonRest, models.ButtonBackToSeat, models.ButtonConfirmYes, models.ButtonConfirmNo:
		return true
	}
	return false
}
