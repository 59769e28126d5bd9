package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shiftbot/internal/clock"
	"shiftbot/internal/models"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ict = time.FixedZone("ICT", 7*3600)

type scheduledReminder struct {
	userID  int64
	delay   time.Duration
	message string
}

type recordingReminders struct {
	mu        sync.Mutex
	scheduled []scheduledReminder
	cancelled []int64
}

func (r *recordingReminders) Schedule(userID int64, delay time.Duration, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled = append(r.scheduled, scheduledReminder{userID: userID, delay: delay, message: message})
	return nil
}

func (r *recordingReminders) Cancel(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, userID)
}

type memoryActivity struct {
	mu      sync.Mutex
	entries []models.ActivityEntry
	err     error
}

func (m *memoryActivity) Append(ctx context.Context, entry models.ActivityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *memoryActivity) events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Event)
	}
	return out
}

func (m *memoryActivity) last() models.ActivityEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

type trackerFixture struct {
	fc        clockwork.FakeClock
	tracker   *TrackerService
	store     *SessionStore
	reminders *recordingReminders
	activity  *memoryActivity
	actor     Actor
}

func newTrackerFixture(t *testing.T, start time.Time) *trackerFixture {
	t.Helper()
	fc := clockwork.NewFakeClockAt(start)
	f := &trackerFixture{
		fc:        fc,
		store:     NewSessionStore(time.Hour),
		reminders: &recordingReminders{},
		activity:  &memoryActivity{},
		actor:     Actor{UserID: 1001, Username: "alice", DisplayName: "Alice Smith"},
	}
	f.tracker = NewTrackerService(clock.New(fc, ict), f.store, f.reminders, f.activity,
		models.DefaultShiftPolicy(), NewMetrics(prometheus.NewRegistry()))
	return f
}

func at(day, hour, minute int) time.Time {
	return time.Date(2024, 3, day, hour, minute, 0, 0, ict)
}

func (f *trackerFixture) setTime(t time.Time) {
	f.fc.Advance(t.Sub(f.fc.Now()))
}

func (f *trackerFixture) send(t *testing.T, label string) Reply {
	t.Helper()
	reply, err := f.tracker.Dispatch(context.Background(), f.actor, label)
	require.NoError(t, err)
	if sess := f.tracker.Session(f.actor.UserID); sess != nil {
		require.True(t, sess.Consistent(), "session inconsistent after %q", label)
	}
	return reply
}

func (f *trackerFixture) session(t *testing.T) *models.Session {
	t.Helper()
	sess := f.tracker.Session(f.actor.UserID)
	require.NotNil(t, sess)
	return sess
}

func TestTracker_StartResetsSession(t *testing.T) {
	f := newTrackerFixture(t, at(1, 10, 0))

	reply := f.send(t, CommandStart)
	assert.Equal(t, "Welcome to the Work Tracker Bot! Please choose an action.", reply.Text)
	assert.Equal(t, [][]string{{models.ButtonStartWork}}, reply.Keyboard)
	assert.Equal(t, models.StateSelectingAction, reply.State)
	assert.Empty(t, f.activity.entries)
	assert.Contains(t, f.reminders.cancelled, f.actor.UserID)

	f.send(t, models.ButtonStartWork)
	f.send(t, models.ButtonToilet)

	f.send(t, CommandStart)
	sess := f.session(t)
	assert.False(t, sess.WorkStarted)
	assert.False(t, sess.OnBreak)
	assert.Zero(t, sess.Toilet.Count)
}

func TestTracker_StartWorkOnTime(t *testing.T) {
	f := newTrackerFixture(t, at(1, 10, 55))
	f.send(t, CommandStart)

	reply := f.send(t, models.ButtonStartWork)
	assert.True(t, reply.Markdown)
	assert.NotContains(t, reply.Text, "Late Start")
	assert.Contains(t, reply.Text, "Shift Date Recorded: 01-03-2024")

	entry := f.activity.last()
	assert.Equal(t, models.EventStartWork, entry.Event)
	assert.Equal(t, "Checked in on time.", entry.Details)
	assert.Equal(t, "alice", entry.Username)

	sess := f.session(t)
	assert.True(t, sess.WorkStarted)
	require.NotNil(t, sess.WorkStartTime)
	assert.True(t, at(1, 10, 55).Equal(*sess.WorkStartTime))
}

func TestTracker_StartWorkLate(t *testing.T) {
	f := newTrackerFixture(t, at(1, 11, 5))
	f.send(t, CommandStart)

	reply := f.send(t, models.ButtonStartWork)
	assert.Contains(t, reply.Text, "Late Start")
	assert.Contains(t, reply.Text, "Late by 00:05:00")

	require.Len(t, f.activity.entries, 1)
	entry := f.activity.last()
	assert.Equal(t, models.EventStartWork, entry.Event)
	assert.Equal(t, "Checked in late by 00:05:00.", entry.Details)
}

func TestTracker_StartWorkTwice(t *testing.T) {
	f := newTrackerFixture(t, at(1, 10, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)

	reply, err := f.tracker.Dispatch(context.Background(), f.actor, models.ButtonStartWork)
	require.NoError(t, err)
	assert.Equal(t, "You have already started your work session.", reply.Text)
	assert.Len(t, f.activity.entries, 1)
}

func TestTracker_ShiftDateBeforeBoundary(t *testing.T) {
	f := newTrackerFixture(t, at(2, 5, 59))
	f.send(t, CommandStart)

	reply := f.send(t, models.ButtonStartWork)
	assert.Contains(t, reply.Text, "Shift Date Recorded: 01-03-2024")
	assert.Equal(t, "2024-03-01", f.activity.last().ShiftDate.Format("2006-01-02"))
}

func TestTracker_ToiletQuota(t *testing.T) {
	f := newTrackerFixture(t, at(1, 11, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)

	for i := 1; i <= 6; i++ {
		reply := f.send(t, models.ButtonToilet)
		require.Equal(t, models.StateOnBreak, reply.State, "toilet break %d", i)
		f.fc.Advance(2 * time.Minute)
		f.send(t, models.ButtonBackToSeat)
	}

	before := f.session(t)
	entries := len(f.activity.entries)

	// The button disappears once the quota is used, but a direct call must still be refused
	assert.NotContains(t, models.MainKeyboard(before, f.tracker.Policy())[0], models.ButtonToilet)
	reply := f.tracker.StartBreak(context.Background(), f.actor, models.BreakToilet)
	assert.Equal(t, "You have reached the maximum of 6 toilet breaks for today.", reply.Text)
	assert.Equal(t, models.StateSelectingAction, reply.State)

	after := f.session(t)
	assert.Equal(t, 6, after.Toilet.Count)
	assert.False(t, after.OnBreak)
	assert.Len(t, f.activity.entries, entries)
}

func TestTracker_ToiletBreakSchedulesReminder(t *testing.T) {
	f := newTrackerFixture(t, at(1, 12, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)

	reply := f.send(t, models.ButtonToilet)
	assert.Equal(t, models.OnBreakKeyboard, reply.Keyboard)
	assert.Contains(t, reply.Text, "Time Limit for This Activity:** 10 minutes")

	require.Len(t, f.reminders.scheduled, 1)
	r := f.reminders.scheduled[0]
	assert.Equal(t, f.actor.UserID, r.userID)
	assert.Equal(t, 9*time.Minute, r.delay)
	assert.Equal(t, "🚨 Reminder: You have 1 minute left on your toilet break.", r.message)

	entry := f.activity.last()
	assert.Equal(t, "start_toilet", entry.Event)
	assert.Equal(t, "Toilet break #1", entry.Details)
}

func TestTracker_ToiletOvertime(t *testing.T) {
	f := newTrackerFixture(t, at(1, 12, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)
	f.send(t, models.ButtonToilet)

	f.fc.Advance(11 * time.Minute)
	reply := f.send(t, models.ButtonBackToSeat)

	assert.Equal(t, models.StateSelectingAction, reply.State)
	assert.Contains(t, reply.Text, "You were late by 00:01:00.")
	assert.Contains(t, reply.Text, "Time Used for This Activity: 00:11:00")
	assert.Contains(t, reply.Text, "Counts: 🍔 0 · 🚽 1 · 🛌 0")

	assert.Equal(t, []string{"start_work", "start_toilet", "toilet_overtime", "end_break"}, f.activity.events())
	assert.Equal(t, "Exceeded by 00:01:00", f.activity.entries[2].Details)
	assert.Equal(t, "Ended toilet break. Duration: 00:11:00", f.activity.entries[3].Details)

	sess := f.session(t)
	assert.InDelta(t, 660, sess.Toilet.Seconds, 0.001)
	assert.Contains(t, f.reminders.cancelled, f.actor.UserID)
}

func TestTracker_ToiletWithinLimit(t *testing.T) {
	f := newTrackerFixture(t, at(1, 12, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)
	f.send(t, models.ButtonToilet)

	f.fc.Advance(10 * time.Minute)
	reply := f.send(t, models.ButtonBackToSeat)

	assert.NotContains(t, reply.Text, "late")
	assert.NotContains(t, f.activity.events(), "toilet_overtime")
}

func TestTracker_EatOutsideWindow(t *testing.T) {
	f := newTrackerFixture(t, at(1, 11, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)
	f.setTime(at(1, 21, 0))

	before := f.session(t)
	entries := len(f.activity.entries)

	reply := f.send(t, models.ButtonEat)
	assert.Equal(t, "Dinner break is only allowed between 22:00 and 22:30.", reply.Text)
	assert.Equal(t, models.StateSelectingAction, reply.State)

	after := f.session(t)
	assert.Equal(t, before.Eat, after.Eat)
	assert.False(t, after.OnBreak)
	assert.Len(t, f.activity.entries, entries)
	assert.Empty(t, f.reminders.scheduled)
}

func TestTracker_BreakWindowEdges(t *testing.T) {
	tests := []struct {
		name   string
		button string
		now    time.Time
		allow  bool
	}{
		{"eat at window start", models.ButtonEat, at(1, 22, 0), true},
		{"eat at window end is excluded", models.ButtonEat, at(1, 22, 30), false},
		{"rest at window start", models.ButtonRest, at(1, 16, 15), true},
		{"rest at window end is included", models.ButtonRest, at(1, 17, 45), true},
		{"rest after window", models.ButtonRest, at(1, 17, 46), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTrackerFixture(t, at(1, 11, 0))
			f.send(t, CommandStart)
			f.send(t, models.ButtonStartWork)
			f.setTime(tt.now)

			reply := f.send(t, tt.button)
			if tt.allow {
				assert.Equal(t, models.StateOnBreak, reply.State)
			} else {
				assert.Equal(t, models.StateSelectingAction, reply.State)
			}
		})
	}
}

func TestTracker_WindowReminderDelay(t *testing.T) {
	f := newTrackerFixture(t, at(1, 11, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)

	f.setTime(at(1, 22, 10))
	f.send(t, models.ButtonEat)

	require.Len(t, f.reminders.scheduled, 1)
	assert.Equal(t, 19*time.Minute, f.reminders.scheduled[0].delay)
	assert.Equal(t, "🚨 Reminder: The dinner break period ends in 1 minute.", f.reminders.scheduled[0].message)
}

func TestTracker_NoReminderWhenWindowNearlyOver(t *testing.T) {
	f := newTrackerFixture(t, at(1, 11, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)

	f.setTime(at(1, 17, 44).Add(30 * time.Second))
	reply := f.send(t, models.ButtonRest)

	assert.Equal(t, models.StateOnBreak, reply.State)
	assert.Empty(t, f.reminders.scheduled)
}

func TestTracker_RestOvertime(t *testing.T) {
	f := newTrackerFixture(t, at(1, 11, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)

	f.setTime(at(1, 17, 30))
	f.send(t, models.ButtonRest)
	f.setTime(at(1, 17, 50))
	reply := f.send(t, models.ButtonBackToSeat)

	assert.Contains(t, reply.Text, "Rest break ended at 17:45. You were late by 00:05:00.")
	assert.Contains(t, f.activity.events(), "rest_overtime")
}

func TestTracker_BreakRequiresWork(t *testing.T) {
	f := newTrackerFixture(t, at(1, 12, 0))
	f.send(t, CommandStart)

	reply := f.tracker.StartBreak(context.Background(), f.actor, models.BreakToilet)
	assert.Equal(t, "You must start work before taking a break.", reply.Text)
	assert.Empty(t, f.activity.entries)
}

func TestTracker_AlreadyOnBreak(t *testing.T) {
	f := newTrackerFixture(t, at(1, 12, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)
	f.send(t, models.ButtonToilet)

	reply := f.tracker.StartBreak(context.Background(), f.actor, models.BreakToilet)
	assert.Equal(t, "You are already on a break.", reply.Text)
	assert.Equal(t, models.StateOnBreak, reply.State)
	assert.Equal(t, 1, f.session(t).Toilet.Count)
}

func TestTracker_EndBreakRecoversFromInconsistentState(t *testing.T) {
	f := newTrackerFixture(t, at(1, 12, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)
	f.send(t, models.ButtonToilet)

	// Corrupt the stored session
	unlock := f.store.Lock(f.actor.UserID)
	f.store.Get(f.actor.UserID).BreakStartTime = nil
	unlock()

	reply := f.tracker.EndBreak(context.Background(), f.actor)
	assert.Equal(t, "Could not determine your break details. Returning to main menu.", reply.Text)
	assert.Equal(t, models.StateSelectingAction, reply.State)

	sess := f.session(t)
	assert.False(t, sess.OnBreak)
	assert.Equal(t, models.BreakNone, sess.CurrentBreak)
	assert.True(t, sess.Consistent())
}

func TestTracker_OffWorkWhileOnBreak(t *testing.T) {
	f := newTrackerFixture(t, at(1, 12, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)
	f.send(t, models.ButtonToilet)

	reply := f.tracker.OffWork(context.Background(), f.actor)
	assert.Equal(t, "You must end your break before checking out.", reply.Text)
	assert.Equal(t, models.StateOnBreak, reply.State)
	assert.True(t, f.session(t).OnBreak)
}

func TestTracker_OffWorkBeforeStart(t *testing.T) {
	f := newTrackerFixture(t, at(1, 12, 0))
	f.send(t, CommandStart)

	reply := f.send(t, models.ButtonOffWork)
	assert.Equal(t, "You haven't started work yet.", reply.Text)
	assert.Equal(t, models.StateSelectingAction, reply.State)
}

func TestTracker_CancelOffWork(t *testing.T) {
	f := newTrackerFixture(t, at(1, 12, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)

	reply := f.send(t, models.ButtonOffWork)
	assert.Equal(t, models.StateConfirmCheckout, reply.State)
	assert.Equal(t, models.ConfirmKeyboard, reply.Keyboard)

	entries := len(f.activity.entries)
	reply = f.send(t, models.ButtonConfirmNo)
	assert.Equal(t, "Check-out cancelled. You are still on the clock.", reply.Text)
	assert.Equal(t, models.StateSelectingAction, reply.State)
	assert.Len(t, f.activity.entries, entries)
	assert.True(t, f.session(t).WorkStarted)
}

func TestTracker_ConfirmOffWorkReport(t *testing.T) {
	f := newTrackerFixture(t, at(1, 11, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)

	f.setTime(at(1, 13, 0))
	f.send(t, models.ButtonToilet)
	f.fc.Advance(5 * time.Minute)
	f.send(t, models.ButtonBackToSeat)

	f.setTime(at(1, 20, 0))
	f.send(t, models.ButtonOffWork)
	reply := f.send(t, models.ButtonConfirmYes)

	assert.Equal(t, models.StateEnded, reply.State)
	assert.True(t, reply.RemoveKeyboard)
	assert.Contains(t, reply.Text, "Total work time: 09:00:00")
	assert.Contains(t, reply.Text, "Pure work time: 08:55:00")
	assert.Contains(t, reply.Text, "Total break time: 00:05:00")
	assert.Contains(t, reply.Text, "Toilet count: 1 times")
	assert.NotContains(t, reply.Text, "Overtime")

	entry := f.activity.last()
	assert.Equal(t, models.EventOffWork, entry.Event)
	assert.Equal(t, "Total work: 09:00:00, Pure work: 08:55:00", entry.Details)

	assert.Nil(t, f.tracker.Session(f.actor.UserID))

	// A new conversation needs /start
	reply = f.send(t, models.ButtonStartWork)
	assert.Equal(t, models.StateEnded, reply.State)
	assert.Contains(t, reply.Text, "/start")
}

func TestTracker_CheckoutAfterMidnightLogsOvertime(t *testing.T) {
	f := newTrackerFixture(t, at(1, 11, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)

	f.setTime(at(2, 0, 30))
	f.send(t, models.ButtonOffWork)
	reply := f.send(t, models.ButtonConfirmYes)

	assert.Contains(t, reply.Text, "Overtime Worked:** 00:30:00")
	events := f.activity.events()
	assert.Equal(t, []string{"start_work", "work_overtime", "off_work"}, events)
	assert.Equal(t, "Duration: 00:30:00", f.activity.entries[1].Details)
	// 00:30 is before the 06:00 boundary, so the checkout belongs to the 1st
	assert.Equal(t, "2024-03-01", f.activity.last().ShiftDate.Format("2006-01-02"))
}

func TestTracker_PureWorkClampedToZero(t *testing.T) {
	f := newTrackerFixture(t, at(1, 11, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)

	unlock := f.store.Lock(f.actor.UserID)
	f.store.Get(f.actor.UserID).Toilet.Seconds = 7200
	unlock()

	f.setTime(at(1, 12, 0))
	f.send(t, models.ButtonOffWork)
	reply := f.send(t, models.ButtonConfirmYes)
	assert.Contains(t, reply.Text, "Pure work time: 00:00:00")
}

func TestTracker_ConfirmWithoutStartTime(t *testing.T) {
	f := newTrackerFixture(t, at(1, 11, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)
	f.send(t, models.ButtonOffWork)

	unlock := f.store.Lock(f.actor.UserID)
	f.store.Get(f.actor.UserID).WorkStartTime = nil
	unlock()

	reply := f.tracker.ConfirmOffWork(context.Background(), f.actor)
	assert.Equal(t, "Error: Could not find your work start time. Please /start again.", reply.Text)
	assert.Equal(t, models.StateSelectingAction, reply.State)
	assert.NotContains(t, f.activity.events(), models.EventOffWork)
}

func TestTracker_DispatchOutOfState(t *testing.T) {
	f := newTrackerFixture(t, at(1, 12, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)
	f.send(t, models.ButtonToilet)

	entries := len(f.activity.entries)
	reply := f.send(t, models.ButtonOffWork)
	assert.Contains(t, reply.Text, "You are on a break")
	assert.Equal(t, models.OnBreakKeyboard, reply.Keyboard)
	assert.Equal(t, models.StateOnBreak, reply.State)
	assert.Len(t, f.activity.entries, entries)
}

func TestTracker_DispatchWithoutSession(t *testing.T) {
	f := newTrackerFixture(t, at(1, 12, 0))

	reply := f.send(t, models.ButtonToilet)
	assert.Equal(t, models.StateEnded, reply.State)
	assert.Contains(t, reply.Text, "/start")
	assert.Empty(t, f.activity.entries)
}

func TestTracker_DispatchUnknownText(t *testing.T) {
	f := newTrackerFixture(t, at(1, 12, 0))
	f.send(t, CommandStart)

	reply, err := f.tracker.Dispatch(context.Background(), f.actor, "hello")
	assert.True(t, errors.Is(err, ErrUnknownAction))
	assert.Equal(t, [][]string{{models.ButtonStartWork}}, reply.Keyboard)
}

func TestTracker_LogFailureDoesNotBlockTransition(t *testing.T) {
	f := newTrackerFixture(t, at(1, 12, 0))
	f.activity.err = errors.New("disk full")
	f.send(t, CommandStart)

	reply := f.send(t, models.ButtonStartWork)
	assert.Contains(t, reply.Text, "successfully checked in")
	assert.True(t, f.session(t).WorkStarted)
}

func TestTracker_InvariantAcrossLongSequence(t *testing.T) {
	f := newTrackerFixture(t, at(1, 10, 0))
	labels := []string{
		models.ButtonToilet, CommandStart, models.ButtonBackToSeat, models.ButtonStartWork,
		models.ButtonToilet, models.ButtonToilet, models.ButtonOffWork, models.ButtonBackToSeat,
		models.ButtonEat, models.ButtonRest, models.ButtonOffWork, models.ButtonToilet,
		models.ButtonConfirmNo, models.ButtonToilet, models.ButtonBackToSeat, models.ButtonOffWork,
		models.ButtonConfirmYes, models.ButtonBackToSeat, CommandStart,
	}
	for _, label := range labels {
		f.fc.Advance(7 * time.Minute)
		f.send(t, label)
	}
}

func TestTracker_ReportStale(t *testing.T) {
	f := newTrackerFixture(t, at(1, 11, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)
	f.send(t, models.ButtonToilet)

	boundary := at(2, 6, 0)
	f.setTime(boundary)

	assert.True(t, f.tracker.ReportStale(context.Background(), f.actor.UserID, boundary))
	sess := f.tracker.Session(f.actor.UserID)
	require.NotNil(t, sess)
	assert.True(t, sess.OnBreak)
	assert.True(t, sess.MissedCheckoutLogged)

	entry := f.activity.last()
	assert.Equal(t, models.EventMissedCheckout, entry.Event)
	assert.Contains(t, entry.Details, "still on toilet break")
	assert.Equal(t, "2024-03-01", entry.ShiftDate.Format("2006-01-02"))

	assert.False(t, f.tracker.ReportStale(context.Background(), f.actor.UserID, boundary))
}

func TestTracker_ReportStaleKeepsCurrentShift(t *testing.T) {
	f := newTrackerFixture(t, at(2, 7, 0))
	f.send(t, CommandStart)
	f.send(t, models.ButtonStartWork)

	assert.False(t, f.tracker.ReportStale(context.Background(), f.actor.UserID, at(2, 6, 0)))
	assert.False(t, f.tracker.Session(f.actor.UserID).MissedCheckoutLogged)
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `john\_doe \*boss\*`, escapeMarkdown("john_doe *boss*"))
}
