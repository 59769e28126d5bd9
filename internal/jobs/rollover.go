package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"shiftbot/internal/clock"
	"shiftbot/internal/models"
	"shiftbot/internal/services"

	"github.com/robfig/cron/v3"
)

// RolloverJobName is the scheduler key of the shift rollover job
const RolloverJobName = "shift_rollover"

// SessionLister lists open tracker sessions
type SessionLister interface {
	Snapshot() []*models.Session
}

// StaleSessionReporter records a session left open across a shift boundary
type StaleSessionReporter interface {
	ReportStale(ctx context.Context, userID int64, boundary time.Time) bool
}

// RolloverJob reports sessions still checked in when a new shift begins.
// Sessions are never closed by the job.
type RolloverJob struct {
	schedule cron.Schedule
	clock    *clock.Clock
	sessions SessionLister
	reporter StaleSessionReporter
	notifier services.Notifier // optional
}

// ParseSchedule parses a standard five-field cron expression
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// NewRolloverJob creates the rollover job firing on expr in the clock's timezone
func NewRolloverJob(expr string, clk *clock.Clock, sessions SessionLister, reporter StaleSessionReporter, notifier services.Notifier) (*RolloverJob, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	return &RolloverJob{
		schedule: schedule,
		clock:    clk,
		sessions: sessions,
		reporter: reporter,
		notifier: notifier,
	}, nil
}

// NextRunTime returns the next cron activation after now
func (j *RolloverJob) NextRunTime(now time.Time) time.Time {
	return j.schedule.Next(now.In(j.clock.Location()))
}

// Boundary returns the start of the current shift
func (j *RolloverJob) Boundary() time.Time {
	return clock.At(j.clock.ShiftDate(), clock.ShiftBoundaryHour, 0)
}

// Run reports every session whose work started before the current shift boundary
func (j *RolloverJob) Run(ctx context.Context) error {
	boundary := j.Boundary()
	sessions := j.sessions.Snapshot()

	reported := 0
	for _, sess := range sessions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !j.reporter.ReportStale(ctx, sess.UserID, boundary) {
			continue
		}
		reported++
		log.Printf("🌅 [ROLLOVER] User %d still checked in since %s",
			sess.UserID, sess.WorkStartTime.Format("02/01 15:04"))

		if j.notifier == nil {
			continue
		}
		msg := fmt.Sprintf("🌅 You are still checked in for the shift of %s. Please press Off Work when you finish.",
			clock.ShiftDateOf(*sess.WorkStartTime).Format("02-01-2006"))
		if err := j.notifier.Notify(ctx, sess.UserID, msg); err != nil {
			log.Printf("⚠️ [ROLLOVER] Failed to notify user %d: %v", sess.UserID, err)
		}
	}

	log.Printf("🌅 [ROLLOVER] Shift boundary %s: %d of %d sessions missed checkout",
		boundary.Format("02/01 15:04"), reported, len(sessions))
	return nil
}
