package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"shiftbot/internal/clock"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// Notifier delivers a push message to a user outside of a request/reply exchange
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// pendingReminder is the single reminder slot for one user
type pendingReminder struct {
	token uuid.UUID
	job   gocron.Job
}

// ReminderService keeps at most one pending one-shot reminder per user
type ReminderService struct {
	scheduler gocron.Scheduler
	clock     *clock.Clock
	notifier  Notifier
	metrics   *Metrics
	timeout   time.Duration

	mu      sync.Mutex
	pending map[int64]pendingReminder // userID -> reminder
}

// NewReminderService creates a reminder service driven by clk
func NewReminderService(notifier Notifier, clk *clock.Clock, metrics *Metrics) (*ReminderService, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithClock(clk.Underlying()),
		gocron.WithLocation(clk.Location()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reminder scheduler: %w", err)
	}

	return &ReminderService{
		scheduler: scheduler,
		clock:     clk,
		notifier:  notifier,
		metrics:   metrics,
		timeout:   15 * time.Second,
		pending:   make(map[int64]pendingReminder),
	}, nil
}

// Start starts the underlying scheduler
func (s *ReminderService) Start() {
	log.Println("⏰ [REMINDER] Starting reminder scheduler...")
	s.scheduler.Start()
}

// Stop stops the scheduler; pending reminders are dropped
func (s *ReminderService) Stop() error {
	log.Println("⏹️ [REMINDER] Stopping reminder scheduler...")
	return s.scheduler.Shutdown()
}

// Schedule replaces any pending reminder for userID with one that delivers
// message after delay
func (s *ReminderService) Schedule(userID int64, delay time.Duration, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(userID)

	token := uuid.New()
	startAt := gocron.OneTimeJobStartImmediately()
	if delay > 0 {
		startAt = gocron.OneTimeJobStartDateTime(s.clock.Now().Add(delay))
	}

	job, err := s.scheduler.NewJob(
		gocron.OneTimeJob(startAt),
		gocron.NewTask(func() {
			s.fire(userID, token, message)
		}),
		gocron.WithName("break_warning_"+strconv.FormatInt(userID, 10)),
		gocron.WithTags(strconv.FormatInt(userID, 10)),
	)
	if err != nil {
		return fmt.Errorf("failed to create reminder job: %w", err)
	}

	s.pending[userID] = pendingReminder{token: token, job: job}
	s.metrics.reminderScheduled()
	log.Printf("📅 [REMINDER] Scheduled alert for user %d in %v", userID, delay.Round(time.Second))
	return nil
}

// Cancel removes the user's pending reminder, if any
func (s *ReminderService) Cancel(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(userID)
}

// Pending reports whether userID has a reminder waiting to fire
func (s *ReminderService) Pending(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[userID]
	return ok
}

func (s *ReminderService) cancelLocked(userID int64) {
	existing, ok := s.pending[userID]
	if !ok {
		return
	}
	delete(s.pending, userID)

	if err := s.scheduler.RemoveJob(existing.job.ID()); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
		log.Printf("⚠️ [REMINDER] Failed to remove job for user %d: %v", userID, err)
		return
	}
	log.Printf("🗑️ [REMINDER] Removed existing alert for user %d", userID)
}

// fire runs on the scheduler's goroutine. A token that no longer matches the
// registry belongs to a superseded or cancelled reminder and does nothing.
func (s *ReminderService) fire(userID int64, token uuid.UUID, message string) {
	s.mu.Lock()
	current, ok := s.pending[userID]
	if !ok || current.token != token {
		s.mu.Unlock()
		s.metrics.reminderFired("stale")
		return
	}
	delete(s.pending, userID)
	s.mu.Unlock()

	if s.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.notifier.Notify(ctx, userID, message); err != nil {
		log.Printf("⚠️ [REMINDER] Failed to deliver alert to user %d: %v", userID, err)
		s.metrics.reminderFired("failed")
		return
	}
	s.metrics.reminderFired("sent")
	log.Printf("📬 [REMINDER] Sent scheduled alert to user %d", userID)
}
