package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"shiftbot/internal/database"
	"shiftbot/internal/models"
)

// ActivityLogger appends entries to the activity log
type ActivityLogger interface {
	Append(ctx context.Context, entry models.ActivityEntry) error
}

// CSVActivityLog appends entries to a CSV file, writing the header before the first row
type CSVActivityLog struct {
	path    string
	mu      sync.Mutex
	metrics *Metrics
}

// NewCSVActivityLog creates a CSV sink at path
func NewCSVActivityLog(path string, metrics *Metrics) *CSVActivityLog {
	return &CSVActivityLog{path: path, metrics: metrics}
}

// Path returns the log file location
func (l *CSVActivityLog) Path() string {
	return l.path
}

// Append writes entry as one CSV row
func (l *CSVActivityLog) Append(ctx context.Context, entry models.ActivityEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.append(entry)
	l.metrics.activityWrite("csv", err)
	return err
}

func (l *CSVActivityLog) append(entry models.ActivityEntry) error {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
	}

	_, statErr := os.Stat(l.path)
	needsHeader := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening activity log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write(models.ActivityLogHeader); err != nil {
			return fmt.Errorf("writing activity log header: %w", err)
		}
	}
	if err := w.Write(entry.Record()); err != nil {
		return fmt.Errorf("writing activity log entry: %w", err)
	}
	w.Flush()
	return w.Error()
}

// ReadAll returns the raw file contents; os.ErrNotExist when nothing was logged yet
func (l *CSVActivityLog) ReadAll() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return os.ReadFile(l.path)
}

// SQLActivityLog mirrors entries into the activity_log table
type SQLActivityLog struct {
	db      *database.DB
	metrics *Metrics
}

// NewSQLActivityLog creates a SQL sink on an initialized database
func NewSQLActivityLog(db *database.DB, metrics *Metrics) *SQLActivityLog {
	return &SQLActivityLog{db: db, metrics: metrics}
}

// Append inserts entry
func (l *SQLActivityLog) Append(ctx context.Context, entry models.ActivityEntry) error {
	err := l.db.InsertActivity(ctx, database.ActivityRow{
		Timestamp: entry.Timestamp,
		UserID:    entry.UserID,
		Username:  entry.Username,
		Event:     entry.Event,
		Details:   entry.Details,
		ShiftDate: entry.ShiftDate.Format("2006-01-02"),
	})
	l.metrics.activityWrite("sql", err)
	return err
}

// MultiActivityLog fans entries out to several sinks. Every sink is attempted;
// failures are joined.
type MultiActivityLog struct {
	sinks []ActivityLogger
}

// NewMultiActivityLog combines sinks, skipping nil ones
func NewMultiActivityLog(sinks ...ActivityLogger) *MultiActivityLog {
	m := &MultiActivityLog{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Append writes entry to every sink
func (m *MultiActivityLog) Append(ctx context.Context, entry models.ActivityEntry) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		log.Printf("⚠️ [ACTIVITY] %d of %d sinks failed for %s", len(errs), len(m.sinks), entry.Event)
	}
	return errors.Join(errs...)
}
