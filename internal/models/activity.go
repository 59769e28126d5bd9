package models

import (
	"strconv"
	"time"
)

// Activity event kinds written to the log
const (
	EventStartWork      = "start_work"
	EventEndBreak       = "end_break"
	EventOffWork        = "off_work"
	EventWorkOvertime   = "work_overtime"
	EventMissedCheckout = "missed_checkout"
)

// StartBreakEvent returns the event kind for starting a break of type b
func StartBreakEvent(b BreakType) string {
	return "start_" + string(b)
}

// OvertimeEvent returns the event kind for overrunning a break of type b
func OvertimeEvent(b BreakType) string {
	return string(b) + "_overtime"
}

// ActivityLogHeader is the fixed column header of the activity log
var ActivityLogHeader = []string{"timestamp_utc", "user_id", "username", "event", "details", "shift_date"}

// ActivityEntry is one immutable row of the activity log
type ActivityEntry struct {
	Timestamp time.Time
	UserID    int64
	Username  string
	Event     string
	Details   string
	ShiftDate time.Time
}

// Record renders the entry as a row matching ActivityLogHeader
func (e ActivityEntry) Record() []string {
	return []string{
		e.Timestamp.Format(time.RFC3339Nano),
		strconv.FormatInt(e.UserID, 10),
		e.Username,
		e.Event,
		e.Details,
		e.ShiftDate.Format("2006-01-02"),
	}
}
