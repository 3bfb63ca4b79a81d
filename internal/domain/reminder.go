package domain

import (
	"fmt"
	"strings"
	"time"
)

type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderCancelled ReminderStatus = "cancelled"
	ReminderFailed    ReminderStatus = "failed"
)

type Reminder struct {
	ID             string         `json:"id"`
	TaskID         string         `json:"task_id"`
	UserID         string         `json:"user_id"`
	RemindAt       time.Time      `json:"remind_at"`
	DueDate        time.Time      `json:"due_date"`
	ReminderBefore int            `json:"reminder_before"` // minutes
	TaskTitle      string         `json:"task_title"`
	TaskPriority   int            `json:"task_priority"`
	Status         ReminderStatus `json:"status"`
	SentAt         *time.Time     `json:"sent_at"`
	DeliveredVia   string         `json:"delivered_via,omitempty"` // empty if every backend failed
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (r *Reminder) IsPending() bool {
	return r.Status == ReminderPending
}

// IsDue reports whether a pending reminder should fire at now.
func (r *Reminder) IsDue(now time.Time) bool {
	return r.IsPending() && !r.RemindAt.After(now)
}

// Cancel moves a pending reminder to cancelled. Other states are left alone.
func (r *Reminder) Cancel(now time.Time) bool {
	if !r.IsPending() {
		return false
	}
	r.Status = ReminderCancelled
	r.UpdatedAt = now
	return true
}

// MarkSent moves a pending reminder to sent. Other states are left alone.
func (r *Reminder) MarkSent(now time.Time, via string) bool {
	if !r.IsPending() {
		return false
	}
	r.Status = ReminderSent
	sentAt := now
	r.SentAt = &sentAt
	r.DeliveredVia = via
	return true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts ISO-8601 timestamps with or without a zone; a trailing
// "Z" means UTC and zone-less values are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
