package domain

import "time"

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
)

type Task struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	DueDate        *string    `json:"due_date"`
	Priority       int        `json:"priority"`
	Tags           []string   `json:"tags"`
	ReminderBefore int        `json:"reminder_before"`
	Status         TaskStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func (t *Task) IsDone() bool {
	return t.Status == TaskStatusCompleted
}

// IsOverdue reports whether the task had a parseable due date before now.
func (t *Task) IsOverdue(now time.Time) bool {
	if t.DueDate == nil {
		return false
	}
	due, err := ParseTimestamp(*t.DueDate)
	if err != nil {
		return false
	}
	return due.Before(now)
}

func (t *Task) Clone() *Task {
	c := *t
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.CompletedAt != nil {
		ca := *t.CompletedAt
		c.CompletedAt = &ca
	}
	return &c
}
