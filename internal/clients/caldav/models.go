package caldav

import (
	"fmt"
	"time"

	"github.com/tazhate/taskreminder/internal/domain"
)

// Event is a calendar entry mirrored from a reminder
type Event struct {
	UID         string // Unique ID in CalDAV
	Summary     string // Title
	Description string
	Start       time.Time
	End         time.Time
	Priority    int
	// AlarmMinutesBefore adds a VALARM firing this many minutes before Start.
	// Zero or less means no alarm.
	AlarmMinutesBefore int
}

// ReminderEvent builds the calendar entry for a reminder. The event spans the
// task's due moment and its alarm fires at remind_at.
func ReminderEvent(r *domain.Reminder) *Event {
	title := r.TaskTitle
	if title == "" {
		title = "Task"
	}
	return &Event{
		UID:                ReminderUID(r.ID),
		Summary:            title,
		Description:        fmt.Sprintf("Task %s is due. Reminder %s.", r.TaskID, r.ID),
		Start:              r.DueDate,
		End:                r.DueDate.Add(15 * time.Minute),
		Priority:           r.TaskPriority,
		AlarmMinutesBefore: r.ReminderBefore,
	}
}

// ReminderUID is the CalDAV object UID used for a reminder id
func ReminderUID(reminderID string) string {
	return reminderID + "@taskreminder"
}
