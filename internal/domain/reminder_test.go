package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

	cases := []string{
		"2026-05-04T10:30:00Z",
		"2026-05-04T10:30:00+00:00",
		"2026-05-04T12:30:00+02:00",
		"2026-05-04T10:30:00",
		"2026-05-04T10:30",
		"2026-05-04 10:30:00",
	}
	for _, c := range cases {
		got, err := ParseTimestamp(c)
		require.NoError(t, err, c)
		assert.True(t, want.Equal(got), "%s parsed as %s", c, got)
	}

	_, err := ParseTimestamp("next tuesday")
	assert.Error(t, err)
	_, err = ParseTimestamp("")
	assert.Error(t, err)
}

func TestReminder_CancelOnlyFromPending(t *testing.T) {
	now := time.Now()

	r := &Reminder{Status: ReminderPending}
	assert.True(t, r.Cancel(now))
	assert.Equal(t, ReminderCancelled, r.Status)

	sent := &Reminder{Status: ReminderSent}
	assert.False(t, sent.Cancel(now))
	assert.Equal(t, ReminderSent, sent.Status)

	assert.False(t, r.Cancel(now))
}

func TestReminder_MarkSentOnlyFromPending(t *testing.T) {
	now := time.Now()

	r := &Reminder{Status: ReminderPending}
	require.True(t, r.MarkSent(now, "upstash"))
	assert.Equal(t, ReminderSent, r.Status)
	require.NotNil(t, r.SentAt)
	assert.Equal(t, "upstash", r.DeliveredVia)
	assert.False(t, r.MarkSent(now.Add(time.Minute), "dapr"))
	assert.Equal(t, "upstash", r.DeliveredVia)

	cancelled := &Reminder{Status: ReminderCancelled}
	assert.False(t, cancelled.MarkSent(now, "local"))
	assert.Equal(t, ReminderCancelled, cancelled.Status)
	assert.Nil(t, cancelled.SentAt)
}

func TestReminder_IsDue(t *testing.T) {
	now := time.Now()
	r := &Reminder{Status: ReminderPending, RemindAt: now}
	assert.True(t, r.IsDue(now))

	r.RemindAt = now.Add(time.Second)
	assert.False(t, r.IsDue(now))

	r.RemindAt = now.Add(-time.Second)
	r.Status = ReminderCancelled
	assert.False(t, r.IsDue(now))
}
