package caldav

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
)

const (
	DefaultTimeout = 30 * time.Second
	productID      = "-//TaskReminder//CalDAV//EN"
)

// Client mirrors reminders into a CalDAV calendar
type Client struct {
	baseURL      string
	username     string
	password     string
	calendarPath string

	mu     sync.Mutex
	client *caldav.Client
}

// NewClient creates a new CalDAV client
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
	}
}

// IsConfigured returns true if the client has a server and credentials
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.username != "" && c.password != ""
}

// SetCalendarPath sets the calendar collection events are written to
func (c *Client) SetCalendarPath(path string) {
	c.calendarPath = path
}

// connect establishes connection to CalDAV server
func (c *Client) connect() (*caldav.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{
			username: c.username,
			password: c.password,
		},
		Timeout: DefaultTimeout,
	}

	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	c.client = client
	return client, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(req)
}

// DiscoverCalendarPath finds the first calendar in the user's home set. It is
// used when no calendar path was configured.
func (c *Client) DiscoverCalendarPath(ctx context.Context) (string, error) {
	client, err := c.connect()
	if err != nil {
		return "", err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("find home set: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", fmt.Errorf("find calendars: %w", err)
	}
	if len(cals) == 0 {
		return "", fmt.Errorf("no calendars in %s", homeSet)
	}

	c.calendarPath = cals[0].Path
	return c.calendarPath, nil
}

func (c *Client) eventPath(uid string) (string, error) {
	if c.calendarPath == "" {
		return "", fmt.Errorf("calendar path not specified")
	}
	p := c.calendarPath
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p + uid + ".ics", nil
}

// PutEvent creates or replaces the event (PUT replaces)
func (c *Client) PutEvent(ctx context.Context, event *Event) error {
	client, err := c.connect()
	if err != nil {
		return err
	}

	path, err := c.eventPath(event.UID)
	if err != nil {
		return err
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, EventComponent(event, time.Now()))

	if _, err := client.PutCalendarObject(ctx, path, cal); err != nil {
		return fmt.Errorf("put event: %w", err)
	}
	return nil
}

// DeleteEvent deletes an event by UID
func (c *Client) DeleteEvent(ctx context.Context, uid string) error {
	client, err := c.connect()
	if err != nil {
		return err
	}

	path, err := c.eventPath(uid)
	if err != nil {
		return err
	}

	if err := client.RemoveAll(ctx, path); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// EventComponent converts an Event to a VEVENT, with a VALARM when the event
// asks for one. Times are written in UTC.
func EventComponent(event *Event, stamp time.Time) *ical.Component {
	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, event.UID)
	vevent.Props.SetText(ical.PropSummary, event.Summary)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeStart, event.Start.UTC())
	if !event.End.IsZero() {
		vevent.Props.SetDateTime(ical.PropDateTimeEnd, event.End.UTC())
	}
	if event.Description != "" {
		vevent.Props.SetText(ical.PropDescription, event.Description)
	}
	if p := icalPriority(event.Priority); p > 0 {
		prop := ical.NewProp(ical.PropPriority)
		prop.Value = strconv.Itoa(p)
		vevent.Props.Set(prop)
	}

	if event.AlarmMinutesBefore > 0 {
		alarm := ical.NewComponent(ical.CompAlarm)
		alarm.Props.SetText(ical.PropAction, "DISPLAY")
		alarm.Props.SetText(ical.PropDescription, event.Summary)
		trigger := ical.NewProp(ical.PropTrigger)
		trigger.Value = fmt.Sprintf("-PT%dM", event.AlarmMinutesBefore)
		alarm.Props.Set(trigger)
		vevent.Children = append(vevent.Children, alarm)
	}

	return vevent.Component
}

// icalPriority maps task priority (1 high .. 4 low, 0 unset) onto the
// iCalendar 1..9 scale.
func icalPriority(p int) int {
	switch {
	case p <= 0:
		return 0
	case p == 1:
		return 1
	case p == 2:
		return 3
	case p == 3:
		return 5
	default:
		return 9
	}
}

// NewFeed builds a VCALENDAR holding one VEVENT per event
func NewFeed(name string, events []*Event, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	if name != "" {
		cal.Props.SetText("X-WR-CALNAME", name)
	}
	for _, e := range events {
		cal.Children = append(cal.Children, EventComponent(e, stamp))
	}
	return cal
}

// Encode writes cal in iCalendar format
func Encode(w io.Writer, cal *ical.Calendar) error {
	return ical.NewEncoder(w).Encode(cal)
}
