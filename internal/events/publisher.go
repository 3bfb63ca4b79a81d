package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/tazhate/taskreminder/config"
	"github.com/tazhate/taskreminder/internal/clients/dapr"
	"github.com/tazhate/taskreminder/internal/clients/upstash"
	"github.com/tazhate/taskreminder/internal/domain"
)

const (
	contentTypeCloudEvents = "application/cloudevents+json"
	contentTypeJSON        = "application/json"
)

var errNoBackends = errors.New("no publish backends configured")

type Topics struct {
	TaskEvents     string
	ReminderEvents string
}

// Publisher delivers domain events through a backend chain resolved once at
// startup. Publish uses only the first backend; Deliver walks the whole chain.
type Publisher struct {
	enabled bool
	chain   []Backend
	topics  Topics
	log     *slog.Logger
}

func NewPublisher(enabled bool, chain []Backend, topics Topics, log *slog.Logger) *Publisher {
	if topics.TaskEvents == "" {
		topics.TaskEvents = "task-events"
	}
	if topics.ReminderEvents == "" {
		topics.ReminderEvents = "reminder-events"
	}
	return &Publisher{
		enabled: enabled,
		chain:   chain,
		topics:  topics,
		log:     log,
	}
}

// Select builds the backend chain from configuration in priority order:
// managed queue, then sidecar. With neither configured the chain is a single
// local-log backend.
func Select(cfg *config.Config, log *slog.Logger) *Publisher {
	var chain []Backend

	if cfg.QueueConfigured() {
		client := upstash.NewClient(cfg.QueueURL, cfg.QueueUsername, cfg.QueuePassword)
		client.SetLogger(log)
		chain = append(chain, NewQueueBackend(client, log))
	}
	if cfg.SidecarConfigured() {
		chain = append(chain, NewSidecarBackend(dapr.NewClient(cfg.DaprHTTPPort), cfg.PubSubName, log))
	}
	if len(chain) == 0 {
		chain = append(chain, NewLogBackend(log))
	}

	p := NewPublisher(cfg.EventsEnabled, chain, Topics{
		TaskEvents:     cfg.TaskEventsTopic,
		ReminderEvents: cfg.ReminderEventsTopic,
	}, log)

	log.Info("event publisher configured", "enabled", p.enabled, "backends", p.BackendNames())
	return p
}

func (p *Publisher) Enabled() bool {
	return p.enabled
}

func (p *Publisher) Topics() Topics {
	return p.topics
}

func (p *Publisher) BackendNames() []string {
	names := make([]string, 0, len(p.chain))
	for _, b := range p.chain {
		names = append(names, b.Name())
	}
	return names
}

// Primary returns the name of the backend Publish uses.
func (p *Publisher) Primary() string {
	if len(p.chain) == 0 {
		return ""
	}
	return p.chain[0].Name()
}

// SetLocalSink attaches sink to the local-log backend when the chain runs in
// development mode. It reports whether a sink was attached.
func (p *Publisher) SetLocalSink(sink func(ctx context.Context, topic string, msg Message)) bool {
	for _, b := range p.chain {
		if lb, ok := b.(*LogBackend); ok {
			lb.SetSink(sink)
			return true
		}
	}
	return false
}

// Publish sends one task event to topic on the primary backend. A disabled
// publisher reports success without doing anything.
func (p *Publisher) Publish(ctx context.Context, topic string, ev *domain.TaskEvent) bool {
	if !p.enabled {
		p.log.Debug("event publishing disabled, skipping", "type", ev.EventType, "task_id", ev.TaskID)
		return true
	}

	msg, err := taskEventMessage(ev)
	if err != nil {
		p.log.Error("error encoding event", "type", ev.EventType, "error", err)
		return false
	}

	if len(p.chain) == 0 {
		p.log.Error("error publishing event", "type", ev.EventType, "error", errNoBackends)
		return false
	}
	return p.chain[0].Send(ctx, topic, msg).OK()
}

// PublishTaskEvent builds a TaskEvent and publishes it to the task topic.
func (p *Publisher) PublishTaskEvent(ctx context.Context, eventType domain.TaskEventType, taskID, userID string, payload map[string]any, correlationID string) bool {
	ev, err := domain.NewTaskEvent(eventType, taskID, userID, payload, correlationID)
	if err != nil {
		p.log.Error("invalid task event", "type", eventType, "task_id", taskID, "error", err)
		return false
	}
	return p.Publish(ctx, p.topics.TaskEvents, ev)
}

// Deliver tries each backend in priority order and returns the first success,
// or the last failure when every backend failed.
func (p *Publisher) Deliver(ctx context.Context, topic string, msg Message) Result {
	if !p.enabled {
		return Result{Backend: "disabled", Outcome: OutcomeSent}
	}

	last := Result{Outcome: OutcomeFailed, Err: errNoBackends}
	for _, b := range p.chain {
		res := b.Send(ctx, topic, msg)
		if res.OK() {
			return res
		}
		last = res
	}
	return last
}

// PublishReminderEvent delivers a reminder trigger to the reminder topic.
func (p *Publisher) PublishReminderEvent(ctx context.Context, ev *domain.ReminderEvent) Result {
	body, err := json.Marshal(ev)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}
	return p.Deliver(ctx, p.topics.ReminderEvents, Message{
		Kind:        ev.EventType,
		Key:         ev.ReminderID,
		ContentType: contentTypeJSON,
		Body:        body,
	})
}

func taskEventMessage(ev *domain.TaskEvent) (Message, error) {
	ce, err := ev.CloudEvent()
	if err != nil {
		return Message{}, err
	}
	body, err := json.Marshal(ce)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Kind:        string(ev.EventType),
		Key:         ev.TaskID,
		ContentType: contentTypeCloudEvents,
		Body:        body,
	}, nil
}
