package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tazhate/taskreminder/internal/clients/dapr"
	"github.com/tazhate/taskreminder/internal/clients/upstash"
)

const (
	BackendQueue   = "upstash"
	BackendSidecar = "dapr"
	BackendLog     = "local"
)

// QueueBackend publishes through the managed Kafka REST API.
type QueueBackend struct {
	client *upstash.Client
	log    *slog.Logger
}

func NewQueueBackend(client *upstash.Client, log *slog.Logger) *QueueBackend {
	return &QueueBackend{client: client, log: log}
}

func (b *QueueBackend) Name() string { return BackendQueue }

func (b *QueueBackend) Send(ctx context.Context, topic string, msg Message) Result {
	res := Result{Backend: BackendQueue}

	if _, err := b.client.Produce(ctx, topic, msg.Body); err != nil {
		res.Err = err
		var se *upstash.StatusError
		if errors.As(err, &se) {
			res.Outcome = OutcomeRejected
			b.log.Error("queue rejected event", "topic", topic, "type", msg.Kind, "status", se.StatusCode, "body", se.Body)
			return res
		}
		if dapr.IsConnectError(err) {
			res.Outcome = OutcomeUnavailable
			b.log.Warn("queue not reachable, event not published", "topic", topic, "type", msg.Kind, "error", err)
			return res
		}
		res.Outcome = OutcomeFailed
		b.log.Error("error publishing to queue", "topic", topic, "type", msg.Kind, "error", err)
		return res
	}

	b.log.Info("published event", "backend", BackendQueue, "topic", topic, "type", msg.Kind, "key", msg.Key)
	res.Outcome = OutcomeSent
	return res
}

// SidecarBackend publishes through the Dapr pub/sub component.
type SidecarBackend struct {
	client *dapr.Client
	pubsub string
	log    *slog.Logger
}

func NewSidecarBackend(client *dapr.Client, pubsub string, log *slog.Logger) *SidecarBackend {
	return &SidecarBackend{client: client, pubsub: pubsub, log: log}
}

func (b *SidecarBackend) Name() string { return BackendSidecar }

func (b *SidecarBackend) Send(ctx context.Context, topic string, msg Message) Result {
	res := Result{Backend: BackendSidecar}

	contentType := msg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	if err := b.client.Publish(ctx, b.pubsub, topic, msg.Body, contentType); err != nil {
		res.Err = err
		var apiErr *dapr.APIError
		switch {
		case errors.Is(err, dapr.ErrUnavailable):
			res.Outcome = OutcomeUnavailable
			b.log.Warn("dapr sidecar not available, event not published",
				"url", b.client.BaseURL(), "topic", topic, "type", msg.Kind)
		case errors.As(err, &apiErr):
			res.Outcome = OutcomeRejected
			b.log.Error("failed to publish event", "topic", topic, "type", msg.Kind,
				"status", apiErr.StatusCode, "body", apiErr.Body)
		default:
			res.Outcome = OutcomeFailed
			b.log.Error("error publishing event", "topic", topic, "type", msg.Kind, "error", err)
		}
		return res
	}

	b.log.Info("published event", "backend", BackendSidecar, "topic", topic, "type", msg.Kind, "key", msg.Key)
	res.Outcome = OutcomeSent
	return res
}

// LogBackend is development mode: the event is only logged. An optional sink
// receives every message, which lets a single process loop task events back
// into its own subscribers.
type LogBackend struct {
	log  *slog.Logger
	sink func(ctx context.Context, topic string, msg Message)
}

func NewLogBackend(log *slog.Logger) *LogBackend {
	return &LogBackend{log: log}
}

func (b *LogBackend) Name() string { return BackendLog }

func (b *LogBackend) SetSink(sink func(ctx context.Context, topic string, msg Message)) {
	b.sink = sink
}

func (b *LogBackend) Send(ctx context.Context, topic string, msg Message) Result {
	b.log.Info("local event", "topic", topic, "type", msg.Kind, "key", msg.Key, "body", string(msg.Body))
	if b.sink != nil {
		b.sink(ctx, topic, msg)
	}
	return Result{Backend: BackendLog, Outcome: OutcomeSent}
}
