package events

import (
	"context"
	"fmt"
)

type Outcome int

const (
	OutcomeSent Outcome = iota
	// OutcomeUnavailable: the transport could not be reached.
	OutcomeUnavailable
	// OutcomeRejected: the transport answered with a non-success status.
	OutcomeRejected
	// OutcomeFailed: anything else, including timeouts and encoding errors.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of handing one message to one backend.
type Result struct {
	Backend string
	Outcome Outcome
	Err     error
}

func (r Result) OK() bool {
	return r.Outcome == OutcomeSent
}

// Message is a ready-to-send payload. ContentType is a hint for transports that
// carry it (the sidecar does, the REST queue always wraps JSON).
type Message struct {
	Kind        string // event type, for logs
	Key         string // task or reminder id, for logs
	ContentType string
	Body        []byte
}

// Backend delivers a message to a topic on one transport.
type Backend interface {
	Name() string
	Send(ctx context.Context, topic string, msg Message) Result
}
