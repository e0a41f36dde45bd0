package worker

import (
	"fmt"

	"github.com/cuongbtq/otp-delivery/internal/domain"
)

// Action decides how a failed delivery is settled.
type Action string

const (
	// ActionAck drops the message.
	ActionAck Action = "ack"
	// ActionRequeue returns the message to the queue once. A delivery that
	// is already a redelivery is dead-lettered instead.
	ActionRequeue Action = "requeue"
	// ActionDeadLetter moves the message to the dead-letter queue.
	ActionDeadLetter Action = "dead_letter"
)

// ParseAction validates a configured action name
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionAck, ActionRequeue, ActionDeadLetter:
		return a, nil
	default:
		return "", fmt.Errorf("unknown failure action %q", s)
	}
}

// Policy maps each failure kind to an action
type Policy struct {
	Deserialization Action
	Cache           Action
	Template        Action
	Send            Action
	Unknown         Action
}

// DefaultPolicy requeues transient failures and dead-letters permanent ones
func DefaultPolicy() Policy {
	return Policy{
		Deserialization: ActionDeadLetter,
		Cache:           ActionRequeue,
		Template:        ActionDeadLetter,
		Send:            ActionRequeue,
		Unknown:         ActionRequeue,
	}
}

// Decide picks the settlement for err on a delivery with the given redelivered flag
func (p Policy) Decide(err error, redelivered bool) Action {
	action := p.actionFor(domain.KindOf(err))
	if action == ActionRequeue && redelivered {
		return ActionDeadLetter
	}
	return action
}

func (p Policy) actionFor(kind domain.FailureKind) Action {
	var a Action
	switch kind {
	case domain.KindDeserialization:
		a = p.Deserialization
	case domain.KindCache:
		a = p.Cache
	case domain.KindTemplate:
		a = p.Template
	case domain.KindSend:
		a = p.Send
	default:
		a = p.Unknown
	}
	if a == "" {
		return ActionRequeue
	}
	return a
}
