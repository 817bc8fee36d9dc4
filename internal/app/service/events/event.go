package events

import (
	"context"
	"time"

	"github.com/sparklehome/membership/pkg/types"
)

const routingKeyPrefix = "membership."

// MembershipEvent is published after a membership change has been committed.
type MembershipEvent struct {
	ID                string                       `json:"id"`
	Reason            types.MembershipChangeReason `json:"reason"`
	MembershipID      string                       `json:"membership_id"`
	UserID            string                       `json:"user_id"`
	Tier              types.Tier                   `json:"tier"`
	Status            types.MembershipStatus       `json:"status"`
	CurrentPeriodEnd  time.Time                    `json:"current_period_end"`
	CancelAtPeriodEnd bool                         `json:"cancel_at_period_end"`
	OperatorID        string                       `json:"operator_id,omitempty"`
	TraceID           string                       `json:"trace_id,omitempty"`
	OccurredAt        time.Time                    `json:"occurred_at"`
}

func (e *MembershipEvent) RoutingKey() string {
	return routingKeyPrefix + string(e.Reason)
}

// Publisher delivers membership events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event *MembershipEvent) error
}
