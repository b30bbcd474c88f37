package defaultstate

import (
	"covernet/core/types"
	"covernet/crypto"
)

const (
	// EventTypeStatusTransition marks a lending pool moving between
	// payment-health states.
	EventTypeStatusTransition = "defaultstate.status.transition"
)

type defaultStateEvent struct {
	evt *types.Event
}

func (e defaultStateEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e defaultStateEvent) Event() *types.Event { return e.evt }

func newStatusTransitionEvent(pool crypto.Address, from, to PoolStatus) defaultStateEvent {
	return defaultStateEvent{evt: &types.Event{
		Type: EventTypeStatusTransition,
		Attributes: map[string]string{
			"lendingPool": pool.String(),
			"from":        from.String(),
			"to":          to.String(),
		},
	}}
}
