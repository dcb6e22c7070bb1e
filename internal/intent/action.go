package intent

import (
	"github.com/google/uuid"

	"sidekick/internal/domain"
)

// ToAction maps an actionable intent to a new pending device action with a
// fresh id. Returns nil for unknown intents; nothing is enqueued for those.
// Timestamps are stamped by the dispatch queue on enqueue.
func ToAction(in domain.Intent) *domain.DeviceAction {
	if !in.Actionable() {
		return nil
	}
	a := &domain.DeviceAction{
		ID:     uuid.NewString(),
		Status: "pending",
	}
	if in.Target != nil {
		a.Target = *in.Target
	}
	switch in.Type {
	case "open_app":
		a.Kind = "open_app"
		a.Action = ptr("open")
	case "toggle_setting":
		a.Kind = "toggle"
		a.Action = in.Action
	case "adjust_setting":
		a.Kind = "adjust"
		a.Action = in.Action
		a.Value = in.Value
	default:
		return nil
	}
	return a
}
