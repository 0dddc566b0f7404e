package service

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event types carried on the bus.
const (
	EventDraftUpdated     = "draft.updated"
	EventDraftSubmitted   = "draft.submitted"
	EventExerciseView     = "exercise.view"
	EventExerciseReceipt  = "exercise.receipt"
	EventCreationResolved = "creation.resolved"
)

// ChannelPattern matches every channel the services publish on.
const ChannelPattern = "optionsd:*"

// Event is the envelope published on the signal bus and forwarded to
// WebSocket clients.
type Event struct {
	Type string `json:"type"`
	Key  string `json:"key"`
	Data any    `json:"data"`
}

// publisher is satisfied by domain.SignalBus.
type publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

func publishEvent(ctx context.Context, bus publisher, logger *slog.Logger, channel string, ev Event) {
	if bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.WarnContext(ctx, "marshal event failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := bus.Publish(ctx, channel, payload); err != nil {
		logger.WarnContext(ctx, "publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
