package bus

import (
	"context"
	"log/slog"
)

// Recorder journals bus messages into a MessageStore.
type Recorder struct {
	store  MessageStore
	logger *slog.Logger
}

// NewRecorder creates a new Recorder.
func NewRecorder(store MessageStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  store,
		logger: logger,
	}
}

// Handle persists a single message to the store. Payloads that cannot be
// stored are logged and dropped.
func (r *Recorder) Handle(env Envelope) {
	if err := r.store.Append(context.Background(), env); err != nil {
		r.logger.Error("failed to journal message",
			"channel", env.Channel,
			"topic", env.Topic,
			"seq", env.Seq,
			"error", err,
		)
	}
}

// Attach subscribes the recorder to every topic on each channel.
func (r *Recorder) Attach(b Bus, channels ...string) []*Subscription {
	subs := make([]*Subscription, 0, len(channels))
	for _, ch := range channels {
		subs = append(subs, b.Subscribe(ch, "*", r.Handle))
	}
	return subs
}
