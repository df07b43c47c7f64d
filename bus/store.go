package bus

import "context"

// MessageStore persists bus messages for replay.
type MessageStore interface {
	// Append stores a message.
	Append(ctx context.Context, env Envelope) error

	// List returns messages for a channel in Seq order.
	// afterSeq: return messages with Seq > afterSeq (0 means all)
	// limit: max messages to return (0 means no limit)
	List(ctx context.Context, channel string, afterSeq uint64, limit int) ([]Envelope, error)

	// LatestSeq returns the highest Seq stored for a channel (0 if none).
	LatestSeq(ctx context.Context, channel string) (uint64, error)
}
