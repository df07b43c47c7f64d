package bus

import "context"

// Replay publishes the journaled messages of channel with Seq above
// afterSeq to b, in order, and returns the last Seq replayed (afterSeq
// when there was nothing to replay). The republished messages get new
// sequence numbers on b.
func Replay(ctx context.Context, store MessageStore, b Bus, channel string, afterSeq uint64) (uint64, error) {
	msgs, err := store.List(ctx, channel, afterSeq, 0)
	if err != nil {
		return afterSeq, err
	}
	last := afterSeq
	for _, env := range msgs {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		b.Publish(env.Channel, env.Topic, env.Payload)
		last = env.Seq
	}
	return last, nil
}
