// Package bus provides the channel and topic addressed message bus that
// connects the editor, the engine and observers. Delivery is synchronous
// and in subscription order; a handler may publish again from inside its
// callback. Messages can be journaled to a MessageStore for replay and
// auditing.
package bus

import (
	"strings"
	"sync/atomic"
	"time"
)

// Envelope is one delivered message.
type Envelope struct {
	Channel string    `json:"channel"`
	Topic   string    `json:"topic"`
	Payload any       `json:"payload,omitempty"`
	Seq     uint64    `json:"seq"`  // monotonic per bus (1-indexed)
	Time    time.Time `json:"time"` // when the message was published
}

// Handler receives messages for a subscription.
type Handler func(Envelope)

// Bus distributes messages by channel and topic.
type Bus interface {
	// Publish delivers payload to every matching subscriber before returning.
	Publish(channel, topic string, payload any)

	// Subscribe registers handler for topics on channel matching pattern.
	// Patterns are an exact topic, "*" or "#" for every topic, or a prefix
	// ending in "*".
	Subscribe(channel, pattern string, handler Handler) *Subscription

	// Unsubscribe removes a subscription. It is safe to call more than once.
	Unsubscribe(sub *Subscription)

	// Reset removes every subscription and restarts sequence numbers.
	Reset()
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id      uint64
	channel string
	pattern string
	handler Handler
	active  atomic.Bool
}

// ID returns the subscription id, unique per bus.
func (s *Subscription) ID() uint64 { return s.id }

// Channel returns the subscribed channel.
func (s *Subscription) Channel() string { return s.channel }

// Pattern returns the subscribed topic pattern.
func (s *Subscription) Pattern() string { return s.pattern }

// Active reports whether the subscription still receives messages.
func (s *Subscription) Active() bool { return s.active.Load() }

// Matches reports whether topic matches the subscription pattern.
func (s *Subscription) Matches(topic string) bool {
	return topicMatches(s.pattern, topic)
}

func topicMatches(pattern, topic string) bool {
	switch {
	case pattern == "*" || pattern == "#":
		return true
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(topic, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == topic
	}
}
