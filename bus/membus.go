package bus

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// MemBusConfig configures an in-memory bus.
type MemBusConfig struct {
	// Logger receives handler panics (default: slog.Default()).
	Logger *slog.Logger

	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time
}

// MemBus is an in-process Bus. Handlers run on the publishing goroutine.
type MemBus struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription // channel -> subscribers
	nextID uint64
	seq    atomic.Uint64
	logger *slog.Logger
	now    func() time.Time
}

// NewMemBus creates a new in-memory bus with the given configuration.
func NewMemBus(config MemBusConfig) *MemBus {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &MemBus{
		subs:   make(map[string][]*Subscription),
		logger: logger,
		now:    now,
	}
}

// Publish delivers a message to every matching subscriber in subscription
// order. Subscribers added during delivery see only later messages;
// subscribers removed during delivery are skipped.
func (b *MemBus) Publish(channel, topic string, payload any) {
	env := Envelope{
		Channel: channel,
		Topic:   topic,
		Payload: payload,
		Seq:     b.seq.Add(1),
		Time:    b.now(),
	}

	b.mu.RLock()
	targets := append([]*Subscription(nil), b.subs[channel]...)
	b.mu.RUnlock()

	for _, sub := range targets {
		if !sub.active.Load() || !sub.Matches(topic) {
			continue
		}
		b.deliver(sub, env)
	}
}

// deliver calls one handler, isolating the others from its panics.
func (b *MemBus) deliver(sub *Subscription, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panicked",
				"channel", env.Channel,
				"topic", env.Topic,
				"subscription", sub.id,
				"seq", env.Seq,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	sub.handler(env)
}

// Subscribe registers a handler for matching topics on channel.
func (b *MemBus) Subscribe(channel, pattern string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		channel: channel,
		pattern: pattern,
		handler: handler,
	}
	sub.active.Store(true)
	b.subs[channel] = append(b.subs[channel], sub)
	return sub
}

// Unsubscribe removes a subscription.
func (b *MemBus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.active.Store(false)

	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[sub.channel]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.channel] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.channel]) == 0 {
		delete(b.subs, sub.channel)
	}
}

// Reset removes every subscription and restarts sequence numbers.
func (b *MemBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subs {
		for _, s := range subs {
			s.active.Store(false)
		}
	}
	b.subs = make(map[string][]*Subscription)
	b.seq.Store(0)
}

// Len returns the number of active subscriptions on channel.
func (b *MemBus) Len(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Compile-time interface check.
var _ Bus = (*MemBus)(nil)
