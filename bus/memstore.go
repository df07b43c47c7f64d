package bus

import (
	"context"
	"sort"
	"sync"
)

// MemMessageStore keeps messages in memory, per channel and in Seq order.
// Payloads are kept as published.
type MemMessageStore struct {
	mu       sync.RWMutex
	channels map[string][]Envelope
}

// NewMemMessageStore creates an empty in-memory store.
func NewMemMessageStore() *MemMessageStore {
	return &MemMessageStore{channels: make(map[string][]Envelope)}
}

func (s *MemMessageStore) Append(_ context.Context, env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.channels[env.Channel]
	// Messages usually arrive in order; keep the slice sorted when they
	// do not.
	i := sort.Search(len(msgs), func(i int) bool { return msgs[i].Seq > env.Seq })
	msgs = append(msgs, Envelope{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = env
	s.channels[env.Channel] = msgs
	return nil
}

func (s *MemMessageStore) List(_ context.Context, channel string, afterSeq uint64, limit int) ([]Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.channels[channel]
	start := sort.Search(len(msgs), func(i int) bool { return msgs[i].Seq > afterSeq })
	end := len(msgs)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	if start >= end {
		return nil, nil
	}
	return append([]Envelope(nil), msgs[start:end]...), nil
}

func (s *MemMessageStore) LatestSeq(_ context.Context, channel string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.channels[channel]
	if len(msgs) == 0 {
		return 0, nil
	}
	return msgs[len(msgs)-1].Seq, nil
}

// Channels returns the channels with stored messages in name order.
func (s *MemMessageStore) Channels(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out, nil
}

var _ MessageStore = (*MemMessageStore)(nil)
