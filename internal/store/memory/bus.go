package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

var _ domain.SignalBus = (*SignalBus)(nil)

// SignalBus is an in-process domain.SignalBus. Channel names match exactly;
// slow subscribers drop messages the way a Redis Pub/Sub client would.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	seq     int
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
	}
}

// Publish delivers payload to every current subscriber of channel.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber. The returned channel closes when ctx is
// cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// StreamAppend appends payload with a monotonically increasing ID.
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.Itoa(b.seq) + "-0",
		Payload: append([]byte(nil), payload...),
	})
	return nil
}

// StreamRead returns up to count entries appended after lastID. An empty
// lastID (or "0") reads from the beginning.
func (b *SignalBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.streams[stream]

	start := 0
	if lastID != "" && lastID != "0" {
		start = len(entries)
		for i, e := range entries {
			if e.ID == lastID {
				start = i + 1
				break
			}
		}
	}
	out := make([]domain.StreamMessage, 0)
	for _, e := range entries[start:] {
		if count > 0 && len(out) == count {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

// SubscriberCount reports how many subscribers channel currently has.
func (b *SignalBus) SubscriberCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}
