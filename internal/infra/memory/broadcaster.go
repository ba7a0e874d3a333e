package memory

import (
	"context"
	"sync"

	"live-quiz-service/internal/app"
)

// Broadcaster is an in-process implementation of app.Broadcaster: one
// subscriber set per session, buffered channels, slow readers lose the
// oldest notification instead of blocking the publisher.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string]map[chan app.Envelope]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]map[chan app.Envelope]struct{}),
	}
}

func (b *Broadcaster) Publish(_ context.Context, sessionID string, env app.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers[sessionID] {
		select {
		case ch <- env:
		default:
			// Drop the stale notification so a stalled subscriber cannot
			// block fanout; consumers re-fetch state anyway.
			select {
			case <-ch:
			default:
			}
			ch <- env
		}
	}
	return nil
}

func (b *Broadcaster) Subscribe(_ context.Context, sessionID string) (<-chan app.Envelope, func(), error) {
	ch := make(chan app.Envelope, 8)

	b.mu.Lock()
	set, ok := b.subscribers[sessionID]
	if !ok {
		set = make(map[chan app.Envelope]struct{})
		b.subscribers[sessionID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subscribers[sessionID]; ok {
			if _, subscribed := set[ch]; subscribed {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subscribers, sessionID)
			}
		}
	}
	return ch, cancel, nil
}
