package notify

import (
	"context"
	"sync"

	"github.com/Artemiy111/shop.biplane-design.com/internal/entities"
)

const subscriberBuffer = 16

// Bus fans optimization-completion events out to in-process subscribers.
// Delivery is best effort: there is no backlog for events published while
// nobody listens, and a subscriber that stops draining its channel loses
// events rather than blocking the publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan entities.OptimizedEvent
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan entities.OptimizedEvent)}
}

// Publish delivers e to every current subscriber without blocking.
func (b *Bus) Publish(e entities.OptimizedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default: // slow subscriber, drop
		}
	}
}

// Subscribe registers a listener for the lifetime of ctx. The returned
// channel is closed once ctx is done and the registration is released.
func (b *Bus) Subscribe(ctx context.Context) <-chan entities.OptimizedEvent {
	ch := make(chan entities.OptimizedEvent, subscriberBuffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Len reports the number of attached subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
