package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Artemiy111/shop.biplane-design.com/internal/entities"
)

func event(imageID string) entities.OptimizedEvent {
	return entities.OptimizedEvent{
		Model:   entities.ModelRef{ID: "m1", Slug: "chair"},
		ImageID: imageID,
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := bus.Subscribe(ctx)
	b := bus.Subscribe(ctx)

	bus.Publish(event("img-1"))

	for _, ch := range []<-chan entities.OptimizedEvent{a, b} {
		select {
		case e := <-ch:
			assert.Equal(t, "img-1", e.ImageID)
			assert.Equal(t, "chair", e.Model.Slug)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	bus := NewBus()
	done := make(chan struct{})
	go func() {
		bus.Publish(event("img-1"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := bus.Subscribe(ctx)
	// fill the buffer without draining
	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(event("img"))
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, subscriberBuffer, received)
}

func TestCancelReleasesRegistration(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch := bus.Subscribe(ctx)
	require.Equal(t, 1, bus.Len())

	cancel()

	// channel closes once the registration is gone
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription channel was not closed")
	}
	assert.Equal(t, 0, bus.Len())
}
