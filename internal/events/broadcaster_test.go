package events_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"solasola/internal/events"
	"solasola/internal/logging"
)

func TestBroadcastReachesEverySubscriber(t *testing.T) {
	b := events.NewBroadcaster(logging.NewNop())
	first := b.Subscribe()
	second := b.Subscribe()
	defer first.Unsubscribe()
	defer second.Unsubscribe()

	b.Broadcast(events.Event{Type: events.TypeTaskUpdate, TaskID: "t1"})

	for _, sub := range []*events.Subscription{first, second} {
		evt, ok := sub.Next(context.Background(), time.Second)
		if !ok {
			t.Fatal("expected event")
		}
		if evt.Type != events.TypeTaskUpdate || evt.TaskID != "t1" {
			t.Fatalf("unexpected event %+v", evt)
		}
		if evt.Time.IsZero() {
			t.Fatal("expected broadcast to stamp time")
		}
	}
}

func TestQueueIsUnboundedAndOrdered(t *testing.T) {
	b := events.NewBroadcaster(nil)
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	const total = 5000
	for i := 0; i < total; i++ {
		b.Broadcast(events.Event{Type: events.TypeProgressUpdate, Payload: map[string]any{"n": i}})
	}
	if got := sub.Pending(); got != total {
		t.Fatalf("expected %d pending, got %d", total, got)
	}
	for i := 0; i < total; i++ {
		evt, ok := sub.Next(context.Background(), time.Second)
		if !ok {
			t.Fatalf("missing event %d", i)
		}
		if evt.Payload["n"] != i {
			t.Fatalf("event %d out of order: %v", i, evt.Payload["n"])
		}
	}
}

func TestNextReturnsHeartbeatWhenIdle(t *testing.T) {
	b := events.NewBroadcaster(nil)
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	evt, ok := sub.Next(context.Background(), 20*time.Millisecond)
	if !ok {
		t.Fatal("expected heartbeat")
	}
	if evt.Type != events.TypeHeartbeat {
		t.Fatalf("expected heartbeat, got %s", evt.Type)
	}
}

func TestNextWakesOnBroadcast(t *testing.T) {
	b := events.NewBroadcaster(nil)
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	var got events.Event
	go func() {
		defer wg.Done()
		got, _ = sub.Next(context.Background(), 5*time.Second)
	}()
	time.Sleep(10 * time.Millisecond)
	b.Broadcast(events.Event{Type: events.TypeRefreshAll})
	wg.Wait()
	if got.Type != events.TypeRefreshAll {
		t.Fatalf("expected refresh_all, got %q", got.Type)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := events.NewBroadcaster(nil)
	sub := b.Subscribe()
	sub.Unsubscribe()
	sub.Unsubscribe()

	if b.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", b.Subscribers())
	}
	b.Broadcast(events.Event{Type: events.TypeTaskUpdate})
	if _, ok := sub.Next(context.Background(), 10*time.Millisecond); ok {
		t.Fatal("closed subscription should not yield events")
	}
}

func TestNextStopsOnContextCancel(t *testing.T) {
	b := events.NewBroadcaster(nil)
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := sub.Next(ctx, time.Second); ok {
		t.Fatal("expected Next to stop on cancelled context")
	}
}
