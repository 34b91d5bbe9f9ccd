package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

type testEvent struct {
	ID      int
	Message string
}

func TestBus_BasicPubSub(t *testing.T) {
	bus := New[testEvent]()
	defer bus.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, cleanup := bus.Subscribe(ctx)
	defer cleanup()

	want := testEvent{ID: 1, Message: "hello"}
	if delivered := bus.Publish(want); delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}

	select {
	case got := <-events:
		if got != want {
			t.Errorf("event mismatch: want %+v, got %+v", want, got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_FanOut(t *testing.T) {
	bus := New[testEvent]()
	defer bus.Shutdown()

	ctx := context.Background()
	const n = 5
	var channels []<-chan testEvent
	var cleanups []func()
	for i := 0; i < n; i++ {
		ch, cleanup := bus.Subscribe(ctx)
		channels = append(channels, ch)
		cleanups = append(cleanups, cleanup)
	}
	defer func() {
		for _, c := range cleanups {
			c()
		}
	}()

	if delivered := bus.Publish(testEvent{ID: 42}); delivered != n {
		t.Fatalf("expected %d deliveries, got %d", n, delivered)
	}
	for i, ch := range channels {
		select {
		case got := <-ch:
			if got.ID != 42 {
				t.Errorf("subscriber %d: got ID %d", i, got.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timeout", i)
		}
	}
}

func TestBus_PerSubscriberOrdering(t *testing.T) {
	bus := New[testEvent]()
	defer bus.Shutdown()

	events, cleanup := bus.Subscribe(context.Background())
	defer cleanup()

	const n = 100
	for i := 0; i < n; i++ {
		bus.Publish(testEvent{ID: i})
	}

	last := -1
	for i := 0; i < n; i++ {
		select {
		case ev := <-events:
			if ev.ID <= last {
				t.Fatalf("delivery out of order: %d after %d", ev.ID, last)
			}
			last = ev.ID
		case <-time.After(time.Second):
			t.Fatalf("timeout at event %d", i)
		}
	}
}

func TestBus_SlowSubscriberDropsNotBlocks(t *testing.T) {
	bus := NewWithConfig[testEvent](Config{
		BufferSize:      2,
		ReapPeriod:      time.Hour,
		InactiveTimeout: time.Hour,
	})
	defer bus.Shutdown()

	events, cleanup := bus.Subscribe(context.Background())
	defer cleanup()

	// Fill the queue, then overflow it. Publish must return immediately.
	for i := 0; i < 2; i++ {
		bus.Publish(testEvent{ID: i})
	}
	done := make(chan int, 1)
	go func() {
		done <- bus.Publish(testEvent{ID: 999})
	}()
	select {
	case delivered := <-done:
		if delivered != 0 {
			t.Errorf("expected drop with 0 deliveries, got %d", delivered)
		}
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber queue")
	}

	if stats := bus.Stats(); stats.TotalDropped == 0 {
		t.Error("expected dropped counter to increase")
	}

	// The drop is per subscriber: the queued events survive, in order.
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			if ev.ID != i {
				t.Errorf("expected event %d, got %d", i, ev.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout draining queue")
		}
	}
}

func TestBus_ContextCancelUnsubscribes(t *testing.T) {
	bus := New[testEvent]()
	defer bus.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	_, cleanup := bus.Subscribe(ctx)
	defer cleanup()

	cancel()
	time.Sleep(50 * time.Millisecond)

	if stats := bus.Stats(); stats.TotalSubscribers != 0 {
		t.Errorf("expected subscriber removed after cancel, still have %d", stats.TotalSubscribers)
	}
}

func TestBus_UnsubscribeIdempotent(t *testing.T) {
	bus := New[testEvent]()
	defer bus.Shutdown()

	_, cleanup := bus.Subscribe(context.Background())
	cleanup()
	cleanup() // must not panic

	if stats := bus.Stats(); stats.TotalSubscribers != 0 {
		t.Errorf("expected 0 subscribers, got %d", stats.TotalSubscribers)
	}
}

func TestBus_ConcurrentPublishSubscribe(t *testing.T) {
	bus := New[testEvent]()
	defer bus.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const publishers = 8
	const perPublisher = 50

	var subWg sync.WaitGroup
	for i := 0; i < 4; i++ {
		ch, cleanup := bus.Subscribe(ctx)
		defer cleanup()
		subWg.Add(1)
		go func() {
			defer subWg.Done()
			for {
				select {
				case <-ch:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				bus.Publish(testEvent{ID: p*1000 + i})
			}
		}(p)
	}
	wg.Wait()
	cancel()
	subWg.Wait()
}

func TestBus_Shutdown(t *testing.T) {
	bus := New[testEvent]()

	events, cleanup := bus.Subscribe(context.Background())
	defer cleanup()

	bus.Shutdown()

	if delivered := bus.Publish(testEvent{ID: 1}); delivered != 0 {
		t.Errorf("expected 0 deliveries after shutdown, got %d", delivered)
	}
	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel after shutdown")
		}
	case <-time.After(time.Second):
		t.Error("expected channel close after shutdown")
	}

	// Subscribing to a dead bus yields a closed channel straight away.
	ch, cleanup2 := bus.Subscribe(context.Background())
	defer cleanup2()
	if _, ok := <-ch; ok {
		t.Error("expected closed channel from shutdown bus")
	}
}

func BenchmarkBus_Publish(b *testing.B) {
	bus := New[testEvent]()
	defer bus.Shutdown()

	_, cleanup := bus.Subscribe(context.Background())
	defer cleanup()

	ev := testEvent{ID: 1}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bus.Publish(ev)
	}
}
