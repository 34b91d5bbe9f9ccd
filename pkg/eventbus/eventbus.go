// Package eventbus is a single-process fan-out bus. Publishers offer an event
// to every subscriber's bounded queue without ever blocking; a subscriber that
// cannot keep up loses events (counted per subscriber) rather than stalling
// the publisher.
package eventbus

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// DefaultBufferSize is the per-subscriber queue capacity.
const DefaultBufferSize = 512

// Bus fans events out to any number of subscribers. Safe for concurrent
// Publish and Subscribe; publish iterates the live subscriber map without a
// registry-wide lock.
type Bus[T any] struct {
	subscribers   *xsync.Map[string, *subscriber[T]]
	stopReaper    chan struct{}
	reaperTicker  *time.Ticker
	bufferSize    int
	subscriberSeq atomic.Uint64
	isShutdown    atomic.Bool
}

type subscriber[T any] struct {
	ch         chan T
	id         string
	lastActive atomic.Int64
	dropped    atomic.Uint64
	active     atomic.Bool
}

// Config tunes queue capacity and stale-subscriber reaping.
type Config struct {
	BufferSize      int
	ReapPeriod      time.Duration
	InactiveTimeout time.Duration
}

var DefaultConfig = Config{
	BufferSize:      DefaultBufferSize,
	ReapPeriod:      5 * time.Minute,
	InactiveTimeout: 10 * time.Minute,
}

func New[T any]() *Bus[T] {
	return NewWithConfig[T](DefaultConfig)
}

func NewWithConfig[T any](cfg Config) *Bus[T] {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	b := &Bus[T]{
		subscribers: xsync.NewMap[string, *subscriber[T]](),
		bufferSize:  cfg.BufferSize,
		stopReaper:  make(chan struct{}),
	}
	if cfg.ReapPeriod > 0 {
		b.reaperTicker = time.NewTicker(cfg.ReapPeriod)
		go b.reapLoop(cfg.InactiveTimeout)
	}
	return b
}

// Subscribe registers a new subscriber and returns its delivery channel plus
// an idempotent cleanup function. The subscriber is also removed when ctx is
// cancelled, so an HTTP handler can pass its request context and forget.
func (b *Bus[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	if b.isShutdown.Load() {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	id := "sub_" + strconv.FormatUint(b.subscriberSeq.Add(1), 10)
	sub := &subscriber[T]{
		id: id,
		ch: make(chan T, b.bufferSize),
	}
	sub.lastActive.Store(time.Now().UnixNano())
	sub.active.Store(true)
	b.subscribers.Store(id, sub)

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()

	return sub.ch, func() { b.unsubscribe(id) }
}

// Publish offers the event to every active subscriber and reports how many
// accepted it. A full queue drops the event for that subscriber only.
func (b *Bus[T]) Publish(event T) int {
	if b.isShutdown.Load() {
		return 0
	}

	delivered := 0
	now := time.Now().UnixNano()
	b.subscribers.Range(func(_ string, sub *subscriber[T]) bool {
		if !sub.active.Load() {
			return true
		}
		select {
		case sub.ch <- event:
			sub.lastActive.Store(now)
			delivered++
		default:
			sub.dropped.Add(1)
		}
		return true
	})
	return delivered
}

// Shutdown closes all subscriber channels and rejects further publishes.
func (b *Bus[T]) Shutdown() {
	if !b.isShutdown.CompareAndSwap(false, true) {
		return
	}
	if b.reaperTicker != nil {
		b.reaperTicker.Stop()
		close(b.stopReaper)
	}
	b.subscribers.Range(func(_ string, sub *subscriber[T]) bool {
		close(sub.ch)
		return true
	})
	b.subscribers.Clear()
}

// Stats summarises the bus for the debug surface.
type Stats struct {
	TotalSubscribers  int    `json:"total_subscribers"`
	ActiveSubscribers int    `json:"active_subscribers"`
	TotalDropped      uint64 `json:"total_dropped"`
	IsShutdown        bool   `json:"is_shutdown"`
}

func (b *Bus[T]) Stats() Stats {
	stats := Stats{IsShutdown: b.isShutdown.Load()}
	if stats.IsShutdown {
		return stats
	}
	b.subscribers.Range(func(_ string, sub *subscriber[T]) bool {
		stats.TotalSubscribers++
		if sub.active.Load() {
			stats.ActiveSubscribers++
		}
		stats.TotalDropped += sub.dropped.Load()
		return true
	})
	return stats
}

func (b *Bus[T]) unsubscribe(id string) {
	if sub, exists := b.subscribers.LoadAndDelete(id); exists {
		sub.active.Store(false)
		close(sub.ch)
	}
}

func (b *Bus[T]) reapLoop(inactiveTimeout time.Duration) {
	for {
		select {
		case <-b.stopReaper:
			return
		case <-b.reaperTicker.C:
			cutoff := time.Now().Add(-inactiveTimeout).UnixNano()
			var stale []string
			b.subscribers.Range(func(id string, sub *subscriber[T]) bool {
				if !sub.active.Load() || sub.lastActive.Load() < cutoff {
					stale = append(stale, id)
				}
				return true
			})
			for _, id := range stale {
				b.unsubscribe(id)
			}
		}
	}
}
