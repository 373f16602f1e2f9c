// Package realtime fans collection changes out to subscribers in this process and, through
// a Transport, to every other process sharing the same storage.
package realtime

import (
	"context"
	"sync"

	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/pkg/logger"
)

// SignalHandler receives change signals published by any context, including this one
type SignalHandler func(ctx context.Context, sig models.ChangeSignal)

// Transport carries change signals between contexts. Delivery is at-most-once and
// unordered relative to local updates.
type Transport interface {
	Publish(ctx context.Context, sig models.ChangeSignal) error
	// Listen starts delivering signals to handler until Close
	Listen(handler SignalHandler) error
	Close() error
}

// NopTransport connects nothing; only local subscribers and the poller see changes
type NopTransport struct{}

func (NopTransport) Publish(context.Context, models.ChangeSignal) error { return nil }
func (NopTransport) Listen(SignalHandler) error                         { return nil }
func (NopTransport) Close() error                                       { return nil }

// memoryBufferSize is how many undelivered signals a memory listener holds before dropping
const memoryBufferSize = 64

// MemoryBus is an in-process broadcast medium. Each Connect models one context, so several
// hubs in one process behave like separate tabs sharing storage.
type MemoryBus struct {
	mu        sync.RWMutex
	listeners map[*MemoryTransport]chan models.ChangeSignal
	dropped   int64
	logger    logger.Logger
}

// NewMemoryBus creates an empty bus
func NewMemoryBus(logger logger.Logger) *MemoryBus {
	return &MemoryBus{
		listeners: make(map[*MemoryTransport]chan models.ChangeSignal),
		logger:    logger,
	}
}

// Connect returns a transport attached to the bus
func (b *MemoryBus) Connect() *MemoryTransport {
	return &MemoryTransport{bus: b}
}

// Dropped counts signals discarded because a listener fell behind
func (b *MemoryBus) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

func (b *MemoryBus) broadcast(sig models.ChangeSignal) {
	b.mu.RLock()
	full := 0
	for _, ch := range b.listeners {
		select {
		case ch <- sig:
		default:
			full++
		}
	}
	b.mu.RUnlock()

	if full > 0 {
		b.mu.Lock()
		b.dropped += int64(full)
		b.mu.Unlock()
		b.logger.Warn("Memory bus listener full, signal dropped", "topic", sig.Topic, "listeners", full)
	}
}

// MemoryTransport is one context's connection to a MemoryBus
type MemoryTransport struct {
	bus  *MemoryBus
	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

func (t *MemoryTransport) Publish(ctx context.Context, sig models.ChangeSignal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.bus.broadcast(sig)
	return nil
}

func (t *MemoryTransport) Listen(handler SignalHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done != nil {
		return nil
	}

	ch := make(chan models.ChangeSignal, memoryBufferSize)
	t.done = make(chan struct{})

	t.bus.mu.Lock()
	t.bus.listeners[t] = ch
	t.bus.mu.Unlock()

	done := t.done
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				handler(context.Background(), sig)
			}
		}
	}()
	return nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done == nil {
		return nil
	}

	t.bus.mu.Lock()
	delete(t.bus.listeners, t)
	t.bus.mu.Unlock()

	close(t.done)
	t.wg.Wait()
	t.done = nil
	return nil
}
