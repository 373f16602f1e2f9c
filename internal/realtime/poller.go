package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/vaidashi/storefront-sync/pkg/logger"
)

// Pollable is checked on every poller tick
type Pollable interface {
	Poll(ctx context.Context) error
}

// Poller bounds how stale a context can get when change signals are lost
type Poller struct {
	target   Pollable
	interval time.Duration
	logger   logger.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// NewPoller creates a poller that checks target every interval
func NewPoller(target Pollable, interval time.Duration, logger logger.Logger) *Poller {
	return &Poller{
		target:   target,
		interval: interval,
		logger:   logger,
	}
}

// Start starts the poller
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.interval <= 0 {
		return
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.running = true
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.loop()
	}()

	p.logger.Info("Sync poller started", "interval", p.interval)
}

// Stop stops the poller
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.logger.Info("Sync poller stopped")
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(p.ctx, p.interval)
			if err := p.target.Poll(ctx); err != nil {
				p.logger.Error("Failed to poll for changes", "error", err)
			}
			cancel()
		}
	}
}
