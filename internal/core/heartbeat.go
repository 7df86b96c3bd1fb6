package core

import (
	"context"
	"sync"
	"time"
)

// heartbeat runs fn on every tick of a ticker until stopped. Stop is
// synchronous: once it returns, fn is not running and never runs again.
type heartbeat struct {
	ticker Ticker
	fn     func(time.Time)
	reset  chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func startHeartbeat(clock Clock, interval time.Duration, fn func(time.Time)) *heartbeat {
	ctx, cancel := context.WithCancel(context.Background())
	h := &heartbeat{
		ticker: clock.NewTicker(interval),
		fn:     fn,
		reset:  make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.loop(ctx, interval)
	return h
}

func (h *heartbeat) loop(ctx context.Context, interval time.Duration) {
	defer close(h.done)
	defer h.ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.reset:
			h.ticker.Reset(interval)
		case t := <-h.ticker.C():
			if ctx.Err() != nil {
				return
			}
			h.fn(t)
		}
	}
}

// Reset restarts the interval from now.
func (h *heartbeat) Reset() {
	select {
	case h.reset <- struct{}{}:
	default:
	}
}

// Cancel stops the loop without waiting for it. It is safe to call from fn.
func (h *heartbeat) Cancel() {
	h.once.Do(h.cancel)
}

// Stop cancels the loop and waits for it to exit. It is safe to call more
// than once.
func (h *heartbeat) Stop() {
	h.once.Do(h.cancel)
	<-h.done
}
