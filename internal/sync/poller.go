// Package sync implements the client-side synchronizer contract: a
// cancellable polling task plus pure merge functions that reconcile
// each new server snapshot against the last known one.  There is no
// push channel; a view converges to server truth within one polling
// interval after any write, by anyone, and republishes downstream only
// when something it tracks actually changed.
package sync

import (
	"context"
	"sync"
	"time"
)

// Poller runs a tick function on a fixed cadence until stopped.  It is
// owned by the consuming view's lifecycle: Start when the view mounts,
// Wake on tab-refocus or visibility-restored events, Stop on teardown.
// Stop is deterministic; it waits for the tick goroutine to exit, so a
// torn-down view can never leak a timer or fire a late publish.
type Poller struct {
	interval time.Duration
	tick     func(ctx context.Context)

	wake     chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
}

// NewPoller creates a poller that invokes tick every interval.
// Contested views (open booking pages) use a short interval like 5s;
// passive views can stretch to 15-30s.
func NewPoller(interval time.Duration, tick func(ctx context.Context)) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		interval: interval,
		tick:     tick,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the polling goroutine.  The first tick fires
// immediately so a freshly mounted view is not blank for one interval.
// Starting twice is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.started {
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	timer := time.NewTimer(0) // immediate first tick
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-p.wake:
			// Drain the pending timer fire so a wake does not cause a
			// double tick back to back.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		p.tick(ctx)
		timer.Reset(p.interval)
	}
}

// Wake requests an immediate tick, coalescing with any tick already
// pending.  Views call this from visibility/refocus events.  Safe to
// call before Start and after Stop.
func (p *Poller) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Stop cancels the polling task and blocks until the goroutine has
// exited.  After Stop returns, tick will never be invoked again.
// Stopping an unstarted or already-stopped poller is safe.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.startMu.Lock()
		started := p.started
		cancel := p.cancel
		p.startMu.Unlock()
		if !started {
			close(p.done)
			return
		}
		cancel()
		<-p.done
	})
}
