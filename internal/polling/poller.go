package polling

import (
	"context"
	"sync"
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
)

// FetchFunc performs one refresh. It is expected to feed its reading into the
// Machine itself.
type FetchFunc func(ctx context.Context) error

// Poller runs a Machine against a clock. It owns exactly one timer, stopped
// on every exit path.
type Poller struct {
	machine *Machine
	clock   clock.WithTicker
	fetch   FetchFunc

	wake chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewPoller creates a stopped poller.
func NewPoller(m *Machine, clk clock.WithTicker, fetch FetchFunc) *Poller {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Poller{
		machine: m,
		clock:   clk,
		fetch:   fetch,
		wake:    make(chan struct{}, 1),
	}
}

// Machine returns the driven state machine.
func (p *Poller) Machine() *Machine {
	return p.machine
}

// Start launches the polling loop. Calling Start on a running poller is a
// no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	go p.loop(ctx, p.done)
}

// Stop cancels the loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
}

// Kick makes the loop re-read the machine's interval, typically right after
// Accelerate.
func (p *Poller) Kick() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	var timer clock.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		var tick <-chan time.Time
		if iv := p.machine.Interval(); iv > 0 {
			if timer == nil {
				timer = p.clock.NewTimer(iv)
			} else {
				timer.Reset(iv)
			}
			tick = timer.C()
		}

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			if timer != nil && !timer.Stop() {
				select {
				case <-timer.C():
				default:
				}
			}
		case <-tick:
			if p.machine.Interval() == 0 {
				klog.V(3).Info("[poll] debounce elapsed, polling stopped")
				continue
			}
			if err := p.fetch(ctx); err != nil && ctx.Err() == nil {
				klog.V(2).Infof("[poll] refresh failed: %v", err)
			}
		}
	}
}
