// Package polling decides how often a deployment view refreshes.
//
// The Machine has two phases. Polling refreshes at the fast interval; Idle
// does not refresh at all. An unstable reading or an accepted action puts
// the machine in Polling. While Polling, the first stable reading of a run
// arms a debounce deadline; an unstable reading disarms it. Once the
// deadline passes with no unstable reading in between, the machine is Idle.
//
// Deadlines are evaluated lazily against the injected clock, so tests drive
// time with a fake clock instead of sleeping.
package polling

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/skyhook-io/kubedash/internal/status"
)

const (
	DefaultFastInterval = 1000 * time.Millisecond
	DefaultDebounce     = 2000 * time.Millisecond
)

// Phase is the polling phase.
type Phase int

const (
	Idle Phase = iota
	Polling
)

func (p Phase) String() string {
	if p == Polling {
		return "Polling"
	}
	return "Idle"
}

// Machine is the polling state machine. It is safe for concurrent use.
type Machine struct {
	mu       sync.Mutex
	clock    clock.PassiveClock
	fast     time.Duration
	debounce time.Duration

	phase  Phase
	idleAt time.Time // zero when no debounce is armed
	last   status.State
}

// NewMachine creates a machine in the Idle phase. Non-positive durations
// fall back to the defaults.
func NewMachine(clk clock.PassiveClock, fast, debounce time.Duration) *Machine {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if fast <= 0 {
		fast = DefaultFastInterval
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Machine{
		clock:    clk,
		fast:     fast,
		debounce: debounce,
		phase:    Idle,
		last:     status.Unknown,
	}
}

// Observe feeds one classifier reading into the machine.
func (m *Machine) Observe(r status.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settle()
	m.last = r.State

	if !r.Stable {
		m.phase = Polling
		m.idleAt = time.Time{}
		return
	}
	if m.phase == Polling && m.idleAt.IsZero() {
		m.idleAt = m.clock.Now().Add(m.debounce)
	}
}

// Accelerate forces fast polling after an accepted mutating action and
// cancels any pending debounce.
func (m *Machine) Accelerate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.phase = Polling
	m.idleAt = time.Time{}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settle()
	return m.phase
}

// Interval returns the refresh interval; zero means polling is disabled.
func (m *Machine) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settle()
	if m.phase == Polling {
		return m.fast
	}
	return 0
}

// LastStatus returns the state of the most recent reading.
func (m *Machine) LastStatus() status.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// DebounceDeadline returns the armed deadline, if any.
func (m *Machine) DebounceDeadline() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settle()
	return m.idleAt, !m.idleAt.IsZero()
}

// settle applies an elapsed debounce. Caller holds mu.
func (m *Machine) settle() {
	if m.idleAt.IsZero() {
		return
	}
	if !m.clock.Now().Before(m.idleAt) {
		m.phase = Idle
		m.idleAt = time.Time{}
	}
}
