// Package breaker provides named circuit breakers that contain failures of
// the remote service.
//
// Each logical remote subsystem gets its own breaker, so an outage in one
// (say, conversation sync) never suppresses calls to another (chat). A
// breaker is a three-state machine: closed passes calls through, open
// short-circuits them with ErrCircuitOpen, and half-open lets exactly one
// probe through after the cooldown to test recovery.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is short-circuited without any
// network attempt. Callers distinguish it from genuine remote failures so
// "temporarily unavailable" can be reported instead of a generic error.
var ErrCircuitOpen = errors.New("circuit open")

// State is the breaker's position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Options tunes a breaker.
type Options struct {
	// FailureThreshold is the consecutive-failure count that trips the
	// breaker open. Default 5.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before allowing a
	// half-open probe. Default 30s.
	ResetTimeout time.Duration

	// Clock overrides the time source (tests).
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.ResetTimeout <= 0 {
		o.ResetTimeout = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Breaker is a single named circuit. Safe for concurrent use.
type Breaker struct {
	name string
	opts Options

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a breaker with the given name and options.
func New(name string, opts Options) *Breaker {
	return &Breaker{name: name, opts: opts.withDefaults()}
}

// Name returns the circuit's name.
func (b *Breaker) Name() string { return b.name }

// State returns the current position, accounting for an elapsed cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.opts.Clock().Sub(b.openedAt) >= b.opts.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Execute runs op through the circuit. When the circuit is open the call
// fails immediately with ErrCircuitOpen and op is never invoked. In
// half-open, exactly one caller wins the probe slot regardless of how many
// arrive concurrently; the rest are short-circuited.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := op(ctx)
	b.record(err == nil)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.opts.Clock().Sub(b.openedAt) < b.opts.ResetTimeout {
			return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
		}
		// cooldown elapsed: this caller becomes the probe
		b.state = StateHalfOpen
		b.probing = true
		return nil

	case StateHalfOpen:
		if b.probing {
			return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
		}
		b.probing = true
		return nil

	default:
		return fmt.Errorf("%s: unknown breaker state %d", b.name, b.state)
	}
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
		if success {
			b.state = StateClosed
			b.failures = 0
		} else {
			b.state = StateOpen
			b.openedAt = b.opts.Clock()
		}
		return
	}

	if success {
		b.failures = 0
		return
	}

	b.failures++
	if b.failures >= b.opts.FailureThreshold {
		b.state = StateOpen
		b.openedAt = b.opts.Clock()
	}
}

// Do runs a value-returning operation through the breaker.
func Do[T any](ctx context.Context, b *Breaker, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		out, opErr = op(ctx)
		return opErr
	})
	return out, err
}
