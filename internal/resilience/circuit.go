package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests immediately after repeated failures.
	CircuitOpen
	// CircuitHalfOpen allows a single probe request to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected by an open circuit.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitConfig controls circuit breaker behavior.
type CircuitConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit. Default: 5.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before allowing a
	// probe. Default: 30s.
	ResetTimeout time.Duration
	// OnStateChange is called on transitions.
	OnStateChange func(from, to CircuitState)
}

// Circuit implements the circuit breaker pattern for one upstream service.
type Circuit struct {
	cfg CircuitConfig

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time

	nowFunc func() time.Time
}

// NewCircuit creates a circuit breaker.
func NewCircuit(cfg CircuitConfig) *Circuit {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Circuit{cfg: cfg, state: CircuitClosed, nowFunc: time.Now}
}

// Execute runs fn through the breaker. Returns ErrCircuitOpen while open.
func (c *Circuit) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	c.record(err)
	return err
}

// ExecuteVal is Execute preserving a return value.
func ExecuteVal[T any](ctx context.Context, c *Circuit, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := c.allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	c.record(err)
	return val, err
}

// State returns the current state.
func (c *Circuit) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CircuitOpen && c.nowFunc().Sub(c.lastFailure) >= c.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return c.state
}

// Reset forces the circuit closed.
func (c *Circuit) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.state
	c.state = CircuitClosed
	c.consecutiveFailures = 0
	if old != CircuitClosed && c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(old, CircuitClosed)
	}
}

func (c *Circuit) allow() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CircuitOpen:
		if c.nowFunc().Sub(c.lastFailure) >= c.cfg.ResetTimeout {
			c.transition(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (c *Circuit) record(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		if c.state == CircuitHalfOpen {
			c.transition(CircuitClosed)
		}
		c.consecutiveFailures = 0
		return
	}

	c.consecutiveFailures++
	c.lastFailure = c.nowFunc()

	switch c.state {
	case CircuitClosed:
		if c.consecutiveFailures >= c.cfg.FailureThreshold {
			c.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure during the probe reopens the circuit.
		c.transition(CircuitOpen)
	}
}

func (c *Circuit) transition(to CircuitState) {
	from := c.state
	c.state = to
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(from, to)
	}
}
