package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the breaker refuses a call to the gateway.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State represents the current breaker state.
type State int

const (
	// Closed lets every call through and records its outcome.
	Closed State = iota
	// Open refuses calls until OpenFor has passed.
	Open
	// HalfOpen lets a single trial call through to decide between Closed and Open.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker. Zero values take the defaults noted
// on each field.
type BreakerConfig struct {
	// Target labels metrics and logs, e.g. "gateway".
	Target string
	// Window is how many recent outcomes the failure ratio is computed over. Default 20.
	Window int
	// MinRequests is the number of outcomes needed before the breaker may open. Default 5.
	MinRequests int
	// FailureRatio opens the breaker when reached. Default 0.5.
	FailureRatio float64
	// OpenFor is the cool-off before a trial call is allowed. Default 30s.
	OpenFor time.Duration
	Logger  zerolog.Logger
	// Now overrides the clock.
	Now func() time.Time
}

// Breaker is a failure-ratio circuit breaker over a rolling window of
// recent outcomes.
type Breaker struct {
	mu  sync.Mutex
	cfg BreakerConfig

	state    State
	openedAt time.Time
	trial    bool

	outcomes []bool // true marks a failure
	next     int
	filled   int
	failures int
}

// NewBreaker builds a Breaker in the closed state.
func NewBreaker(cfg BreakerConfig) *Breaker {
	cfg.Target = strings.TrimSpace(cfg.Target)
	if cfg.Target == "" {
		cfg.Target = "default"
	}
	if cfg.Window <= 0 {
		cfg.Window = 20
	}
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = 5
	}
	if cfg.MinRequests > cfg.Window {
		cfg.MinRequests = cfg.Window
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = 0.5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	b := &Breaker{cfg: cfg, state: Closed, outcomes: make([]bool, cfg.Window)}
	setStateGauge(cfg.Target, Closed)
	return b
}

// Target returns the label the breaker reports under.
func (b *Breaker) Target() string {
	if b == nil {
		return ""
	}
	return b.cfg.Target
}

// Allow reports whether a call may proceed. Every allowed call must be
// followed by exactly one Report. A nil breaker always allows.
func (b *Breaker) Allow(ctx context.Context) bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.OpenFor {
			countRejected(b.cfg.Target)
			return false
		}
		b.changeStateLocked(ctx, HalfOpen)
		b.trial = true
		return true
	case HalfOpen:
		if b.trial {
			countRejected(b.cfg.Target)
			return false
		}
		b.trial = true
		return true
	default:
		return true
	}
}

// Report records the outcome of an allowed call.
func (b *Breaker) Report(ctx context.Context, success bool) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.trial = false
		if success {
			b.changeStateLocked(ctx, Closed)
		} else {
			b.changeStateLocked(ctx, Open)
		}
		return
	}

	b.recordLocked(!success)
	if b.filled < b.cfg.MinRequests {
		return
	}
	if float64(b.failures)/float64(b.filled) >= b.cfg.FailureRatio {
		b.changeStateLocked(ctx, Open)
	}
}

// State returns the current breaker state. A nil breaker is always closed.
func (b *Breaker) State() State {
	if b == nil {
		return Closed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) recordLocked(failed bool) {
	if b.filled == len(b.outcomes) {
		if b.outcomes[b.next] {
			b.failures--
		}
	} else {
		b.filled++
	}
	b.outcomes[b.next] = failed
	if failed {
		b.failures++
	}
	b.next = (b.next + 1) % len(b.outcomes)
}

func (b *Breaker) changeStateLocked(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	switch next {
	case Open:
		b.openedAt = b.cfg.Now()
	case Closed:
		b.openedAt = time.Time{}
		b.next, b.filled, b.failures = 0, 0, 0
		clear(b.outcomes)
	}
	setStateGauge(b.cfg.Target, next)
	countTransition(b.cfg.Target, prev, next)

	logger := b.cfg.Logger
	if next == Open {
		evt := logger.Warn().Str("target", b.cfg.Target).Str("from_state", prev.String()).Str("to_state", next.String())
		if span := trace.SpanContextFromContext(ctx); span.IsValid() {
			evt = evt.Str("trace_id", span.TraceID().String())
		}
		evt.Dur("open_for", b.cfg.OpenFor).Msg("breaker_transition")
		return
	}
	logger.Info().Str("target", b.cfg.Target).Str("from_state", prev.String()).Str("to_state", next.String()).Msg("breaker_transition")
}
