package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-qris/internal/catalog"
	"github.com/noah-isme/toko-qris/internal/common"
	"github.com/noah-isme/toko-qris/internal/gateway"
	"github.com/noah-isme/toko-qris/internal/obs"
)

var (
	// ErrInvalidTransition is returned when an action is not allowed in the current state.
	ErrInvalidTransition = errors.New("checkout: action not allowed in current state")
	// ErrClosed is returned once the machine has been torn down.
	ErrClosed = errors.New("checkout: machine closed")
	// ErrBusy is returned when a submission is already in flight.
	ErrBusy = errors.New("checkout: submission already in progress")
	// ErrAborted is returned when the attempt was reset while its creation call was in flight.
	ErrAborted = errors.New("checkout: attempt aborted")
)

// IntentCreator submits an order intent.
type IntentCreator interface {
	Create(ctx context.Context, product catalog.Product, input CustomerInput) (Challenge, error)
}

// PaidHook runs once per attempt when payment is first observed.
type PaidHook func(ctx context.Context, intent OrderIntent, order gateway.Order)

// Config wires a Machine.
type Config struct {
	Creator         IntentCreator
	Querier         StatusQuerier
	PollInterval    time.Duration
	PaymentDeadline time.Duration
	QueryTimeout    time.Duration
	OnPaid          PaidHook
	Logger          zerolog.Logger
}

// Machine drives one checkout: form → qr → success | expired, and back to
// form. A poller runs if and only if the state is QR.
type Machine struct {
	mu         sync.Mutex
	state      State
	seq        uint64
	epoch      uint64
	form       Form
	intent     *OrderIntent
	poll       *pollHandle
	submitting bool
	closed     bool

	observers map[int]func(Snapshot)
	nextObs   int

	creator IntentCreator
	querier StatusQuerier
	pollCfg pollConfig
	onPaid  PaidHook
	logger  zerolog.Logger
}

// NewMachine returns a machine in the form state.
func NewMachine(cfg Config) *Machine {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	deadline := cfg.PaymentDeadline
	if deadline <= 0 {
		deadline = 10 * time.Minute
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &Machine{
		state:     Form{},
		observers: make(map[int]func(Snapshot)),
		creator:   cfg.Creator,
		querier:   cfg.Querier,
		pollCfg:   pollConfig{interval: interval, deadline: deadline, queryTimeout: timeout},
		onPaid:    cfg.OnPaid,
		logger:    cfg.Logger.With().Str("component", "checkout.machine").Logger(),
	}
}

// State returns the current snapshot.
func (m *Machine) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Polling reports whether a poller is active.
func (m *Machine) Polling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.poll != nil
}

// Subscribe registers fn for every subsequent transition and returns a
// function that removes it. fn runs outside the machine lock and may be
// called concurrently; use Snapshot.Seq to order deliveries.
func (m *Machine) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

// Submit creates a payment for product and moves to QR on success. On
// failure the machine stays in form, keeping the entered values and the
// error text, and the creator's error is returned.
func (m *Machine) Submit(ctx context.Context, product catalog.Product, input CustomerInput) (Snapshot, error) {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return Snapshot{}, ErrClosed
	case m.submitting:
		m.mu.Unlock()
		return Snapshot{}, ErrBusy
	case m.state.Phase() != PhaseForm:
		m.mu.Unlock()
		return Snapshot{}, ErrInvalidTransition
	}
	m.submitting = true
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	challenge, err := m.creator.Create(ctx, product, input)

	m.mu.Lock()
	m.submitting = false
	if m.closed {
		m.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if epoch != m.epoch {
		m.mu.Unlock()
		if err == nil {
			m.logger.Info().Str("merchant_order_id", challenge.Intent.MerchantOrderID).Msg("attempt_discarded")
		}
		return Snapshot{}, ErrAborted
	}

	input = input.normalised()
	m.form = Form{Name: input.Name, Email: input.Email, Phone: input.Phone}
	if err != nil {
		failed := m.form
		failed.Error = publicMessage(err)
		t := m.transitionLocked(failed)
		m.mu.Unlock()
		t.deliver()
		return t.snapshot, err
	}

	intent := challenge.Intent
	m.intent = &intent
	expiresAt := time.Now().Add(m.pollCfg.deadline)
	qr := QR{
		MerchantOrderID: intent.MerchantOrderID,
		QRString:        challenge.QRString,
		Reference:       challenge.Reference,
		Amount:          intent.Amount,
		ProductID:       intent.ProductID,
		ProductName:     intent.ProductName,
		Customer:        intent.Customer,
		ExpiresAt:       expiresAt,
	}
	t := m.transitionLocked(qr)
	id := intent.MerchantOrderID
	m.poll = startPoller(m.pollCfg, m.querier, intent, m.logger,
		func(o Observation) { m.observe(epoch, id, o) },
		func() { m.deadlineElapsed(epoch, id) },
	)
	m.mu.Unlock()
	t.deliver()
	return t.snapshot, nil
}

// Done returns from success to an empty form.
func (m *Machine) Done() (Snapshot, error) {
	return m.backToForm(PhaseSuccess, false)
}

// Retry returns from expired to the form, keeping the entered name and email.
func (m *Machine) Retry() (Snapshot, error) {
	return m.backToForm(PhaseExpired, true)
}

// Reset returns to an empty form from any state, stopping any poller.
// Calling it repeatedly is safe.
func (m *Machine) Reset() (Snapshot, error) {
	return m.backToForm("", false)
}

// Close tears the machine down. Further actions return ErrClosed.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.epoch++
	m.stopPollLocked()
	m.intent = nil
	m.observers = make(map[int]func(Snapshot))
	m.mu.Unlock()
	m.logger.Debug().Msg("checkout_closed")
}

func (m *Machine) backToForm(from Phase, keepFields bool) (Snapshot, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if from != "" && m.state.Phase() != from {
		m.mu.Unlock()
		return Snapshot{}, ErrInvalidTransition
	}
	m.epoch++
	m.stopPollLocked()
	m.intent = nil
	next := Form{}
	if keepFields {
		next = Form{Name: m.form.Name, Email: m.form.Email, Phone: m.form.Phone}
	}
	m.form = next
	t := m.transitionLocked(next)
	m.mu.Unlock()
	t.deliver()
	return t.snapshot, nil
}

func (m *Machine) observe(epoch uint64, id string, o Observation) {
	m.mu.Lock()
	if !m.activeLocked(epoch, id) {
		m.mu.Unlock()
		m.logger.Debug().Str("merchant_order_id", id).Msg("stale_poll_result_ignored")
		return
	}
	var next State
	switch o.Status {
	case gateway.StatusPaid:
		next = Success{Order: o.Order}
	case gateway.StatusFailed:
		next = Expired{MerchantOrderID: id, Reason: ReasonFailed}
	case gateway.StatusExpired:
		next = Expired{MerchantOrderID: id, Reason: ReasonExpired}
	default:
		m.mu.Unlock()
		return
	}
	intent := *m.intent
	m.epoch++
	m.stopPollLocked()
	t := m.transitionLocked(next)
	m.mu.Unlock()

	m.logger.Info().Str("merchant_order_id", id).Str("status", string(o.Status)).Msg("payment_terminal")
	t.deliver()
	if o.Status == gateway.StatusPaid && m.onPaid != nil {
		m.onPaid(context.Background(), intent, o.Order)
	}
}

func (m *Machine) deadlineElapsed(epoch uint64, id string) {
	m.mu.Lock()
	if !m.activeLocked(epoch, id) {
		m.mu.Unlock()
		return
	}
	m.epoch++
	m.stopPollLocked()
	t := m.transitionLocked(Expired{MerchantOrderID: id, Reason: ReasonDeadline})
	m.mu.Unlock()

	m.logger.Info().Str("merchant_order_id", id).Msg("payment_deadline_elapsed")
	t.deliver()
}

func (m *Machine) activeLocked(epoch uint64, id string) bool {
	if m.closed || epoch != m.epoch || m.intent == nil || m.intent.MerchantOrderID != id {
		return false
	}
	qr, ok := m.state.(QR)
	return ok && qr.MerchantOrderID == id
}

func (m *Machine) stopPollLocked() {
	if m.poll != nil {
		m.poll.Stop()
		m.poll = nil
	}
}

// transition is a committed state change awaiting delivery to observers.
// deliver must be called after the machine lock is released.
type transition struct {
	snapshot  Snapshot
	observers []func(Snapshot)
}

func (t transition) deliver() {
	for _, fn := range t.observers {
		fn(t.snapshot)
	}
}

func (m *Machine) transitionLocked(next State) transition {
	from := m.state.Phase()
	m.state = next
	m.seq++
	obs.IncCounter(obs.CheckoutTransitionsTotal, string(from), string(next.Phase()))
	t := transition{snapshot: m.snapshotLocked(), observers: make([]func(Snapshot), 0, len(m.observers))}
	for _, fn := range m.observers {
		t.observers = append(t.observers, fn)
	}
	return t
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{Seq: m.seq, State: m.state, At: time.Now()}
}

func publicMessage(err error) string {
	var appErr *common.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}
