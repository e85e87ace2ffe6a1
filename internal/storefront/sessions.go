package storefront

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-qris/internal/catalog"
	"github.com/noah-isme/toko-qris/internal/checkout"
	"github.com/noah-isme/toko-qris/internal/common"
	"github.com/noah-isme/toko-qris/internal/obs"
)

// ErrSessionNotFound is returned for unknown or already closed sessions.
var ErrSessionNotFound = common.NewAppError("SESSION_NOT_FOUND", "checkout session not found", http.StatusNotFound, errors.New("storefront: session not found"))

// MachineFactory builds the checkout machine owned by a new session.
type MachineFactory func() *checkout.Machine

// Session binds one checkout machine to the product being bought.
type Session struct {
	ID        string
	Product   catalog.Product
	Machine   *checkout.Machine
	CreatedAt time.Time

	lastSeen    atomic.Int64
	unsubscribe func()
}

// Touch marks the session as active.
func (s *Session) Touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// LastSeen returns the last activity time.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// StoreConfig wires a Store.
type StoreConfig struct {
	NewMachine MachineFactory
	IdleTTL    time.Duration
	Hub        *Hub
	Logger     zerolog.Logger
}

// Store keeps open checkout sessions in memory. Closing a session tears its
// machine down, which stops any poller it owns.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	newMachine MachineFactory
	idleTTL    time.Duration
	hub        *Hub
	now        func() time.Time
	logger     zerolog.Logger
}

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) *Store {
	idle := cfg.IdleTTL
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return &Store{
		sessions:   make(map[string]*Session),
		newMachine: cfg.NewMachine,
		idleTTL:    idle,
		hub:        cfg.Hub,
		now:        time.Now,
		logger:     cfg.Logger.With().Str("component", "storefront.sessions").Logger(),
	}
}

// Open starts a session for product.
func (s *Store) Open(product catalog.Product) *Session {
	now := s.now()
	sess := &Session{
		ID:        uuid.NewString(),
		Product:   product,
		Machine:   s.newMachine(),
		CreatedAt: now,
	}
	sess.Touch(now)
	if s.hub != nil {
		id := sess.ID
		sess.unsubscribe = sess.Machine.Subscribe(func(snap checkout.Snapshot) {
			s.hub.Publish(id, snap)
		})
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	obs.AddGauge(obs.CheckoutSessions, 1)
	s.logger.Debug().Str("session_id", sess.ID).Int("product_id", product.ID).Msg("session_opened")
	return sess
}

// Get returns the session and marks it active.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.Touch(s.now())
	return sess, nil
}

// Close tears down the session. It reports whether the session existed.
func (s *Store) Close(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.teardown(sess, "closed")
	return true
}

// Len returns the number of open sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep closes sessions idle for longer than the configured TTL and returns
// how many were closed.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.idleTTL)
	var idle []*Session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.LastSeen().Before(cutoff) {
			idle = append(idle, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()
	for _, sess := range idle {
		s.teardown(sess, "idle")
	}
	return len(idle)
}

// Run sweeps idle sessions until ctx is cancelled, then closes every
// remaining session.
func (s *Store) Run(ctx context.Context) {
	interval := s.idleTTL / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.CloseAll()
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Info().Int("count", n).Msg("idle_sessions_closed")
			}
		}
	}
}

// CloseAll tears down every open session.
func (s *Store) CloseAll() {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		all = append(all, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	for _, sess := range all {
		s.teardown(sess, "shutdown")
	}
}

func (s *Store) teardown(sess *Session, reason string) {
	if sess.unsubscribe != nil {
		sess.unsubscribe()
	}
	sess.Machine.Close()
	if s.hub != nil {
		s.hub.Drop(sess.ID)
	}
	obs.AddGauge(obs.CheckoutSessions, -1)
	s.logger.Debug().Str("session_id", sess.ID).Str("reason", reason).Msg("session_closed")
}
