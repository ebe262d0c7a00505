package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prizepool-labs/ledger-service/internal/store"
	"github.com/prizepool-labs/ledger-service/pkg/logger"
)

// DefaultSessionTTL is the fixed session lifetime when none is
// configured.
const DefaultSessionTTL = 2 * time.Hour

// Service owns all session ledger state. It is the single logical
// owner of the persisted session and pending-transaction records: every
// mutation runs under its mutex, so a balance check and the write that
// commits it can never interleave with another mutation. Multiple
// service instances sharing one store are an unmanaged race and are not
// supported.
type Service struct {
	mu        sync.Mutex
	store     store.RecordStore
	submitter Submitter
	ttl       time.Duration
	log       *logger.Logger
	metrics   *Metrics
	events    EventSink

	authenticated map[string]bool
	// known tracks addresses that have held a session this process, so
	// the expiry sweeper has a population to check.
	known map[string]struct{}

	now func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides the session TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMetrics attaches operation metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithEvents attaches an event sink.
func WithEvents(sink EventSink) Option {
	return func(s *Service) { s.events = sink }
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a ledger service over the given record store and
// settlement submitter.
func New(recordStore store.RecordStore, submitter Submitter, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	if submitter == nil {
		submitter = NewSimulatedSubmitter()
	}

	s := &Service{
		store:         recordStore,
		submitter:     submitter,
		ttl:           DefaultSessionTTL,
		log:           log,
		events:        NopSink{},
		authenticated: make(map[string]bool),
		known:         make(map[string]struct{}),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = nopMetrics()
	}
	return s
}

// =============================================================================
// Session Lifecycle
// =============================================================================

// Connect marks a wallet as authenticated. The signature verification
// itself happens in the wallet authenticator; the ledger only records
// that it succeeded.
func (s *Service) Connect(ctx context.Context, address string) error {
	if address == "" {
		return fmt.Errorf("%w: empty address", ErrNotAuthenticated)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.authenticated[address] = true
	s.log.WithField("address", address).Info("wallet connected")
	return nil
}

// CreateSession opens a session with the given allowance. The session
// starts with balance == allowance and expires after the configured TTL.
func (s *Service) CreateSession(ctx context.Context, address string, allowance int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authenticated[address] {
		return Session{}, ErrNotAuthenticated
	}
	if allowance <= 0 {
		return Session{}, ErrInvalidAllowance
	}

	if existing, ok, err := s.loadSession(ctx, address); err != nil {
		return Session{}, err
	} else if ok && !existing.Expired(s.now()) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionExists, existing.ID)
	} else if ok {
		// Stale expired session found while creating a new one.
		if err := s.purge(ctx, address, true); err != nil {
			return Session{}, err
		}
	}

	now := s.now()
	session := Session{
		ID:        uuid.New().String(),
		Address:   address,
		Allowance: allowance,
		Balance:   allowance,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(s.ttl).UnixMilli(),
	}

	if err := s.store.Save(ctx, store.SessionKey(address), session); err != nil {
		return Session{}, fmt.Errorf("persist session: %w", err)
	}
	if err := s.store.Save(ctx, store.PendingKey(address), []PendingTransaction{}); err != nil {
		// Do not leave a session without its pending list.
		_ = s.store.Remove(ctx, store.SessionKey(address))
		return Session{}, fmt.Errorf("persist pending list: %w", err)
	}

	s.known[address] = struct{}{}
	s.metrics.SessionsCreated.Inc()
	s.publish(EventSessionCreated, address, session)

	s.log.WithField("address", address).
		WithField("session_id", session.ID).
		WithField("allowance", allowance).
		Info("session created")

	return session, nil
}

// Restore loads the persisted session after a restart. An expired
// session is purged together with its pending list and reported absent.
// Restore is idempotent: with no intervening mutation, repeated calls
// observe identical state.
func (s *Service) Restore(ctx context.Context, address string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.restoreLocked(ctx, address)
}

func (s *Service) restoreLocked(ctx context.Context, address string) (Session, bool, error) {
	session, ok, err := s.loadSession(ctx, address)
	if err != nil {
		return Session{}, false, err
	}
	if !ok {
		// Self-heal: a pending list without its session violates the
		// ledger's pairing invariant and is discarded.
		if err := s.store.Remove(ctx, store.PendingKey(address)); err != nil {
			return Session{}, false, fmt.Errorf("purge orphan pending list: %w", err)
		}
		return Session{}, false, nil
	}

	if session.Expired(s.now()) {
		if err := s.purge(ctx, address, true); err != nil {
			return Session{}, false, err
		}
		return Session{}, false, nil
	}

	s.known[address] = struct{}{}
	return session, true, nil
}

// Close discards the session and all pending transactions without
// settling. The caller is expected to have confirmed the data loss;
// the ledger performs the discard unconditionally.
func (s *Service) Close(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok, err := s.loadSession(ctx, address)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoActiveSession
	}

	if err := s.purge(ctx, address, false); err != nil {
		return err
	}

	s.log.WithField("address", address).Info("session closed without settlement")
	return nil
}

// HasActiveSession reports whether an unexpired session record exists.
// A fully drained session is still active: its pending transactions and
// settlement obligation remain until settled or discarded.
func (s *Service) HasActiveSession(ctx context.Context, address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok, err := s.loadSession(ctx, address)
	return err == nil && ok && !session.Expired(s.now())
}

// Drained reports whether an active session has zero remaining balance.
func (s *Service) Drained(ctx context.Context, address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok, err := s.loadSession(ctx, address)
	return err == nil && ok && !session.Expired(s.now()) && session.Balance == 0
}

// SessionBalance returns the remaining balance, or zero when no active
// session exists.
func (s *Service) SessionBalance(ctx context.Context, address string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok, err := s.loadSession(ctx, address)
	if err != nil || !ok || session.Expired(s.now()) {
		return 0
	}
	return session.Balance
}

// State returns the wallet's lifecycle state.
func (s *Service) State(ctx context.Context, address string) WalletState {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok, err := s.loadSession(ctx, address)
	if err == nil && ok && !session.Expired(s.now()) {
		return StateSessionActive
	}
	if s.authenticated[address] {
		return StateAuthenticated
	}
	return StateDisconnected
}

// SweepExpired purges expired sessions among the addresses this
// instance has seen. Lazy checks inside each operation remain
// authoritative; the sweeper only tightens purge latency.
func (s *Service) SweepExpired(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for address := range s.known {
		session, ok, err := s.loadSession(ctx, address)
		if err != nil || !ok {
			continue
		}
		if session.Expired(s.now()) {
			if err := s.purge(ctx, address, true); err != nil {
				s.log.WithField("address", address).WithError(err).Warn("expiry sweep purge failed")
				continue
			}
			purged++
		}
	}
	return purged
}

// =============================================================================
// Off-chain Ledger
// =============================================================================

// Debit records an instant debit against the active session: it
// decrements the balance and appends a pending transaction, both
// persisted before the call returns. A rejected debit leaves both
// records exactly as they were.
func (s *Service) Debit(ctx context.Context, address, destination string, amount int64, token string) (PendingTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok, err := s.loadSession(ctx, address)
	if err != nil {
		return PendingTransaction{}, err
	}
	if !ok {
		s.metrics.DebitsRejected.Inc()
		return PendingTransaction{}, ErrNoActiveSession
	}
	if session.Expired(s.now()) {
		// Detection purges the stale records as a side effect.
		if err := s.purge(ctx, address, true); err != nil {
			return PendingTransaction{}, err
		}
		s.metrics.DebitsRejected.Inc()
		return PendingTransaction{}, ErrSessionExpired
	}

	if destination == "" {
		return PendingTransaction{}, fmt.Errorf("destination required")
	}
	if amount <= 0 {
		return PendingTransaction{}, ErrInvalidAmount
	}
	if amount > session.Balance {
		s.metrics.DebitsRejected.Inc()
		return PendingTransaction{}, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientBalance, session.Balance, amount)
	}

	pending, _, err := s.loadPending(ctx, address)
	if err != nil {
		return PendingTransaction{}, err
	}

	tx := PendingTransaction{
		ID:        uuid.New().String(),
		To:        destination,
		Amount:    amount,
		Token:     token,
		Timestamp: s.now().UnixMilli(),
		Status:    TxStatusPendingSettlement,
	}

	updated := append(append([]PendingTransaction{}, pending...), tx)
	if err := s.store.Save(ctx, store.PendingKey(address), updated); err != nil {
		return PendingTransaction{}, fmt.Errorf("persist pending list: %w", err)
	}

	session.Balance -= amount
	if err := s.store.Save(ctx, store.SessionKey(address), session); err != nil {
		// Roll the pending list back so a partial failure leaves the
		// pre-call state.
		if rbErr := s.store.Save(ctx, store.PendingKey(address), pending); rbErr != nil {
			s.log.WithField("address", address).WithError(rbErr).Error("pending list rollback failed")
		}
		return PendingTransaction{}, fmt.Errorf("persist session: %w", err)
	}

	s.metrics.DebitsRecorded.Inc()
	s.metrics.PendingValue.Add(float64(amount))
	s.publish(EventDebitRecorded, address, tx)

	s.log.WithField("address", address).
		WithField("tx_id", tx.ID).
		WithField("to", destination).
		WithField("amount", amount).
		WithField("balance", session.Balance).
		Info("instant debit recorded")

	return tx, nil
}

// PendingTransactions returns the ordered pending list, empty when no
// session exists.
func (s *Service) PendingTransactions(ctx context.Context, address string) ([]PendingTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok, err := s.loadSession(ctx, address)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []PendingTransaction{}, nil
	}

	pending, _, err := s.loadPending(ctx, address)
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// =============================================================================
// Internal helpers (lock held)
// =============================================================================

// loadSession loads and validates the persisted session. Structurally
// invalid records are corrupt state: logged, purged, reported absent.
func (s *Service) loadSession(ctx context.Context, address string) (Session, bool, error) {
	var session Session
	found, err := s.store.Load(ctx, store.SessionKey(address), &session)
	if err != nil {
		return Session{}, false, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return Session{}, false, nil
	}
	if err := session.Validate(); err != nil {
		s.log.WithField("address", address).WithError(err).Warn("corrupt session record, purging")
		_ = s.store.Remove(ctx, store.SessionKey(address))
		_ = s.store.Remove(ctx, store.PendingKey(address))
		return Session{}, false, nil
	}
	return session, true, nil
}

// loadPending loads and validates the persisted pending list. Entries
// that fail validation mark the whole list corrupt; it is then treated
// as empty rather than partially trusted.
func (s *Service) loadPending(ctx context.Context, address string) ([]PendingTransaction, bool, error) {
	var pending []PendingTransaction
	found, err := s.store.Load(ctx, store.PendingKey(address), &pending)
	if err != nil {
		return nil, false, fmt.Errorf("load pending list: %w", err)
	}
	if !found {
		return []PendingTransaction{}, false, nil
	}
	for _, tx := range pending {
		if err := tx.Validate(); err != nil {
			s.log.WithField("address", address).WithError(err).Warn("corrupt pending record, discarding list")
			return []PendingTransaction{}, false, nil
		}
	}
	return pending, true, nil
}

// purge removes the session and its pending list. The session record
// goes first: if the second removal fails, the orphan pending list is
// discarded by the next restore.
func (s *Service) purge(ctx context.Context, address string, expired bool) error {
	pending, _, _ := s.loadPending(ctx, address)

	if err := s.store.Remove(ctx, store.SessionKey(address)); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	if err := s.store.Remove(ctx, store.PendingKey(address)); err != nil {
		return fmt.Errorf("remove pending list: %w", err)
	}

	var outstanding int64
	for _, tx := range pending {
		outstanding += tx.Amount
	}
	s.metrics.PendingValue.Sub(float64(outstanding))

	if expired {
		s.metrics.SessionsExpired.Inc()
		s.publish(EventSessionExpired, address, nil)
	} else {
		s.metrics.SessionsClosed.Inc()
		s.publish(EventSessionClosed, address, nil)
	}
	return nil
}

func (s *Service) publish(eventType, address string, payload interface{}) {
	s.events.Publish(Event{
		Type:      eventType,
		Address:   address,
		Payload:   payload,
		Timestamp: s.now().UnixMilli(),
	})
}
