// Package ledger implements the off-chain deposit session ledger: a
// wallet authenticates once, opens a session with a fixed allowance,
// records instant debits against it without per-transaction
// confirmation, and later settles everything in one batch submission.
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// TxStatus represents the status of a pending transaction.
type TxStatus string

const (
	// TxStatusPendingSettlement marks a recorded debit awaiting batch
	// settlement. Terminal states are reached by clearing the list as a
	// whole (settle or discard), never by per-entry transition.
	TxStatusPendingSettlement TxStatus = "pending-settlement"
)

// WalletState is the lifecycle state of a wallet's ledger.
type WalletState string

const (
	StateDisconnected  WalletState = "disconnected"
	StateAuthenticated WalletState = "authenticated"
	StateSessionActive WalletState = "session_active"
	StateSettling      WalletState = "settling"
)

// Session is a time-boxed authorization to debit up to a fixed
// allowance. Timestamps are persisted as epoch milliseconds; amounts
// are integer base units of the session token.
type Session struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	Allowance int64  `json:"allowance"`
	Balance   int64  `json:"balance"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Validate checks the session record structurally. A persisted record
// that fails validation is corrupt and must be treated as absent.
func (s Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session missing id")
	}
	if s.Address == "" {
		return fmt.Errorf("session missing address")
	}
	if s.Allowance < 0 {
		return fmt.Errorf("negative allowance")
	}
	if s.Balance < 0 || s.Balance > s.Allowance {
		return fmt.Errorf("balance %d outside [0, %d]", s.Balance, s.Allowance)
	}
	if s.CreatedAt <= 0 || s.ExpiresAt <= s.CreatedAt {
		return fmt.Errorf("invalid session timestamps")
	}
	return nil
}

// ExpiresAtTime returns the expiry as a time.Time.
func (s Session) ExpiresAtTime() time.Time {
	return time.UnixMilli(s.ExpiresAt)
}

// Expired reports whether the session has expired at the given instant.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAtTime())
}

// PendingTransaction is a recorded instant debit awaiting inclusion in
// a batch settlement.
type PendingTransaction struct {
	ID        string   `json:"id"`
	To        string   `json:"to"`
	Amount    int64    `json:"amount"`
	Token     string   `json:"token"`
	Timestamp int64    `json:"timestamp"`
	Status    TxStatus `json:"status"`
}

// Validate checks the pending-transaction record structurally.
func (t PendingTransaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("transaction missing id")
	}
	if t.To == "" {
		return fmt.Errorf("transaction missing destination")
	}
	if t.Amount <= 0 {
		return fmt.Errorf("non-positive amount")
	}
	if t.Status != TxStatusPendingSettlement {
		return fmt.Errorf("unexpected status %q", t.Status)
	}
	return nil
}

// SettlementResult describes a completed batch settlement.
type SettlementResult struct {
	Reference    string `json:"settlementReference"`
	SettledCount int    `json:"settledCount"`
}

// Ledger errors.
var (
	ErrNotAuthenticated    = errors.New("wallet not authenticated")
	ErrInvalidAllowance    = errors.New("allowance must be positive")
	ErrSessionExists       = errors.New("active session already exists")
	ErrNoActiveSession     = errors.New("no active session")
	ErrSessionExpired      = errors.New("session expired")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient session balance")
	ErrNothingToSettle     = errors.New("no pending transactions to settle")
	ErrSettlementFailed    = errors.New("batch settlement failed")
)

// Event types published on ledger state changes.
const (
	EventSessionCreated   = "session.created"
	EventSessionClosed    = "session.closed"
	EventSessionExpired   = "session.expired"
	EventDebitRecorded    = "debit.recorded"
	EventSettlementDone   = "settlement.completed"
	EventSettlementFailed = "settlement.failed"
)

// Event is a ledger state-change notification.
type Event struct {
	Type      string      `json:"type"`
	Address   string      `json:"address"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// EventSink receives ledger events. Implementations must not block.
type EventSink interface {
	Publish(event Event)
}

// NopSink discards all events.
type NopSink struct{}

// Publish implements EventSink.
func (NopSink) Publish(Event) {}
