package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/prizepool-labs/ledger-service/internal/store"
)

// Submitter performs the batched on-chain settlement of a session's
// pending transactions. Submissions may take arbitrarily long; there is
// no cancellation of an in-flight settlement beyond the context.
type Submitter interface {
	SubmitBatch(ctx context.Context, session Session, txs []PendingTransaction) (reference string, err error)
}

// SimulatedSubmitter produces a deterministic settlement reference
// without touching a chain. It stands in for the real settlement
// contract call, which is out of scope for the ledger.
type SimulatedSubmitter struct{}

// NewSimulatedSubmitter creates a SimulatedSubmitter.
func NewSimulatedSubmitter() *SimulatedSubmitter {
	return &SimulatedSubmitter{}
}

// SubmitBatch derives the reference from the session and transaction
// ids in order, so the same batch always settles to the same reference.
func (s *SimulatedSubmitter) SubmitBatch(ctx context.Context, session Session, txs []PendingTransaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(session.ID))
	for _, tx := range txs {
		h.Write([]byte(tx.ID))
	}
	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}

// Settle drains the pending list into one batch submission. Only a
// confirmed submission clears state, and only the snapshot that was
// submitted: a failed settlement leaves the session and every pending
// transaction in place so the caller can retry.
func (s *Service) Settle(ctx context.Context, address string) (SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok, err := s.loadSession(ctx, address)
	if err != nil {
		return SettlementResult{}, err
	}
	if !ok {
		return SettlementResult{}, ErrNoActiveSession
	}
	if session.Expired(s.now()) {
		if err := s.purge(ctx, address, true); err != nil {
			return SettlementResult{}, err
		}
		return SettlementResult{}, ErrSessionExpired
	}

	pending, _, err := s.loadPending(ctx, address)
	if err != nil {
		return SettlementResult{}, err
	}
	if len(pending) == 0 {
		return SettlementResult{}, ErrNothingToSettle
	}

	// Snapshot the batch before submitting. The mutex is held across
	// the submission: the service is the single owner of this state and
	// no concurrent append can slip in, but clearing still targets only
	// the snapshot range.
	snapshot := append([]PendingTransaction{}, pending...)

	reference, err := s.submitter.SubmitBatch(ctx, session, snapshot)
	if err != nil {
		s.metrics.SettlementsFailed.Inc()
		s.publish(EventSettlementFailed, address, map[string]interface{}{"error": err.Error()})
		s.log.WithField("address", address).WithError(err).Error("batch settlement failed, pending state preserved")
		return SettlementResult{}, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}

	// Confirmed: clear the snapshot range, then the session.
	remaining := pending[len(snapshot):]
	if len(remaining) > 0 {
		if err := s.store.Save(ctx, store.PendingKey(address), remaining); err != nil {
			return SettlementResult{}, fmt.Errorf("trim settled range: %w", err)
		}
	} else {
		if err := s.store.Remove(ctx, store.SessionKey(address)); err != nil {
			return SettlementResult{}, fmt.Errorf("clear session: %w", err)
		}
		if err := s.store.Remove(ctx, store.PendingKey(address)); err != nil {
			return SettlementResult{}, fmt.Errorf("clear pending list: %w", err)
		}
	}

	var settledValue int64
	for _, tx := range snapshot {
		settledValue += tx.Amount
	}
	s.metrics.SettlementsSucceeded.Inc()
	s.metrics.PendingValue.Sub(float64(settledValue))

	result := SettlementResult{
		Reference:    reference,
		SettledCount: len(snapshot),
	}
	s.publish(EventSettlementDone, address, result)

	s.log.WithField("address", address).
		WithField("reference", reference).
		WithField("settled_count", result.SettledCount).
		WithField("settled_value", settledValue).
		Info("batch settlement completed")

	return result, nil
}

// Discard clears the session and pending list without settling. The
// caller explicitly accepts the loss of pending value.
func (s *Service) Discard(ctx context.Context, address string) error {
	return s.Close(ctx, address)
}
