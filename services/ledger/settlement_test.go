package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/prizepool-labs/ledger-service/internal/store"
)

func seedSession(t *testing.T, svc *Service, address string, allowance int64, debits ...int64) {
	t.Helper()
	ctx := context.Background()

	if err := svc.Connect(ctx, address); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if _, err := svc.CreateSession(ctx, address, allowance); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	for i, amount := range debits {
		if _, err := svc.Debit(ctx, address, "pool", amount, "USDC"); err != nil {
			t.Fatalf("Debit %d failed: %v", i, err)
		}
	}
}

func TestSettle_NothingToSettle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	seedSession(t, svc, testAddress, 1000)

	if _, err := svc.Settle(ctx, testAddress); !errors.Is(err, ErrNothingToSettle) {
		t.Errorf("expected ErrNothingToSettle, got %v", err)
	}
	// A user error must not disturb the session.
	if !svc.HasActiveSession(ctx, testAddress) {
		t.Error("session lost on NothingToSettle")
	}
}

func TestSettle_NoActiveSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if _, err := svc.Settle(ctx, testAddress); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestSettle_FailurePreservesState(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	flaky := NewFlakySubmitter(1)
	svc := New(mem, flaky, nil)
	seedSession(t, svc, testAddress, 1000, 300, 200)

	_, err := svc.Settle(ctx, testAddress)
	if !errors.Is(err, ErrSettlementFailed) {
		t.Fatalf("expected ErrSettlementFailed, got %v", err)
	}

	// Everything must survive the failed settlement for a retry.
	if !svc.HasActiveSession(ctx, testAddress) {
		t.Error("session lost on failed settlement")
	}
	if got := svc.SessionBalance(ctx, testAddress); got != 500 {
		t.Errorf("balance after failed settle = %d, want 500", got)
	}
	pending, err := svc.PendingTransactions(ctx, testAddress)
	if err != nil {
		t.Fatalf("PendingTransactions failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending entries after failed settle = %d, want 2", len(pending))
	}

	// Retry settles the same batch.
	result, err := svc.Settle(ctx, testAddress)
	if err != nil {
		t.Fatalf("retry Settle failed: %v", err)
	}
	if result.SettledCount != 2 {
		t.Errorf("settled count = %d, want 2", result.SettledCount)
	}
	if flaky.Calls() != 2 {
		t.Errorf("submitter calls = %d, want 2", flaky.Calls())
	}
	if svc.HasActiveSession(ctx, testAddress) {
		t.Error("session should be cleared after settlement")
	}
}

func TestSettle_DeterministicReference(t *testing.T) {
	ctx := context.Background()
	sub := NewSimulatedSubmitter()

	session := Session{ID: "session-1"}
	txs := []PendingTransaction{
		{ID: "tx-1"}, {ID: "tx-2"}, {ID: "tx-3"},
	}

	first, err := sub.SubmitBatch(ctx, session, txs)
	if err != nil {
		t.Fatalf("SubmitBatch failed: %v", err)
	}
	second, err := sub.SubmitBatch(ctx, session, txs)
	if err != nil {
		t.Fatalf("SubmitBatch failed: %v", err)
	}
	if first != second {
		t.Errorf("same batch settled to different references: %s vs %s", first, second)
	}

	// Order matters for the reference.
	reordered, err := sub.SubmitBatch(ctx, session, []PendingTransaction{
		{ID: "tx-2"}, {ID: "tx-1"}, {ID: "tx-3"},
	})
	if err != nil {
		t.Fatalf("SubmitBatch failed: %v", err)
	}
	if reordered == first {
		t.Error("reordered batch produced the same reference")
	}
}

func TestSettle_EmitsEvents(t *testing.T) {
	ctx := context.Background()
	sink := &RecordingSink{}
	mem := store.NewMemoryStore()
	svc := New(mem, NewFlakySubmitter(1), nil, WithEvents(sink))
	seedSession(t, svc, testAddress, 1000, 100)

	svc.Settle(ctx, testAddress) // fails
	if _, err := svc.Settle(ctx, testAddress); err != nil {
		t.Fatalf("retry Settle failed: %v", err)
	}

	types := sink.Types()
	var sawFailed, sawDone bool
	for _, typ := range types {
		switch typ {
		case EventSettlementFailed:
			sawFailed = true
		case EventSettlementDone:
			sawDone = true
		}
	}
	if !sawFailed || !sawDone {
		t.Errorf("expected both settlement events, got %v", types)
	}
}

func TestDiscard_DropsPendingValue(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	seedSession(t, svc, testAddress, 1000, 400)

	if err := svc.Discard(ctx, testAddress); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if svc.HasActiveSession(ctx, testAddress) {
		t.Error("session survived discard")
	}
	pending, _ := svc.PendingTransactions(ctx, testAddress)
	if len(pending) != 0 {
		t.Errorf("pending entries after discard = %d, want 0", len(pending))
	}
}
