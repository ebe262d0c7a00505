package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prizepool-labs/ledger-service/services/ledger"
	"github.com/prizepool-labs/ledger-service/services/wallet"
)

// =============================================================================
// Auth
// =============================================================================

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		jsonError(w, "address is required", http.StatusBadRequest)
		return
	}

	ch, err := s.auth.IssueChallenge(r.Context(), req.Address)
	if err != nil {
		jsonError(w, "failed to issue challenge", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"nonce":   ch.Nonce,
		"message": ch.Message,
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address   string `json:"address"`
		PublicKey string `json:"publicKey"`
		Message   string `json:"message"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Address == "" || req.PublicKey == "" || req.Message == "" || req.Signature == "" {
		jsonError(w, "address, publicKey, message and signature are required", http.StatusBadRequest)
		return
	}

	creds, err := s.auth.Authenticate(r.Context(), req.Address, req.PublicKey, req.Message, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrWalletNotConnected):
			jsonError(w, "no challenge issued for address", http.StatusUnauthorized)
		case errors.Is(err, wallet.ErrSignatureRejected):
			jsonError(w, "signature rejected", http.StatusUnauthorized)
		default:
			jsonError(w, "authentication failed", http.StatusInternalServerError)
		}
		return
	}

	if err := s.ledger.Connect(r.Context(), req.Address); err != nil {
		jsonError(w, "failed to register wallet", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, creds)
}

// =============================================================================
// Sessions
// =============================================================================

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	address := walletAddress(r)

	var req struct {
		Allowance int64 `json:"allowance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}

	session, err := s.ledger.CreateSession(r.Context(), address, req.Allowance)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	address := walletAddress(r)

	session, ok, err := s.ledger.Restore(r.Context(), address)
	if err != nil {
		jsonError(w, "failed to load session", http.StatusInternalServerError)
		return
	}
	if !ok {
		jsonError(w, "no active session", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": session,
		"state":   s.ledger.State(r.Context(), address),
		"drained": s.ledger.Drained(r.Context(), address),
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	address := walletAddress(r)

	if err := s.ledger.Close(r.Context(), address); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// =============================================================================
// Debits
// =============================================================================

func (s *Server) handleDebit(w http.ResponseWriter, r *http.Request) {
	address := walletAddress(r)

	var req struct {
		To     string `json:"to"`
		Amount int64  `json:"amount"`
		Token  string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.To == "" || req.Token == "" {
		jsonError(w, "to and token are required", http.StatusBadRequest)
		return
	}

	tx, err := s.ledger.Debit(r.Context(), address, req.To, req.Amount, req.Token)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleListDebits(w http.ResponseWriter, r *http.Request) {
	address := walletAddress(r)

	pending, err := s.ledger.PendingTransactions(r.Context(), address)
	if err != nil {
		jsonError(w, "failed to load pending transactions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending": pending,
		"balance": s.ledger.SessionBalance(r.Context(), address),
	})
}

// =============================================================================
// Settlement
// =============================================================================

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	address := walletAddress(r)

	result, err := s.ledger.Settle(r.Context(), address)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeLedgerError maps ledger errors onto HTTP statuses.
func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotAuthenticated):
		jsonError(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, ledger.ErrInvalidAllowance),
		errors.Is(err, ledger.ErrInvalidAmount):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrSessionExists):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrNoActiveSession),
		errors.Is(err, ledger.ErrSessionExpired):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrNothingToSettle):
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ledger.ErrSettlementFailed):
		jsonError(w, err.Error(), http.StatusBadGateway)
	default:
		s.log.WithError(err).Error("unexpected ledger error")
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}
