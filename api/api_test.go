package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prizepool-labs/ledger-service/internal/config"
	"github.com/prizepool-labs/ledger-service/internal/store"
	"github.com/prizepool-labs/ledger-service/services/ledger"
	"github.com/prizepool-labs/ledger-service/services/wallet"
)

func newTestServer(t *testing.T) (*httptest.Server, *wallet.LocalSigner) {
	t.Helper()

	auth := wallet.NewAuthenticator([]byte("test-secret"), time.Hour, time.Minute, nil)
	ledgerSvc := ledger.New(store.NewMemoryStore(), nil, nil)
	cfg := config.Default().Server

	srv := NewServer(ledgerSvc, auth, nil, cfg, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	signer, err := wallet.NewLocalSigner()
	require.NoError(t, err)

	return ts, signer
}

func postJSON(t *testing.T, url, token string, body interface{}) *http.Response {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func getJSON(t *testing.T, url, token string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

// connectWallet runs the nonce + connect flow and returns a bearer token.
func connectWallet(t *testing.T, ts *httptest.Server, signer *wallet.LocalSigner) string {
	t.Helper()

	resp := postJSON(t, ts.URL+"/v1/auth/nonce", "", map[string]string{"address": signer.Address()})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var challenge struct {
		Nonce   string `json:"nonce"`
		Message string `json:"message"`
	}
	decode(t, resp, &challenge)

	sig, err := signer.SignHex(challenge.Message)
	require.NoError(t, err)

	resp = postJSON(t, ts.URL+"/v1/auth/connect", "", map[string]string{
		"address":   signer.Address(),
		"publicKey": signer.PublicKeyHex(),
		"message":   challenge.Message,
		"signature": sig,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var creds wallet.Credentials
	decode(t, resp, &creds)
	require.NotEmpty(t, creds.Token)
	return creds.Token
}

func TestAPI_FullFlow(t *testing.T) {
	ts, signer := newTestServer(t)
	token := connectWallet(t, ts, signer)

	// Create a session.
	resp := postJSON(t, ts.URL+"/v1/sessions", token, map[string]int64{"allowance": 1000})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var session ledger.Session
	decode(t, resp, &session)
	assert.Equal(t, int64(1000), session.Balance)

	// Record a debit.
	resp = postJSON(t, ts.URL+"/v1/debits", token, map[string]interface{}{
		"to": "poolA", "amount": 300, "token": "USDC",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var tx ledger.PendingTransaction
	decode(t, resp, &tx)
	assert.Equal(t, int64(300), tx.Amount)

	// Overdraft is rejected without mutating state.
	resp = postJSON(t, ts.URL+"/v1/debits", token, map[string]interface{}{
		"to": "poolB", "amount": 800, "token": "USDC",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	// Pending list reflects the single debit.
	resp = getJSON(t, ts.URL+"/v1/debits", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Pending []ledger.PendingTransaction `json:"pending"`
		Balance int64                       `json:"balance"`
	}
	decode(t, resp, &list)
	assert.Len(t, list.Pending, 1)
	assert.Equal(t, int64(700), list.Balance)

	// Settle.
	resp = postJSON(t, ts.URL+"/v1/settlements", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result ledger.SettlementResult
	decode(t, resp, &result)
	assert.Equal(t, 1, result.SettledCount)
	assert.NotEmpty(t, result.Reference)

	// Session is gone.
	resp = getJSON(t, ts.URL+"/v1/sessions/me", token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_RequiresAuth(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/sessions"},
		{http.MethodGet, "/v1/sessions/me"},
		{http.MethodPost, "/v1/debits"},
		{http.MethodGet, "/v1/debits"},
		{http.MethodPost, "/v1/settlements"},
	} {
		req, err := http.NewRequest(tc.method, ts.URL+tc.path, bytes.NewReader([]byte("{}")))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode,
			fmt.Sprintf("%s %s", tc.method, tc.path))
		resp.Body.Close()
	}
}

func TestAPI_ConnectRejectsBadSignature(t *testing.T) {
	ts, signer := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/auth/nonce", "", map[string]string{"address": signer.Address()})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var challenge struct {
		Message string `json:"message"`
	}
	decode(t, resp, &challenge)

	resp = postJSON(t, ts.URL+"/v1/auth/connect", "", map[string]string{
		"address":   signer.Address(),
		"publicKey": signer.PublicKeyHex(),
		"message":   challenge.Message,
		"signature": "deadbeef",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_SettleWithoutSession(t *testing.T) {
	ts, signer := newTestServer(t)
	token := connectWallet(t, ts, signer)

	resp := postJSON(t, ts.URL+"/v1/settlements", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_InvalidAllowance(t *testing.T) {
	ts, signer := newTestServer(t)
	token := connectWallet(t, ts, signer)

	resp := postJSON(t, ts.URL+"/v1/sessions", token, map[string]int64{"allowance": -10})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_Health(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := getJSON(t, ts.URL+"/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decode(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
}
