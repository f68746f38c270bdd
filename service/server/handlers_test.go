package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/broswen/testnetpay/service/config"
	"github.com/broswen/testnetpay/service/ledger"
	"github.com/broswen/testnetpay/service/processor"
	"github.com/broswen/testnetpay/service/wallet"
)

type testEnv struct {
	server    *httptest.Server
	ledger    *ledger.Ledger
	wallet    *wallet.Wallet
	processor *processor.Processor
	clock     *clock.Mock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clk := clock.NewMock()
	clk.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l := ledger.New(nil, clk, nil, logger)
	w := wallet.New(l, "", logger)
	proc := processor.New(l, w, time.Hour, clk, nil, logger)

	cfg := &config.Config{
		RateLimitMax:    10,
		RateLimitWindow: time.Minute,
	}
	srv := New(":0", cfg, l, proc, nil, clk, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, ledger: l, wallet: w, processor: proc, clock: clk}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeInvoice(t *testing.T, resp *http.Response) processor.Invoice {
	t.Helper()
	defer resp.Body.Close()
	var inv processor.Invoice
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&inv))
	return inv
}

func TestCreateInvoice(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/v1/invoices", map[string]any{
		"amount":   "100.50",
		"currency": "USD",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	inv := decodeInvoice(t, resp)
	assert.NotEmpty(t, inv.ID)
	assert.True(t, inv.Amount.Equal(decimal.RequireFromString("100.50")))
	assert.Equal(t, "USD", inv.Currency)
	assert.Equal(t, processor.StatusPending, inv.Status)
	assert.NotEmpty(t, inv.PaymentAddress)
	assert.Contains(t, inv.PaymentURL, inv.PaymentAddress)
	assert.NotEmpty(t, inv.QRCodeData)
}

func TestCreateInvoiceValidation(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing currency", func(t *testing.T) {
		resp := env.post(t, "/api/v1/invoices", map[string]any{"amount": "10"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		resp := env.post(t, "/api/v1/invoices", map[string]any{
			"amount": "0", "currency": "USD",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, err := http.Post(env.server.URL+"/api/v1/invoices", "application/json",
			bytes.NewReader([]byte("{not json")))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestCreateInvoiceRateLimit(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]any{"amount": "5", "currency": "USD"}
	for i := 0; i < 10; i++ {
		resp := env.post(t, "/api/v1/invoices", body)
		resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode, "request %d", i)
	}

	resp := env.post(t, "/api/v1/invoices", body)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Advancing past the window readmits the client.
	env.clock.Add(61 * time.Second)
	resp = env.post(t, "/api/v1/invoices", body)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestGetInvoice(t *testing.T) {
	env := newTestEnv(t)

	created := decodeInvoice(t, env.post(t, "/api/v1/invoices", map[string]any{
		"amount": "25", "currency": "EUR",
	}))

	t.Run("found", func(t *testing.T) {
		resp := env.get(t, "/api/v1/invoices/"+created.ID)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		inv := decodeInvoice(t, resp)
		assert.Equal(t, created.ID, inv.ID)
		assert.Equal(t, processor.StatusPending, inv.Status)
	})

	t.Run("not found", func(t *testing.T) {
		resp := env.get(t, "/api/v1/invoices/no-such-invoice")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestSimulatePaymentSettlesInvoice(t *testing.T) {
	env := newTestEnv(t)

	created := decodeInvoice(t, env.post(t, "/api/v1/invoices", map[string]any{
		"amount": "50", "currency": "USD",
	}))

	resp := env.post(t, fmt.Sprintf("/api/v1/invoices/%s/payments", created.ID),
		map[string]any{"amount": "50"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	inv := decodeInvoice(t, resp)
	assert.Equal(t, processor.StatusPaid, inv.Status)
	assert.True(t, inv.PaidAmount.GreaterThanOrEqual(inv.Amount))
}

func TestSimulatePaymentUnknownInvoice(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/v1/invoices/missing/payments", map[string]any{"amount": "10"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateRefund(t *testing.T) {
	env := newTestEnv(t)

	created := decodeInvoice(t, env.post(t, "/api/v1/invoices", map[string]any{
		"amount": "40", "currency": "USD",
	}))

	t.Run("refund before payment is rejected", func(t *testing.T) {
		resp := env.post(t, fmt.Sprintf("/api/v1/invoices/%s/refunds", created.ID),
			map[string]any{"refund_address": "cust_addr", "amount": "10"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	payResp := env.post(t, fmt.Sprintf("/api/v1/invoices/%s/payments", created.ID),
		map[string]any{"amount": "40"})
	require.Equal(t, http.StatusOK, payResp.StatusCode)
	payResp.Body.Close()

	t.Run("refund after payment succeeds", func(t *testing.T) {
		resp := env.post(t, fmt.Sprintf("/api/v1/invoices/%s/refunds", created.ID),
			map[string]any{"refund_address": "cust_addr", "amount": "15"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		defer resp.Body.Close()

		var result processor.RefundResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.True(t, result.Success)
		assert.Equal(t, created.ID, result.InvoiceID)
		assert.Equal(t, "cust_addr", result.RefundAddress)
	})

	t.Run("refund status stays paid", func(t *testing.T) {
		resp := env.get(t, "/api/v1/invoices/"+created.ID)
		inv := decodeInvoice(t, resp)
		assert.Equal(t, processor.StatusPaid, inv.Status)
	})

	t.Run("over-refund is rejected", func(t *testing.T) {
		resp := env.post(t, fmt.Sprintf("/api/v1/invoices/%s/refunds", created.ID),
			map[string]any{"refund_address": "cust_addr", "amount": "30"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown invoice", func(t *testing.T) {
		resp := env.post(t, "/api/v1/invoices/missing/refunds",
			map[string]any{"refund_address": "cust_addr", "amount": "5"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestWatchMempool(t *testing.T) {
	env := newTestEnv(t)

	created := decodeInvoice(t, env.post(t, "/api/v1/invoices", map[string]any{
		"amount": "10", "currency": "USD",
	}))

	t.Run("empty for quiet address", func(t *testing.T) {
		resp := env.get(t, "/api/v1/mempool/"+created.PaymentAddress)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		defer resp.Body.Close()

		var body mempoolResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, created.PaymentAddress, body.Address)
		assert.Empty(t, body.Mempool)
	})

	t.Run("shows unconfirmed transaction", func(t *testing.T) {
		sender := env.wallet.GenerateAddress()
		require.True(t, env.wallet.Faucet(sender, decimal.RequireFromString("100")))
		require.True(t, env.wallet.SendFunds(sender, created.PaymentAddress, decimal.RequireFromString("10")))

		resp := env.get(t, "/api/v1/mempool/"+created.PaymentAddress)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		defer resp.Body.Close()

		var body mempoolResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.Mempool, 1)
		assert.Equal(t, created.PaymentAddress, body.Mempool[0].Recipient)
	})
}

func TestGetProof(t *testing.T) {
	env := newTestEnv(t)

	sender := env.wallet.GenerateAddress()
	recipient := env.wallet.GenerateAddress()
	require.True(t, env.wallet.Faucet(sender, decimal.RequireFromString("100")))
	require.True(t, env.wallet.SendFunds(sender, recipient, decimal.RequireFromString("10")))
	block := env.ledger.MineBlock()
	require.NotNil(t, block)
	require.Len(t, block.Transactions, 1)

	t.Run("confirmed transaction", func(t *testing.T) {
		resp := env.get(t, "/api/v1/proofs/"+block.Transactions[0].TxID)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		defer resp.Body.Close()

		var proof ledger.Proof
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&proof))
		assert.Equal(t, block.Hash, proof.BlockHash)
		assert.Equal(t, block.Index, proof.BlockIndex)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		resp := env.get(t, "/api/v1/proofs/nope")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestExpiredInvoiceSweptOnRequest(t *testing.T) {
	env := newTestEnv(t)

	created := decodeInvoice(t, env.post(t, "/api/v1/invoices", map[string]any{
		"amount": "10", "currency": "USD",
	}))

	env.clock.Add(2 * time.Hour)

	resp := env.get(t, "/api/v1/invoices/"+created.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	inv := decodeInvoice(t, resp)
	assert.Equal(t, processor.StatusExpired, inv.Status)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/health")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
