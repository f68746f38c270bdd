package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/broswen/testnetpay/service/ledger"
	"github.com/broswen/testnetpay/service/metrics"
	"github.com/broswen/testnetpay/service/processor"
)

const maxRequestBodySize = 1 << 20 // 1MB

type createInvoiceRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type simulatePaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type createRefundRequest struct {
	RefundAddress string          `json:"refund_address"`
	Amount        decimal.Decimal `json:"amount"`
}

type mempoolResponse struct {
	Address string               `json:"address"`
	Mempool []ledger.Transaction `json:"mempool"`
}

// handleCreateInvoice returns a handler that creates a new invoice.
// POST /api/v1/invoices
func handleCreateInvoice(proc *processor.Processor, limiter *rateLimiter, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(clientKey(r)) {
			logger.Debug("invoice creation rate limited", "client", clientKey(r))
			if m != nil {
				m.RecordRateLimited()
			}
			writeError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		var req createInvoiceRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Currency == "" {
			writeError(w, "currency is required", http.StatusBadRequest)
			return
		}

		inv, err := proc.CreateInvoice(req.Amount, req.Currency)
		if err != nil {
			if errors.Is(err, processor.ErrInvalidAmount) {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.Error("failed to create invoice", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Info("invoice created", "invoice_id", inv.ID, "amount", inv.Amount, "currency", inv.Currency)
		writeJSON(w, inv, http.StatusCreated)
	})
}

// handleGetInvoice returns a handler that reports the current invoice status.
// Status is reconciled against the ledger on every read.
// GET /api/v1/invoices/{id}
func handleGetInvoice(proc *processor.Processor, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		inv, err := proc.GetInvoiceStatus(id)
		if err != nil {
			if errors.Is(err, processor.ErrInvoiceNotFound) {
				writeError(w, "invoice not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get invoice", "invoice_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, inv, http.StatusOK)
	})
}

// handleSimulatePayment returns a handler that pays an invoice from a funded
// throwaway address and returns the re-fetched status.
// POST /api/v1/invoices/{id}/payments
func handleSimulatePayment(proc *processor.Processor, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		var req simulatePaymentRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		inv, err := proc.SimulatePayment(id, req.Amount)
		if err != nil {
			switch {
			case errors.Is(err, processor.ErrInvoiceNotFound):
				writeError(w, "invoice not found", http.StatusNotFound)
			case errors.Is(err, processor.ErrInvalidAmount):
				writeError(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, processor.ErrPaymentFailed):
				logger.Error("simulated payment failed", "invoice_id", id, "error", err)
				writeError(w, "payment failed", http.StatusInternalServerError)
			default:
				logger.Error("failed to simulate payment", "invoice_id", id, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
			}
			return
		}

		logger.Info("payment simulated", "invoice_id", id, "amount", req.Amount, "status", inv.Status)
		writeJSON(w, inv, http.StatusOK)
	})
}

// handleCreateRefund returns a handler that refunds part of a paid invoice.
// POST /api/v1/invoices/{id}/refunds
func handleCreateRefund(proc *processor.Processor, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		var req createRefundRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.RefundAddress == "" {
			writeError(w, "refund_address is required", http.StatusBadRequest)
			return
		}

		result, err := proc.CreateRefund(id, req.RefundAddress, req.Amount)
		if err != nil {
			switch {
			case errors.Is(err, processor.ErrInvoiceNotFound):
				writeError(w, "invoice not found", http.StatusNotFound)
			case errors.Is(err, processor.ErrInvoiceNotPaid),
				errors.Is(err, processor.ErrInvalidRefundAmount):
				writeError(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, processor.ErrRefundFailed):
				logger.Error("refund transfer failed", "invoice_id", id, "error", err)
				writeError(w, "refund failed", http.StatusInternalServerError)
			default:
				logger.Error("failed to create refund", "invoice_id", id, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
			}
			return
		}

		logger.Info("refund created",
			"invoice_id", id, "refund_address", req.RefundAddress, "amount", req.Amount)
		writeJSON(w, result, http.StatusOK)
	})
}

// handleWatchMempool returns a handler that reports unconfirmed transactions
// touching an address.
// GET /api/v1/mempool/{address}
func handleWatchMempool(proc *processor.Processor, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if address == "" {
			writeError(w, "address is required", http.StatusBadRequest)
			return
		}

		txs := proc.WatchMempool(address)
		if txs == nil {
			txs = []ledger.Transaction{}
		}
		writeJSON(w, mempoolResponse{Address: address, Mempool: txs}, http.StatusOK)
	})
}

// handleGetProof returns a handler that produces an inclusion proof for a
// confirmed transaction.
// GET /api/v1/proofs/{tx_id}
func handleGetProof(l *ledger.Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		txID := r.PathValue("tx_id")

		proof, err := l.PaymentProof(txID)
		if err != nil {
			if errors.Is(err, ledger.ErrTxNotFound) {
				writeError(w, "transaction not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to build payment proof", "tx_id", txID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, proof, http.StatusOK)
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
