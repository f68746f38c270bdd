// Package client provides an HTTP client for the testnetpay gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/broswen/testnetpay/service/ledger"
	"github.com/broswen/testnetpay/service/processor"
)

// APIError is a structured error response from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// MempoolWatch is the response of a mempool watch for an address.
type MempoolWatch struct {
	Address string               `json:"address"`
	Mempool []ledger.Transaction `json:"mempool"`
}

// Client is the HTTP client for the testnetpay gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new gateway client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// CreateInvoice creates a new invoice for the given amount and currency.
func (c *Client) CreateInvoice(ctx context.Context, amount decimal.Decimal, currency string) (*processor.Invoice, error) {
	reqBody := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
	}

	var inv processor.Invoice
	if err := c.doJSON(ctx, "POST", "/api/v1/invoices", reqBody, http.StatusCreated, &inv); err != nil {
		return nil, err
	}

	c.logger.Debug("invoice created", "invoice_id", inv.ID, "amount", amount, "currency", currency)
	return &inv, nil
}

// GetInvoice retrieves the current status of an invoice.
func (c *Client) GetInvoice(ctx context.Context, id string) (*processor.Invoice, error) {
	path := fmt.Sprintf("/api/v1/invoices/%s", url.PathEscape(id))

	var inv processor.Invoice
	if err := c.doJSON(ctx, "GET", path, nil, http.StatusOK, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// SimulatePayment pays an invoice from a gateway-funded address and returns
// the re-fetched invoice status.
func (c *Client) SimulatePayment(ctx context.Context, id string, amount decimal.Decimal) (*processor.Invoice, error) {
	path := fmt.Sprintf("/api/v1/invoices/%s/payments", url.PathEscape(id))
	reqBody := map[string]interface{}{"amount": amount}

	var inv processor.Invoice
	if err := c.doJSON(ctx, "POST", path, reqBody, http.StatusOK, &inv); err != nil {
		return nil, err
	}

	c.logger.Debug("payment simulated", "invoice_id", id, "amount", amount, "status", inv.Status)
	return &inv, nil
}

// CreateRefund refunds part of a paid invoice to the given address.
func (c *Client) CreateRefund(ctx context.Context, id, refundAddress string, amount decimal.Decimal) (*processor.RefundResult, error) {
	path := fmt.Sprintf("/api/v1/invoices/%s/refunds", url.PathEscape(id))
	reqBody := map[string]interface{}{
		"refund_address": refundAddress,
		"amount":         amount,
	}

	var result processor.RefundResult
	if err := c.doJSON(ctx, "POST", path, reqBody, http.StatusOK, &result); err != nil {
		return nil, err
	}

	c.logger.Debug("refund created", "invoice_id", id, "refund_address", refundAddress, "amount", amount)
	return &result, nil
}

// WatchMempool retrieves the unconfirmed transactions touching an address.
func (c *Client) WatchMempool(ctx context.Context, address string) (*MempoolWatch, error) {
	path := fmt.Sprintf("/api/v1/mempool/%s", url.PathEscape(address))

	var watch MempoolWatch
	if err := c.doJSON(ctx, "GET", path, nil, http.StatusOK, &watch); err != nil {
		return nil, err
	}
	return &watch, nil
}

// PaymentProof retrieves the inclusion proof for a confirmed transaction.
func (c *Client) PaymentProof(ctx context.Context, txID string) (*ledger.Proof, error) {
	path := fmt.Sprintf("/api/v1/proofs/%s", url.PathEscape(txID))

	var proof ledger.Proof
	if err := c.doJSON(ctx, "GET", path, nil, http.StatusOK, &proof); err != nil {
		return nil, err
	}
	return &proof, nil
}

// AwaitPaid polls the invoice until it reaches a terminal status or the
// context is cancelled. It returns the terminal invoice; an expired invoice
// is not an error.
func (c *Client) AwaitPaid(ctx context.Context, id string, interval time.Duration) (*processor.Invoice, error) {
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		inv, err := c.GetInvoice(ctx, id)
		if err != nil {
			return nil, err
		}
		if inv.Status.Terminal() {
			return inv, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// doJSON performs a JSON request and decodes the response into out when the
// status matches wantStatus. Non-matching statuses are parsed into *APIError.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody interface{}, wantStatus int, out interface{}) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// parseErrorResponse extracts a structured error from a failed response.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
