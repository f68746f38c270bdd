package processor

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

// Status is an invoice lifecycle state. Transitions are pending→paid and
// pending→expired; paid and expired are terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusExpired Status = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusExpired
}

// Invoice is a request for a specific amount of a given currency, bound to
// one payment address. PaidAmount accumulates confirmed receipts and never
// decreases; RefundedAmount accumulates successful refunds and is capped at
// PaidAmount.
type Invoice struct {
	ID             string          `json:"invoice_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	PaymentAddress string          `json:"payment_address"`
	Status         Status          `json:"status"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	PaymentURL     string          `json:"payment_url"`
	QRCodeData     string          `json:"qr_code_data,omitempty"`
}

// buildPaymentURL creates a BIP21-style URI wallet apps can consume.
// Format: testnet:{address}?amount={amount}&currency={currency}&invoice={id}
func buildPaymentURL(address string, amount decimal.Decimal, currency, invoiceID string) string {
	params := url.Values{}
	params.Set("amount", amount.String())
	params.Set("currency", currency)
	params.Set("invoice", invoiceID)
	return fmt.Sprintf("testnet:%s?%s", address, params.Encode())
}

// generateQRCode creates a QR code image from a payment URL and returns it as
// base64-encoded PNG for easy embedding in JSON/HTML.
func generateQRCode(data string) (string, error) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code as PNG: %w", err)
	}

	return base64.StdEncoding.EncodeToString(png), nil
}
