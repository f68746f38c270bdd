package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementEvent represents an invoice reaching the paid state. It is
// published to the subject "settlements.{invoice_id}" in JetStream.
type SettlementEvent struct {
	InvoiceID      string          `json:"invoice_id"`
	Currency       string          `json:"currency"`
	Amount         decimal.Decimal `json:"amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	PaymentAddress string          `json:"payment_address"`

	CreatedAt   time.Time `json:"created_at"`
	SettledAt   time.Time `json:"settled_at"`
	PublishedAt time.Time `json:"published_at"`
}
