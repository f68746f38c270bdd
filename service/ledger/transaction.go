package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NetworkSender is the privileged sender used by faucet transactions.
// Transfers from this sender mint new supply and are exempt from fees.
const NetworkSender = "network"

// Transaction is a single transfer between two addresses. The Fee field
// records the fee the submitter estimated at construction time; the fee
// actually deducted is finalized into AmountWithFee when the transaction
// is mined into a block.
type Transaction struct {
	Sender        string          `json:"sender"`
	Recipient     string          `json:"recipient"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	AmountWithFee decimal.Decimal `json:"amount_with_fee"`
	Timestamp     time.Time       `json:"timestamp"`
	TxID          string          `json:"tx_id"`
}

// NewTransaction creates a transaction with a generated UUID transaction id.
func NewTransaction(sender, recipient string, amount, fee decimal.Decimal) Transaction {
	return NewTransactionWithID(uuid.NewString(), sender, recipient, amount, fee)
}

// NewTransactionWithID creates a transaction with a caller-supplied id.
// The id must be globally unique; callers that don't care should use
// NewTransaction instead.
func NewTransactionWithID(txID, sender, recipient string, amount, fee decimal.Decimal) Transaction {
	return Transaction{
		Sender:        sender,
		Recipient:     recipient,
		Amount:        amount,
		Fee:           fee,
		AmountWithFee: amount.Add(fee),
		Timestamp:     time.Now().UTC(),
		TxID:          txID,
	}
}
