// Package processor owns invoice records and the payment lifecycle: it binds
// wallet-derived addresses to invoices, reconciles paid amounts against the
// ledger's confirmed history on every status read, expires overdue invoices,
// notifies settlement listeners exactly once per settled invoice, and
// implements refunds on top of the wallet primitives.
package processor

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/broswen/testnetpay/service/ledger"
	"github.com/broswen/testnetpay/service/metrics"
	"github.com/broswen/testnetpay/service/wallet"
)

// DefaultInvoiceTTL is how long an invoice stays payable after creation.
const DefaultInvoiceTTL = time.Hour

var (
	// ErrInvoiceNotFound is returned for operations on unknown invoice ids.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrInvalidAmount is returned when an invoice or payment amount is not
	// strictly positive.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvoiceNotPaid is returned when refunding an invoice that never
	// reached the paid state.
	ErrInvoiceNotPaid = errors.New("cannot refund an unpaid or expired invoice")

	// ErrInvalidRefundAmount is returned when a refund amount is not positive
	// or would push cumulative refunds past the paid amount.
	ErrInvalidRefundAmount = errors.New("invalid refund amount")

	// ErrPaymentFailed is returned when a simulated payment could not be
	// funded or submitted.
	ErrPaymentFailed = errors.New("failed to submit simulated payment")

	// ErrRefundFailed is returned when the refund transaction could not be
	// funded or submitted.
	ErrRefundFailed = errors.New("failed to send refund transaction")
)

// Processor is the payment gateway's invoice state machine.
type Processor struct {
	mu        sync.Mutex
	invoices  map[string]*Invoice
	listeners []SettlementListener

	ledger  *ledger.Ledger
	wallet  *wallet.Wallet
	ttl     time.Duration
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a processor over the given ledger and wallet. A non-positive
// ttl selects DefaultInvoiceTTL, a nil clock selects the wall clock, and
// metrics may be nil.
func New(l *ledger.Ledger, w *wallet.Wallet, ttl time.Duration, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger) *Processor {
	if ttl <= 0 {
		ttl = DefaultInvoiceTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Processor{
		invoices: make(map[string]*Invoice),
		ledger:   l,
		wallet:   w,
		ttl:      ttl,
		clock:    clk,
		metrics:  m,
		logger:   logger,
	}
}

// AddSettlementListener registers a listener to be notified exactly once
// when an invoice settles. Listeners must be registered before the processor
// starts serving requests; registration is not synchronized with settlement.
func (p *Processor) AddSettlementListener(l SettlementListener) {
	p.listeners = append(p.listeners, l)
}

// CreateInvoice allocates a fresh payment address and stores a new pending
// invoice expiring ttl from now.
func (p *Processor) CreateInvoice(amount decimal.Decimal, currency string) (Invoice, error) {
	if amount.Sign() <= 0 {
		return Invoice{}, ErrInvalidAmount
	}

	address := p.wallet.GenerateAddress()
	now := p.clock.Now()
	inv := &Invoice{
		ID:             uuid.NewString(),
		Amount:         amount,
		Currency:       currency,
		PaymentAddress: address,
		Status:         StatusPending,
		PaidAmount:     decimal.Zero,
		RefundedAmount: decimal.Zero,
		CreatedAt:      now,
		ExpiresAt:      now.Add(p.ttl),
	}
	inv.PaymentURL = buildPaymentURL(address, amount, currency, inv.ID)
	if qr, err := generateQRCode(inv.PaymentURL); err == nil {
		inv.QRCodeData = qr
	} else {
		// QR code is a convenience, not a requirement.
		p.logger.Warn("failed to generate invoice QR code", "invoice_id", inv.ID, "error", err)
	}

	p.mu.Lock()
	p.invoices[inv.ID] = inv
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordInvoiceCreated(currency)
	}
	p.logger.Info("invoice created",
		"invoice_id", inv.ID, "amount", amount, "currency", currency, "payment_address", address)
	return *inv, nil
}

// GetInvoiceStatus reconciles the invoice against the chain and returns its
// current state. Status reads are never stale relative to on-chain
// confirmations at call time.
func (p *Processor) GetInvoiceStatus(id string) (Invoice, error) {
	p.mu.Lock()
	inv, ok := p.invoices[id]
	if !ok {
		p.mu.Unlock()
		return Invoice{}, ErrInvoiceNotFound
	}
	settled := p.reconcileLocked(inv)
	snapshot := *inv
	p.mu.Unlock()

	if settled {
		p.notifySettled(snapshot)
	}
	return snapshot, nil
}

// reconcileLocked re-derives the invoice's paid state from confirmed chain
// history. It must be called with the processor lock held; it returns true
// only on the call that transitions the invoice to paid, which keeps
// settlement notification idempotent across repeated status reads.
func (p *Processor) reconcileLocked(inv *Invoice) bool {
	if inv.Status.Terminal() {
		return false
	}

	if p.clock.Now().After(inv.ExpiresAt) {
		inv.Status = StatusExpired
		if p.metrics != nil {
			p.metrics.RecordInvoiceExpired()
		}
		p.logger.Info("invoice expired", "invoice_id", inv.ID)
		return false
	}

	total := decimal.Zero
	for _, tx := range p.ledger.TransactionsForAddress(inv.PaymentAddress) {
		if tx.Recipient == inv.PaymentAddress {
			total = total.Add(tx.Amount)
		}
	}
	// PaidAmount is monotonic: never decrease, even though the chain cannot
	// reorganize in this design.
	if total.GreaterThan(inv.PaidAmount) {
		inv.PaidAmount = total
		p.logger.Debug("invoice payment progress",
			"invoice_id", inv.ID, "paid_amount", inv.PaidAmount, "amount", inv.Amount)
	}

	if inv.PaidAmount.GreaterThanOrEqual(inv.Amount) {
		inv.Status = StatusPaid
		if p.metrics != nil {
			p.metrics.RecordInvoiceSettled(inv.Currency)
		}
		p.logger.Info("invoice settled",
			"invoice_id", inv.ID, "paid_amount", inv.PaidAmount)
		return true
	}
	return false
}

func (p *Processor) notifySettled(inv Invoice) {
	for _, l := range p.listeners {
		l.InvoiceSettled(inv)
	}
}

// WatchMempool returns the unconfirmed transactions touching an address.
// Purely observational.
func (p *Processor) WatchMempool(address string) []ledger.Transaction {
	var txs []ledger.Transaction
	for _, tx := range p.ledger.MempoolTransactions() {
		if tx.Sender == address || tx.Recipient == address {
			txs = append(txs, tx)
		}
	}
	return txs
}

// SimulatePayment funds a temporary sender via the faucet, sends amount to
// the invoice's payment address, mines a confirming block, and returns the
// re-fetched invoice status.
func (p *Processor) SimulatePayment(id string, amount decimal.Decimal) (Invoice, error) {
	if amount.Sign() <= 0 {
		return Invoice{}, ErrInvalidAmount
	}

	p.mu.Lock()
	inv, ok := p.invoices[id]
	if !ok {
		p.mu.Unlock()
		return Invoice{}, ErrInvoiceNotFound
	}
	address := inv.PaymentAddress
	p.mu.Unlock()

	// Double the amount leaves headroom for the send fee.
	sender := p.wallet.GenerateAddress()
	if !p.wallet.Faucet(sender, amount.Mul(decimal.NewFromInt(2))) {
		return Invoice{}, ErrPaymentFailed
	}
	if !p.wallet.SendFunds(sender, address, amount) {
		return Invoice{}, ErrPaymentFailed
	}
	p.ledger.MineBlock()

	return p.GetInvoiceStatus(id)
}

// RefundResult reports a successful refund.
type RefundResult struct {
	Success       bool            `json:"success"`
	InvoiceID     string          `json:"invoice_id"`
	RefundAddress string          `json:"refund_address"`
	Amount        decimal.Decimal `json:"amount"`
}

// CreateRefund sends amount from a transient faucet-funded address to the
// refund address. It fails with a sentinel error when the invoice is unknown,
// not paid, or the amount is not in (0, PaidAmount - RefundedAmount]. A
// successful refund does not change the invoice status: a paid invoice stays
// paid even when fully refunded; only the cumulative RefundedAmount records
// it.
func (p *Processor) CreateRefund(id, refundAddress string, amount decimal.Decimal) (RefundResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inv, ok := p.invoices[id]
	if !ok {
		return RefundResult{}, ErrInvoiceNotFound
	}
	if inv.Status != StatusPaid {
		if p.metrics != nil {
			p.metrics.RecordRefund("failure")
		}
		return RefundResult{}, ErrInvoiceNotPaid
	}
	if amount.Sign() <= 0 || amount.GreaterThan(inv.PaidAmount.Sub(inv.RefundedAmount)) {
		if p.metrics != nil {
			p.metrics.RecordRefund("failure")
		}
		return RefundResult{}, ErrInvalidRefundAmount
	}

	// Fund a transient source address with twice the refund to cover the
	// send fee, then pay the refund out of it.
	source := p.wallet.GenerateAddress()
	if !p.wallet.Faucet(source, amount.Mul(decimal.NewFromInt(2))) {
		if p.metrics != nil {
			p.metrics.RecordRefund("failure")
		}
		return RefundResult{}, ErrRefundFailed
	}
	if !p.wallet.SendFunds(source, refundAddress, amount) {
		if p.metrics != nil {
			p.metrics.RecordRefund("failure")
		}
		return RefundResult{}, ErrRefundFailed
	}

	inv.RefundedAmount = inv.RefundedAmount.Add(amount)

	if p.metrics != nil {
		p.metrics.RecordRefund("success")
	}
	p.logger.Info("refund initiated",
		"invoice_id", id, "refund_address", refundAddress, "amount", amount,
		"refunded_total", inv.RefundedAmount)
	return RefundResult{
		Success:       true,
		InvoiceID:     id,
		RefundAddress: refundAddress,
		Amount:        amount,
	}, nil
}

// CheckForExpiredInvoices sweeps every pending invoice and expires the
// overdue ones. This enforces expiration even for invoices nobody polls.
func (p *Processor) CheckForExpiredInvoices() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	expired := 0
	for _, inv := range p.invoices {
		if inv.Status == StatusPending && now.After(inv.ExpiresAt) {
			inv.Status = StatusExpired
			expired++
			if p.metrics != nil {
				p.metrics.RecordInvoiceExpired()
			}
			p.logger.Info("invoice expired", "invoice_id", inv.ID)
		}
	}
	return expired
}
