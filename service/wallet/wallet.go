// Package wallet derives payment addresses and issues send and faucet
// operations against the ledger. The wallet never caches balance state; the
// ledger stays the single source of truth for confirmed history.
package wallet

import (
	"io"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/broswen/testnetpay/service/ledger"
)

// DefaultXpub is the opaque derivation-root identifier used when no real
// extended public key is configured. It is not parseable as an extended key,
// so the wallet falls straight through to the counter placeholder scheme.
const DefaultXpub = "xpub_simulated_master_key"

// estimatedTxSizeBytes is the fixed transaction size assumed when pricing a
// send. Real wallets derive this from the serialized transaction.
const estimatedTxSizeBytes = 250

// Wallet owns a set of derived addresses and submits transactions to the
// ledger on their behalf.
type Wallet struct {
	mu        sync.Mutex
	counter   uint32
	addresses map[string]struct{}

	ledger  *ledger.Ledger
	xpub    string
	deriver AddressDeriver
	logger  *slog.Logger
}

// New creates a wallet over the given ledger. When xpub parses as a real
// extended public key, addresses are derived hierarchically along m/0/{i};
// otherwise the wallet logs the failure and falls back to the deterministic
// "{xpub}_{i}" placeholder scheme. A malformed key is never fatal.
func New(l *ledger.Ledger, xpub string, logger *slog.Logger) *Wallet {
	if xpub == "" {
		xpub = DefaultXpub
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	var deriver AddressDeriver = counterDeriver{xpub: xpub}
	if xpub != DefaultXpub {
		if hd, err := newHDDeriver(xpub); err == nil {
			deriver = hd
			logger.Info("wallet using hierarchical address derivation")
		} else {
			logger.Warn("xpub is not a usable extended key, falling back to counter-derived addresses",
				"error", err)
		}
	}

	return &Wallet{
		addresses: make(map[string]struct{}),
		ledger:    l,
		xpub:      xpub,
		deriver:   deriver,
		logger:    logger,
	}
}

// GenerateAddress derives the next payment address, records it as owned, and
// advances the counter. Addresses are never reused. A derivation failure at a
// particular index falls back to the placeholder scheme for that index rather
// than surfacing an error.
func (w *Wallet) GenerateAddress() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	address, err := w.deriver.DeriveAddress(w.counter)
	if err != nil {
		w.logger.Warn("address derivation failed, using counter placeholder",
			"index", w.counter, "error", err)
		address, _ = counterDeriver{xpub: w.xpub}.DeriveAddress(w.counter)
	}
	w.counter++
	w.addresses[address] = struct{}{}

	w.logger.Debug("generated address", "address", address, "index", w.counter-1)
	return address
}

// Owns reports whether this wallet instance manages the address.
func (w *Wallet) Owns(address string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.addresses[address]
	return ok
}

// Balance returns the ledger balance for an address. Addresses outside this
// wallet's set are still answered from the ledger, with a log note that the
// address is externally owned from this wallet's perspective.
func (w *Wallet) Balance(address string) decimal.Decimal {
	if !w.Owns(address) {
		w.logger.Debug("address not managed by this wallet, checking ledger directly",
			"address", address)
	}
	return w.ledger.Balance(address)
}

// SendFunds submits a transfer from an owned address. It returns false, with
// no ledger mutation, when the sender is not owned by this wallet or its
// confirmed balance cannot cover the amount plus the estimated fee. The
// transaction stays unconfirmed until a block is mined by some caller.
func (w *Wallet) SendFunds(sender, recipient string, amount decimal.Decimal) bool {
	if !w.Owns(sender) {
		w.logger.Warn("send rejected: sender not managed by this wallet", "sender", sender)
		return false
	}

	fee := w.ledger.EstimateFee(decimal.NewFromInt(estimatedTxSizeBytes))
	total := amount.Add(fee)
	if w.ledger.Balance(sender).LessThan(total) {
		w.logger.Warn("send rejected: insufficient funds",
			"sender", sender, "amount", amount, "fee", fee)
		return false
	}

	tx := ledger.NewTransaction(sender, recipient, amount, fee)
	if !w.ledger.AddTransaction(tx) {
		return false
	}
	w.logger.Info("funds sent, awaiting block confirmation",
		"tx_id", tx.TxID, "sender", sender, "recipient", recipient, "amount", amount, "fee", fee)
	return true
}

// Faucet creates testnet funds out of thin air for the address, adopting it
// into the wallet if absent. The funding transaction is confirmed immediately
// by mining a block, so the balance is spendable by the time Faucet returns.
// This is the only operation that mines on its own.
func (w *Wallet) Faucet(address string, amount decimal.Decimal) bool {
	w.mu.Lock()
	w.addresses[address] = struct{}{}
	w.mu.Unlock()

	tx := ledger.NewTransaction(ledger.NetworkSender, address, amount, decimal.Zero)
	if !w.ledger.AddTransaction(tx) {
		return false
	}
	w.ledger.MineBlock()

	w.logger.Info("faucet dispensed", "address", address, "amount", amount)
	return true
}
