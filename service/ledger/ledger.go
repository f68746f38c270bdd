// Package ledger implements the simulated append-only blockchain backing the
// testnet payment gateway: proof-free block production, incrementally
// maintained balances, the unconfirmed-transaction mempool, and inclusion
// proofs. All state is in-memory for the lifetime of the process.
package ledger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"github.com/broswen/testnetpay/service/metrics"
)

// ErrTxNotFound is returned by PaymentProof when no confirmed block contains
// the requested transaction id.
var ErrTxNotFound = errors.New("transaction not found")

// DefaultFeeRate is the flat per-byte rate of the simulated fee market.
var DefaultFeeRate = decimal.RequireFromString("0.00001")

// FeeEstimator computes the network fee for a transaction of the given size
// in bytes. The ledger invokes it with the transfer amount standing in for
// the byte size, matching the simulator's fee model; swap in a different
// estimator for a fixed-fee scheme.
type FeeEstimator func(sizeBytes decimal.Decimal) decimal.Decimal

// DefaultFeeEstimator charges DefaultFeeRate per byte.
func DefaultFeeEstimator(sizeBytes decimal.Decimal) decimal.Decimal {
	return sizeBytes.Mul(DefaultFeeRate)
}

// RateFeeEstimator returns an estimator charging the given per-byte rate.
func RateFeeEstimator(rate decimal.Decimal) FeeEstimator {
	return func(sizeBytes decimal.Decimal) decimal.Decimal {
		return sizeBytes.Mul(rate)
	}
}

// Ledger is the single source of truth for confirmed history and balances.
// One mutex guards the chain, the pending pool, the mempool and the balance
// map; every exported operation is atomic under it.
type Ledger struct {
	mu       sync.Mutex
	chain    []*Block
	pending  []Transaction
	mempool  []Transaction
	balances map[string]decimal.Decimal

	estimateFee FeeEstimator
	clock       clock.Clock
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates a ledger seeded with the genesis block. A nil fee estimator
// selects DefaultFeeEstimator, a nil clock selects the wall clock, and
// metrics may be nil to disable recording.
func New(fee FeeEstimator, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger) *Ledger {
	if fee == nil {
		fee = DefaultFeeEstimator
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	l := &Ledger{
		balances:    make(map[string]decimal.Decimal),
		estimateFee: fee,
		clock:       clk,
		metrics:     m,
		logger:      logger,
	}
	genesis := newBlock(0, clk.Now(), nil, GenesisPreviousHash)
	l.chain = append(l.chain, genesis)
	logger.Debug("ledger initialized", "genesis_hash", genesis.Hash)
	return l
}

// EstimateFee exposes the configured fee estimator so callers (the wallet)
// can price a transaction before submitting it.
func (l *Ledger) EstimateFee(sizeBytes decimal.Decimal) decimal.Decimal {
	return l.estimateFee(sizeBytes)
}

// AddTransaction validates a transaction and, if admitted, appends it to both
// the pending pool and the mempool. It rejects non-positive amounts and, for
// non-network senders, amounts the sender's confirmed balance cannot cover
// including the estimated fee. Rejection returns false and leaves all state
// untouched.
func (l *Ledger) AddTransaction(tx Transaction) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tx.Amount.Sign() <= 0 {
		l.logger.Debug("rejected transaction: non-positive amount",
			"tx_id", tx.TxID, "amount", tx.Amount)
		if l.metrics != nil {
			l.metrics.RecordTransactionRejected("non_positive_amount")
		}
		return false
	}

	// The amount stands in for the transaction byte size here, preserving
	// the simulator's fee model.
	fee := l.estimateFee(tx.Amount)
	if tx.Sender != NetworkSender {
		needed := tx.Amount.Add(fee)
		if l.balances[tx.Sender].LessThan(needed) {
			l.logger.Debug("rejected transaction: insufficient funds",
				"tx_id", tx.TxID,
				"sender", tx.Sender,
				"balance", l.balances[tx.Sender],
				"needed", needed,
			)
			if l.metrics != nil {
				l.metrics.RecordTransactionRejected("insufficient_funds")
			}
			return false
		}
	}

	l.pending = append(l.pending, tx)
	l.mempool = append(l.mempool, tx)

	senderType := "wallet"
	if tx.Sender == NetworkSender {
		senderType = "network"
	}
	if l.metrics != nil {
		l.metrics.RecordTransactionAdmitted(senderType)
		l.metrics.RecordMempoolSize(len(l.mempool))
	}
	l.logger.Debug("transaction admitted",
		"tx_id", tx.TxID, "sender", tx.Sender, "recipient", tx.Recipient, "amount", tx.Amount)
	return true
}

// MineBlock bundles all pending transactions into a new block, appends it to
// the chain, applies balance updates, and drops the confirmed transactions
// from the mempool. It returns nil when there is nothing to mine; empty
// blocks are never produced.
func (l *Ledger) MineBlock() *Block {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		l.logger.Debug("no pending transactions to mine")
		return nil
	}

	mined := make([]Transaction, len(l.pending))
	for i, tx := range l.pending {
		if tx.Sender != NetworkSender {
			tx.AmountWithFee = tx.Amount.Add(l.estimateFee(tx.Amount))
		} else {
			// Faucet transactions carry no fee.
			tx.AmountWithFee = tx.Amount
		}
		mined[i] = tx
	}

	prev := l.chain[len(l.chain)-1]
	block := newBlock(len(l.chain), l.clock.Now(), mined, prev.Hash)
	l.chain = append(l.chain, block)
	l.applyBalances(mined)
	l.pending = nil

	confirmed := make(map[string]bool, len(mined))
	for _, tx := range mined {
		confirmed[tx.TxID] = true
	}
	remaining := l.mempool[:0]
	for _, tx := range l.mempool {
		if !confirmed[tx.TxID] {
			remaining = append(remaining, tx)
		}
	}
	l.mempool = remaining

	if l.metrics != nil {
		l.metrics.RecordBlockMined(len(mined))
		l.metrics.RecordMempoolSize(len(l.mempool))
	}
	l.logger.Info("block mined",
		"index", block.Index, "hash", block.Hash, "transactions", len(mined))
	return block
}

// applyBalances must be called with the lock held. Senders are debited the
// finalized amount-with-fee; recipients are credited the bare amount. The
// network sender is never debited, which is the only way total supply grows.
func (l *Ledger) applyBalances(txs []Transaction) {
	for _, tx := range txs {
		if tx.Sender != NetworkSender {
			l.balances[tx.Sender] = l.balances[tx.Sender].Sub(tx.AmountWithFee)
		}
		l.balances[tx.Recipient] = l.balances[tx.Recipient].Add(tx.Amount)
	}
}

// Balance returns the confirmed balance for an address. Unknown addresses
// have a zero balance; this never errors.
func (l *Ledger) Balance(address string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[address]
}

// TransactionsForAddress returns every confirmed transaction that touches the
// address as sender or recipient, in chain order (block order, then intra-block
// order). The scan is O(chain size).
func (l *Ledger) TransactionsForAddress(address string) []Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	var txs []Transaction
	for _, block := range l.chain {
		for _, tx := range block.Transactions {
			if tx.Sender == address || tx.Recipient == address {
				txs = append(txs, tx)
			}
		}
	}
	return txs
}

// Proof binds a confirmed transaction to the block containing it. It stands
// in for a real merkle inclusion proof.
type Proof struct {
	TxID             string    `json:"tx_id"`
	BlockHash        string    `json:"block_hash"`
	BlockIndex       int       `json:"block_index"`
	ConfirmationTime time.Time `json:"confirmation_time"`
	MerkleProof      string    `json:"merkle_proof"`
}

// PaymentProof scans confirmed blocks for the transaction id and returns a
// proof of inclusion, or ErrTxNotFound when no block contains it.
func (l *Ledger) PaymentProof(txID string) (*Proof, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, block := range l.chain {
		for _, tx := range block.Transactions {
			if tx.TxID == txID {
				return &Proof{
					TxID:             tx.TxID,
					BlockHash:        block.Hash,
					BlockIndex:       block.Index,
					ConfirmationTime: block.Timestamp,
					MerkleProof:      fmt.Sprintf("merkle_proof_for_tx_%s_in_block_%d", tx.TxID, block.Index),
				}, nil
			}
		}
	}
	return nil, ErrTxNotFound
}

// MempoolTransactions returns a snapshot of the accepted-but-unconfirmed
// transactions. Purely observational.
func (l *Ledger) MempoolTransactions() []Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transaction, len(l.mempool))
	copy(out, l.mempool)
	return out
}

// PendingCount reports how many transactions await the next mined block.
func (l *Ledger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Height returns the number of blocks in the chain, including genesis.
func (l *Ledger) Height() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.chain)
}

// LastBlock returns the most recently mined block (the genesis block on a
// fresh ledger).
func (l *Ledger) LastBlock() *Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chain[len(l.chain)-1]
}

// Blocks returns a snapshot of the chain for inspection.
func (l *Ledger) Blocks() []*Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Block, len(l.chain))
	copy(out, l.chain)
	return out
}
