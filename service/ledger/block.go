package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// GenesisPreviousHash is the previous-hash marker carried by the genesis block.
const GenesisPreviousHash = "0"

// Block is one entry in the append-only chain. Blocks are immutable once
// appended; Hash covers every other field.
type Block struct {
	Index        int           `json:"index"`
	Timestamp    time.Time     `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	PreviousHash string        `json:"previous_hash"`
	Nonce        uint64        `json:"nonce"`
	Hash         string        `json:"hash"`
}

// newBlock builds a block and seals it with its digest. There is no
// proof-of-work search; the nonce stays zero and exists only so the block
// shape matches what real chain tooling expects.
func newBlock(index int, ts time.Time, txs []Transaction, previousHash string) *Block {
	b := &Block{
		Index:        index,
		Timestamp:    ts,
		Transactions: txs,
		PreviousHash: previousHash,
	}
	b.Hash = b.computeHash()
	return b
}

func uint64ToBytes(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// computeHash returns the sha256 hex digest over the block header fields and
// every transaction in order.
func (b *Block) computeHash() string {
	h := sha256.New()
	h.Write(uint64ToBytes(uint64(b.Index)))
	h.Write(uint64ToBytes(uint64(b.Timestamp.UnixNano())))
	h.Write([]byte(b.PreviousHash))
	h.Write(uint64ToBytes(b.Nonce))
	for _, tx := range b.Transactions {
		h.Write([]byte(tx.TxID))
		h.Write([]byte(tx.Sender))
		h.Write([]byte(tx.Recipient))
		h.Write([]byte(tx.Amount.String()))
		h.Write([]byte(tx.AmountWithFee.String()))
	}
	return hex.EncodeToString(h.Sum(nil))
}
