package wallet

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/broswen/testnetpay/service/ledger"
)

// testXpub derives a deterministic extended public key for the HD path.
func testXpub(t *testing.T) string {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)
	pub, err := master.Neuter()
	require.NoError(t, err)
	return pub.String()
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestWallet(t *testing.T, xpub string) (*Wallet, *ledger.Ledger) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	l := ledger.New(nil, clk, nil, nil)
	return New(l, xpub, nil), l
}

func TestGenerateAddressCounterScheme(t *testing.T) {
	w, _ := newTestWallet(t, "")

	first := w.GenerateAddress()
	second := w.GenerateAddress()

	assert.Equal(t, DefaultXpub+"_0", first)
	assert.Equal(t, DefaultXpub+"_1", second)
	assert.True(t, w.Owns(first))
	assert.True(t, w.Owns(second))
}

func TestGenerateAddressUnique(t *testing.T) {
	w, _ := newTestWallet(t, "")

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		addr := w.GenerateAddress()
		_, dup := seen[addr]
		require.False(t, dup, "duplicate address %s", addr)
		seen[addr] = struct{}{}
	}
}

func TestHierarchicalDerivation(t *testing.T) {
	xpub := testXpub(t)
	w, _ := newTestWallet(t, xpub)

	first := w.GenerateAddress()
	second := w.GenerateAddress()

	// Derived addresses are compressed public keys in hex, not the
	// placeholder scheme.
	assert.Len(t, first, 66)
	assert.Len(t, second, 66)
	assert.NotEqual(t, first, second)
	assert.NotContains(t, first, "_")

	// Same key, same index, same address.
	w2, _ := newTestWallet(t, xpub)
	assert.Equal(t, first, w2.GenerateAddress())
}

func TestMalformedXpubFallsBack(t *testing.T) {
	w, _ := newTestWallet(t, "not-a-real-xpub")

	assert.Equal(t, "not-a-real-xpub_0", w.GenerateAddress())
}

func TestFaucet(t *testing.T) {
	w, l := newTestWallet(t, "")
	addr := w.GenerateAddress()

	heightBefore := l.Height()
	require.True(t, w.Faucet(addr, dec("100")))

	// Faucet confirms immediately by mining.
	assert.Equal(t, heightBefore+1, l.Height())
	assert.True(t, w.Balance(addr).Equal(dec("100")))
}

func TestFaucetAdoptsForeignAddress(t *testing.T) {
	w, _ := newTestWallet(t, "")

	require.False(t, w.Owns("outsider"))
	require.True(t, w.Faucet("outsider", dec("10")))
	assert.True(t, w.Owns("outsider"))
	assert.True(t, w.Balance("outsider").Equal(dec("10")))
}

func TestSendFunds(t *testing.T) {
	w, l := newTestWallet(t, "")
	sender := w.GenerateAddress()
	recipient := w.GenerateAddress()
	require.True(t, w.Faucet(sender, dec("100")))

	require.True(t, w.SendFunds(sender, recipient, dec("30")))

	// Unconfirmed until a block is mined.
	assert.True(t, w.Balance(recipient).Equal(decimal.Zero))
	require.NotNil(t, l.MineBlock())

	fee := dec("30").Mul(ledger.DefaultFeeRate)
	assert.True(t, w.Balance(recipient).Equal(dec("30")))
	assert.True(t, w.Balance(sender).Equal(dec("70").Sub(fee)))
}

func TestSendFundsUnownedSender(t *testing.T) {
	w, l := newTestWallet(t, "")

	require.False(t, w.SendFunds("stranger", "anyone", dec("1")))
	assert.Equal(t, 0, l.PendingCount())
}

func TestSendFundsInsufficientBalance(t *testing.T) {
	w, l := newTestWallet(t, "")
	sender := w.GenerateAddress()
	require.True(t, w.Faucet(sender, dec("10")))

	// The fixed-size fee estimate prices the send at 10 + 250*0.00001.
	require.False(t, w.SendFunds(sender, "anyone", dec("10")))

	// Nothing was submitted and nothing was deducted.
	assert.Equal(t, 0, l.PendingCount())
	assert.True(t, w.Balance(sender).Equal(dec("10")))
}

func TestBalanceUnknownAddress(t *testing.T) {
	w, _ := newTestWallet(t, "")
	assert.True(t, w.Balance("never-seen").Equal(decimal.Zero))
}

func TestCounterAdvancesPastAdoptedAddresses(t *testing.T) {
	w, _ := newTestWallet(t, "")

	// Adopting an address via the faucet must not disturb derivation.
	require.True(t, w.Faucet("external", dec("1")))
	for i := 0; i < 3; i++ {
		assert.Equal(t, fmt.Sprintf("%s_%d", DefaultXpub, i), w.GenerateAddress())
	}
}
