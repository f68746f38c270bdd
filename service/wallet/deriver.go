package wallet

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// AddressDeriver produces the payment address for a derivation index. The
// wallet selects an implementation at construction time: hierarchical
// derivation from a real extended public key, or the counter placeholder
// scheme when no usable key is available.
type AddressDeriver interface {
	DeriveAddress(index uint32) (string, error)
}

// hdDeriver derives addresses along m/0/{index} from an extended public key
// and renders the child public key (compressed, hex) as the address string.
// This is address-derivation convenience only, not a security boundary.
type hdDeriver struct {
	branch *hdkeychain.ExtendedKey
}

func newHDDeriver(xpub string) (*hdDeriver, error) {
	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, fmt.Errorf("failed to parse extended key: %w", err)
	}
	branch, err := key.Derive(0)
	if err != nil {
		return nil, fmt.Errorf("failed to derive branch m/0: %w", err)
	}
	return &hdDeriver{branch: branch}, nil
}

func (d *hdDeriver) DeriveAddress(index uint32) (string, error) {
	child, err := d.branch.Derive(index)
	if err != nil {
		return "", fmt.Errorf("failed to derive child m/0/%d: %w", index, err)
	}
	pub, err := child.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("failed to extract public key for m/0/%d: %w", index, err)
	}
	return hex.EncodeToString(pub.SerializeCompressed()), nil
}

// counterDeriver is the deterministic placeholder scheme: "{xpub}_{index}".
type counterDeriver struct {
	xpub string
}

func (d counterDeriver) DeriveAddress(index uint32) (string, error) {
	return fmt.Sprintf("%s_%d", d.xpub, index), nil
}
