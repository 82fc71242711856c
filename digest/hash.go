// Package digest holds the node digests of the commitment tree and the hash functions that
// produce them.
package digest

import (
	"fmt"

	"github.com/colorfulnotion/tct/tcterrors"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Size is the byte length of a Hash.
const Size = fr.Bytes

// Hash is the canonical big-endian encoding of a field element summarising a subtree.
type Hash [Size]byte

// Zero is the digest of an empty subtree at any height.
var Zero = Hash{}

// FromElement encodes a field element as a Hash.
func FromElement(e fr.Element) Hash {
	return Hash(e.Bytes())
}

// Element decodes the hash back into the field.
func (h Hash) Element() fr.Element {
	var e fr.Element
	e.SetBytes(h[:])
	return e
}

func (h Hash) IsZero() bool {
	return h == Zero
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) Hex() string {
	return hexutil.Encode(h[:])
}

func (h Hash) String() string {
	return h.Hex()
}

// Short renders the first four bytes, for log lines and tree dumps.
func (h Hash) Short() string {
	return fmt.Sprintf("%x..", h[:4])
}

func (h Hash) MarshalText() ([]byte, error) {
	return hexutil.Bytes(h[:]).MarshalText()
}

func (h *Hash) UnmarshalText(input []byte) error {
	if err := hexutil.UnmarshalFixedText("Hash", input, h[:]); err != nil {
		return fmt.Errorf("%w: %v", tcterrors.ErrBadHash, err)
	}
	return nil
}

// HexToHash parses a 0x-prefixed 32 byte hex string.
func HexToHash(s string) (Hash, error) {
	var h Hash
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != Size {
		return h, fmt.Errorf("%w: %q", tcterrors.ErrBadHash, s)
	}
	copy(h[:], b)
	return h, nil
}
