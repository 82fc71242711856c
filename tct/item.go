package tct

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/colorfulnotion/tct/digest"
	"github.com/colorfulnotion/tct/tcterrors"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Commitment is the field element committed to by the tree.
type Commitment = fr.Element

// Item is a single commitment at the bottom of a Block.
type Item struct {
	commitment Commitment
}

func NewItem(c Commitment) Item {
	return Item{commitment: c}
}

func (i Item) Commitment() Commitment {
	return i.commitment
}

func (i Item) hashWith(h digest.Hasher) digest.Hash {
	return h.Leaf(i.commitment)
}

// ParseCommitment accepts a decimal integer or 0x-prefixed canonical big-endian bytes.
func ParseCommitment(s string) (Commitment, error) {
	var c Commitment
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, err := hexutil.Decode("0x" + s[2:])
		if err != nil || len(b) > fr.Bytes {
			return c, fmt.Errorf("%w: %q", tcterrors.ErrBadCommitment, s)
		}
		var buf [fr.Bytes]byte
		copy(buf[fr.Bytes-len(b):], b)
		if err := c.SetBytesCanonical(buf[:]); err != nil {
			return c, fmt.Errorf("%w: %v", tcterrors.ErrBadCommitment, err)
		}
		return c, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return c, fmt.Errorf("%w: %q", tcterrors.ErrBadCommitment, s)
	}
	c.SetBigInt(v)
	return c, nil
}

// CommitmentHex renders c as 0x-prefixed canonical bytes.
func CommitmentHex(c Commitment) string {
	b := c.Bytes()
	return hexutil.Encode(b[:])
}
