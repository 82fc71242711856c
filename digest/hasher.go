package digest

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/tct/tcterrors"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr/mimc"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// Hasher combines tree nodes into digests. Implementations must be safe for concurrent use.
//
// Leaf hashes a committed field element. Node hashes the four children of an internal node;
// height is the global height of that node (1 directly above the commitments, 24 at the root of
// an eternity) and must take part in the digest.
type Hasher interface {
	Name() string
	Leaf(c fr.Element) Hash
	Node(height uint8, a, b, c, d Hash) Hash
}

const (
	MiMCName    = "mimc"
	Blake2bName = "blake2b"
	Blake3Name  = "blake3"
)

// ByName resolves a configured hasher name.
func ByName(name string) (Hasher, error) {
	switch strings.ToLower(name) {
	case "", MiMCName:
		return NewMiMC(), nil
	case Blake2bName:
		return NewBlake2b(), nil
	case Blake3Name:
		return NewBlake3(), nil
	default:
		return nil, fmt.Errorf("%w: %q", tcterrors.ErrUnknownHasher, name)
	}
}

type mimcHasher struct{}

// NewMiMC returns the MiMC sponge over the BLS12-377 scalar field. Inputs are absorbed as field
// elements, the domain element first: 0 for leaves, the node height for internal nodes.
func NewMiMC() Hasher {
	return mimcHasher{}
}

func (mimcHasher) Name() string { return MiMCName }

func (mimcHasher) Leaf(c fr.Element) Hash {
	var domain fr.Element
	return mimcSum(domain, FromElement(c))
}

func (mimcHasher) Node(height uint8, a, b, c, d Hash) Hash {
	var domain fr.Element
	domain.SetUint64(uint64(height))
	return mimcSum(domain, a, b, c, d)
}

func mimcSum(domain fr.Element, inputs ...Hash) Hash {
	h := mimc.NewMiMC()
	d := domain.Bytes()
	h.Write(d[:])
	for _, in := range inputs {
		// every Hash is a canonical element, so the sponge never rejects a block
		h.Write(in[:])
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

type blake2bHasher struct{}

// NewBlake2b returns a BLAKE2b-256 based hasher whose outputs are reduced into the field.
func NewBlake2b() Hasher {
	return blake2bHasher{}
}

func (blake2bHasher) Name() string { return Blake2bName }

func (blake2bHasher) Leaf(c fr.Element) Hash {
	cb := c.Bytes()
	buf := make([]byte, 0, 1+Size)
	buf = append(buf, 0x00)
	buf = append(buf, cb[:]...)
	return reduce(blake2b.Sum256(buf))
}

func (blake2bHasher) Node(height uint8, a, b, c, d Hash) Hash {
	buf := make([]byte, 0, 2+4*Size)
	buf = append(buf, 0x01, height)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	buf = append(buf, c[:]...)
	buf = append(buf, d[:]...)
	return reduce(blake2b.Sum256(buf))
}

func reduce(sum [32]byte) Hash {
	var e fr.Element
	e.SetBytes(sum[:])
	return FromElement(e)
}

// Keys for BLAKE3 keyed mode: the ASCII domain name, zero-padded to 32 bytes.
var (
	blake3LeafKey = [32]byte{'t', 'c', 't', '.', 'l', 'e', 'a', 'f'}
	blake3NodeKey = [32]byte{'t', 'c', 't', '.', 'n', 'o', 'd', 'e'}
)

type blake3Hasher struct{}

// NewBlake3 returns a keyed BLAKE3 hasher, with separate keys for leaves and nodes and the node
// height as the first input byte. Outputs are reduced into the field.
func NewBlake3() Hasher {
	return blake3Hasher{}
}

func (blake3Hasher) Name() string { return Blake3Name }

func (blake3Hasher) Leaf(c fr.Element) Hash {
	cb := c.Bytes()
	return blake3Sum(blake3LeafKey, cb[:])
}

func (blake3Hasher) Node(height uint8, a, b, c, d Hash) Hash {
	return blake3Sum(blake3NodeKey, []byte{height}, a[:], b[:], c[:], d[:])
}

func blake3Sum(key [32]byte, parts ...[]byte) Hash {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		// only returned for keys that are not 32 bytes
		panic(err)
	}
	for _, p := range parts {
		h.Write(p)
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return reduce(sum)
}
