package tct

import (
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/tct/digest"
	"github.com/colorfulnotion/tct/tcterrors"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Proof shows that Commitment sits at Position beneath a root. Its depth is that of the tier it
// was taken from: TierHeight levels for a Block, twice that for an Epoch, three times for an
// Eternity.
type Proof struct {
	Position   uint64
	Commitment Commitment
	Leaf       digest.Hash
	AuthPath   AuthPath
}

// Root folds the leaf digest up the authentication path.
func (p Proof) Root(h digest.Hasher) digest.Hash {
	return RootFromPath(h, p.Position, p.Leaf, p.AuthPath)
}

// Verify checks the leaf digest against the commitment and the path against root.
func (p Proof) Verify(h digest.Hasher, root digest.Hash) bool {
	if h.Leaf(p.Commitment) != p.Leaf {
		return false
	}
	return VerifyPath(h, p.Position, p.Leaf, p.AuthPath, root)
}

// RootFromPath recomputes the root above leaf at position. Level l sits at height l+1.
func RootFromPath(h digest.Hasher, position uint64, leaf digest.Hash, path AuthPath) digest.Hash {
	cur := leaf
	for l, siblings := range path {
		idx := int(position>>(2*uint(l))) & 3
		var children [4]digest.Hash
		n := 0
		for j := range children {
			if j == idx {
				children[j] = cur
				continue
			}
			children[j] = siblings[n]
			n++
		}
		cur = h.Node(uint8(l+1), children[0], children[1], children[2], children[3])
	}
	return cur
}

// VerifyPath reports whether leaf at position authenticates to root along path.
func VerifyPath(h digest.Hasher, position uint64, leaf digest.Hash, path AuthPath, root digest.Hash) bool {
	depth := len(path)
	if depth == 0 || depth%TierHeight != 0 || depth > 3*TierHeight {
		return false
	}
	if position>>(2*uint(depth)) != 0 {
		return false
	}
	return RootFromPath(h, position, leaf, path) == root
}

type proofJSON struct {
	Position   hexutil.Uint64   `json:"position"`
	Commitment hexutil.Bytes    `json:"commitment"`
	Leaf       digest.Hash      `json:"leaf"`
	AuthPath   [][3]digest.Hash `json:"auth_path"`
}

func (p Proof) MarshalJSON() ([]byte, error) {
	c := p.Commitment.Bytes()
	return json.Marshal(proofJSON{
		Position:   hexutil.Uint64(p.Position),
		Commitment: c[:],
		Leaf:       p.Leaf,
		AuthPath:   p.AuthPath,
	})
}

func (p *Proof) UnmarshalJSON(data []byte) error {
	var raw proofJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", tcterrors.ErrBadProof, err)
	}
	if len(raw.Commitment) != len(p.Commitment.Bytes()) {
		return fmt.Errorf("%w: commitment is %d bytes", tcterrors.ErrBadProof, len(raw.Commitment))
	}
	var c Commitment
	if err := c.SetBytesCanonical(raw.Commitment); err != nil {
		return fmt.Errorf("%w: %v", tcterrors.ErrBadProof, err)
	}
	*p = Proof{
		Position:   uint64(raw.Position),
		Commitment: c,
		Leaf:       raw.Leaf,
		AuthPath:   raw.AuthPath,
	}
	return nil
}
