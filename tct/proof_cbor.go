package tct

import (
	"fmt"

	"github.com/colorfulnotion/tct/digest"
	"github.com/colorfulnotion/tct/tcterrors"
	"github.com/fxamacker/cbor/v2"
)

// Core Deterministic Encoding (RFC 8949 §4.2): one proof, one byte string.
var (
	proofEncMode cbor.EncMode
	proofDecMode cbor.DecMode
)

func init() {
	var err error
	proofEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("tct: CBOR encoder initialization failed: " + err.Error())
	}
	proofDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("tct: CBOR decoder initialization failed: " + err.Error())
	}
}

type proofCBOR struct {
	Position   uint64      `cbor:"1,keyasint"`
	Commitment []byte      `cbor:"2,keyasint"`
	Leaf       []byte      `cbor:"3,keyasint"`
	AuthPath   [][3][]byte `cbor:"4,keyasint"`
}

// MarshalBinary encodes the proof as deterministic CBOR, with digests as byte strings.
func (p Proof) MarshalBinary() ([]byte, error) {
	c := p.Commitment.Bytes()
	raw := proofCBOR{
		Position:   p.Position,
		Commitment: c[:],
		Leaf:       p.Leaf.Bytes(),
		AuthPath:   make([][3][]byte, len(p.AuthPath)),
	}
	for i, siblings := range p.AuthPath {
		for j := range siblings {
			raw.AuthPath[i][j] = siblings[j].Bytes()
		}
	}
	return proofEncMode.Marshal(raw)
}

func (p *Proof) UnmarshalBinary(data []byte) error {
	var raw proofCBOR
	if err := proofDecMode.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", tcterrors.ErrBadProof, err)
	}
	hash := func(b []byte) (digest.Hash, error) {
		var h digest.Hash
		if len(b) != digest.Size {
			return h, fmt.Errorf("%w: digest of %d bytes", tcterrors.ErrBadProof, len(b))
		}
		copy(h[:], b)
		return h, nil
	}

	var c Commitment
	if len(raw.Commitment) != digest.Size {
		return fmt.Errorf("%w: commitment of %d bytes", tcterrors.ErrBadProof, len(raw.Commitment))
	}
	if err := c.SetBytesCanonical(raw.Commitment); err != nil {
		return fmt.Errorf("%w: %v", tcterrors.ErrBadProof, err)
	}
	leaf, err := hash(raw.Leaf)
	if err != nil {
		return err
	}
	path := make(AuthPath, len(raw.AuthPath))
	for i, siblings := range raw.AuthPath {
		for j, b := range siblings {
			if path[i][j], err = hash(b); err != nil {
				return err
			}
		}
	}
	*p = Proof{Position: raw.Position, Commitment: c, Leaf: leaf, AuthPath: path}
	return nil
}
