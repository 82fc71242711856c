package tct

import (
	"sort"

	"github.com/colorfulnotion/tct/digest"
	"github.com/colorfulnotion/tct/tcterrors"
)

// Block is a sparse commitment tree witnessing up to 65,536 commitments.
//
// A Block is one block of an Epoch, which is one epoch of an Eternity.
type Block struct {
	hasher digest.Hasher
	index  map[Commitment]uint16
	inner  Tier[Item]
	// owned is set once an Epoch holds the block. From then on it changes only through BlockMut.
	owned bool
}

// BlockMut is a mutable reference to a Block, handed out for the span of one mutation.
//
// It is the only way to change a Block. When the block sits inside an Epoch (and possibly an
// Eternity), super carries the block's position and its enclosing indices, so every witnessed
// commitment lands in all of them at once.
type BlockMut struct {
	block *Block
	super *superIndex
}

// superIndex is one enclosing level of a mutation: this child's position in the parent and the
// parent's commitment index. parent continues the chain upwards.
type superIndex struct {
	position uint16
	index    map[Commitment]uint16
	parent   *superIndex
}

func (s *superIndex) record(c Commitment) {
	for ; s != nil; s = s.parent {
		s.index[c] = s.position
	}
}

func (s *superIndex) erase(c Commitment) {
	for ; s != nil; s = s.parent {
		if p, ok := s.index[c]; ok && p == s.position {
			delete(s.index, c)
		}
	}
}

// NewBlock creates a new empty Block.
func NewBlock(opts ...Option) *Block {
	return newBlock(buildOptions(opts).hasher)
}

func newBlock(h digest.Hasher) *Block {
	return &Block{
		hasher: h,
		index:  make(map[Commitment]uint16),
		inner:  newTier[Item](h, 0),
	}
}

func (b *Block) asMut() BlockMut {
	return BlockMut{block: b}
}

// Insert adds a commitment to the block. A full block returns an *InsertError wrapping
// ErrBlockFull and holding the rejected item; a block held by an Epoch wraps ErrChildOwned.
func (b *Block) Insert(item Insert[Commitment]) error {
	if b.owned {
		return &InsertError{Item: item, Err: tcterrors.ErrChildOwned}
	}
	return b.asMut().Insert(item)
}

// Forget stops witnessing c. The block's digest is unchanged. A block held by an Epoch forgets
// nothing: use the Epoch's Forget.
func (b *Block) Forget(c Commitment) bool {
	if b.owned {
		return false
	}
	return b.asMut().Forget(c)
}

// Len is the number of commitments or their digests in the block.
func (b *Block) Len() int {
	return b.inner.Len()
}

func (b *Block) IsEmpty() bool {
	return b.inner.IsEmpty()
}

func (b *Block) IsFull() bool {
	return b.inner.IsFull()
}

// Witnessed is the number of commitments that can currently be witnessed.
func (b *Block) Witnessed() int {
	return len(b.index)
}

// Digest returns the root hash of the block.
//
// Internal hashing is performed lazily, so the first call after a long run of insertions may
// take longer than the ones after it.
func (b *Block) Digest() digest.Hash {
	return b.inner.Digest()
}

// PositionOf returns the slot c was last kept at.
func (b *Block) PositionOf(c Commitment) (uint16, bool) {
	pos, ok := b.index[c]
	return pos, ok
}

// Commitments lists the witnessed commitments in slot order.
func (b *Block) Commitments() []Commitment {
	out := make([]Commitment, 0, len(b.index))
	for c := range b.index {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return b.index[out[i]] < b.index[out[j]]
	})
	return out
}

// Witness returns a proof of inclusion of c in this block, or false if c is not witnessed here.
func (b *Block) Witness(c Commitment) (Proof, bool) {
	pos, ok := b.index[c]
	if !ok {
		return Proof{}, false
	}
	path, leaf, ok := b.inner.Witness(int(pos))
	if !ok {
		return Proof{}, false
	}
	return Proof{
		Position:   uint64(pos),
		Commitment: c,
		Leaf:       leaf,
		AuthPath:   path,
	}, true
}

func (b *Block) hashWith(digest.Hasher) digest.Hash {
	return b.Digest()
}

// Insert adds item to the underlying block: see Block.Insert.
//
// A second Keep of a commitment already in the index moves the index entry to the new slot; the
// earlier slot still counts towards the digest but can no longer be witnessed.
func (m BlockMut) Insert(item Insert[Commitment]) error {
	this := m.block.inner.Len()

	if err := m.block.inner.Insert(MapInsert(item, NewItem)); err != nil {
		return &InsertError{Item: item, Err: tcterrors.ErrBlockFull}
	}
	if c, ok := item.Keep(); ok {
		m.block.index[c] = uint16(this)
		m.super.record(c)
	}
	return nil
}

// Forget drops c from the block and every enclosing index.
func (m BlockMut) Forget(c Commitment) bool {
	pos, ok := m.block.index[c]
	if !ok {
		return false
	}
	delete(m.block.index, c)
	m.super.erase(c)
	m.block.inner.forget(int(pos))
	return true
}

func (m BlockMut) Len() int {
	return m.block.Len()
}

func (m BlockMut) IsEmpty() bool {
	return m.block.IsEmpty()
}

func (m BlockMut) Digest() digest.Hash {
	return m.block.Digest()
}

func (m BlockMut) Witness(c Commitment) (Proof, bool) {
	return m.block.Witness(c)
}
