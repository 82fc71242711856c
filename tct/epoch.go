package tct

import (
	"fmt"

	"github.com/colorfulnotion/tct/digest"
	"github.com/colorfulnotion/tct/log"
	"github.com/colorfulnotion/tct/tcterrors"
)

// Epoch is a sparse commitment tree of up to 65,536 Blocks.
type Epoch struct {
	hasher digest.Hasher
	index  map[Commitment]uint16
	inner  Tier[*Block]
	// open is set while the last block still accepts commitments.
	open bool
	// owned is set once an Eternity holds the epoch.
	owned bool
}

// EpochMut is a mutable reference to an Epoch, optionally carrying the indices above it.
type EpochMut struct {
	epoch *Epoch
	super *superIndex
}

// NewEpoch creates a new empty Epoch.
func NewEpoch(opts ...Option) *Epoch {
	return newEpoch(buildOptions(opts).hasher)
}

func newEpoch(h digest.Hasher) *Epoch {
	return &Epoch{
		hasher: h,
		index:  make(map[Commitment]uint16),
		inner:  newTier[*Block](h, TierHeight),
	}
}

func (e *Epoch) asMut() EpochMut {
	return EpochMut{epoch: e}
}

// Insert adds a commitment to the current block, opening a new block if none is open.
//
// An epoch held by an Eternity changes only through the Eternity: Insert, InsertBlock and
// EndBlock then fail with ErrChildOwned and Forget reports false.
func (e *Epoch) Insert(item Insert[Commitment]) error {
	if e.owned {
		return &InsertError{Item: item, Err: tcterrors.ErrChildOwned}
	}
	return e.asMut().Insert(item)
}

// InsertBlock ends the current block and appends a whole block after it.
//
// A kept block is owned by the epoch afterwards and can no longer be changed directly, nor kept
// in another epoch. Forget only reads the block's root.
func (e *Epoch) InsertBlock(block Insert[*Block]) error {
	if e.owned {
		return fmt.Errorf("insert block: %w", tcterrors.ErrChildOwned)
	}
	return e.asMut().InsertBlock(block)
}

// EndBlock finalizes the current block and returns its root. If no block is open an empty one is
// appended, so every call occupies a block slot.
func (e *Epoch) EndBlock() (digest.Hash, error) {
	if e.owned {
		return digest.Zero, tcterrors.ErrChildOwned
	}
	return e.asMut().EndBlock()
}

// Forget stops witnessing c. The epoch's digest is unchanged.
func (e *Epoch) Forget(c Commitment) bool {
	if e.owned {
		return false
	}
	return e.asMut().Forget(c)
}

// Len is the number of blocks in the epoch.
func (e *Epoch) Len() int {
	return e.inner.Len()
}

func (e *Epoch) IsEmpty() bool {
	return e.inner.IsEmpty()
}

func (e *Epoch) IsFull() bool {
	return e.inner.IsFull()
}

func (e *Epoch) Witnessed() int {
	return len(e.index)
}

// Digest returns the root hash of the epoch, hashing any blocks changed since the last call.
func (e *Epoch) Digest() digest.Hash {
	return e.inner.Digest()
}

// BlockAt returns the block at position i, unless it has been forgotten. The block is shared with
// the epoch and must not be modified.
func (e *Epoch) BlockAt(i uint16) (*Block, bool) {
	return e.inner.get(int(i))
}

// PositionOf returns the block and commitment position of c, packed as block<<16 | commitment.
func (e *Epoch) PositionOf(c Commitment) (uint32, bool) {
	blockPos, ok := e.index[c]
	if !ok {
		return 0, false
	}
	block, ok := e.inner.get(int(blockPos))
	if !ok {
		return 0, false
	}
	pos, ok := block.PositionOf(c)
	if !ok {
		return 0, false
	}
	return uint32(blockPos)<<16 | uint32(pos), true
}

// Witness returns a proof of inclusion of c in this epoch.
func (e *Epoch) Witness(c Commitment) (Proof, bool) {
	blockPos, ok := e.index[c]
	if !ok {
		return Proof{}, false
	}
	block, ok := e.inner.get(int(blockPos))
	if !ok {
		return Proof{}, false
	}
	proof, ok := block.Witness(c)
	if !ok {
		return Proof{}, false
	}
	path, _, ok := e.inner.Witness(int(blockPos))
	if !ok {
		return Proof{}, false
	}
	proof.Position |= uint64(blockPos) << 16
	proof.AuthPath = append(proof.AuthPath, path...)
	return proof, true
}

func (e *Epoch) hashWith(digest.Hasher) digest.Hash {
	return e.Digest()
}

// closeBlock finalizes the open block, pruning it to its digest if nothing in it is witnessed.
func (e *Epoch) closeBlock() {
	if !e.open {
		return
	}
	e.open = false
	if block, pos, ok := e.inner.last(); ok && block.Witnessed() == 0 {
		e.inner.forget(pos)
	}
}

// isOpenBlock reports whether pos is the block still accepting commitments.
func (e *Epoch) isOpenBlock(pos int) bool {
	return e.open && pos == e.inner.Len()-1
}

// currentBlock returns a handle on the open block, appending a new one if needed.
func (m EpochMut) currentBlock() (BlockMut, int, error) {
	e := m.epoch
	if !e.open {
		if e.inner.IsFull() {
			return BlockMut{}, 0, tcterrors.ErrEpochFull
		}
		block := newBlock(e.hasher)
		block.owned = true
		if err := e.inner.Insert(Keep(block)); err != nil {
			return BlockMut{}, 0, err
		}
		e.open = true
	}
	block, pos, _ := e.inner.last()
	return BlockMut{
		block: block,
		super: &superIndex{position: uint16(pos), index: e.index, parent: m.super},
	}, pos, nil
}

// Insert adds item to the epoch's current block: see Epoch.Insert.
func (m EpochMut) Insert(item Insert[Commitment]) error {
	block, pos, err := m.currentBlock()
	if err != nil {
		return &InsertError{Item: item, Err: err}
	}
	if err := block.Insert(item); err != nil {
		return err
	}
	m.epoch.inner.markDirty(pos)
	return nil
}

// InsertBlock appends block as a finalized block: see Epoch.InsertBlock.
func (m EpochMut) InsertBlock(ins Insert[*Block]) error {
	e := m.epoch
	if e.inner.IsFull() {
		return fmt.Errorf("insert block: %w", tcterrors.ErrEpochFull)
	}
	block := ins.Value()
	if block.hasher.Name() != e.hasher.Name() {
		return fmt.Errorf("insert block: %w", tcterrors.ErrHasherMismatch)
	}
	if ins.IsKeep() && block.owned {
		return fmt.Errorf("insert block: %w", tcterrors.ErrChildOwned)
	}
	e.closeBlock()
	pos := e.inner.Len()
	if err := e.inner.Insert(ins); err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	if !ins.IsKeep() {
		return nil
	}
	block.owned = true
	if block.Witnessed() == 0 {
		e.inner.forget(pos)
		return nil
	}
	s := &superIndex{position: uint16(pos), index: e.index, parent: m.super}
	for c := range block.index {
		s.record(c)
	}
	return nil
}

// EndBlock finalizes the current block: see Epoch.EndBlock.
func (m EpochMut) EndBlock() (digest.Hash, error) {
	e := m.epoch
	if e.open {
		block, _, _ := e.inner.last()
		root := block.Digest()
		e.closeBlock()
		log.Debug(log.TierMonitoring, "block finalized", "block", e.inner.Len()-1, "root", root.Short())
		return root, nil
	}
	if e.inner.IsFull() {
		return digest.Zero, tcterrors.ErrEpochFull
	}
	empty := newBlock(e.hasher)
	if err := e.inner.Insert(Forget(empty)); err != nil {
		return digest.Zero, err
	}
	log.Debug(log.TierMonitoring, "empty block finalized", "block", e.inner.Len()-1)
	return empty.Digest(), nil
}

// Forget drops c from the epoch, its block and any index above: see Epoch.Forget.
func (m EpochMut) Forget(c Commitment) bool {
	e := m.epoch
	blockPos, ok := e.index[c]
	if !ok {
		return false
	}
	block, ok := e.inner.get(int(blockPos))
	if !ok {
		return false
	}
	bm := BlockMut{
		block: block,
		super: &superIndex{position: blockPos, index: e.index, parent: m.super},
	}
	if !bm.Forget(c) {
		return false
	}
	if block.Witnessed() == 0 && !e.isOpenBlock(int(blockPos)) {
		e.inner.forget(int(blockPos))
	}
	return true
}
