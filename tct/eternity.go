package tct

import (
	"fmt"

	"github.com/colorfulnotion/tct/digest"
	"github.com/colorfulnotion/tct/log"
	"github.com/colorfulnotion/tct/tcterrors"
)

// Eternity is the root of the commitment tree: up to 65,536 Epochs of 65,536 Blocks of 65,536
// commitments.
//
// An Eternity is not safe for concurrent use. Digest and Witness update lazily computed caches, so
// even readers must be serialized against each other unless Digest has been called since the last
// mutation.
type Eternity struct {
	hasher digest.Hasher
	index  map[Commitment]uint16
	inner  Tier[*Epoch]
	// open is set while the last epoch still accepts blocks.
	open bool
}

// NewEternity creates a new empty Eternity.
func NewEternity(opts ...Option) *Eternity {
	h := buildOptions(opts).hasher
	return &Eternity{
		hasher: h,
		index:  make(map[Commitment]uint16),
		inner:  newTier[*Epoch](h, 2*TierHeight),
	}
}

// Hasher returns the hash function the tree was built with.
func (t *Eternity) Hasher() digest.Hasher {
	return t.hasher
}

// currentEpoch returns a handle on the open epoch, appending a new one if needed.
func (t *Eternity) currentEpoch() (EpochMut, int, error) {
	if !t.open {
		if t.inner.IsFull() {
			return EpochMut{}, 0, tcterrors.ErrEternityFull
		}
		epoch := newEpoch(t.hasher)
		epoch.owned = true
		if err := t.inner.Insert(Keep(epoch)); err != nil {
			return EpochMut{}, 0, err
		}
		t.open = true
	}
	epoch, pos, _ := t.inner.last()
	return EpochMut{
		epoch: epoch,
		super: &superIndex{position: uint16(pos), index: t.index},
	}, pos, nil
}

// Insert adds a commitment to the current block of the current epoch.
//
// If the current block is full the error wraps ErrBlockFull and EndBlock must be called before
// inserting again; likewise ErrEpochFull calls for EndEpoch.
func (t *Eternity) Insert(item Insert[Commitment]) error {
	epoch, pos, err := t.currentEpoch()
	if err != nil {
		return &InsertError{Item: item, Err: err}
	}
	if err := epoch.Insert(item); err != nil {
		return err
	}
	t.inner.markDirty(pos)
	return nil
}

// InsertBlock ends the current block and appends a whole block to the current epoch.
func (t *Eternity) InsertBlock(block Insert[*Block]) error {
	epoch, pos, err := t.currentEpoch()
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	if err := epoch.InsertBlock(block); err != nil {
		return err
	}
	t.inner.markDirty(pos)
	return nil
}

// InsertEpoch ends the current epoch and appends a whole epoch after it. A kept epoch is owned
// by the eternity afterwards; see Epoch.Insert.
func (t *Eternity) InsertEpoch(ins Insert[*Epoch]) error {
	if t.inner.IsFull() {
		return fmt.Errorf("insert epoch: %w", tcterrors.ErrEternityFull)
	}
	epoch := ins.Value()
	if epoch.hasher.Name() != t.hasher.Name() {
		return fmt.Errorf("insert epoch: %w", tcterrors.ErrHasherMismatch)
	}
	if ins.IsKeep() && epoch.owned {
		return fmt.Errorf("insert epoch: %w", tcterrors.ErrChildOwned)
	}
	t.closeEpoch()
	if ins.IsKeep() {
		epoch.closeBlock()
	}
	pos := t.inner.Len()
	if err := t.inner.Insert(ins); err != nil {
		return fmt.Errorf("insert epoch: %w", err)
	}
	if !ins.IsKeep() {
		return nil
	}
	epoch.owned = true
	if epoch.Witnessed() == 0 {
		t.inner.forget(pos)
		return nil
	}
	s := &superIndex{position: uint16(pos), index: t.index}
	for c := range epoch.index {
		s.record(c)
	}
	return nil
}

// EndBlock finalizes the current block of the current epoch and returns its root.
func (t *Eternity) EndBlock() (digest.Hash, error) {
	epoch, pos, err := t.currentEpoch()
	if err != nil {
		return digest.Zero, err
	}
	root, err := epoch.EndBlock()
	if err != nil {
		return digest.Zero, err
	}
	t.inner.markDirty(pos)
	return root, nil
}

// EndEpoch finalizes the current epoch and returns its root. If no epoch is open an empty one is
// appended.
func (t *Eternity) EndEpoch() (digest.Hash, error) {
	if t.open {
		epoch, pos, _ := t.inner.last()
		epoch.closeBlock()
		root := epoch.Digest()
		t.closeEpoch()
		log.Debug(log.TierMonitoring, "epoch finalized", "epoch", pos, "blocks", epoch.Len(), "root", root.Short())
		return root, nil
	}
	if t.inner.IsFull() {
		return digest.Zero, tcterrors.ErrEternityFull
	}
	empty := newEpoch(t.hasher)
	if err := t.inner.Insert(Forget(empty)); err != nil {
		return digest.Zero, err
	}
	log.Debug(log.TierMonitoring, "empty epoch finalized", "epoch", t.inner.Len()-1)
	return empty.Digest(), nil
}

// closeEpoch finalizes the open epoch, pruning it to its digest if nothing in it is witnessed.
func (t *Eternity) closeEpoch() {
	if !t.open {
		return
	}
	t.open = false
	epoch, pos, ok := t.inner.last()
	if !ok {
		return
	}
	epoch.closeBlock()
	if epoch.Witnessed() == 0 {
		t.inner.forget(pos)
	}
}

// Forget stops witnessing c. The eternity's digest is unchanged.
func (t *Eternity) Forget(c Commitment) bool {
	epochPos, ok := t.index[c]
	if !ok {
		return false
	}
	epoch, ok := t.inner.get(int(epochPos))
	if !ok {
		return false
	}
	em := EpochMut{
		epoch: epoch,
		super: &superIndex{position: epochPos, index: t.index},
	}
	if !em.Forget(c) {
		return false
	}
	if epoch.Witnessed() == 0 && !(t.open && int(epochPos) == t.inner.Len()-1) {
		t.inner.forget(int(epochPos))
	}
	return true
}

// Len is the number of epochs in the eternity.
func (t *Eternity) Len() int {
	return t.inner.Len()
}

func (t *Eternity) IsEmpty() bool {
	return t.inner.IsEmpty()
}

func (t *Eternity) Witnessed() int {
	return len(t.index)
}

// Digest returns the root hash of the whole tree.
func (t *Eternity) Digest() digest.Hash {
	return t.inner.Digest()
}

// EpochAt returns the epoch at position i, unless it has been forgotten. The epoch is shared with
// the eternity and must not be modified.
func (t *Eternity) EpochAt(i uint16) (*Epoch, bool) {
	return t.inner.get(int(i))
}

// PositionOf returns where c is witnessed.
func (t *Eternity) PositionOf(c Commitment) (Position, bool) {
	epochPos, ok := t.index[c]
	if !ok {
		return 0, false
	}
	epoch, ok := t.inner.get(int(epochPos))
	if !ok {
		return 0, false
	}
	pos, ok := epoch.PositionOf(c)
	if !ok {
		return 0, false
	}
	return Position(uint64(epochPos)<<32 | uint64(pos)), true
}

// Position returns where the next inserted commitment will go, or false if the current block
// or the tree cannot take another commitment.
func (t *Eternity) Position() (Position, bool) {
	if !t.open {
		if t.inner.IsFull() {
			return 0, false
		}
		return NewPosition(uint16(t.inner.Len()), 0, 0), true
	}
	epoch, epochPos, _ := t.inner.last()
	if !epoch.open {
		if epoch.IsFull() {
			return 0, false
		}
		return NewPosition(uint16(epochPos), uint16(epoch.Len()), 0), true
	}
	block, blockPos, _ := epoch.inner.last()
	if block.IsFull() {
		return 0, false
	}
	return NewPosition(uint16(epochPos), uint16(blockPos), uint16(block.Len())), true
}

// Witness returns a proof of inclusion of c against the eternity's root.
func (t *Eternity) Witness(c Commitment) (Proof, bool) {
	epochPos, ok := t.index[c]
	if !ok {
		return Proof{}, false
	}
	epoch, ok := t.inner.get(int(epochPos))
	if !ok {
		return Proof{}, false
	}
	proof, ok := epoch.Witness(c)
	if !ok {
		return Proof{}, false
	}
	path, _, ok := t.inner.Witness(int(epochPos))
	if !ok {
		return Proof{}, false
	}
	proof.Position |= uint64(epochPos) << 32
	proof.AuthPath = append(proof.AuthPath, path...)
	return proof, true
}
