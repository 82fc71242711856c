package tct

import (
	"errors"
	"testing"

	"github.com/colorfulnotion/tct/digest"
	"github.com/colorfulnotion/tct/tcterrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestEternityIndicesAgree(t *testing.T) {
	h := digest.NewBlake2b()
	tree := NewEternity(WithHasher(h))
	x := commitment(42)

	require.NoError(t, tree.Insert(Keep(commitment(1))))
	_, err := tree.EndEpoch()
	require.NoError(t, err)
	require.NoError(t, tree.Insert(Keep(commitment(2))))
	_, err = tree.EndBlock()
	require.NoError(t, err)
	require.NoError(t, tree.Insert(Keep(commitment(3))))
	require.NoError(t, tree.Insert(Keep(x)))

	assert.Equal(t, uint16(1), tree.index[x])
	epoch, ok := tree.EpochAt(1)
	require.True(t, ok)
	assert.Equal(t, uint16(1), epoch.index[x])
	block, ok := epoch.BlockAt(1)
	require.True(t, ok)
	assert.Equal(t, uint16(1), block.index[x])

	pos, ok := tree.PositionOf(x)
	require.True(t, ok)
	assert.Equal(t, NewPosition(1, 1, 1), pos)
	assert.Equal(t, "1/1/1", pos.String())

	proof, ok := tree.Witness(x)
	require.True(t, ok)
	assert.Equal(t, uint64(pos), proof.Position)
	assert.Len(t, proof.AuthPath, 3*TierHeight)
	assert.True(t, proof.Verify(h, tree.Digest()))
}

func TestEternityFailedInsertLeavesIndices(t *testing.T) {
	tree := NewEternity(WithHasher(digest.NewBlake2b()))
	for i := 0; i < TierCapacity; i++ {
		require.NoError(t, tree.Insert(Keep(commitment(uint64(i)))))
	}
	epoch, _ := tree.EpochAt(0)
	block, _ := epoch.BlockAt(0)
	before := [3]int{tree.Witnessed(), epoch.Witnessed(), block.Witnessed()}
	root := tree.Digest()

	_, ok := tree.Position()
	assert.False(t, ok)

	w := commitment(1 << 40)
	err := tree.Insert(Keep(w))
	require.ErrorIs(t, err, tcterrors.ErrBlockFull)
	var insertErr *InsertError
	require.True(t, errors.As(err, &insertErr))
	assert.Equal(t, Keep(w), insertErr.Item)

	assert.Equal(t, before, [3]int{tree.Witnessed(), epoch.Witnessed(), block.Witnessed()})
	assert.Equal(t, root, tree.Digest())
	_, ok = tree.PositionOf(w)
	assert.False(t, ok)

	_, err = tree.EndBlock()
	require.NoError(t, err)
	require.NoError(t, tree.Insert(Keep(w)))
	pos, ok := tree.PositionOf(w)
	require.True(t, ok)
	assert.Equal(t, NewPosition(0, 1, 0), pos)
}

func TestEternityFull(t *testing.T) {
	tree := NewEternity(WithHasher(digest.NewBlake2b()))
	for i := 0; i < TierCapacity; i++ {
		_, err := tree.EndEpoch()
		require.NoError(t, err)
	}
	_, ok := tree.Position()
	assert.False(t, ok)

	err := tree.Insert(Keep(commitment(1)))
	require.ErrorIs(t, err, tcterrors.ErrEternityFull)
	_, err = tree.EndEpoch()
	require.ErrorIs(t, err, tcterrors.ErrEternityFull)
	assert.Equal(t, TierCapacity, tree.Len())
	assert.Equal(t, 0, tree.Witnessed())
}

func TestEternityPosition(t *testing.T) {
	tree := NewEternity()

	pos, ok := tree.Position()
	require.True(t, ok)
	assert.Equal(t, NewPosition(0, 0, 0), pos)

	require.NoError(t, tree.Insert(Keep(commitment(1))))
	pos, _ = tree.Position()
	assert.Equal(t, NewPosition(0, 0, 1), pos)

	_, err := tree.EndBlock()
	require.NoError(t, err)
	pos, _ = tree.Position()
	assert.Equal(t, NewPosition(0, 1, 0), pos)

	_, err = tree.EndEpoch()
	require.NoError(t, err)
	pos, _ = tree.Position()
	assert.Equal(t, NewPosition(1, 0, 0), pos)

	require.NoError(t, tree.Insert(Forget(commitment(2))))
	pos, _ = tree.Position()
	assert.Equal(t, NewPosition(1, 0, 1), pos)
}

func TestEternityEndEpochReturnsEpochRoot(t *testing.T) {
	h := digest.NewMiMC()
	tree := NewEternity(WithHasher(h))

	root, err := tree.EndEpoch()
	require.NoError(t, err)
	assert.Equal(t, digest.Zero, root)

	require.NoError(t, tree.Insert(Keep(commitment(5))))
	epoch, ok := tree.EpochAt(1)
	require.True(t, ok)
	want := epoch.Digest()
	assert.NotEqual(t, digest.Zero, want)

	root, err = tree.EndEpoch()
	require.NoError(t, err)
	assert.Equal(t, want, root)
}

func TestEternityInsertEpoch(t *testing.T) {
	h := digest.NewBlake2b()
	x, y := commitment(7), commitment(8)

	inline := NewEternity(WithHasher(h))
	require.NoError(t, inline.Insert(Keep(commitment(1))))
	_, err := inline.EndEpoch()
	require.NoError(t, err)
	require.NoError(t, inline.Insert(Keep(x)))
	_, err = inline.EndBlock()
	require.NoError(t, err)
	require.NoError(t, inline.Insert(Keep(y)))
	_, err = inline.EndEpoch()
	require.NoError(t, err)

	epoch := NewEpoch(WithHasher(h))
	require.NoError(t, epoch.Insert(Keep(x)))
	_, err = epoch.EndBlock()
	require.NoError(t, err)
	require.NoError(t, epoch.Insert(Keep(y)))

	whole := NewEternity(WithHasher(h))
	require.NoError(t, whole.Insert(Keep(commitment(1))))
	require.NoError(t, whole.InsertEpoch(Keep(epoch)))
	assert.Equal(t, inline.Digest(), whole.Digest())

	pos, ok := whole.PositionOf(y)
	require.True(t, ok)
	assert.Equal(t, NewPosition(1, 1, 0), pos)
	proof, ok := whole.Witness(x)
	require.True(t, ok)
	assert.True(t, proof.Verify(h, whole.Digest()))

	// the inserted epoch is finalized, so the next commitment opens epoch 2
	require.NoError(t, whole.Insert(Keep(commitment(9))))
	assert.Equal(t, 3, whole.Len())

	pruned := NewEternity(WithHasher(h))
	require.NoError(t, pruned.Insert(Keep(commitment(1))))
	require.NoError(t, pruned.InsertEpoch(Forget(epoch)))
	assert.Equal(t, inline.Digest(), pruned.Digest())
	_, ok = pruned.Witness(x)
	assert.False(t, ok)
}

func TestEternityInsertBlock(t *testing.T) {
	h := digest.NewBlake2b()
	block := NewBlock(WithHasher(h))
	require.NoError(t, block.Insert(Keep(commitment(3))))

	tree := NewEternity(WithHasher(h))
	require.NoError(t, tree.Insert(Keep(commitment(1))))
	require.NoError(t, tree.InsertBlock(Keep(block)))

	pos, ok := tree.PositionOf(commitment(3))
	require.True(t, ok)
	assert.Equal(t, NewPosition(0, 1, 0), pos)
	pos, _ = tree.Position()
	assert.Equal(t, NewPosition(0, 2, 0), pos)
}

func TestEternityForgetPrunesEpoch(t *testing.T) {
	h := digest.NewBlake2b()
	tree := NewEternity(WithHasher(h))
	a, b := commitment(1), commitment(2)

	require.NoError(t, tree.Insert(Keep(a)))
	_, err := tree.EndEpoch()
	require.NoError(t, err)
	require.NoError(t, tree.Insert(Keep(b)))
	root := tree.Digest()

	require.True(t, tree.Forget(a))
	assert.False(t, tree.Forget(a))
	_, ok := tree.EpochAt(0)
	assert.False(t, ok)
	assert.Equal(t, root, tree.Digest())

	proof, ok := tree.Witness(b)
	require.True(t, ok)
	assert.True(t, proof.Verify(h, root))

	require.True(t, tree.Forget(b))
	_, ok = tree.EpochAt(1)
	assert.True(t, ok, "the open epoch is never pruned")
	assert.Equal(t, root, tree.Digest())
	assert.Equal(t, 0, tree.Witnessed())
}

// applyScript drives tree through a seeded sequence of inserts and block/epoch ends, with the
// inserts listed in forget turned into Forget inserts.
func applyScript(t *testing.T, tree *Eternity, seed uint64, n int, forget map[int]bool) []Commitment {
	r := rand.New(rand.NewSource(seed))
	var values []Commitment
	for i := 0; i < n; i++ {
		switch r.Intn(20) {
		case 0:
			_, err := tree.EndEpoch()
			require.NoError(t, err)
		case 1, 2:
			_, err := tree.EndBlock()
			require.NoError(t, err)
		}
		c := commitment(seed<<32 | uint64(i))
		values = append(values, c)
		if forget[i] {
			require.NoError(t, tree.Insert(Forget(c)))
		} else {
			require.NoError(t, tree.Insert(Keep(c)))
		}
	}
	return values
}

func TestEternityForgetAfterInsertMatchesForgetUpfront(t *testing.T) {
	h := digest.NewBlake2b()
	for seed := uint64(1); seed <= 8; seed++ {
		r := rand.New(rand.NewSource(seed + 100))
		n := 50 + r.Intn(250)
		forget := make(map[int]bool)
		for i := 0; i < n; i++ {
			if r.Intn(3) > 0 {
				forget[i] = true
			}
		}

		later := NewEternity(WithHasher(h))
		values := applyScript(t, later, seed, n, nil)
		upfront := NewEternity(WithHasher(h))
		applyScript(t, upfront, seed, n, forget)

		if seed%2 == 0 {
			later.Digest()
		}
		for i := range forget {
			require.True(t, later.Forget(values[i]))
		}

		root := later.Digest()
		require.Equal(t, upfront.Digest(), root, "seed %d", seed)
		assert.Equal(t, upfront.Witnessed(), later.Witnessed())
		for i, c := range values {
			proof, ok := later.Witness(c)
			require.Equal(t, !forget[i], ok, "seed %d item %d", seed, i)
			if ok {
				assert.True(t, proof.Verify(h, root))
			}
		}
	}
}

func TestEternityEpochAtRefusesDirectChanges(t *testing.T) {
	h := digest.NewBlake2b()
	tree := NewEternity(WithHasher(h))
	x, y := commitment(1), commitment(2)
	require.NoError(t, tree.Insert(Keep(x)))
	root := tree.Digest()

	epoch, ok := tree.EpochAt(0)
	require.True(t, ok)
	require.ErrorIs(t, epoch.Insert(Keep(y)), tcterrors.ErrChildOwned)
	require.ErrorIs(t, epoch.InsertBlock(Keep(NewBlock(WithHasher(h)))), tcterrors.ErrChildOwned)
	_, err := epoch.EndBlock()
	require.ErrorIs(t, err, tcterrors.ErrChildOwned)
	assert.False(t, epoch.Forget(x))

	block, ok := epoch.BlockAt(0)
	require.True(t, ok)
	require.ErrorIs(t, block.Insert(Keep(y)), tcterrors.ErrChildOwned)

	assert.Equal(t, root, tree.Digest())
	assert.Equal(t, 1, tree.Witnessed())
	proof, ok := tree.Witness(x)
	require.True(t, ok)
	assert.True(t, proof.Verify(h, tree.Digest()))
}

func TestEternityInsertEpochTakesOwnership(t *testing.T) {
	h := digest.NewBlake2b()
	x, y := commitment(1), commitment(2)
	epoch := NewEpoch(WithHasher(h))
	require.NoError(t, epoch.Insert(Keep(x)))

	tree := NewEternity(WithHasher(h))
	require.NoError(t, tree.InsertEpoch(Keep(epoch)))
	root := tree.Digest()

	require.ErrorIs(t, epoch.Insert(Keep(y)), tcterrors.ErrChildOwned)
	assert.False(t, epoch.Forget(x))
	assert.Equal(t, root, tree.Digest())
	proof, ok := tree.Witness(x)
	require.True(t, ok)
	assert.True(t, proof.Verify(h, tree.Digest()))

	other := NewEternity(WithHasher(h))
	require.ErrorIs(t, other.InsertEpoch(Keep(epoch)), tcterrors.ErrChildOwned)
	assert.True(t, other.IsEmpty())

	block := NewBlock(WithHasher(h))
	require.NoError(t, block.Insert(Keep(commitment(3))))
	require.NoError(t, tree.InsertBlock(Keep(block)))
	require.ErrorIs(t, block.Insert(Keep(y)), tcterrors.ErrChildOwned)
}
