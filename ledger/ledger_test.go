package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/colorfulnotion/tct/digest"
	"github.com/colorfulnotion/tct/store"
	"github.com/colorfulnotion/tct/tcterrors"
	"github.com/colorfulnotion/tct/tct"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitment(v uint64) tct.Commitment {
	var c tct.Commitment
	c.SetUint64(v)
	return c
}

func openLedger(t *testing.T, path string) *Ledger {
	l, err := Open(context.Background(), Config{Path: path, Hasher: digest.NewBlake2b()})
	require.NoError(t, err)
	return l
}

func TestLedgerReplay(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := openLedger(t, dir)

	n, err := l.Insert(ctx, tct.Keep(commitment(1)), tct.Forget(commitment(2)), tct.Keep(commitment(3)))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = l.EndBlock(ctx)
	require.NoError(t, err)
	_, err = l.Insert(ctx, tct.Keep(commitment(4)))
	require.NoError(t, err)
	ok, err := l.Forget(ctx, commitment(1))
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = l.EndEpoch(ctx)
	require.NoError(t, err)

	root := l.Root()
	stats := l.Stats()
	require.NoError(t, l.Close())

	l = openLedger(t, dir)
	defer l.Close()
	assert.Equal(t, root, l.Root())
	assert.Equal(t, stats, l.Stats())
	assert.Equal(t, uint64(7), stats.Events)
	assert.Equal(t, 2, stats.Witnessed)

	pos, ok := l.PositionOf(commitment(4))
	require.True(t, ok)
	assert.Equal(t, tct.NewPosition(0, 1, 0), pos)
	_, ok = l.PositionOf(commitment(1))
	assert.False(t, ok)

	proof, ok := l.Witness(ctx, commitment(3))
	require.True(t, ok)
	assert.True(t, proof.Verify(digest.NewBlake2b(), root))
}

func TestLedgerForgetUnknown(t *testing.T) {
	l := openLedger(t, "")
	defer l.Close()

	ok, err := l.Forget(context.Background(), commitment(9))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), l.Stats().Events, "nothing to log")
}

func TestLedgerDetectsDivergedCheckpoint(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := openLedger(t, dir)
	_, err := l.Insert(ctx, tct.Keep(commitment(1)))
	require.NoError(t, err)
	_, err = l.EndBlock(ctx)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	events, err := store.Open(dir)
	require.NoError(t, err)
	var wrong digest.Hash
	wrong[31] = 7
	require.NoError(t, events.PutCheckpoint(1, wrong))
	require.NoError(t, events.Close())

	_, err = Open(ctx, Config{Path: dir, Hasher: digest.NewBlake2b()})
	require.ErrorIs(t, err, tcterrors.ErrReplayMismatch)
}

func TestLedgerRejectsOtherHasher(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, openLedger(t, dir).Close())

	_, err := Open(context.Background(), Config{Path: dir, Hasher: digest.NewMiMC()})
	require.ErrorIs(t, err, tcterrors.ErrHasherMismatch)
}

func TestLedgerPartialInsert(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t, "")
	defer l.Close()

	items := make([]tct.Insert[tct.Commitment], tct.TierCapacity+2)
	for i := range items {
		items[i] = tct.Forget(commitment(uint64(i)))
	}
	n, err := l.Insert(ctx, items...)
	require.ErrorIs(t, err, tcterrors.ErrBlockFull)
	assert.Equal(t, tct.TierCapacity, n)
	assert.Equal(t, uint64(tct.TierCapacity), l.Stats().Events)
	assert.True(t, l.Stats().Full)

	_, err = l.EndBlock(ctx)
	require.NoError(t, err)
	n, err = l.Insert(ctx, items[n:]...)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLedgerPoisonedByLostWrite(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t, "")
	require.NoError(t, l.events.Close())

	_, err := l.Insert(ctx, tct.Keep(commitment(1)))
	require.ErrorIs(t, err, tcterrors.ErrLedgerCorrupt)
	_, err = l.EndBlock(ctx)
	require.ErrorIs(t, err, tcterrors.ErrLedgerCorrupt)
}

func TestLedgerClosed(t *testing.T) {
	l := openLedger(t, "")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, err := l.Insert(context.Background(), tct.Keep(commitment(1)))
	require.ErrorIs(t, err, tcterrors.ErrLedgerClosed)
	_, err = l.EndEpoch(context.Background())
	require.ErrorIs(t, err, tcterrors.ErrLedgerClosed)
}

func TestLedgerConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t, "")
	defer l.Close()
	h := digest.NewBlake2b()

	_, err := l.Insert(ctx, tct.Keep(commitment(0)))
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				l.Tree(func(tree *tct.Eternity) {
					proof, ok := tree.Witness(commitment(0))
					assert.True(t, ok)
					assert.True(t, proof.Verify(h, tree.Digest()))
				})
			}
		}()
	}
	for i := 1; i < 300; i++ {
		_, err := l.Insert(ctx, tct.Keep(commitment(uint64(i))))
		require.NoError(t, err)
		if i%50 == 0 {
			_, err := l.EndBlock(ctx)
			require.NoError(t, err)
		}
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, 300, l.Stats().Witnessed)
}

func TestLedgerWatch(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t, "")
	defer l.Close()

	var got []Finalized
	l.Watch(func(f Finalized) {
		// runs outside the lock, so reading the ledger is fine
		assert.Equal(t, f.TreeRoot, l.Root())
		got = append(got, f)
	})

	_, err := l.Insert(ctx, tct.Keep(commitment(1)))
	require.NoError(t, err)
	blockRoot, err := l.EndBlock(ctx)
	require.NoError(t, err)
	_, err = l.EndEpoch(ctx)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, store.KindEndBlock, got[0].Kind)
	assert.Equal(t, blockRoot, got[0].Root)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, tct.NewPosition(0, 1, 0), got[0].Next)
	assert.Equal(t, store.KindEndEpoch, got[1].Kind)
	assert.Equal(t, tct.NewPosition(1, 0, 0), got[1].Next)
}
