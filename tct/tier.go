package tct

import (
	"github.com/colorfulnotion/tct/digest"
	"github.com/colorfulnotion/tct/log"
	"github.com/colorfulnotion/tct/tcterrors"
)

const (
	// TierHeight is the number of quaternary levels inside one tier.
	TierHeight = 8
	// TierCapacity is the number of children one tier holds (4^8).
	TierCapacity = 1 << (2 * TierHeight)
)

// AuthPath lists, from the leaf upwards, the three sibling digests at every level, in slot order
// with the path's own slot removed.
type AuthPath [][3]digest.Hash

// child is anything a tier can hold: a committed item or a nested tier.
type child interface {
	hashWith(h digest.Hasher) digest.Hash
}

type slot[T child] struct {
	child  T
	kept   bool
	hashed bool
	hash   digest.Hash
}

// Tier is an append-only quadtree of TierCapacity slots whose root digest is computed lazily.
//
// Slots below the clean watermark have up-to-date ancestors in levels; Digest rehashes only what
// lies at or above it. levels[l] holds the internal nodes at global height base+l+1. Subtrees
// past the filled prefix digest to digest.Zero.
type Tier[T child] struct {
	hasher digest.Hasher
	base   uint8
	slots  []slot[T]
	levels [TierHeight][]digest.Hash
	clean  int
	root   digest.Hash
}

func newTier[T child](h digest.Hasher, base uint8) Tier[T] {
	return Tier[T]{hasher: h, base: base}
}

// Len is the number of filled slots.
func (t *Tier[T]) Len() int {
	return len(t.slots)
}

func (t *Tier[T]) IsEmpty() bool {
	return len(t.slots) == 0
}

func (t *Tier[T]) IsFull() bool {
	return len(t.slots) >= TierCapacity
}

// Insert appends ins at the next free slot. A full tier returns ErrTierFull and is left as it was.
func (t *Tier[T]) Insert(ins Insert[T]) error {
	if t.IsFull() {
		return tcterrors.ErrTierFull
	}
	if v, ok := ins.Keep(); ok {
		t.slots = append(t.slots, slot[T]{child: v, kept: true})
		return nil
	}
	t.slots = append(t.slots, slot[T]{hash: ins.Value().hashWith(t.hasher), hashed: true})
	return nil
}

// Digest returns the root digest, rehashing whatever changed since the previous call.
func (t *Tier[T]) Digest() digest.Hash {
	n := len(t.slots)
	if n == 0 {
		return digest.Zero
	}
	if t.clean == n {
		return t.root
	}
	from := t.clean
	log.Trace(log.TierMonitoring, "tier rehash", "base", t.base, "from", from, "len", n)

	for i := from; i < n; i++ {
		s := &t.slots[i]
		if !s.hashed {
			s.hash = s.child.hashWith(t.hasher)
			s.hashed = true
		}
	}
	width := n
	for l := 0; l < TierHeight; l++ {
		from >>= 2
		width = (width + 3) >> 2
		for len(t.levels[l]) < width {
			t.levels[l] = append(t.levels[l], digest.Zero)
		}
		height := t.base + uint8(l) + 1
		for j := from; j < width; j++ {
			k := 4 * j
			t.levels[l][j] = t.hasher.Node(height, t.below(l, k), t.below(l, k+1), t.below(l, k+2), t.below(l, k+3))
		}
	}
	t.root = t.levels[TierHeight-1][0]
	t.clean = n
	return t.root
}

// below is the digest of the k-th child of the nodes at level l.
func (t *Tier[T]) below(l, k int) digest.Hash {
	if l == 0 {
		if k < len(t.slots) {
			return t.slots[k].hash
		}
		return digest.Zero
	}
	if k < len(t.levels[l-1]) {
		return t.levels[l-1][k]
	}
	return digest.Zero
}

// Witness returns the authentication path of slot index and that slot's digest. It reports
// false for an unfilled slot or one holding only a digest.
func (t *Tier[T]) Witness(index int) (AuthPath, digest.Hash, bool) {
	if index < 0 || index >= len(t.slots) || !t.slots[index].kept {
		return nil, digest.Zero, false
	}
	t.Digest()

	path := make(AuthPath, TierHeight)
	k := index
	for l := 0; l < TierHeight; l++ {
		first, n := k&^3, 0
		for j := first; j < first+4; j++ {
			if j == k {
				continue
			}
			path[l][n] = t.below(l, j)
			n++
		}
		k >>= 2
	}
	return path, t.slots[index].hash, true
}

// get returns the kept child at index.
func (t *Tier[T]) get(index int) (T, bool) {
	if index < 0 || index >= len(t.slots) || !t.slots[index].kept {
		var zero T
		return zero, false
	}
	return t.slots[index].child, true
}

// last returns the final slot's child if it is kept.
func (t *Tier[T]) last() (T, int, bool) {
	i := len(t.slots) - 1
	c, ok := t.get(i)
	return c, i, ok
}

// markDirty records that the child at index changed its digest.
func (t *Tier[T]) markDirty(index int) {
	t.slots[index].hashed = false
	if index < t.clean {
		t.clean = index
	}
}

// forget drops the child at index, keeping its digest. No digest changes.
func (t *Tier[T]) forget(index int) bool {
	if index < 0 || index >= len(t.slots) || !t.slots[index].kept {
		return false
	}
	s := &t.slots[index]
	if !s.hashed {
		s.hash = s.child.hashWith(t.hasher)
		s.hashed = true
	}
	var zero T
	s.child = zero
	s.kept = false
	return true
}
