// Package ledger keeps a commitment tree in step with a durable event log and serves it to
// concurrent readers.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/colorfulnotion/tct/digest"
	"github.com/colorfulnotion/tct/log"
	"github.com/colorfulnotion/tct/store"
	"github.com/colorfulnotion/tct/tcterrors"
	"github.com/colorfulnotion/tct/tct"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/colorfulnotion/tct/ledger"

// Config selects where the event log lives and how the tree is hashed.
type Config struct {
	// Path of the LevelDB directory. Empty keeps everything in memory.
	Path   string
	Hasher digest.Hasher
}

// Stats summarises the tree.
type Stats struct {
	Events    uint64       `json:"events"`
	Epochs    int          `json:"epochs"`
	Witnessed int          `json:"witnessed"`
	Position  tct.Position `json:"position"`
	// Full is set when the current block or the whole tree takes no more commitments.
	Full bool        `json:"full"`
	Root digest.Hash `json:"root"`
}

// Finalized describes a block or epoch that has just been ended.
type Finalized struct {
	Kind store.Kind `json:"kind"`
	// Root is the root of the finalized block or epoch, TreeRoot that of the whole tree after it.
	Root     digest.Hash  `json:"root"`
	TreeRoot digest.Hash  `json:"tree_root"`
	Seq      uint64       `json:"seq"`
	Next     tct.Position `json:"next"`
}

// Ledger is an Eternity whose every mutation is first applied in memory, then logged. Writes are
// serialized; reads run concurrently with each other.
type Ledger struct {
	mu     sync.RWMutex
	tree   *tct.Eternity
	events *store.EventLog
	tracer trace.Tracer
	// poisoned is set once the tree holds a mutation the log failed to record.
	poisoned error
	closed   bool

	watchMu  sync.Mutex
	watchers []func(Finalized)
}

// Open replays the event log at cfg.Path into a fresh tree, checking every recorded root.
func Open(ctx context.Context, cfg Config) (*Ledger, error) {
	tracer := otel.Tracer(tracerName)
	_, span := tracer.Start(ctx, "ledger.Open", trace.WithAttributes(attribute.String("path", cfg.Path)))
	defer span.End()

	h := cfg.Hasher
	if h == nil {
		h = digest.NewMiMC()
	}
	events, err := store.Open(cfg.Path)
	if err != nil {
		return nil, spanError(span, err)
	}
	l := &Ledger{
		tree:   tct.NewEternity(tct.WithHasher(h)),
		events: events,
		tracer: tracer,
	}
	if err := l.replay(h); err != nil {
		events.Close()
		return nil, spanError(span, err)
	}
	l.tree.Digest()
	span.SetAttributes(attribute.Int64("events", int64(events.Len())))
	log.Info(log.LedgerMonitoring, "ledger opened", "path", cfg.Path, "hasher", h.Name(), "events", events.Len(), "root", l.tree.Digest().Short())
	return l, nil
}

func (l *Ledger) replay(h digest.Hasher) error {
	name, ok, err := l.events.Hasher()
	if err != nil {
		return err
	}
	if !ok {
		if err := l.events.SetHasher(h.Name()); err != nil {
			return err
		}
	} else if name != h.Name() {
		return fmt.Errorf("%w: log uses %s, configured %s", tcterrors.ErrHasherMismatch, name, h.Name())
	}

	checkpoints, err := l.events.Checkpoints()
	if err != nil {
		return err
	}
	return l.events.Events(func(seq uint64, ev store.Event) error {
		if err := apply(l.tree, ev); err != nil {
			return fmt.Errorf("replay event %d (%v): %w", seq, ev, err)
		}
		want, ok := checkpoints[seq]
		if !ok {
			return nil
		}
		if got := l.tree.Digest(); got != want {
			log.Error(log.LedgerMonitoring, "replay diverged", "seq", seq, "want", want, "got", got)
			return fmt.Errorf("%w: event %d: root %v, checkpoint %v", tcterrors.ErrReplayMismatch, seq, got, want)
		}
		return nil
	})
}

func apply(tree *tct.Eternity, ev store.Event) error {
	if ins, ok := ev.Insert(); ok {
		return tree.Insert(ins)
	}
	switch ev.Kind {
	case store.KindForget:
		tree.Forget(ev.Commitment)
		return nil
	case store.KindEndBlock:
		_, err := tree.EndBlock()
		return err
	case store.KindEndEpoch:
		_, err := tree.EndEpoch()
		return err
	}
	return fmt.Errorf("%w: %v", tcterrors.ErrBadEvent, ev.Kind)
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// writable must be called with the write lock held.
func (l *Ledger) writable() error {
	if l.closed {
		return tcterrors.ErrLedgerClosed
	}
	return l.poisoned
}

// persist logs events the tree has already applied. On failure the ledger refuses further use.
func (l *Ledger) persist(evs []store.Event, root *digest.Hash) error {
	if _, err := l.events.AppendBatch(evs, root); err != nil {
		l.poisoned = fmt.Errorf("%w: %v", tcterrors.ErrLedgerCorrupt, err)
		log.Error(log.LedgerMonitoring, "event log write failed, ledger poisoned", "err", err)
		return l.poisoned
	}
	return nil
}

// Insert adds commitments to the current block in order. It returns how many were inserted; on
// error the rest, starting with the one that failed, were not.
func (l *Ledger) Insert(ctx context.Context, items ...tct.Insert[tct.Commitment]) (int, error) {
	_, span := l.tracer.Start(ctx, "ledger.Insert", trace.WithAttributes(attribute.Int("items", len(items))))
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writable(); err != nil {
		return 0, spanError(span, err)
	}

	evs := make([]store.Event, 0, len(items))
	var insertErr error
	for _, item := range items {
		if err := l.tree.Insert(item); err != nil {
			insertErr = err
			break
		}
		evs = append(evs, store.InsertEvent(item))
	}
	l.tree.Digest()
	if len(evs) > 0 {
		if err := l.persist(evs, nil); err != nil {
			return 0, spanError(span, err)
		}
	}
	span.SetAttributes(attribute.Int("inserted", len(evs)))
	log.Debug(log.LedgerMonitoring, "inserted", "count", len(evs), "of", len(items))
	if insertErr != nil {
		return len(evs), spanError(span, insertErr)
	}
	return len(evs), nil
}

// Forget stops witnessing c. It reports whether c was witnessed.
func (l *Ledger) Forget(ctx context.Context, c tct.Commitment) (bool, error) {
	_, span := l.tracer.Start(ctx, "ledger.Forget")
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writable(); err != nil {
		return false, spanError(span, err)
	}
	if !l.tree.Forget(c) {
		return false, nil
	}
	l.tree.Digest()
	if err := l.persist([]store.Event{store.ForgetEvent(c)}, nil); err != nil {
		return false, spanError(span, err)
	}
	return true, nil
}

// EndBlock finalizes the current block, checkpoints the tree root and returns the block root.
func (l *Ledger) EndBlock(ctx context.Context) (digest.Hash, error) {
	return l.end(ctx, "ledger.EndBlock", store.EndBlockEvent(), l.tree.EndBlock)
}

// EndEpoch finalizes the current epoch, checkpoints the tree root and returns the epoch root.
func (l *Ledger) EndEpoch(ctx context.Context) (digest.Hash, error) {
	return l.end(ctx, "ledger.EndEpoch", store.EndEpochEvent(), l.tree.EndEpoch)
}

func (l *Ledger) end(ctx context.Context, name string, ev store.Event, fn func() (digest.Hash, error)) (digest.Hash, error) {
	_, span := l.tracer.Start(ctx, name)
	defer span.End()

	l.mu.Lock()
	if err := l.writable(); err != nil {
		l.mu.Unlock()
		return digest.Zero, spanError(span, err)
	}
	root, err := fn()
	if err != nil {
		l.mu.Unlock()
		return digest.Zero, spanError(span, err)
	}
	treeRoot := l.tree.Digest()
	if err := l.persist([]store.Event{ev}, &treeRoot); err != nil {
		l.mu.Unlock()
		return digest.Zero, spanError(span, err)
	}
	next, _ := l.tree.Position()
	done := Finalized{Kind: ev.Kind, Root: root, TreeRoot: treeRoot, Seq: l.events.Len() - 1, Next: next}
	l.mu.Unlock()

	log.Info(log.LedgerMonitoring, "finalized", "event", ev.Kind, "root", root.Short(), "tree", treeRoot.Short())
	l.notify(done)
	return root, nil
}

// Watch registers fn to run after every EndBlock and EndEpoch, outside the ledger lock.
func (l *Ledger) Watch(fn func(Finalized)) {
	l.watchMu.Lock()
	defer l.watchMu.Unlock()
	l.watchers = append(l.watchers, fn)
}

func (l *Ledger) notify(f Finalized) {
	l.watchMu.Lock()
	watchers := append(([]func(Finalized))(nil), l.watchers...)
	l.watchMu.Unlock()
	for _, fn := range watchers {
		fn(f)
	}
}

// Root returns the root of the whole tree.
func (l *Ledger) Root() digest.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tree.Digest()
}

// Witness returns a proof of c against the current root.
func (l *Ledger) Witness(ctx context.Context, c tct.Commitment) (tct.Proof, bool) {
	_, span := l.tracer.Start(ctx, "ledger.Witness")
	defer span.End()

	l.mu.RLock()
	defer l.mu.RUnlock()
	proof, ok := l.tree.Witness(c)
	span.SetAttributes(attribute.Bool("found", ok))
	return proof, ok
}

func (l *Ledger) PositionOf(c tct.Commitment) (tct.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tree.PositionOf(c)
}

func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.tree.Position()
	return Stats{
		Events:    l.events.Len(),
		Epochs:    l.tree.Len(),
		Witnessed: l.tree.Witnessed(),
		Position:  pos,
		Full:      !ok,
		Root:      l.tree.Digest(),
	}
}

// Tree runs fn with read access to the tree. fn must not modify it.
func (l *Ledger) Tree(fn func(*tct.Eternity)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn(l.tree)
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.events.Close()
}
