package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/colorfulnotion/tct/digest"
	"github.com/colorfulnotion/tct/log"
	"github.com/colorfulnotion/tct/tcterrors"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	eventPrefix      = []byte("ev_")
	checkpointPrefix = []byte("rt_")
	hasherKey        = []byte("meta_hasher")
)

// EventLog is an append-only log of tree events in LevelDB, with tree roots checkpointed along
// the way. Sequence numbers start at 0 and have no gaps.
//
// LevelDB handles its own synchronization; mu only orders sequence number assignment.
type EventLog struct {
	mu   sync.Mutex
	db   *leveldb.DB
	next uint64
}

// Open opens or creates the log at path. An empty path gives an in-memory log.
func Open(path string) (*EventLog, error) {
	var db *leveldb.DB
	var err error
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open event log at %s: %w", path, err)
	}

	s := &EventLog{db: db}
	iter := db.NewIterator(util.BytesPrefix(eventPrefix), nil)
	if iter.Last() {
		s.next = decodeSeq(iter.Key()[len(eventPrefix):]) + 1
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		db.Close()
		return nil, fmt.Errorf("scan event log: %w", err)
	}
	log.Debug(log.StoreMonitoring, "event log opened", "path", path, "events", s.next)
	return s, nil
}

func seqKey(prefix []byte, seq uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

func decodeSeq(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Len is the number of events in the log.
func (s *EventLog) Len() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Append writes one event and returns its sequence number.
func (s *EventLog) Append(ev Event) (uint64, error) {
	return s.AppendBatch([]Event{ev}, nil)
}

// AppendBatch writes evs atomically and returns the sequence number of the last one. If root is
// not nil it is checkpointed at that sequence number in the same write.
func (s *EventLog) AppendBatch(evs []Event, root *digest.Hash) (uint64, error) {
	if len(evs) == 0 {
		return 0, errors.New("append: no events")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	seq := s.next
	for _, ev := range evs {
		data, err := ev.MarshalBinary()
		if err != nil {
			return 0, err
		}
		batch.Put(seqKey(eventPrefix, seq), data)
		seq++
	}
	last := seq - 1
	if root != nil {
		batch.Put(seqKey(checkpointPrefix, last), root.Bytes())
	}
	if err := s.db.Write(batch, nil); err != nil {
		return 0, fmt.Errorf("append %d events at %d: %w", len(evs), s.next, err)
	}
	s.next = seq
	log.Trace(log.StoreMonitoring, "events appended", "count", len(evs), "last", last, "checkpoint", root != nil)
	return last, nil
}

// PutCheckpoint records the tree root after event seq has been applied.
func (s *EventLog) PutCheckpoint(seq uint64, root digest.Hash) error {
	if seq >= s.Len() {
		return fmt.Errorf("checkpoint at %d: only %d events", seq, s.Len())
	}
	return s.db.Put(seqKey(checkpointPrefix, seq), root.Bytes(), nil)
}

// Events calls fn for every event in sequence order, stopping at the first error.
func (s *EventLog) Events(fn func(seq uint64, ev Event) error) error {
	iter := s.db.NewIterator(util.BytesPrefix(eventPrefix), nil)
	defer iter.Release()

	want := uint64(0)
	for iter.Next() {
		seq := decodeSeq(iter.Key()[len(eventPrefix):])
		if seq != want {
			return fmt.Errorf("%w: found event %d, expected %d", tcterrors.ErrBadEvent, seq, want)
		}
		var ev Event
		if err := ev.UnmarshalBinary(iter.Value()); err != nil {
			return fmt.Errorf("event %d: %w", seq, err)
		}
		if err := fn(seq, ev); err != nil {
			return err
		}
		want++
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	return nil
}

// Checkpoints returns every recorded root by sequence number.
func (s *EventLog) Checkpoints() (map[uint64]digest.Hash, error) {
	iter := s.db.NewIterator(util.BytesPrefix(checkpointPrefix), nil)
	defer iter.Release()

	out := make(map[uint64]digest.Hash)
	for iter.Next() {
		var root digest.Hash
		if len(iter.Value()) != digest.Size {
			return nil, fmt.Errorf("%w: checkpoint of %d bytes", tcterrors.ErrBadHash, len(iter.Value()))
		}
		copy(root[:], iter.Value())
		out[decodeSeq(iter.Key()[len(checkpointPrefix):])] = root
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("read checkpoints: %w", err)
	}
	return out, nil
}

// Hasher returns the hasher name the log was created with, if any.
func (s *EventLog) Hasher() (string, bool, error) {
	data, err := s.db.Get(hasherKey, nil)
	if err == leveldb.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read hasher: %w", err)
	}
	return string(data), true, nil
}

func (s *EventLog) SetHasher(name string) error {
	return s.db.Put(hasherKey, []byte(name), nil)
}

func (s *EventLog) Close() error {
	return s.db.Close()
}
