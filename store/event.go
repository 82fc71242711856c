package store

import (
	"fmt"

	"github.com/colorfulnotion/tct/tcterrors"
	"github.com/colorfulnotion/tct/tct"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
)

// Kind tags one entry of the event log.
type Kind byte

const (
	KindInsertKeep Kind = iota + 1
	KindInsertForget
	KindForget
	KindEndBlock
	KindEndEpoch
)

func (k Kind) String() string {
	switch k {
	case KindInsertKeep:
		return "insert-keep"
	case KindInsertForget:
		return "insert-forget"
	case KindForget:
		return "forget"
	case KindEndBlock:
		return "end-block"
	case KindEndEpoch:
		return "end-epoch"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for c := KindInsertKeep; c <= KindEndEpoch; c++ {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("%w: kind %q", tcterrors.ErrBadEvent, text)
}

// hasCommitment reports whether events of this kind carry a commitment payload.
func (k Kind) hasCommitment() bool {
	return k == KindInsertKeep || k == KindInsertForget || k == KindForget
}

// Event is one mutation of the tree. Replaying the events in order rebuilds it.
type Event struct {
	Kind       Kind
	Commitment tct.Commitment
}

func InsertEvent(ins tct.Insert[tct.Commitment]) Event {
	if ins.IsKeep() {
		return Event{Kind: KindInsertKeep, Commitment: ins.Value()}
	}
	return Event{Kind: KindInsertForget, Commitment: ins.Value()}
}

func ForgetEvent(c tct.Commitment) Event {
	return Event{Kind: KindForget, Commitment: c}
}

func EndBlockEvent() Event { return Event{Kind: KindEndBlock} }
func EndEpochEvent() Event { return Event{Kind: KindEndEpoch} }

// Insert returns the tree insertion an insert event describes.
func (e Event) Insert() (tct.Insert[tct.Commitment], bool) {
	switch e.Kind {
	case KindInsertKeep:
		return tct.Keep(e.Commitment), true
	case KindInsertForget:
		return tct.Forget(e.Commitment), true
	}
	return tct.Insert[tct.Commitment]{}, false
}

// MarshalBinary encodes the event as its kind byte followed, for item events, by the commitment's
// canonical big-endian bytes.
func (e Event) MarshalBinary() ([]byte, error) {
	if e.Kind < KindInsertKeep || e.Kind > KindEndEpoch {
		return nil, fmt.Errorf("%w: %v", tcterrors.ErrBadEvent, e.Kind)
	}
	if !e.Kind.hasCommitment() {
		return []byte{byte(e.Kind)}, nil
	}
	c := e.Commitment.Bytes()
	out := make([]byte, 0, 1+fr.Bytes)
	out = append(out, byte(e.Kind))
	return append(out, c[:]...), nil
}

func (e *Event) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty", tcterrors.ErrBadEvent)
	}
	k := Kind(data[0])
	if k < KindInsertKeep || k > KindEndEpoch {
		return fmt.Errorf("%w: %v", tcterrors.ErrBadEvent, k)
	}
	if !k.hasCommitment() {
		if len(data) != 1 {
			return fmt.Errorf("%w: %v with %d byte payload", tcterrors.ErrBadEvent, k, len(data)-1)
		}
		*e = Event{Kind: k}
		return nil
	}
	if len(data) != 1+fr.Bytes {
		return fmt.Errorf("%w: %v with %d byte payload", tcterrors.ErrBadEvent, k, len(data)-1)
	}
	var c tct.Commitment
	if err := c.SetBytesCanonical(data[1:]); err != nil {
		return fmt.Errorf("%w: %v", tcterrors.ErrBadEvent, err)
	}
	*e = Event{Kind: k, Commitment: c}
	return nil
}

func (e Event) String() string {
	if e.Kind.hasCommitment() {
		return fmt.Sprintf("%v %s", e.Kind, tct.CommitmentHex(e.Commitment))
	}
	return e.Kind.String()
}
