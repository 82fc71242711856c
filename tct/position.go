package tct

import "fmt"

// Position addresses a commitment in an Eternity: 16 bits each of epoch, block and commitment.
type Position uint64

func NewPosition(epoch, block, commitment uint16) Position {
	return Position(uint64(epoch)<<32 | uint64(block)<<16 | uint64(commitment))
}

func (p Position) Epoch() uint16 {
	return uint16(p >> 32)
}

func (p Position) Block() uint16 {
	return uint16(p >> 16)
}

func (p Position) Commitment() uint16 {
	return uint16(p)
}

func (p Position) String() string {
	return fmt.Sprintf("%d/%d/%d", p.Epoch(), p.Block(), p.Commitment())
}
