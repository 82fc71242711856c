package tcterrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorParts(t *testing.T) {
	assert.Equal(t, "BlockFull", GetErrorName(ErrBlockFull))
	assert.Equal(t, "C2", GetErrorCode(ErrBlockFull))
	assert.Equal(t, "C2_BlockFull", GetErrorCodeWithName(ErrBlockFull))
	assert.Equal(t, "Block already holds 65536 commitments; end the block first.", GetErrorDesc(ErrBlockFull))
	assert.Equal(t, "O1_ChildOwned", GetErrorCodeWithName(ErrChildOwned))
	assert.Equal(t, "No Error", GetErrorName(nil))
}

func TestWrappedErrorParts(t *testing.T) {
	err := fmt.Errorf("insert commitment: %w", ErrEpochFull)
	assert.Equal(t, "EpochFull", GetErrorName(err))
	assert.Equal(t, "C3", GetErrorCode(err))
	assert.Equal(t, "", GetErrorCode(fmt.Errorf("plain")))
}
