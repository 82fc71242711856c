package tcterrors

import (
	"errors"
	"strings"
)

// Capacity (C) Errors
var (
	ErrTierFull     = errors.New("C1|TierFull: Tier already holds 65536 children.")
	ErrBlockFull    = errors.New("C2|BlockFull: Block already holds 65536 commitments; end the block first.")
	ErrEpochFull    = errors.New("C3|EpochFull: Epoch already holds 65536 blocks; end the epoch first.")
	ErrEternityFull = errors.New("C4|EternityFull: Eternity already holds 65536 epochs.")
)

// Encoding (E) Errors
var (
	ErrBadCommitment  = errors.New("E1|BadCommitment: Commitment is not a canonical field element.")
	ErrBadHash        = errors.New("E2|BadHash: Hash is not a 32 byte hex string.")
	ErrBadEvent       = errors.New("E3|BadEvent: Stored event record could not be decoded.")
	ErrBadProof       = errors.New("E4|BadProof: Proof encoding is malformed.")
	ErrHasherMismatch = errors.New("E5|HasherMismatch: Inserted tier was built with a different hasher.")
)

// Ownership (O) Errors
var (
	ErrChildOwned = errors.New("O1|ChildOwned: Block or epoch belongs to an enclosing tree and changes only through it.")
)

// Ledger (L) Errors
var (
	ErrLedgerCorrupt  = errors.New("L1|LedgerCorrupt: Ledger state diverged from its event log and refuses writes.")
	ErrReplayMismatch = errors.New("L2|ReplayMismatch: Replayed root does not match the stored checkpoint.")
	ErrLedgerClosed   = errors.New("L3|LedgerClosed: Ledger has been closed.")
	ErrUnknownHasher  = errors.New("L4|UnknownHasher: Configured hasher is not supported.")
)

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	code := strings.TrimSpace(parts[0])
	// wrapped errors carry their context before the code
	if i := strings.LastIndex(code, " "); i >= 0 {
		code = code[i+1:]
	}
	return code
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}

// GetErrorDesc extracts the error description from the error message.
func GetErrorDesc(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if i := strings.Index(errStr, "|"); i >= 0 {
		errStr = errStr[i+1:]
	}
	parts := strings.SplitN(errStr, ":", 2)
	if len(parts) < 2 {
		return "DESC NOT SET"
	}
	return strings.TrimSpace(parts[1])
}
