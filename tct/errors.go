package tct

import "fmt"

// InsertError is returned when a commitment could not be inserted. Item is the rejected insert,
// unchanged; Err is one of the tcterrors capacity errors.
type InsertError struct {
	Item Insert[Commitment]
	Err  error
}

func (e *InsertError) Error() string {
	verb := "forget"
	if e.Item.IsKeep() {
		verb = "keep"
	}
	c := e.Item.Value()
	return fmt.Sprintf("insert (%s %s): %v", verb, CommitmentHex(c), e.Err)
}

func (e *InsertError) Unwrap() error {
	return e.Err
}
