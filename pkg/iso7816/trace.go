package iso7816

import (
	"errors"
	"fmt"
)

// Transaction is one command with the response the chip returned for it.
type Transaction struct {
	Command  *CommandAPDU
	Response *ResponseAPDU
}

func (t *Transaction) IsSuccess() bool {
	return t.Response != nil && t.Response.Status.IsSuccess()
}

// Trace holds every transaction the Client needed for one logical command,
// including GET RESPONSE rounds and Le corrections.
type Trace []Transaction

// Last returns nil for an empty trace.
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// IsSuccess looks at the final transaction only.
func (t Trace) IsSuccess() bool {
	last := t.Last()
	return last != nil && last.IsSuccess()
}

var errEmptyTrace = errors.New("empty trace")

// StatusError reports a command that completed with a non-success status word.
type StatusError struct {
	Command InsCode
	Status  StatusWord
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Command, e.Status.Verbose())
}

// Check returns a *StatusError when the final transaction did not succeed.
func (t Trace) Check() error {
	last := t.Last()
	switch {
	case last == nil || last.Response == nil:
		return errEmptyTrace
	case last.Response.Status.IsSuccess():
		return nil
	}
	return &StatusError{Command: last.Command.Instruction.Raw, Status: last.Response.Status}
}
