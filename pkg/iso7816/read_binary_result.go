package iso7816

import "fmt"

// ReadBinaryResult represents the outcome of a READ BINARY command execution.
type ReadBinaryResult struct {
	Trace
}

func NewReadBinaryResult(t Trace) (*ReadBinaryResult, error) {
	if len(t) == 0 {
		return nil, fmt.Errorf("cannot create result from empty trace")
	}

	if t[0].Command.Instruction.Raw != INS_READ_BINARY {
		return nil, fmt.Errorf("trace must start with READ BINARY command (got %02X)", byte(t[0].Command.Instruction.Raw))
	}

	return &ReadBinaryResult{Trace: t}, nil
}

// Data returns the payload of the final transaction.
// A '6282' (end of file reached) answer still carries the bytes that were available.
func (r *ReadBinaryResult) Data() ([]byte, error) {
	last := r.Last()
	if last == nil || last.Response == nil {
		return nil, fmt.Errorf("no response")
	}
	sw := last.Response.Status
	if !sw.IsSuccess() && sw != SW_WARN_EOF_REACHED {
		return nil, &StatusError{Command: INS_READ_BINARY, Status: sw}
	}
	return last.Response.Data, nil
}
