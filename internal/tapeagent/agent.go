package tapeagent

import "github.com/ndmpd/ndmpd/internal/osfacade"

// Agent is the TAPE role's full state: the tape device plus the MOVER
// layered on top of it. The session kernel holds one Agent per connection
// that has negotiated the TAPE role.
type Agent struct {
	Tape  *TapeState
	Mover *Mover
}

// New creates a TAPE agent over drive, with record/block sizes taken from
// the tape configuration.
func New(drive osfacade.TapeDrive, recordSize, blockSize uint32) *Agent {
	tape := NewTapeState(drive, recordSize, blockSize)
	return &Agent{Tape: tape, Mover: NewMover(tape)}
}
