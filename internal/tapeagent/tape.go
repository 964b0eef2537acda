// Package tapeagent implements the TAPE role: a thin stateful wrapper over
// the OS tape façade (internal/osfacade) plus the MOVER, which transfers
// bytes between tape and the image stream under a windowed protocol.
package tapeagent

import (
	"github.com/ndmpd/ndmpd/internal/osfacade"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
)

// TapeState is the TAPE agent's view of the drive: open/closed + mode,
// last-known position, and an optional scratch buffer sized by
// record_size.
type TapeState struct {
	drive      osfacade.TapeDrive
	open       bool
	mode       osfacade.OpenMode
	fileNum    uint32
	blockNo    uint64
	blockSize  uint32
	softErrors uint32
	recordSize uint32
	scratch    []byte

	// moverOwns reports whether the MOVER currently owns the drive
	// (state != IDLE); Open, Close and Mtio are rejected with
	// IllegalStateErr while true. Read and Write do not check it.
	moverOwns bool
}

// NewTapeState wraps drive with the given record and block size.
func NewTapeState(drive osfacade.TapeDrive, recordSize, blockSize uint32) *TapeState {
	return &TapeState{drive: drive, recordSize: recordSize, blockSize: blockSize}
}

// RecordSize returns the fixed tape record size.
func (t *TapeState) RecordSize() uint32 { return t.recordSize }

// BlockNo returns the last-known tape block position.
func (t *TapeState) BlockNo() uint64 { return t.blockNo }

// IsOpen reports whether the drive is currently open.
func (t *TapeState) IsOpen() bool { return t.open }

// Open opens the tape device. Fails with IllegalStateErr if the MOVER
// currently owns the drive.
func (t *TapeState) Open(device string, mode osfacade.OpenMode) error {
	if t.moverOwns {
		return ndmp9.IllegalStateErr
	}
	if err := t.drive.Open(device, mode); err != nil {
		return ndmp9.IOErr
	}
	t.open = true
	t.mode = mode
	t.fileNum = 0
	t.blockNo = 0
	t.softErrors = 0
	return nil
}

// Close closes the tape device. Idempotent: closing an already-closed
// device returns success without side effects.
func (t *TapeState) Close() error {
	if !t.open {
		return nil
	}
	if t.moverOwns {
		return ndmp9.IllegalStateErr
	}
	if err := t.drive.Close(); err != nil {
		return ndmp9.IOErr
	}
	t.open = false
	return nil
}

// Mtio issues a tape positioning operation, validating open state and
// drive ownership first.
func (t *TapeState) Mtio(op osfacade.MtioOp, count int) (resid int, err error) {
	if !t.open {
		return count, ndmp9.DevNotOpenErr
	}
	if t.moverOwns {
		return count, ndmp9.IllegalStateErr
	}
	return t.doMtio(op, count)
}

func (t *TapeState) doMtio(op osfacade.MtioOp, count int) (int, error) {
	resid, err := t.drive.Mtio(op, count)
	if err != nil {
		t.softErrors++
		return resid, ndmp9.IOErr
	}
	switch op {
	case osfacade.MtioRewind:
		t.blockNo = 0
		t.fileNum = 0
	case osfacade.MtioForwardFiles:
		t.fileNum += uint32(count - resid)
	case osfacade.MtioBackwardFiles:
		t.fileNum -= uint32(count - resid)
	}
	return resid, nil
}

// Read reads one tape record. A zero-length read is a no-op returning
// success, matching the boundary behavior every protocol version shares.
func (t *TapeState) Read(buf []byte) (int, error) {
	if !t.open {
		return 0, ndmp9.DevNotOpenErr
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := t.drive.Read(buf)
	if err == osfacade.ErrFileMark {
		t.fileNum++
		t.blockNo = 0
		return n, ndmp9.EOFErr
	}
	if err == osfacade.ErrEndOfMedium {
		return n, ndmp9.EOMErr
	}
	if err != nil {
		t.softErrors++
		return n, ndmp9.IOErr
	}
	t.blockNo++
	return n, nil
}

// Write writes one tape record. A zero-length write is a no-op returning
// success. Fails with PermissionErr if the drive is open read-only.
func (t *TapeState) Write(buf []byte) (int, error) {
	if !t.open {
		return 0, ndmp9.DevNotOpenErr
	}
	if t.mode == osfacade.OpenRDOnly {
		return 0, ndmp9.PermissionErr
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := t.drive.Write(buf)
	if err == osfacade.ErrEndOfMedium {
		return n, ndmp9.EOMErr
	}
	if err != nil {
		t.softErrors++
		return n, ndmp9.IOErr
	}
	t.blockNo++
	return n, nil
}

// Writable reports whether the current open mode permits MOVER WRITE mode
// (net->tape): RDWR or RAW, not RDONLY.
func (t *TapeState) Writable() bool {
	return t.open && t.mode != osfacade.OpenRDOnly
}

// positioningUnit is block_size if nonzero, else record_size, the unit
// FSR/BSR alignment is expressed in.
func (t *TapeState) positioningUnit() uint32 {
	if t.blockSize != 0 {
		return t.blockSize
	}
	return t.recordSize
}

// alignTo spaces the tape forward or backward so blockNo becomes
// wantBlockno, issuing FSR/BSR for the delta.
func (t *TapeState) alignTo(wantBlockno uint64) error {
	if wantBlockno == t.blockNo {
		return nil
	}
	if wantBlockno > t.blockNo {
		delta := int(wantBlockno - t.blockNo)
		_, err := t.doMtio(osfacade.MtioForwardRecords, delta)
		if err == nil {
			t.blockNo = wantBlockno
		}
		return err
	}
	delta := int(t.blockNo - wantBlockno)
	_, err := t.doMtio(osfacade.MtioBackwardRecords, delta)
	if err == nil {
		t.blockNo = wantBlockno
	}
	return err
}

// scratchBuffer lazily allocates the record-sized scratch buffer used by
// the MOVER to stage one tape record at a time.
func (t *TapeState) scratchBuffer() []byte {
	if t.scratch == nil || uint32(len(t.scratch)) != t.recordSize {
		t.scratch = make([]byte, t.recordSize)
	}
	return t.scratch
}
