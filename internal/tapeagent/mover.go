package tapeagent

import (
	"github.com/ndmpd/ndmpd/internal/channel"
	"github.com/ndmpd/ndmpd/internal/logger"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
	"github.com/ndmpd/ndmpd/internal/protocol/version"
	"github.com/ndmpd/ndmpd/pkg/metrics"
)

// MoverState is the MOVER role's state machine state.
type MoverState int

const (
	MoverIdle MoverState = iota
	MoverListen
	MoverActive
	MoverPaused
	MoverHalted
)

func (s MoverState) String() string {
	switch s {
	case MoverIdle:
		return "IDLE"
	case MoverListen:
		return "LISTEN"
	case MoverActive:
		return "ACTIVE"
	case MoverPaused:
		return "PAUSED"
	case MoverHalted:
		return "HALTED"
	default:
		return "UNKNOWN"
	}
}

// MoverMode is the direction of transfer relative to tape.
type MoverMode int

const (
	MoverModeRead  MoverMode = iota // tape -> image stream
	MoverModeWrite                  // image stream -> tape
)

// PauseReason explains why an ACTIVE mover paused.
type PauseReason int

const (
	PauseNA PauseReason = iota
	PauseSeek
	PauseEOM
	PauseEOF
)

func (r PauseReason) String() string {
	switch r {
	case PauseNA:
		return "NA"
	case PauseSeek:
		return "SEEK"
	case PauseEOM:
		return "EOM"
	case PauseEOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// HaltReason explains why a mover was halted.
type HaltReason int

const (
	HaltNA HaltReason = iota
	HaltConnectClosed
	HaltAborted
	HaltInternalError
	HaltMediaError
	HaltConnectError
)

func (r HaltReason) String() string {
	switch r {
	case HaltNA:
		return "NA"
	case HaltConnectClosed:
		return "CONNECT_CLOSED"
	case HaltAborted:
		return "ABORTED"
	case HaltInternalError:
		return "INTERNAL_ERROR"
	case HaltMediaError:
		return "MEDIA_ERROR"
	case HaltConnectError:
		return "CONNECT_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Mover implements the MOVER state machine described for the tape data
// transfer service: IDLE/LISTEN/ACTIVE/PAUSED/HALTED, windowed record
// transfer in lock-step with the image stream, and the FSR/BSR alignment
// mover_read seeks require.
type Mover struct {
	tape *TapeState

	state       MoverState
	mode        MoverMode
	pauseReason PauseReason
	haltReason  HaltReason

	endpoint *channel.Endpoint

	// windowOffset/windowLength describe the currently permitted transfer
	// range in the logical (not per-tape) byte stream; windowEnd is their
	// sum, saturated at media.Infinity.
	windowOffset uint64
	windowLength uint64
	windowEnd    uint64

	// windowFirstBlockno is the tape block number the window's offset
	// corresponds to, captured when the window is set so later seeks can
	// compute want_blockno relative to it.
	windowFirstBlockno uint64

	// recordNum is derived from windowOffset/tape.recordSize (Open
	// Question: divide-rounded, not required to be an exact multiple).
	recordNum uint64

	wantPos     uint64 // next logical byte position to transfer
	bytesMoved  uint64
	seekTarget  uint64
	seekPending bool

	// pending holds a record read from tape that has not yet been fully
	// flushed to the image stream (READ mode), or bytes read from the
	// image stream not yet accumulated to a full record (WRITE mode).
	// Progress never discards a record it has already pulled off tape or
	// off the wire.
	pending []byte

	notifyPending bool

	metrics metrics.SessionMetrics
}

const infinity = ^uint64(0)

// NewMover creates a MOVER bound to tape, initially IDLE.
func NewMover(tape *TapeState) *Mover {
	return &Mover{tape: tape}
}

func (m *Mover) State() MoverState       { return m.state }
func (m *Mover) Mode() MoverMode         { return m.mode }
func (m *Mover) PauseReason() PauseReason { return m.pauseReason }
func (m *Mover) HaltReason() HaltReason  { return m.haltReason }
func (m *Mover) BytesMoved() uint64      { return m.bytesMoved }

// Endpoint returns the image-stream endpoint bound by Listen/Connect, or
// nil before either has been called. Used by the session scheduler to
// register a TCP-backed stream with its reactor.
func (m *Mover) Endpoint() *channel.Endpoint { return m.endpoint }

// SetMetrics installs the session-wide metrics sink; nil disables
// collection.
func (m *Mover) SetMetrics(sm metrics.SessionMetrics) { m.metrics = sm }

// Listen transitions IDLE -> LISTEN, binding endpoint (created by the
// caller via internal/channel for either LOCAL or TCP transport) and
// marking the tape drive as MOVER-owned.
func (m *Mover) Listen(mode MoverMode, endpoint *channel.Endpoint) error {
	if m.state != MoverIdle {
		return ndmp9.IllegalStateErr
	}
	if mode == MoverModeWrite && !m.tape.Writable() {
		return ndmp9.WriteProtectErr
	}
	m.mode = mode
	m.endpoint = endpoint
	m.state = MoverListen
	m.tape.moverOwns = true
	return nil
}

// Connect transitions IDLE/LISTEN -> ACTIVE, actively dialing out rather
// than waiting for an incoming connection.
func (m *Mover) Connect(mode MoverMode, endpoint *channel.Endpoint) error {
	if m.state != MoverIdle && m.state != MoverListen {
		return ndmp9.IllegalStateErr
	}
	if mode == MoverModeWrite && !m.tape.Writable() {
		return ndmp9.WriteProtectErr
	}
	m.mode = mode
	m.endpoint = endpoint
	m.state = MoverActive
	m.tape.moverOwns = true
	return nil
}

// OnAccept transitions LISTEN -> ACTIVE once the session scheduler
// observes the bound endpoint reach StatusAccepted.
func (m *Mover) OnAccept() error {
	if m.state != MoverListen {
		return ndmp9.IllegalStateErr
	}
	m.state = MoverActive
	return nil
}

// SetWindow sets the transfer window. Valid in IDLE or PAUSED always; also
// valid in LISTEN for wire versions before v4, per the Open Question
// resolution that pre-v4 clients may set the window before the data
// connection is even accepted, while v4's richer negotiation forbids it.
func (m *Mover) SetWindow(offset, length uint64, wireVersion version.Number) error {
	switch m.state {
	case MoverIdle, MoverPaused:
		// always permitted
	case MoverListen:
		if wireVersion >= version.V4 {
			return ndmp9.IllegalStateErr
		}
	default:
		return ndmp9.IllegalStateErr
	}

	recordSize := uint64(m.tape.RecordSize())
	if recordSize == 0 {
		return ndmp9.IllegalArgsErr
	}
	if offset%recordSize != 0 {
		return ndmp9.IllegalArgsErr
	}
	if length != infinity && length%recordSize != 0 && offset+length != infinity {
		return ndmp9.IllegalArgsErr
	}

	m.windowOffset = offset
	m.windowLength = length
	if length == infinity || offset+length < offset {
		m.windowEnd = infinity
	} else {
		m.windowEnd = offset + length
	}
	// Open Question resolution: record_num is offset/record_size,
	// divide-rounded, not required to divide evenly.
	m.recordNum = offset / recordSize
	m.windowFirstBlockno = m.tape.BlockNo()
	m.wantPos = offset
	return nil
}

// Continue transitions PAUSED -> ACTIVE, resuming transfer at the current
// want_pos (used after a SEEK/EOM/EOF pause the client has handled, e.g.
// by loading the next tape).
func (m *Mover) Continue() error {
	if m.state != MoverPaused {
		return ndmp9.IllegalStateErr
	}
	m.state = MoverActive
	m.pauseReason = PauseNA
	return nil
}

// Read (mover_read) is valid only while PAUSED in WRITE mode: it seeks the
// tape to offset and resumes transfer for length bytes, used by recovery
// to re-read a portion already written during the same session.
func (m *Mover) Read(offset, length uint64) error {
	if m.state != MoverPaused || m.mode != MoverModeWrite {
		return ndmp9.IllegalStateErr
	}
	recordSize := uint64(m.tape.RecordSize())
	if recordSize != 0 && offset%recordSize != 0 {
		return ndmp9.IllegalArgsErr
	}
	m.seekTarget = offset
	m.seekPending = true
	m.wantPos = offset
	if length == infinity || offset+length < offset {
		m.windowEnd = infinity
	} else {
		m.windowEnd = offset + length
	}
	m.state = MoverActive
	m.pauseReason = PauseNA
	return nil
}

// Abort transitions any non-IDLE state to HALTED(ABORTED), closing the
// image stream endpoint.
func (m *Mover) Abort() error {
	if m.state == MoverIdle {
		return nil
	}
	m.halt(HaltAborted)
	return nil
}

// Stop transitions HALTED -> IDLE, releasing the tape drive. Calling Stop
// while already IDLE is a no-op success, matching mover_stop's documented
// idempotence.
func (m *Mover) Stop() error {
	if m.state == MoverIdle {
		return nil
	}
	if m.state != MoverHalted {
		return ndmp9.IllegalStateErr
	}
	m.state = MoverIdle
	m.mode = 0
	m.pauseReason = PauseNA
	m.haltReason = HaltNA
	m.windowOffset, m.windowLength, m.windowEnd = 0, 0, 0
	m.recordNum = 0
	m.wantPos = 0
	m.bytesMoved = 0
	m.endpoint = nil
	m.tape.moverOwns = false
	return nil
}

func (m *Mover) halt(reason HaltReason) {
	if m.endpoint != nil {
		m.endpoint.Close()
	}
	from := m.state.String()
	m.state = MoverHalted
	m.haltReason = reason
	m.pauseReason = PauseNA
	m.notifyPending = true
	logger.Info("mover halted", logger.MoverState(m.state.String()), logger.HaltReason(reason.String()), logger.BytesMoved(m.bytesMoved))
	metrics.RecordMoverStateTransition(m.metrics, from, m.state.String())
	metrics.RecordBytesMoved(m.metrics, m.modeString(), m.bytesMoved)
}

func (m *Mover) pause(reason PauseReason) {
	from := m.state.String()
	m.state = MoverPaused
	m.pauseReason = reason
	m.notifyPending = true
	logger.Debug("mover paused", logger.MoverState(m.state.String()), logger.PauseReason(reason.String()))
	metrics.RecordMoverStateTransition(m.metrics, from, m.state.String())
}

// modeString renders the transfer direction for RecordBytesMoved's mode
// label.
func (m *Mover) modeString() string {
	if m.mode == MoverModeWrite {
		return "write"
	}
	return "read"
}

// TakeNotification drains the pending MOVER_PAUSED/MOVER_HALTED
// notification flag the session scheduler emits once per transition,
// reporting the state that caused it.
func (m *Mover) TakeNotification() (state MoverState, pending bool) {
	if !m.notifyPending {
		return m.state, false
	}
	m.notifyPending = false
	return m.state, true
}

// wantBlockno computes the tape block the next transfer must be
// positioned at: window_first_blockno + (want_pos - window_offset) / unit,
// the alignment formula used to FSR/BSR the drive into place before each
// record.
func (m *Mover) wantBlockno() uint64 {
	unit := uint64(m.tape.positioningUnit())
	if unit == 0 {
		return m.windowFirstBlockno
	}
	return m.windowFirstBlockno + (m.wantPos-m.windowOffset)/unit
}

// Progress performs one bounded unit of work: at most one tape record is
// transferred per call, keeping each scheduler quantum constant-time
// regardless of window size. It returns whether any work was done.
func (m *Mover) Progress() (bool, error) {
	if m.state != MoverActive {
		return false, nil
	}

	if m.wantPos >= m.windowEnd {
		m.pause(PauseSeek)
		return true, nil
	}

	if m.seekPending {
		if err := m.tape.alignTo(m.wantBlockno()); err != nil {
			m.halt(HaltMediaError)
			return true, err
		}
		m.seekPending = false
	}

	switch m.mode {
	case MoverModeRead:
		return m.progressRead()
	default:
		return m.progressWrite()
	}
}

// progressRead moves one tape record toward the image stream. A record
// already pulled off tape but not yet fully flushed to a would-blocking
// endpoint is kept in m.pending across quanta rather than re-read or
// dropped.
func (m *Mover) progressRead() (bool, error) {
	if m.pending == nil {
		buf := m.tape.scratchBuffer()
		n, err := m.tape.Read(buf)
		if err == ndmp9.EOFErr {
			m.pause(PauseEOF)
			return true, nil
		}
		if err == ndmp9.EOMErr {
			m.pause(PauseEOM)
			return true, nil
		}
		if err != nil {
			m.halt(HaltMediaError)
			return true, err
		}
		m.pending = append([]byte(nil), buf[:n]...)
	}

	n, err := m.endpoint.Write(m.pending)
	if err == channel.ErrWouldBlock {
		return false, nil
	}
	m.bytesMoved += uint64(n)
	m.wantPos += uint64(n)
	if err == channel.ErrClosed {
		m.halt(HaltConnectClosed)
		return true, nil
	}
	if err != nil {
		m.halt(HaltInternalError)
		return true, err
	}
	if n < len(m.pending) {
		m.pending = m.pending[n:]
		return true, nil
	}
	m.pending = nil
	return true, nil
}

// progressWrite accumulates bytes from the image stream until a full tape
// record is available, then writes it. A partial record is written to tape
// only when the image stream closes with bytes still pending.
func (m *Mover) progressWrite() (bool, error) {
	recordSize := int(m.tape.RecordSize())
	if m.pending == nil {
		m.pending = make([]byte, 0, recordSize)
	}

	if len(m.pending) < recordSize {
		buf := make([]byte, recordSize-len(m.pending))
		n, err := m.endpoint.Read(buf)
		if err == channel.ErrWouldBlock {
			return false, nil
		}
		if err == channel.ErrClosed {
			if len(m.pending) > 0 {
				// a short final record: still flush what remains
				m.tape.Write(m.pending)
				m.bytesMoved += uint64(len(m.pending))
				m.wantPos += uint64(len(m.pending))
			}
			m.halt(HaltConnectClosed)
			return true, nil
		}
		if err != nil {
			m.halt(HaltInternalError)
			return true, err
		}
		m.pending = append(m.pending, buf[:n]...)
		if len(m.pending) < recordSize {
			return n > 0, nil
		}
	}

	_, werr := m.tape.Write(m.pending)
	if werr == ndmp9.EOMErr {
		m.pause(PauseEOM)
		return true, nil
	}
	if werr != nil {
		m.halt(HaltMediaError)
		return true, werr
	}
	m.bytesMoved += uint64(len(m.pending))
	m.wantPos += uint64(len(m.pending))
	m.pending = nil
	return true, nil
}
