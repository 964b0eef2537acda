package controlagent

import (
	"sync/atomic"
	"time"

	"github.com/ndmpd/ndmpd/internal/dispatcher"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
	"github.com/ndmpd/ndmpd/internal/protocol/version"
)

// Client is CONTROL's outgoing-call surface to one remote agent's control
// connection, a typed wrapper over dispatcher.Call/CallNoTattle. One Client
// drives exactly one transport; a Job holds one for DATA and one for TAPE.
type Client struct {
	Transport dispatcher.Transport
	Version   version.Number
	// TimeLimit bounds each call's round trip, reported as
	// dispatcher.OutcomeReplyLate rather than a functional error when
	// exceeded. Zero disables the limit (CallNoTattle).
	TimeLimit time.Duration

	seq uint32
}

func (c *Client) nextSequence() uint32 {
	return atomic.AddUint32(&c.seq, 1)
}

func (c *Client) call(id ndmp9.MessageID, req interface{}) (interface{}, dispatcher.Outcome, error) {
	seq := c.nextSequence()
	if c.TimeLimit > 0 {
		return dispatcher.Call(c.Transport, c.Version, id, seq, req, c.TimeLimit)
	}
	return dispatcher.CallNoTattle(c.Transport, c.Version, id, seq, req)
}

// callOK runs a call and collapses anything short of OutcomeOK plus a
// NO_ERR header into a single error, for the many outgoing calls whose
// reply body CONTROL doesn't need to inspect field-by-field.
func (c *Client) callOK(id ndmp9.MessageID, req interface{}) (interface{}, error) {
	reply, outcome, err := c.call(id, req)
	if err != nil {
		return nil, err
	}
	if outcome != dispatcher.OutcomeOK {
		return nil, &OutcomeError{Outcome: outcome, MessageID: id}
	}
	return reply, nil
}

// OutcomeError reports a call whose outcome was not OutcomeOK, carrying
// the dispatcher.Outcome (REPLY_ERROR, HDR_ERROR, REPLY_LATE, or BOTCH) for
// the monitoring loop's three-way success/questionable/failure logic to
// branch on without re-deriving it from a generic error string.
type OutcomeError struct {
	Outcome   dispatcher.Outcome
	MessageID ndmp9.MessageID
}

func (e *OutcomeError) Error() string {
	return "controlagent: " + e.MessageID.String() + ": " + e.Outcome.String()
}

// --- DATA agent calls ---

// DataGetState polls the DATA agent's state machine snapshot.
func (c *Client) DataGetState() (*ndmp9.DataGetStateReply, error) {
	reply, err := c.callOK(ndmp9.DataGetState, nil)
	if err != nil {
		return nil, err
	}
	return reply.(*ndmp9.DataGetStateReply), nil
}

// DataListen asks DATA to listen for a MOVER peer on a LOCAL or TCP
// address, per NDMP's two-phase image-stream handshake, and returns the
// address DATA is now listening on for CONTROL to relay to MOVER_CONNECT.
func (c *Client) DataListen(addrType ndmp9.AddrType) (ndmp9.Addr, error) {
	reply, err := c.callOK(ndmp9.DataListen, &ndmp9.DataListenRequest{AddrType: addrType})
	if err != nil {
		return ndmp9.Addr{}, err
	}
	return reply.(*ndmp9.DataListenReply).Addr, nil
}

// DataConnect asks DATA to actively connect to a MOVER at addr.
func (c *Client) DataConnect(addr ndmp9.Addr) error {
	_, err := c.callOK(ndmp9.DataConnect, &ndmp9.DataConnectRequest{Addr: addr})
	return err
}

// DataStartBackup starts the named bu_type backup with the given
// environment, over the given image-stream address.
func (c *Client) DataStartBackup(buType string, env []ndmp9.Pval, addr ndmp9.Addr) error {
	_, err := c.callOK(ndmp9.DataStartBackup, &ndmp9.DataStartBackupRequest{
		BuType: buType, Env: env, Addr: addr,
	})
	return err
}

// DataStartRecover starts the named bu_type recovery of nlist over the
// given image-stream address.
func (c *Client) DataStartRecover(buType string, env []ndmp9.Pval, nlist []ndmp9.NlistEntry, addr ndmp9.Addr) error {
	_, err := c.callOK(ndmp9.DataStartRecover, &ndmp9.DataStartRecoverRequest{
		BuType: buType, Env: env, Nlist: nlist, Addr: addr,
	})
	return err
}

// DataAbort asks DATA to abort its current operation.
func (c *Client) DataAbort() error {
	_, err := c.callOK(ndmp9.DataAbort, nil)
	return err
}

// DataStop tells DATA its operation completed; DATA returns to IDLE.
func (c *Client) DataStop() error {
	_, err := c.callOK(ndmp9.DataStop, nil)
	return err
}

// DataGetEnv retrieves the formatter's accumulated result environment,
// valid only after a completed backup.
func (c *Client) DataGetEnv() ([]ndmp9.Pval, error) {
	reply, err := c.callOK(ndmp9.DataGetEnv, nil)
	if err != nil {
		return nil, err
	}
	return reply.(*ndmp9.DataGetEnvReply).Env, nil
}

// --- MOVER calls (dispatched to the TAPE agent's control connection) ---

// MoverListen asks MOVER to listen for a DATA peer in the given mode,
// returning the address DATA should connect to.
func (c *Client) MoverListen(mode uint32, addrType ndmp9.AddrType) (ndmp9.Addr, error) {
	reply, err := c.callOK(ndmp9.MoverListen, &ndmp9.MoverListenRequest{Mode: mode, AddrType: uint32(addrType)})
	if err != nil {
		return ndmp9.Addr{}, err
	}
	return reply.(*ndmp9.MoverListenReply).Addr, nil
}

// MoverConnect asks MOVER to actively connect to addr in the given mode.
func (c *Client) MoverConnect(mode uint32, addr ndmp9.Addr) error {
	_, err := c.callOK(ndmp9.MoverConnect, &ndmp9.MoverConnectRequest{Mode: mode, Addr: addr})
	return err
}

// MoverGetState polls MOVER's state machine snapshot, the primary signal
// the monitoring loop uses to drive the per-tape media lifecycle.
func (c *Client) MoverGetState() (*ndmp9.MoverGetStateReply, error) {
	reply, err := c.callOK(ndmp9.MoverGetState, nil)
	if err != nil {
		return nil, err
	}
	return reply.(*ndmp9.MoverGetStateReply), nil
}

// MoverSetWindow sets MOVER's sliding byte window ahead of a backup or
// restore volume.
func (c *Client) MoverSetWindow(offset, length uint64) error {
	_, err := c.callOK(ndmp9.MoverSetWindow, &ndmp9.MoverSetWindowRequest{Offset: offset, Length: length})
	return err
}

// MoverContinue resumes a PAUSED mover after CONTROL has serviced the
// pause reason (e.g. swapped the tape at end-of-medium).
func (c *Client) MoverContinue() error {
	_, err := c.callOK(ndmp9.MoverContinue, nil)
	return err
}

// MoverRead asks MOVER (in WRITE/restore mode) to seek to and serve the
// given byte range, the response to a NOTIFY_DATA_READ the monitoring loop
// received from DATA.
func (c *Client) MoverRead(offset, length uint64) error {
	_, err := c.callOK(ndmp9.MoverRead, &ndmp9.MoverReadRequest{Offset: offset, Length: length})
	return err
}

// MoverAbort asks MOVER to abort its current operation.
func (c *Client) MoverAbort() error {
	_, err := c.callOK(ndmp9.MoverAbort, nil)
	return err
}

// MoverStop tells MOVER its operation completed; MOVER returns to IDLE.
func (c *Client) MoverStop() error {
	_, err := c.callOK(ndmp9.MoverStop, nil)
	return err
}

// --- TAPE calls ---

// TapeOpen opens device in the given mode on the TAPE agent.
func (c *Client) TapeOpen(device string, mode uint32) error {
	_, err := c.callOK(ndmp9.TapeOpen, &ndmp9.TapeOpenRequest{Device: device, Mode: mode})
	return err
}

// TapeClose closes the currently open tape device.
func (c *Client) TapeClose() error {
	_, err := c.callOK(ndmp9.TapeClose, nil)
	return err
}

// TapeMtio issues a tape control operation (rewind, forward/backward space
// file or record) and returns the residual count.
func (c *Client) TapeMtio(op, count uint32) (uint32, error) {
	reply, err := c.callOK(ndmp9.TapeMtio, &ndmp9.TapeMtioRequest{Op: op, Count: count})
	if err != nil {
		return 0, err
	}
	return reply.(*ndmp9.TapeMtioReply).ResidCount, nil
}

// TapeRead reads one record of length count directly from TAPE, bypassing
// MOVER — used to read a label record before the job's MOVER is started.
func (c *Client) TapeRead(count uint32) ([]byte, error) {
	reply, err := c.callOK(ndmp9.TapeRead, &ndmp9.TapeReadRequest{Count: count})
	if err != nil {
		return nil, err
	}
	return reply.(*ndmp9.TapeReadReply).Data, nil
}

// TapeWrite writes one record directly to TAPE, bypassing MOVER — used to
// lay down a label record.
func (c *Client) TapeWrite(data []byte) (uint32, error) {
	reply, err := c.callOK(ndmp9.TapeWrite, &ndmp9.TapeWriteRequest{Data: data})
	if err != nil {
		return 0, err
	}
	return reply.(*ndmp9.TapeWriteReply).Count, nil
}
