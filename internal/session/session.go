// Package session implements the NDMP session kernel: the cooperative,
// single-threaded scheduler that drains agent progress, polls control
// connections for framed requests, and dispatches them, as described by
// spec.md's session kernel contract (initialize/commission/quantum/
// destroy).
package session

import (
	"time"

	"github.com/ndmpd/ndmpd/internal/channel"
	"github.com/ndmpd/ndmpd/internal/dataagent"
	"github.com/ndmpd/ndmpd/internal/dispatcher"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
	"github.com/ndmpd/ndmpd/internal/robotagent"
	"github.com/ndmpd/ndmpd/internal/tapeagent"
	"github.com/ndmpd/ndmpd/pkg/metrics"
)

// readyMessage is one connection's fully-assembled inbound request,
// queued for dispatch after this quantum's I/O pass.
type readyMessage struct {
	conn   *Conn
	header ndmp9.Header
	body   []byte
}

// Session is the per-job cooperative kernel: the control connections, the
// role agents enabled for the job, and the job-cancellation poll, driven
// by repeated Quantum calls from the server's accept loop.
type Session struct {
	Dispatcher *dispatcher.Dispatcher

	Conns []*Conn
	Data  *dataagent.Agent
	Tape  *tapeagent.Agent
	Robot *robotagent.Agent

	// Metrics is the session-wide observability sink; nil disables
	// collection. The caller sets it after New, before Initialize.
	Metrics metrics.SessionMetrics

	isCancelled func() bool

	initialized  bool
	commissioned bool
	reactor      channel.Reactor
}

// New creates a session bound to dispatcher d. Initialize must be called
// before Quantum.
func New(d *dispatcher.Dispatcher) *Session {
	return &Session{Dispatcher: d}
}

// Initialize allocates the session's connection and agent set. Idempotent:
// once initialized, a second call is a no-op, matching "idempotent wrt
// already-initialized roles."
func (s *Session) Initialize(conns []*Conn, data *dataagent.Agent, tape *tapeagent.Agent, robot *robotagent.Agent) {
	if s.initialized {
		return
	}
	s.Conns = conns
	s.Data = data
	s.Tape = tape
	s.Robot = robot
	s.initialized = true
}

// Commission marks the session ready to accept messages that demand
// conn_open. DATA and MOVER already start IDLE with no halt/pause reason
// by construction (their zero-value State is IDLE), so commissioning here
// is a readiness gate Quantum checks rather than additional setup.
func (s *Session) Commission() {
	s.commissioned = true
}

// SetCancelCheck installs the job_control.is_cancelled poll; a true
// return aborts DATA and MOVER via their abort entry points.
func (s *Session) SetCancelCheck(f func() bool) {
	s.isCancelled = f
}

// Destroy tears down all resources; safe to call on a partially
// constructed session.
func (s *Session) Destroy() {
	s.abortActive()
	for _, c := range s.Conns {
		_ = c.Close()
	}
	if s.reactor != nil {
		_ = s.reactor.Close()
		s.reactor = nil
	}
	s.initialized = false
	s.commissioned = false
}

// Quantum runs one pass of the cooperative scheduler:
//
//  1. Let DATA and MOVER drain as much in-memory progress as possible.
//  2. If that did useful work, don't wait before the I/O pass.
//  3. Poll the job_control cancellation callback.
//  4. Block in internal/channel's reactor, a real poll(2)-backed
//     multiplexer, for up to maxDelay over whichever of DATA's and
//     MOVER's image-stream endpoints are TCP-backed; LOCAL endpoints and
//     the control connections themselves still use the short-deadline-
//     as-poll pattern established by internal/channel/tcp.go, since
//     neither has a raw fd the reactor can watch.
//  5. Give the agents one more progress pass.
//  6. Dispatch one framed request per connection that produced one, and
//     flush any unsolicited notifications the agents queued along the way.
//
// It returns once this pass is done; maxDelay bounds how long step 4
// waits when no progress was made in step 1.
func (s *Session) Quantum(maxDelay time.Duration) error {
	if !s.commissioned {
		return nil
	}

	if s.distributeQuantum() {
		maxDelay = 0
	}

	if s.isCancelled != nil && s.isCancelled() {
		s.abortActive()
	}

	if maxDelay > 0 {
		s.pollImageStreams(maxDelay)
	}

	ready := make([]readyMessage, 0, len(s.Conns))
	for _, c := range s.Conns {
		h, body, err := c.TryReceive()
		switch err {
		case nil:
			ready = append(ready, readyMessage{conn: c, header: h, body: body})
		case ErrWouldBlock:
		default:
			c.State.ErrorRaised = true
		}
	}

	s.distributeQuantum()

	for _, r := range ready {
		s.dispatchOne(r.conn, r.header, r.body)
	}

	s.drainNotifications()

	return nil
}

// distributeQuantum gives DATA and MOVER repeated progress passes until
// neither reports more work, per the scheduler's step 1 "repeat until no
// agent reports progress." It returns whether any pass did anything.
func (s *Session) distributeQuantum() bool {
	total := false
	for {
		did := false
		if s.Data != nil {
			if ok, _ := s.Data.Progress(); ok {
				did = true
			}
		}
		if s.Tape != nil && s.Tape.Mover != nil {
			if ok, _ := s.Tape.Mover.Progress(); ok {
				did = true
			}
		}
		if !did {
			break
		}
		total = true
	}
	return total
}

// pollImageStreams blocks up to maxDelay in the reactor over any TCP-
// backed DATA/MOVER endpoint, falling back to a plain sleep when neither
// is bound to one yet (IDLE/LISTEN-local, or no role enabled).
func (s *Session) pollImageStreams(maxDelay time.Duration) {
	if s.reactor == nil {
		s.reactor = channel.NewReactor()
	}

	var watched []*channel.Endpoint
	register := func(ep *channel.Endpoint) {
		if ep == nil || ep.Transport() != channel.TransportTCP {
			return
		}
		if err := s.reactor.Register(ep, false); err == nil {
			watched = append(watched, ep)
		}
	}
	if s.Data != nil {
		register(s.Data.Endpoint())
	}
	if s.Tape != nil && s.Tape.Mover != nil {
		register(s.Tape.Mover.Endpoint())
	}

	if len(watched) == 0 {
		time.Sleep(maxDelay)
		return
	}

	defer func() {
		for _, ep := range watched {
			s.reactor.Unregister(ep)
		}
	}()
	_, _ = s.reactor.Poll(maxDelay)
}

func (s *Session) abortActive() {
	if s.Data != nil {
		_ = s.Data.Abort()
	}
	if s.Tape != nil && s.Tape.Mover != nil {
		_ = s.Tape.Mover.Abort()
	}
}

// dispatchOne runs one request through the dispatcher and, unless the
// reply is NO_SEND, frames and sends the reply back on the connection it
// arrived on.
func (s *Session) dispatchOne(c *Conn, reqHeader ndmp9.Header, body []byte) {
	started := time.Now()
	replyHeader, replyBody, noSend := s.Dispatcher.Dispatch(c.State, reqHeader, body)
	metrics.RecordOp(s.Metrics, c.Role.String(), reqHeader.MessageID.String(), time.Since(started), int(replyHeader.ErrorCode))
	if noSend {
		return
	}
	replyHeader.Sequence = c.nextSequence()
	if err := c.Send(replyHeader, replyBody); err != nil {
		c.State.ErrorRaised = true
	}
}

// controlConn returns the connection carrying the CONTROL role, the
// target for unsolicited notifications (NOTIFY_*, LOG) a session
// originates rather than replies to.
func (s *Session) controlConn() *Conn {
	for _, c := range s.Conns {
		if c.Role == RoleControl {
			return c
		}
	}
	if len(s.Conns) > 0 {
		return s.Conns[0]
	}
	return nil
}

// sendNotification frames and sends an unsolicited (NO_SEND-class)
// message to the CONTROL connection: MessageType Request, no reply
// expected.
func (s *Session) sendNotification(id ndmp9.MessageID, body interface{}) {
	conn := s.controlConn()
	if conn == nil {
		return
	}
	var wireBody []byte
	if body != nil {
		b, err := ndmp9.MarshalBody(body)
		if err != nil {
			return
		}
		wireBody = b
	}
	h := ndmp9.Header{
		Sequence:    conn.nextSequence(),
		MessageType: ndmp9.MessageRequest,
		MessageID:   id,
	}
	_ = conn.Send(h, wireBody)
}

// drainNotifications mirrors formatter stderr lines as NOTIFY_LOG and
// MOVER state transitions as NOTIFY_MOVER_HALTED/NOTIFY_MOVER_PAUSED,
// both originated by the session rather than replied by the dispatcher
// (they are never requests from CONTROL in the first place).
func (s *Session) drainNotifications() {
	if s.Data != nil {
		for _, line := range s.Data.TakeLogLines() {
			s.sendNotification(ndmp9.LogMessage, &ndmp9.Pval{Name: "msg", Value: line})
		}
	}

	if s.Tape != nil && s.Tape.Mover != nil {
		if state, pending := s.Tape.Mover.TakeNotification(); pending {
			switch state {
			case tapeagent.MoverHalted:
				s.sendNotification(ndmp9.NotifyMoverHalted, &ndmp9.NotifyMoverHaltedPost{
					Reason: uint32(s.Tape.Mover.HaltReason()),
				})
			case tapeagent.MoverPaused:
				s.sendNotification(ndmp9.NotifyMoverPaused, &ndmp9.NotifyMoverPausedPost{
					Reason: uint32(s.Tape.Mover.PauseReason()),
				})
			}
		}
	}

	if s.Robot != nil {
		_ = s.Robot // the ROBOT agent has no background progress or unsolicited notifications; it only answers synchronous SCSI/robot requests
	}
}
