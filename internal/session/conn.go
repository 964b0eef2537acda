package session

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/ndmpd/ndmpd/internal/dispatcher"
	"github.com/ndmpd/ndmpd/internal/logger"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
	"github.com/ndmpd/ndmpd/internal/protocol/version"
)

// Role identifies which agent(s) a control connection carries requests
// for. A session can run all four roles over one CONTROL connection (the
// common case) or accept separate DATA/TAPE/ROBOT connections when those
// agents run in their own process.
type Role int

const (
	RoleControl Role = iota
	RoleData
	RoleTape
	RoleRobot
)

func (r Role) String() string {
	switch r {
	case RoleControl:
		return "control"
	case RoleData:
		return "data"
	case RoleTape:
		return "tape"
	case RoleRobot:
		return "robot"
	default:
		return "unknown"
	}
}

// connSeq hands out process-wide unique connection sequence numbers for
// LogContext.ConnSeq, one per accepted or dialed socket.
var connSeq atomic.Uint64

// Conn is one control connection: its socket, its incremental frame
// reader, and the dispatcher-visible connection state (negotiated
// version, conn_open/authorized). A session holds up to four of these
// (CONTROL, DATA, TAPE, ROBOT may each be a distinct process with its own
// socket, or may coincide on the same one).
type Conn struct {
	netConn net.Conn
	reader  *frameReader
	seq     uint32

	Role  Role
	State *dispatcher.Connection
}

// NewConn wraps an already-accepted or dialed socket, offering the given
// protocol version before any CONNECT_OPEN has been exchanged (the
// version a listener negotiates out of band, e.g. from config, before the
// first message is dispatched).
func NewConn(netConn net.Conn, role Role, offered version.Number) *Conn {
	seq := connSeq.Add(1)
	var clientIP string
	if addr := netConn.RemoteAddr(); addr != nil {
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			clientIP = host
		} else {
			clientIP = addr.String()
		}
	}
	lc := logger.NewLogContext(clientIP, seq).WithRole(role.String())

	return &Conn{
		netConn: netConn,
		reader:  newFrameReader(netConn),
		Role:    role,
		State: &dispatcher.Connection{
			Version: offered,
			LogCtx:  logger.WithContext(context.Background(), lc),
		},
	}
}

// nextSequence returns the next outgoing message sequence number for this
// connection, used both for unsolicited notifications and for replies.
func (c *Conn) nextSequence() uint32 {
	return atomic.AddUint32(&c.seq, 1)
}

// TryReceive attempts to advance this connection's inbound message
// assembly without blocking, returning ErrWouldBlock if no full message
// is ready yet.
func (c *Conn) TryReceive() (ndmp9.Header, []byte, error) {
	return c.reader.next()
}

// Send frames and writes a message to this connection, used for replies
// and for unsolicited notifications. It implements dispatcher.Transport's
// send half for the outgoing call path.
func (c *Conn) Send(h ndmp9.Header, body []byte) error {
	return writeMessage(c.netConn, h, body)
}

// Receive implements the rest of dispatcher.Transport: a blocking receive
// for the outgoing call/call_no_tattle path, used outside the cooperative
// scheduler (that path is a synchronous request/reply round trip by
// design, unlike the scheduler's own non-blocking TryReceive).
func (c *Conn) Receive() (ndmp9.Header, []byte, error) {
	for {
		h, body, err := c.reader.next()
		if err == ErrWouldBlock {
			time.Sleep(pollDeadline)
			continue
		}
		return h, body, err
	}
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.netConn.Close()
}
