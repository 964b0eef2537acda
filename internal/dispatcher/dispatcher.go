// Package dispatcher implements the NDMP request dispatcher: the per-
// connection routing layer between a decoded wire header/body and the
// semantic handlers the role agents (CONNECT, CONFIG, DATA, TAPE, MOVER,
// SCSI, CONTROL) register against the canonical message set.
package dispatcher

import (
	"context"
	"errors"

	"github.com/ndmpd/ndmpd/internal/logger"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
	"github.com/ndmpd/ndmpd/internal/protocol/version"
)

// Permission loosens the connection-state checks the dispatcher otherwise
// enforces before invoking a handler.
type Permission uint8

const (
	// OkNotConnected permits a handler to run before CONNECT_OPEN.
	OkNotConnected Permission = 1 << iota
	// OkNotAuthorized permits a handler to run before CONNECT_CLIENT_AUTH.
	OkNotAuthorized
)

// HandlerFunc implements one message id's semantics against the canonical
// request form, returning a canonical reply (or nil for an empty-bodied
// reply) or an ndmp9.Error.
type HandlerFunc func(conn *Connection, req interface{}) (interface{}, error)

// Entry pairs a handler with the permission flags that gate it.
type Entry struct {
	Handler     HandlerFunc
	Permissions Permission
}

// Table maps canonical message ids to their handler entries.
type Table map[ndmp9.MessageID]Entry

// OSOverrideFunc is the dispatcher's preemption hook: called before normal
// handler resolution with the raw header and wire body, it can short-
// circuit dispatch entirely by returning handled=true.
type OSOverrideFunc func(conn *Connection, header ndmp9.Header, wireBody []byte) (handled bool, replyBody interface{}, err error)

// Connection is the minimal per-connection state the dispatcher needs:
// the negotiated wire version and the conn_open/authorized flags that
// gate OK_NOT_CONNECTED/OK_NOT_AUTHORIZED handlers. Session owns the
// lifetime of this struct; the dispatcher only reads and mutates it.
type Connection struct {
	Version     version.Number
	Open        bool
	Authorized  bool
	ErrorRaised bool

	// LogCtx carries this connection's *logger.LogContext (role, conn_seq,
	// client_ip) for the structured op=/err=/why= log line finish emits on
	// a handler error. Session populates it per connection; nil is valid
	// and just means no context fields get attached.
	LogCtx context.Context
}

// touchLogCtx refreshes the op and msg_seq fields of conn's LogContext for
// the request about to be dispatched, if one has been attached. A
// connection with no LogCtx (tests, or a wire-up that hasn't set one)
// leaves it nil; logCtx substitutes context.Background() for logging.
func (conn *Connection) touchLogCtx(id ndmp9.MessageID, seq uint32) {
	if conn.LogCtx == nil {
		return
	}
	lc := logger.FromContext(conn.LogCtx)
	if lc == nil {
		return
	}
	conn.LogCtx = logger.WithContext(conn.LogCtx, lc.WithOp(id.String()).WithMsgSeq(seq))
}

// logCtx returns conn.LogCtx, or context.Background() if none is attached.
func (conn *Connection) logCtx() context.Context {
	if conn.LogCtx != nil {
		return conn.LogCtx
	}
	return context.Background()
}

// Dispatcher holds the canonical handler table plus any per-version
// overrides, and an optional OS-level override hook.
type Dispatcher struct {
	canonical  Table
	perVersion map[version.Number]Table
	osOverride OSOverrideFunc
}

// New builds a Dispatcher over canonical, installing its own CONNECT_OPEN
// handler (connection-state mutation is the dispatcher's own
// responsibility, not a role agent's) ahead of whatever the caller
// registered for that id.
func New(canonical Table) *Dispatcher {
	t := make(Table, len(canonical)+1)
	for id, e := range canonical {
		t[id] = e
	}
	t[ndmp9.ConnectOpen] = Entry{
		Handler:     connectOpenHandler,
		Permissions: OkNotConnected | OkNotAuthorized,
	}
	return &Dispatcher{canonical: t, perVersion: make(map[version.Number]Table)}
}

// RegisterVersion installs a per-version handler table that is consulted
// before the canonical table for connections negotiated at v.
func (d *Dispatcher) RegisterVersion(v version.Number, t Table) {
	d.perVersion[v] = t
}

// SetOSOverride installs the dispatcher's preemption hook.
func (d *Dispatcher) SetOSOverride(f OSOverrideFunc) {
	d.osOverride = f
}

// Dispatch runs the full request-dispatch algorithm for one decoded
// request: reply-header seeding, notify-class NO_SEND marking, implicit
// CONNECT_OPEN, the OS override, per-version/canonical handler
// resolution, permission enforcement, handler invocation, and reply
// translation back to the wire version. It returns the reply header, the
// encoded wire reply body (nil for an empty-bodied reply), and whether
// the reply is NO_SEND (the caller must not transmit anything for it).
//
// The returned header's own Sequence field is left zero; the session
// layer assigns outgoing sequence numbers when it frames the reply.
func (d *Dispatcher) Dispatch(conn *Connection, reqHeader ndmp9.Header, wireBody []byte) (ndmp9.Header, []byte, bool) {
	reply := ndmp9.Header{
		MessageType:   ndmp9.MessageReply,
		MessageID:     reqHeader.MessageID,
		ReplySequence: reqHeader.Sequence,
		ErrorCode:     ndmp9.NoErr,
	}

	if reqHeader.MessageID.IsNotifyClass() {
		return reply, nil, true
	}

	conn.touchLogCtx(reqHeader.MessageID, reqHeader.Sequence)

	if !conn.Open && reqHeader.MessageID != ndmp9.ConnectOpen {
		implicit := &ndmp9.ConnectOpenRequest{ProtocolVersion: uint32(conn.Version)}
		if _, err := connectOpenHandler(conn, implicit); err != nil {
			conn.ErrorRaised = true
			reply.ErrorCode = toErrorCode(err)
			return reply, nil, false
		}
	}

	if d.osOverride != nil {
		if handled, replyBody, err := d.osOverride(conn, reqHeader, wireBody); handled {
			return d.finish(conn, reply, reqHeader.MessageID, replyBody, err)
		}
	}

	replyBody, err := d.resolveAndInvoke(conn, reqHeader.MessageID, wireBody)
	return d.finish(conn, reply, reqHeader.MessageID, replyBody, err)
}

// resolveAndInvoke implements steps 6-8: handler lookup (per-version
// falling back to canonical), permission enforcement, request
// translation, and handler invocation.
func (d *Dispatcher) resolveAndInvoke(conn *Connection, id ndmp9.MessageID, wireBody []byte) (interface{}, error) {
	entry, ok := d.lookup(conn.Version, id)
	if !ok {
		return nil, ndmp9.NotSupportedErr
	}
	if err := checkPermission(conn, entry.Permissions); err != nil {
		return nil, err
	}

	bridge, ok := version.Lookup(conn.Version)
	if !ok {
		return nil, ndmp9.UndefinedErr
	}

	var canonicalReq interface{}
	if len(wireBody) > 0 {
		req, err := bridge.RequestToCanonical(id, wireBody)
		if err != nil {
			return nil, err
		}
		canonicalReq = req
	}

	return entry.Handler(conn, canonicalReq)
}

// lookup consults the per-version table before falling back to the
// canonical one, per step 6 of the dispatch algorithm.
func (d *Dispatcher) lookup(v version.Number, id ndmp9.MessageID) (Entry, bool) {
	if t, ok := d.perVersion[v]; ok {
		if e, ok := t[id]; ok {
			return e, true
		}
	}
	e, ok := d.canonical[id]
	return e, ok
}

// checkPermission enforces step 7: the absence of a flag requires the
// corresponding connection state, else PERMISSION_ERR/NOT_AUTHORIZED_ERR.
func checkPermission(conn *Connection, p Permission) error {
	if p&OkNotConnected == 0 && !conn.Open {
		return ndmp9.PermissionErr
	}
	if p&OkNotAuthorized == 0 && !conn.Authorized {
		return ndmp9.NotAuthorizedErr
	}
	return nil
}

// finish implements step 9: capture the handler's error into the reply
// header, or translate a non-nil reply body back to the wire version.
func (d *Dispatcher) finish(conn *Connection, reply ndmp9.Header, id ndmp9.MessageID, replyBody interface{}, err error) (ndmp9.Header, []byte, bool) {
	if err != nil {
		conn.ErrorRaised = true
		reply.ErrorCode = toErrorCode(err)
		logger.ErrorCtx(conn.logCtx(), "request failed",
			"op", id.String(), "err", int(reply.ErrorCode), "why", err.Error())
		return reply, nil, false
	}
	if replyBody == nil {
		return reply, nil, false
	}
	bridge, ok := version.Lookup(conn.Version)
	if !ok {
		reply.ErrorCode = ndmp9.UndefinedErr
		return reply, nil, false
	}
	wireReply, encErr := bridge.ReplyFromCanonical(id, replyBody)
	if encErr != nil {
		reply.ErrorCode = ndmp9.XDREncodeErr
		return reply, nil, false
	}
	return reply, wireReply, false
}

// connectOpenHandler is the dispatcher's built-in CONNECT_OPEN semantics:
// negotiate (or re-validate) the connection's wire version. A
// reconnection attempt offering a different version than the one already
// in force is rejected, matching "request.protocol_version !=
// connection.protocol_version" from the dispatch algorithm.
func connectOpenHandler(conn *Connection, reqI interface{}) (interface{}, error) {
	req, ok := reqI.(*ndmp9.ConnectOpenRequest)
	if !ok {
		return nil, ndmp9.IllegalArgsErr
	}
	offered := version.Number(req.ProtocolVersion)
	if conn.Open && offered != conn.Version {
		return nil, ndmp9.UndefinedErr
	}
	if _, ok := version.Lookup(offered); !ok {
		return nil, ndmp9.UndefinedErr
	}
	conn.Version = offered
	conn.Open = true
	return &ndmp9.ConnectOpenReply{}, nil
}

// toErrorCode unwraps an ndmp9.Error for the reply header, defaulting to
// UNDEFINED_ERR for any other error type a handler might return.
func toErrorCode(err error) ndmp9.Error {
	var ne ndmp9.Error
	if errors.As(err, &ne) {
		return ne
	}
	return ndmp9.UndefinedErr
}
