package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
	"github.com/ndmpd/ndmpd/internal/protocol/version"
)

func echoTable() Table {
	return Table{
		ndmp9.DataGetState: {
			Handler: func(conn *Connection, req interface{}) (interface{}, error) {
				return &ndmp9.DataGetStateReply{State: 7}, nil
			},
		},
		ndmp9.DataAbort: {
			Handler: func(conn *Connection, req interface{}) (interface{}, error) {
				return nil, nil
			},
		},
		ndmp9.ConnectClientAuth: {
			Permissions: OkNotAuthorized,
			Handler: func(conn *Connection, req interface{}) (interface{}, error) {
				conn.Authorized = true
				return nil, nil
			},
		},
		ndmp9.TapeOpen: {
			Handler: func(conn *Connection, req interface{}) (interface{}, error) {
				return nil, ndmp9.NoDeviceErr
			},
		},
	}
}

func openedConn() *Connection {
	return &Connection{Version: version.V3, Open: true, Authorized: true}
}

func TestDispatchNotifyClassIsNoSend(t *testing.T) {
	d := New(echoTable())
	conn := openedConn()

	reply, body, noSend := d.Dispatch(conn, ndmp9.Header{MessageID: ndmp9.NotifyDataHalted, MessageType: ndmp9.MessageRequest}, nil)
	assert.True(t, noSend)
	assert.Nil(t, body)
	assert.Equal(t, ndmp9.NoErr, reply.ErrorCode)
}

func TestDispatchUnknownHandlerIsNotSupported(t *testing.T) {
	d := New(echoTable())
	conn := openedConn()

	reply, _, noSend := d.Dispatch(conn, ndmp9.Header{MessageID: ndmp9.SCSIReset, MessageType: ndmp9.MessageRequest}, nil)
	assert.False(t, noSend)
	assert.Equal(t, ndmp9.NotSupportedErr, reply.ErrorCode)
}

func TestDispatchEmptyBodyHandlerRuns(t *testing.T) {
	d := New(echoTable())
	conn := openedConn()

	reply, body, noSend := d.Dispatch(conn, ndmp9.Header{MessageID: ndmp9.DataGetState, MessageType: ndmp9.MessageRequest}, nil)
	require.False(t, noSend)
	assert.Equal(t, ndmp9.NoErr, reply.ErrorCode)
	require.NotEmpty(t, body)
}

func TestDispatchHandlerErrorSetsHeaderCode(t *testing.T) {
	d := New(echoTable())
	conn := openedConn()

	reply, body, _ := d.Dispatch(conn, ndmp9.Header{MessageID: ndmp9.TapeOpen, MessageType: ndmp9.MessageRequest}, nil)
	assert.Equal(t, ndmp9.NoDeviceErr, reply.ErrorCode)
	assert.Nil(t, body)
	assert.True(t, conn.ErrorRaised)
}

func TestDispatchPermissionDeniedWhenNotAuthorized(t *testing.T) {
	d := New(echoTable())
	conn := &Connection{Version: version.V3, Open: true, Authorized: false}

	reply, _, _ := d.Dispatch(conn, ndmp9.Header{MessageID: ndmp9.DataGetState, MessageType: ndmp9.MessageRequest}, nil)
	assert.Equal(t, ndmp9.NotAuthorizedErr, reply.ErrorCode)
}

func TestDispatchConnectClientAuthAllowedBeforeAuthorized(t *testing.T) {
	d := New(echoTable())
	conn := &Connection{Version: version.V3, Open: true, Authorized: false}

	wireBody, err := ndmp9.MarshalBody(&ndmp9.ConnectClientAuthRequest{AuthType: 0})
	require.NoError(t, err)

	reply, _, _ := d.Dispatch(conn, ndmp9.Header{MessageID: ndmp9.ConnectClientAuth, MessageType: ndmp9.MessageRequest}, wireBody)
	assert.Equal(t, ndmp9.NoErr, reply.ErrorCode)
	assert.True(t, conn.Authorized)
}

func TestDispatchImplicitConnectOpenBeforeFirstRequest(t *testing.T) {
	d := New(echoTable())
	conn := &Connection{Version: version.V3, Authorized: true}

	reply, _, _ := d.Dispatch(conn, ndmp9.Header{MessageID: ndmp9.DataGetState, MessageType: ndmp9.MessageRequest}, nil)
	assert.True(t, conn.Open)
	assert.Equal(t, ndmp9.NoErr, reply.ErrorCode)
}

func TestConnectOpenRejectsVersionChangeOnAlreadyOpenConnection(t *testing.T) {
	d := New(echoTable())
	conn := openedConn()

	wireBody, err := ndmp9.MarshalBody(&ndmp9.ConnectOpenRequest{ProtocolVersion: uint32(version.V4)})
	require.NoError(t, err)

	reply, _, _ := d.Dispatch(conn, ndmp9.Header{MessageID: ndmp9.ConnectOpen, MessageType: ndmp9.MessageRequest}, wireBody)
	assert.Equal(t, ndmp9.UndefinedErr, reply.ErrorCode)
}

func TestDispatchOSOverrideShortCircuits(t *testing.T) {
	d := New(echoTable())
	d.SetOSOverride(func(conn *Connection, header ndmp9.Header, wireBody []byte) (bool, interface{}, error) {
		if header.MessageID == ndmp9.TapeOpen {
			return true, nil, nil
		}
		return false, nil, nil
	})
	conn := openedConn()

	reply, _, _ := d.Dispatch(conn, ndmp9.Header{MessageID: ndmp9.TapeOpen, MessageType: ndmp9.MessageRequest}, nil)
	assert.Equal(t, ndmp9.NoErr, reply.ErrorCode)
}

func TestPerVersionTableOverridesCanonical(t *testing.T) {
	d := New(echoTable())
	d.RegisterVersion(version.V3, Table{
		ndmp9.TapeOpen: {Handler: func(conn *Connection, req interface{}) (interface{}, error) {
			return nil, nil
		}},
	})
	conn := openedConn()

	reply, _, _ := d.Dispatch(conn, ndmp9.Header{MessageID: ndmp9.TapeOpen, MessageType: ndmp9.MessageRequest}, nil)
	assert.Equal(t, ndmp9.NoErr, reply.ErrorCode)
}

// loopbackTransport is an in-memory Transport pairing a request directly
// with a canned reply, for exercising Call/CallNoTattle without a socket.
type loopbackTransport struct {
	sentHeader ndmp9.Header
	sentBody   []byte
	replyDelay time.Duration
	reply      ndmp9.Header
	replyBody  []byte
}

func (l *loopbackTransport) Send(header ndmp9.Header, body []byte) error {
	l.sentHeader = header
	l.sentBody = body
	return nil
}

func (l *loopbackTransport) Receive() (ndmp9.Header, []byte, error) {
	if l.replyDelay > 0 {
		time.Sleep(l.replyDelay)
	}
	return l.reply, l.replyBody, nil
}

func TestCallRoundTripsDataGetState(t *testing.T) {
	replyBody, err := ndmp9.MarshalBody(&ndmp9.DataGetStateReply{State: 3})
	require.NoError(t, err)
	transport := &loopbackTransport{
		reply:     ndmp9.Header{MessageID: ndmp9.DataGetState, MessageType: ndmp9.MessageReply, ErrorCode: ndmp9.NoErr},
		replyBody: replyBody,
	}

	reply, outcome, err := Call(transport, version.V3, ndmp9.DataGetState, 1, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
	state, ok := reply.(*ndmp9.DataGetStateReply)
	require.True(t, ok)
	assert.Equal(t, uint32(3), state.State)
}

func TestCallReportsReplyError(t *testing.T) {
	transport := &loopbackTransport{
		reply: ndmp9.Header{MessageID: ndmp9.TapeOpen, MessageType: ndmp9.MessageReply, ErrorCode: ndmp9.NoDeviceErr},
	}

	_, outcome, err := Call(transport, version.V3, ndmp9.TapeOpen, 1, &ndmp9.TapeOpenRequest{Device: "/dev/nst0"}, time.Second)
	assert.Equal(t, OutcomeReplyError, outcome)
	assert.Equal(t, ndmp9.NoDeviceErr, err)
}

func TestCallReportsReplyLate(t *testing.T) {
	transport := &loopbackTransport{
		replyDelay: 5 * time.Millisecond,
		reply:      ndmp9.Header{MessageID: ndmp9.DataGetState, MessageType: ndmp9.MessageReply, ErrorCode: ndmp9.NoErr},
	}

	_, outcome, err := Call(transport, version.V3, ndmp9.DataGetState, 1, nil, time.Microsecond)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplyLate, outcome)
}

func TestCallNoTattleIgnoresDelay(t *testing.T) {
	transport := &loopbackTransport{
		replyDelay: 5 * time.Millisecond,
		reply:      ndmp9.Header{MessageID: ndmp9.DataGetState, MessageType: ndmp9.MessageReply, ErrorCode: ndmp9.NoErr},
	}

	_, outcome, err := CallNoTattle(transport, version.V3, ndmp9.DataGetState, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
}

func TestCallBotchesOnUnknownVersion(t *testing.T) {
	transport := &loopbackTransport{}
	_, outcome, err := Call(transport, version.Number(99), ndmp9.DataGetState, 1, nil, time.Second)
	assert.Equal(t, OutcomeBotch, outcome)
	assert.Equal(t, ndmp9.UndefinedErr, err)
}
