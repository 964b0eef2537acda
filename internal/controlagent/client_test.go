package controlagent

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndmpd/ndmpd/internal/dispatcher"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
	"github.com/ndmpd/ndmpd/internal/protocol/version"
)

// scriptedTransport answers one outgoing call per entry in replies, keyed
// by message id, standing in for a remote agent's control connection
// without an actual socket.
type scriptedTransport struct {
	replies map[ndmp9.MessageID]scriptedReply
	lastReq ndmp9.Header
}

type scriptedReply struct {
	body interface{}
	err  ndmp9.Error
}

func (s *scriptedTransport) Send(h ndmp9.Header, body []byte) error {
	s.lastReq = h
	return nil
}

func (s *scriptedTransport) Receive() (ndmp9.Header, []byte, error) {
	script, ok := s.replies[s.lastReq.MessageID]
	if !ok {
		return ndmp9.Header{}, nil, assertNoScript(s.lastReq.MessageID)
	}
	h := ndmp9.Header{
		Sequence:      s.lastReq.Sequence,
		MessageType:   ndmp9.MessageReply,
		MessageID:     s.lastReq.MessageID,
		ReplySequence: s.lastReq.Sequence,
		ErrorCode:     script.err,
	}
	if script.body == nil || script.err != ndmp9.NoErr {
		return h, nil, nil
	}
	bridge, _ := version.Lookup(version.Canonical)
	body, err := bridge.ReplyFromCanonical(s.lastReq.MessageID, script.body)
	if err != nil {
		return ndmp9.Header{}, nil, err
	}
	return h, body, nil
}

func assertNoScript(id ndmp9.MessageID) error {
	panic(fmt.Sprintf("controlagent: no scripted reply for message id %d", id))
}

func newClient(replies map[ndmp9.MessageID]scriptedReply) *Client {
	return &Client{
		Transport: &scriptedTransport{replies: replies},
		Version:   version.Canonical,
	}
}

func TestClientTapeMtioReturnsResidualCount(t *testing.T) {
	c := newClient(map[ndmp9.MessageID]scriptedReply{
		ndmp9.TapeMtio: {body: &ndmp9.TapeMtioReply{ResidCount: 3}},
	})
	resid, err := c.TapeMtio(uint32(ndmp9.MtioWireFSF), 5)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), resid)
}

func TestClientTapeReadReturnsData(t *testing.T) {
	c := newClient(map[ndmp9.MessageID]scriptedReply{
		ndmp9.TapeRead: {body: &ndmp9.TapeReadReply{Data: []byte("label-record")}},
	})
	data, err := c.TapeRead(64)
	require.NoError(t, err)
	assert.Equal(t, []byte("label-record"), data)
}

func TestClientCallOKPropagatesReplyError(t *testing.T) {
	c := newClient(map[ndmp9.MessageID]scriptedReply{
		ndmp9.TapeOpen: {err: ndmp9.DevNotOpenErr},
	})
	err := c.TapeOpen("/dev/nst0", 0)
	require.Error(t, err)
	outcomeErr, ok := err.(*OutcomeError)
	require.True(t, ok)
	assert.Equal(t, dispatcher.OutcomeReplyError, outcomeErr.Outcome)
}

func TestClientDataGetStateDecodesReply(t *testing.T) {
	c := newClient(map[ndmp9.MessageID]scriptedReply{
		ndmp9.DataGetState: {body: &ndmp9.DataGetStateReply{State: 2, BytesProcessed: 4096}},
	})
	reply, err := c.DataGetState()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), reply.State)
	assert.Equal(t, uint64(4096), reply.BytesProcessed)
}

func TestClientMoverGetStateDecodesReply(t *testing.T) {
	c := newClient(map[ndmp9.MessageID]scriptedReply{
		ndmp9.MoverGetState: {body: &ndmp9.MoverGetStateReply{State: 1, DataWritten: 1024}},
	})
	reply, err := c.MoverGetState()
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), reply.DataWritten)
}
