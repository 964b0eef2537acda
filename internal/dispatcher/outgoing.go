package dispatcher

import (
	"time"

	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
	"github.com/ndmpd/ndmpd/internal/protocol/version"
)

// Outcome categorizes the result of an outgoing call from the CONTROL
// agent's point of view, independent of any ndmp9.Error the remote's
// reply header carries.
type Outcome int

const (
	// OutcomeOK is a reply that arrived, decoded, and carries NO_ERR.
	OutcomeOK Outcome = iota
	// OutcomeReplyError is a reply that arrived and decoded but whose
	// header error is non-NO_ERR.
	OutcomeReplyError
	// OutcomeHdrError is a transport-level failure: the reply never
	// arrived, or its header/body failed to decode.
	OutcomeHdrError
	// OutcomeReplyLate is a reply that arrived after the call's time
	// limit; tattled, not treated as a functional error.
	OutcomeReplyLate
	// OutcomeBotch is an internal dispatcher failure unrelated to the
	// remote (no bridge for the target version, encode failure).
	OutcomeBotch
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "OK"
	case OutcomeReplyError:
		return "REPLY_ERROR"
	case OutcomeHdrError:
		return "HDR_ERROR"
	case OutcomeReplyLate:
		return "REPLY_LATE"
	case OutcomeBotch:
		return "BOTCH"
	default:
		return "UNKNOWN"
	}
}

// Transport is what Call needs from the connection to a remote agent: one
// framed request/reply round trip over whatever conveys the 24-byte
// header plus body (a TCP control connection, or an in-process channel to
// a co-located agent).
type Transport interface {
	Send(header ndmp9.Header, body []byte) error
	Receive() (ndmp9.Header, []byte, error)
}

// Call marshals req (a canonical request struct, nil for an empty body)
// into remoteVersion's wire shape, sends it over transport tagged with
// sequence, and waits for and translates the reply. A reply arriving
// after timeLimit elapses is reported as OutcomeReplyLate rather than
// treated as a functional failure, per the dispatch algorithm's
// per-connection time_limit.
func Call(transport Transport, remoteVersion version.Number, id ndmp9.MessageID, sequence uint32, req interface{}, timeLimit time.Duration) (interface{}, Outcome, error) {
	return call(transport, remoteVersion, id, sequence, req, timeLimit)
}

// CallNoTattle is Call without a time limit: the round trip is never
// reported as REPLY_LATE no matter how long it takes.
func CallNoTattle(transport Transport, remoteVersion version.Number, id ndmp9.MessageID, sequence uint32, req interface{}) (interface{}, Outcome, error) {
	return call(transport, remoteVersion, id, sequence, req, 0)
}

func call(transport Transport, remoteVersion version.Number, id ndmp9.MessageID, sequence uint32, req interface{}, timeLimit time.Duration) (interface{}, Outcome, error) {
	bridge, ok := version.Lookup(remoteVersion)
	if !ok {
		return nil, OutcomeBotch, ndmp9.UndefinedErr
	}

	var wireReq []byte
	if req != nil {
		body, err := bridge.CanonicalToRequest(id, req)
		if err != nil {
			return nil, OutcomeBotch, err
		}
		wireReq = body
	}

	reqHeader := ndmp9.Header{
		Sequence:    sequence,
		MessageType: ndmp9.MessageRequest,
		MessageID:   id,
	}
	start := time.Now()
	if err := transport.Send(reqHeader, wireReq); err != nil {
		return nil, OutcomeHdrError, err
	}

	replyHeader, wireReply, err := transport.Receive()
	if err != nil {
		return nil, OutcomeHdrError, err
	}
	if timeLimit > 0 && time.Since(start) > timeLimit {
		return nil, OutcomeReplyLate, nil
	}

	if replyHeader.ErrorCode != ndmp9.NoErr {
		return nil, OutcomeReplyError, replyHeader.ErrorCode
	}

	replyBody, err := bridge.ReplyToCanonical(id, wireReply)
	if err != nil {
		return nil, OutcomeHdrError, err
	}
	return replyBody, OutcomeOK, nil
}
