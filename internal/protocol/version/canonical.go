package version

import (
	"bytes"
	"fmt"

	xdrgo "github.com/rasky/go-xdr/xdr2"

	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
)

func init() {
	Register(canonicalBridge{})
}

// canonicalBridge is the identity bridge for the canonical form itself,
// used when a CONTROL agent drives a co-located DATA/TAPE/ROBOT agent in
// the same process: there is no real wire version to negotiate, but the
// dispatcher and the outgoing call path both go through a Bridge
// unconditionally, so this keeps that one code path instead of branching
// it for the local case.
type canonicalBridge struct{}

func (canonicalBridge) Version() Number { return Canonical }

func (canonicalBridge) RequestToCanonical(id ndmp9.MessageID, wireBody []byte) (interface{}, error) {
	target, ok := canonicalRequestFor(id)
	if !ok {
		return nil, ndmp9.NotSupportedErr
	}
	if len(wireBody) == 0 {
		return target, nil
	}
	if _, err := xdrgo.Unmarshal(bytes.NewReader(wireBody), target); err != nil {
		return nil, fmt.Errorf("version: canonical request %v: %w", id, err)
	}
	return target, nil
}

func (canonicalBridge) ReplyFromCanonical(id ndmp9.MessageID, canonicalReply interface{}) ([]byte, error) {
	if canonicalReply == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if _, err := xdrgo.Marshal(&buf, canonicalReply); err != nil {
		return nil, fmt.Errorf("version: canonical reply %v: %w", id, err)
	}
	return buf.Bytes(), nil
}

func (canonicalBridge) CanonicalToRequest(id ndmp9.MessageID, canonicalRequest interface{}) ([]byte, error) {
	if canonicalRequest == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if _, err := xdrgo.Marshal(&buf, canonicalRequest); err != nil {
		return nil, fmt.Errorf("version: canonical request %v: %w", id, err)
	}
	return buf.Bytes(), nil
}

func (canonicalBridge) ReplyToCanonical(id ndmp9.MessageID, wireReply []byte) (interface{}, error) {
	target, ok := canonicalReplyFor(id)
	if !ok {
		return nil, nil
	}
	if len(wireReply) == 0 {
		return target, nil
	}
	if _, err := xdrgo.Unmarshal(bytes.NewReader(wireReply), target); err != nil {
		return nil, fmt.Errorf("version: canonical reply %v: %w", id, err)
	}
	return target, nil
}
