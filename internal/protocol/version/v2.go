package version

import (
	"bytes"
	"fmt"

	xdrgo "github.com/rasky/go-xdr/xdr2"

	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
)

func init() {
	Register(v2Bridge{})
}

// v2Bridge implements the NDMP version 2 wire bridge. v2 predates MOVER_READ
// and the SCSI EXECUTE_CDB passthrough; those message ids are rejected here
// with NotSupportedErr rather than silently accepted, matching the original
// per-version capability tables.
type v2Bridge struct{}

func (v2Bridge) Version() Number { return V2 }

func (v2Bridge) RequestToCanonical(id ndmp9.MessageID, wireBody []byte) (interface{}, error) {
	if !v2Supports(id) {
		return nil, ndmp9.NotSupportedErr
	}
	target, ok := canonicalRequestFor(id)
	if !ok {
		return nil, ndmp9.NotSupportedErr
	}
	if _, err := xdrgo.Unmarshal(bytes.NewReader(wireBody), target); err != nil {
		return nil, fmt.Errorf("version: v2 request %v: %w", id, err)
	}
	return target, nil
}

func (v2Bridge) ReplyFromCanonical(id ndmp9.MessageID, canonicalReply interface{}) ([]byte, error) {
	if !v2Supports(id) {
		return nil, ndmp9.NotSupportedErr
	}
	var buf bytes.Buffer
	if _, err := xdrgo.Marshal(&buf, canonicalReply); err != nil {
		return nil, fmt.Errorf("version: v2 reply %v: %w", id, err)
	}
	return buf.Bytes(), nil
}

// CanonicalToRequest encodes a canonical request struct into v2's wire
// shape for the outgoing call/call_no_tattle path.
func (v2Bridge) CanonicalToRequest(id ndmp9.MessageID, canonicalRequest interface{}) ([]byte, error) {
	if !v2Supports(id) {
		return nil, ndmp9.NotSupportedErr
	}
	var buf bytes.Buffer
	if _, err := xdrgo.Marshal(&buf, canonicalRequest); err != nil {
		return nil, fmt.Errorf("version: v2 request %v: %w", id, err)
	}
	return buf.Bytes(), nil
}

// ReplyToCanonical decodes a v2 wire reply body into canonical form.
func (v2Bridge) ReplyToCanonical(id ndmp9.MessageID, wireReply []byte) (interface{}, error) {
	if !v2Supports(id) {
		return nil, ndmp9.NotSupportedErr
	}
	target, ok := canonicalReplyFor(id)
	if !ok {
		return nil, nil
	}
	if len(wireReply) == 0 {
		return target, nil
	}
	if _, err := xdrgo.Unmarshal(bytes.NewReader(wireReply), target); err != nil {
		return nil, fmt.Errorf("version: v2 reply %v: %w", id, err)
	}
	return target, nil
}

func v2Supports(id ndmp9.MessageID) bool {
	switch id {
	case ndmp9.MoverRead, ndmp9.SCSIExecuteCdb:
		return false
	default:
		return true
	}
}
