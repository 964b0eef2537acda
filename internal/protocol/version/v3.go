package version

import (
	"bytes"
	"fmt"

	xdrgo "github.com/rasky/go-xdr/xdr2"

	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
)

func init() {
	Register(v3Bridge{})
}

// v3Bridge implements the NDMP version 3 wire bridge. v3's message bodies
// are structurally close to the canonical form for most operations (the
// wire divergence is concentrated in a handful of fields NDMP v4 later
// widened, like multi-homed addresses); where a v3 body is byte-identical
// in field order and width to its canonical counterpart, the same
// go-xdr-backed struct is reused for both the wire and canonical decode,
// and RequestToCanonical/ReplyFromCanonical are pure passthroughs.
type v3Bridge struct{}

func (v3Bridge) Version() Number { return V3 }

func (v3Bridge) RequestToCanonical(id ndmp9.MessageID, wireBody []byte) (interface{}, error) {
	target, ok := canonicalRequestFor(id)
	if !ok {
		return nil, ndmp9.NotSupportedErr
	}
	if _, err := xdrgo.Unmarshal(bytes.NewReader(wireBody), target); err != nil {
		return nil, fmt.Errorf("version: v3 request %v: %w", id, err)
	}
	return target, nil
}

func (v3Bridge) ReplyFromCanonical(id ndmp9.MessageID, canonicalReply interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdrgo.Marshal(&buf, canonicalReply); err != nil {
		return nil, fmt.Errorf("version: v3 reply %v: %w", id, err)
	}
	return buf.Bytes(), nil
}

// CanonicalToRequest encodes a canonical request struct into v3's wire
// shape, for the CONTROL agent's outgoing call/call_no_tattle path. v3's
// request bodies are structurally identical to canonical, so this is a
// direct marshal with no field remapping.
func (v3Bridge) CanonicalToRequest(id ndmp9.MessageID, canonicalRequest interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdrgo.Marshal(&buf, canonicalRequest); err != nil {
		return nil, fmt.Errorf("version: v3 request %v: %w", id, err)
	}
	return buf.Bytes(), nil
}

// ReplyToCanonical decodes a v3 wire reply body into its canonical form,
// the inverse of ReplyFromCanonical, used when CONTROL receives a reply
// from a remote agent speaking v3.
func (v3Bridge) ReplyToCanonical(id ndmp9.MessageID, wireReply []byte) (interface{}, error) {
	target, ok := canonicalReplyFor(id)
	if !ok {
		return nil, nil
	}
	if len(wireReply) == 0 {
		return target, nil
	}
	if _, err := xdrgo.Unmarshal(bytes.NewReader(wireReply), target); err != nil {
		return nil, fmt.Errorf("version: v3 reply %v: %w", id, err)
	}
	return target, nil
}

// canonicalRequestFor returns a pointer to a zero value of the canonical
// request/reply struct appropriate for decoding message id, so Unmarshal
// has a concrete type to populate by reflection.
func canonicalRequestFor(id ndmp9.MessageID) (interface{}, bool) {
	switch id {
	case ndmp9.ConnectOpen:
		return &ndmp9.ConnectOpenRequest{}, true
	case ndmp9.ConnectClientAuth:
		return &ndmp9.ConnectClientAuthRequest{}, true
	case ndmp9.ConfigGetAuthAttr:
		return &ndmp9.ConfigGetAuthAttrRequest{}, true
	case ndmp9.DataListen:
		return &ndmp9.DataListenRequest{}, true
	case ndmp9.DataConnect:
		return &ndmp9.DataConnectRequest{}, true
	case ndmp9.DataStartBackup:
		return &ndmp9.DataStartBackupRequest{}, true
	case ndmp9.DataStartRecover:
		return &ndmp9.DataStartRecoverRequest{}, true
	case ndmp9.MoverListen:
		return &ndmp9.MoverListenRequest{}, true
	case ndmp9.MoverConnect:
		return &ndmp9.MoverConnectRequest{}, true
	case ndmp9.MoverSetWindow:
		return &ndmp9.MoverSetWindowRequest{}, true
	case ndmp9.MoverRead:
		return &ndmp9.MoverReadRequest{}, true
	case ndmp9.TapeOpen:
		return &ndmp9.TapeOpenRequest{}, true
	case ndmp9.TapeMtio:
		return &ndmp9.TapeMtioRequest{}, true
	case ndmp9.TapeRead:
		return &ndmp9.TapeReadRequest{}, true
	case ndmp9.TapeWrite:
		return &ndmp9.TapeWriteRequest{}, true
	case ndmp9.ConfigGetButypeAttr:
		return &ndmp9.ConfigGetButypeAttrRequest{}, true
	case ndmp9.SCSIExecuteCdb:
		return &ndmp9.ScsiExecuteCdbRequest{}, true
	default:
		return nil, false
	}
}

// canonicalReplyFor returns a pointer to a zero value of the canonical
// reply struct for message id, for decoding an incoming reply on the
// outgoing call path. Message ids with no reply body (most Tape/Mover/
// Connect/Data operations besides the handful below) are not listed; their
// replies carry only the header error field.
func canonicalReplyFor(id ndmp9.MessageID) (interface{}, bool) {
	switch id {
	case ndmp9.ConnectOpen:
		return &ndmp9.ConnectOpenReply{}, true
	case ndmp9.ConfigGetAuthAttr:
		return &ndmp9.ConfigGetAuthAttrReply{}, true
	case ndmp9.DataGetState:
		return &ndmp9.DataGetStateReply{}, true
	case ndmp9.MoverListen:
		return &ndmp9.MoverListenReply{}, true
	case ndmp9.MoverGetState:
		return &ndmp9.MoverGetStateReply{}, true
	case ndmp9.TapeMtio:
		return &ndmp9.TapeMtioReply{}, true
	case ndmp9.TapeRead:
		return &ndmp9.TapeReadReply{}, true
	case ndmp9.TapeWrite:
		return &ndmp9.TapeWriteReply{}, true
	case ndmp9.DataListen:
		return &ndmp9.DataListenReply{}, true
	case ndmp9.DataGetEnv:
		return &ndmp9.DataGetEnvReply{}, true
	case ndmp9.ConfigGetHost:
		return &ndmp9.HostInfoReply{}, true
	case ndmp9.ConfigGetConnectionType:
		return &ndmp9.ConnectionTypeReply{}, true
	case ndmp9.ConfigGetButypeAttr:
		return &ndmp9.ButypeAttrReply{}, true
	case ndmp9.ConfigGetFsInfo:
		return &ndmp9.FsInfoReply{}, true
	case ndmp9.ConfigGetTapeInfo:
		return &ndmp9.TapeInfoReply{}, true
	case ndmp9.ConfigGetScsiInfo:
		return &ndmp9.ScsiInfoReply{}, true
	case ndmp9.ConfigGetServerInfo:
		return &ndmp9.ServerInfoReply{}, true
	case ndmp9.SCSIExecuteCdb:
		return &ndmp9.ScsiExecuteCdbReply{}, true
	default:
		return nil, false
	}
}
