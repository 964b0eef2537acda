// Package version bridges NDMP wire versions 2, 3, and 4 to the canonical
// (version 9) internal form the dispatcher operates on. Each legacy version
// implements Bridge with a request-to-canonical and a reply-from-canonical
// step per message; the dispatcher never speaks v2/v3/v4 structs directly
// once a message has been translated.
package version

import (
	"fmt"

	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
)

// Number is a negotiated NDMP protocol version. Canonical is never
// negotiated on the wire; it only appears as the dispatcher's internal
// translation target.
type Number uint32

const (
	V2        Number = 2
	V3        Number = 3
	V4        Number = 4
	Canonical Number = 9
)

func (n Number) String() string {
	switch n {
	case V2:
		return "v2"
	case V3:
		return "v3"
	case V4:
		return "v4"
	case Canonical:
		return "v9 (canonical)"
	default:
		return fmt.Sprintf("v%d", uint32(n))
	}
}

// Bridge translates one message id's request and reply bodies between a
// legacy wire version and the canonical form. A version that does not
// support a given message id returns ndmp9.NotSupportedErr from either
// method, which the dispatcher maps straight to the wire reply.
type Bridge interface {
	Version() Number
	// RequestToCanonical decodes a wire-version request body (already
	// stripped of its 24-byte header) into its canonical equivalent.
	RequestToCanonical(id ndmp9.MessageID, wireBody []byte) (interface{}, error)
	// ReplyFromCanonical encodes a canonical reply body back into the
	// wire version's shape for message id.
	ReplyFromCanonical(id ndmp9.MessageID, canonicalReply interface{}) ([]byte, error)
	// CanonicalToRequest encodes a canonical request struct into this
	// version's wire shape, for the CONTROL agent's outgoing
	// call/call_no_tattle path (the dispatcher only ever decodes
	// requests and encodes replies; a client role needs the inverse).
	CanonicalToRequest(id ndmp9.MessageID, canonicalRequest interface{}) ([]byte, error)
	// ReplyToCanonical decodes a wire reply body received from a remote
	// agent into canonical form.
	ReplyToCanonical(id ndmp9.MessageID, wireReply []byte) (interface{}, error)
}

// bridges is the registry of wire-version bridges, looked up by the
// dispatcher for every request it translates and by the outgoing call path.
var bridges = map[Number]Bridge{}

// Register installs a Bridge for its Version(). Called from each version's
// init() (v2.go, v3.go, v4.go).
func Register(b Bridge) {
	bridges[b.Version()] = b
}

// Lookup returns the registered bridge for a wire version, or false if the
// version has no bridge (treated as UNDEFINED_ERR by the dispatcher).
func Lookup(n Number) (Bridge, bool) {
	b, ok := bridges[n]
	return b, ok
}
