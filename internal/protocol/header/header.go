// Package header encodes and decodes the 24-byte NDMP message header that
// precedes every XDR-encoded request or reply body. Unlike the bodies, the
// header's fields are fixed-width and fixed-order, so it is encoded with
// encoding/binary rather than the generic XDR helpers — the same split used
// between an RPC fragment header (encoding/binary) and its RPC body (XDR).
package header

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
)

// Size is the fixed wire length of an NDMP message header.
const Size = 24

// Encode writes h to w in the 24-byte wire layout: sequence, timestamp,
// message type, message id, reply sequence, error code, all as big-endian
// uint32.
func Encode(w io.Writer, h ndmp9.Header) error {
	var buf [Size]byte
	binary.BigEndian.PutUint32(buf[0:4], h.Sequence)
	binary.BigEndian.PutUint32(buf[4:8], h.TimeStamp)
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.MessageType))
	binary.BigEndian.PutUint32(buf[12:16], uint32(h.MessageID))
	binary.BigEndian.PutUint32(buf[16:20], h.ReplySequence)
	binary.BigEndian.PutUint32(buf[20:24], uint32(h.ErrorCode))
	_, err := w.Write(buf[:])
	return err
}

// Decode reads a 24-byte header from r.
func Decode(r io.Reader) (ndmp9.Header, error) {
	var buf [Size]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ndmp9.Header{}, fmt.Errorf("header: read: %w", err)
	}
	h := ndmp9.Header{
		Sequence:      binary.BigEndian.Uint32(buf[0:4]),
		TimeStamp:     binary.BigEndian.Uint32(buf[4:8]),
		MessageType:   ndmp9.MessageType(binary.BigEndian.Uint32(buf[8:12])),
		MessageID:     ndmp9.MessageID(binary.BigEndian.Uint32(buf[12:16])),
		ReplySequence: binary.BigEndian.Uint32(buf[16:20]),
		ErrorCode:     ndmp9.Error(int32(binary.BigEndian.Uint32(buf[20:24]))),
	}
	if h.MessageType != ndmp9.MessageRequest && h.MessageType != ndmp9.MessageReply {
		return ndmp9.Header{}, fmt.Errorf("header: invalid message type %d", h.MessageType)
	}
	return h, nil
}
