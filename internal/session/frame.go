package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ndmpd/ndmpd/internal/protocol/header"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
)

// pollDeadline bounds each non-blocking read attempt on a control
// connection's socket, the same deadline-as-poll trick used by
// internal/channel's TCP endpoint and internal/dataagent's formatter pipes.
const pollDeadline = time.Millisecond

// maxFragment bounds one RPC record-marking fragment; NDMP bodies are
// small control messages, never multi-megabyte, so anything past this is
// a corrupt stream.
const maxFragment = 4 * 1024 * 1024

// ErrWouldBlock means no complete message is available yet without
// blocking; the scheduler should move on and retry this connection next
// quantum.
var ErrWouldBlock = errors.New("session: would block")

// frameReader incrementally assembles NDMP messages framed with Sun RPC
// record marking (RFC 5531 §11: a 4-byte fragment header, high bit = last
// fragment, low 31 bits = length) off a net.Conn, so a message that
// arrives across several scheduler quanta is never lost or re-read. NDMP
// reuses this framing from the ONC RPC stack it was originally built on.
type frameReader struct {
	conn net.Conn

	stage   frameStage
	buf     []byte
	fragLen int
	last    bool
	message []byte
}

type frameStage int

const (
	stageFragHeader frameStage = iota
	stageFragBody
)

func newFrameReader(conn net.Conn) *frameReader {
	return &frameReader{conn: conn, stage: stageFragHeader}
}

// fill appends up to want-len(buf) bytes to buf via non-blocking reads,
// returning ErrWouldBlock the moment a read would otherwise block.
func (r *frameReader) fill(want int) error {
	for len(r.buf) < want {
		if err := r.conn.SetReadDeadline(time.Now().Add(pollDeadline)); err != nil {
			return err
		}
		tmp := make([]byte, want-len(r.buf))
		n, err := r.conn.Read(tmp)
		if n > 0 {
			r.buf = append(r.buf, tmp[:n]...)
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return ErrWouldBlock
			}
			return err
		}
	}
	return nil
}

// next advances message assembly as far as non-blocking reads allow,
// returning a decoded header and body once a full message (its last
// fragment) has arrived.
func (r *frameReader) next() (ndmp9.Header, []byte, error) {
	for {
		switch r.stage {
		case stageFragHeader:
			if err := r.fill(4); err != nil {
				return ndmp9.Header{}, nil, err
			}
			word := binary.BigEndian.Uint32(r.buf)
			r.fragLen = int(word & 0x7fffffff)
			r.last = word&0x80000000 != 0
			if r.fragLen > maxFragment {
				return ndmp9.Header{}, nil, fmt.Errorf("session: fragment too large: %d", r.fragLen)
			}
			r.buf = nil
			r.stage = stageFragBody

		case stageFragBody:
			if err := r.fill(r.fragLen); err != nil {
				return ndmp9.Header{}, nil, err
			}
			r.message = append(r.message, r.buf...)
			r.buf = nil
			r.stage = stageFragHeader
			if !r.last {
				continue
			}

			msg := r.message
			r.message = nil
			if len(msg) < header.Size {
				return ndmp9.Header{}, nil, fmt.Errorf("session: message shorter than header (%d bytes)", len(msg))
			}
			h, err := header.Decode(bytes.NewReader(msg[:header.Size]))
			if err != nil {
				return ndmp9.Header{}, nil, err
			}
			return h, msg[header.Size:], nil
		}
	}
}

// writeMessage frames h and body as a single last-fragment RPC record and
// writes it to conn.
func writeMessage(conn net.Conn, h ndmp9.Header, body []byte) error {
	var buf bytes.Buffer
	if err := header.Encode(&buf, h); err != nil {
		return err
	}
	buf.Write(body)
	msg := buf.Bytes()

	frag := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(frag[0:4], uint32(len(msg))|0x80000000)
	copy(frag[4:], msg)
	_, err := conn.Write(frag)
	return err
}
