// Package channel implements the NDMP image-stream endpoint: a status
// machine over either an in-process buffer shared between the DATA and
// MOVER roles of the same session, or a TCP socket when the two roles run
// in separate processes.
package channel

import (
	"errors"
	"net"
	"sync"

	"github.com/ndmpd/ndmpd/pkg/bufpool"
)

// Status is the image-stream endpoint status machine.
type Status int

const (
	StatusIdle Status = iota
	StatusListen
	StatusAccepted
	StatusConnected
	StatusDisconnected
	StatusClosed
	StatusBotched
	StatusRemote
	StatusExclude
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusListen:
		return "LISTEN"
	case StatusAccepted:
		return "ACCEPTED"
	case StatusConnected:
		return "CONNECTED"
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusClosed:
		return "CLOSED"
	case StatusBotched:
		return "BOTCHED"
	case StatusRemote:
		return "REMOTE"
	case StatusExclude:
		return "EXCLUDE"
	default:
		return "UNKNOWN"
	}
}

// Direction is committed by the owning agent once a peer has accepted,
// choosing which end reads and which end writes.
type Direction int

const (
	DirectionPending Direction = iota
	DirectionRead
	DirectionWrite
)

// ErrWouldBlock is returned by non-blocking Read/Write when there is
// currently no data or no buffer space, so the session scheduler's
// quantum never blocks on a channel.
var ErrWouldBlock = errors.New("channel: would block")

// ErrClosed is returned once the peer has closed and all buffered bytes
// have been drained.
var ErrClosed = errors.New("channel: closed")

// Transport distinguishes the two image-stream linkages: an in-process
// shared buffer, or a TCP connection between separate processes.
type Transport int

const (
	TransportLocal Transport = iota
	TransportTCP
)

func (t Transport) String() string {
	if t == TransportLocal {
		return "local"
	}
	return "tcp"
}

// Endpoint is one side (DATA or MOVER) of an image stream.
type Endpoint struct {
	mu        sync.Mutex
	status    Status
	direction Direction
	transport Transport
	peer      *Endpoint // set for local transport; nil for TCP
	ring      *ring     // local transport's shared buffer, owned by the pair
	tcpConn   net.Conn  // set for TCP transport
}

// NewLocalPair creates the two endpoints of an in-process image stream,
// sharing a single bounded ring buffer sized bufferSize (configured to the
// tape record size).
func NewLocalPair(bufferSize int) (dataEnd, moverEnd *Endpoint) {
	r := newRing(bufferSize)
	dataEnd = &Endpoint{status: StatusExclude, transport: TransportLocal, ring: r}
	moverEnd = &Endpoint{status: StatusExclude, transport: TransportLocal, ring: r}
	dataEnd.peer = moverEnd
	moverEnd.peer = dataEnd
	return dataEnd, moverEnd
}

// NewTCPEndpoint wraps a net.Conn (post-accept or post-dial) as a TCP
// image-stream endpoint.
func NewTCPEndpoint(conn net.Conn) *Endpoint {
	return &Endpoint{status: StatusConnected, transport: TransportTCP, tcpConn: conn}
}

// Status returns the endpoint's current status.
func (e *Endpoint) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// SetStatus transitions the endpoint's status. Callers own the state
// machine; this is a plain setter used by the mover and data agents.
func (e *Endpoint) SetStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

// Commit sets the transfer direction once the owning agent chooses it; the
// buffered channel stays in pending mode until then.
func (e *Endpoint) Commit(dir Direction) {
	e.mu.Lock()
	e.direction = dir
	e.status = StatusConnected
	e.mu.Unlock()
}

// Transport reports which linkage this endpoint uses.
func (e *Endpoint) Transport() Transport {
	return e.transport
}

// Read performs a non-blocking read, returning ErrWouldBlock if nothing is
// currently available and ErrClosed once the peer has closed and the
// buffer is drained.
func (e *Endpoint) Read(p []byte) (int, error) {
	if e.transport == TransportLocal {
		return e.ring.readFrom(e.peer, p)
	}
	return e.tcpRead(p)
}

// Write performs a non-blocking write, returning ErrWouldBlock if the
// buffer (local) or socket send buffer (TCP) is currently full.
func (e *Endpoint) Write(p []byte) (int, error) {
	if e.transport == TransportLocal {
		return e.ring.writeTo(e, p)
	}
	return e.tcpWrite(p)
}

// Close closes this endpoint and transitions the peer to DISCONNECTED,
// propagating EOF to whichever side was reading.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	wasOpen := e.status != StatusClosed
	e.status = StatusClosed
	e.mu.Unlock()

	if !wasOpen {
		return nil
	}

	if e.transport == TransportLocal {
		if e.peer != nil {
			e.peer.mu.Lock()
			if e.peer.status != StatusClosed {
				e.peer.status = StatusDisconnected
			}
			e.peer.mu.Unlock()
		}
		e.ring.closeFrom(e)
		return nil
	}
	if e.tcpConn != nil {
		return e.tcpConn.Close()
	}
	return nil
}

// ScratchBuffer acquires a pooled buffer sized for one tape record or image
// stream chunk.
func ScratchBuffer(size int) []byte {
	return bufpool.Get(size)
}

// ReleaseScratchBuffer returns a buffer acquired via ScratchBuffer.
func ReleaseScratchBuffer(buf []byte) {
	bufpool.Put(buf)
}
