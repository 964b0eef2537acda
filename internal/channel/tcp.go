package channel

import (
	"errors"
	"net"
	"time"
)

// pollDeadline is the read/write deadline used to make a blocking net.Conn
// behave as a non-blocking poll: a near-zero timeout turns a would-block
// socket condition into a net.Error with Timeout() true, which tcpRead and
// tcpWrite translate into ErrWouldBlock.
const pollDeadline = time.Millisecond

func (e *Endpoint) tcpRead(p []byte) (int, error) {
	if err := e.tcpConn.SetReadDeadline(time.Now().Add(pollDeadline)); err != nil {
		return 0, err
	}
	n, err := e.tcpConn.Read(p)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return n, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (e *Endpoint) tcpWrite(p []byte) (int, error) {
	if err := e.tcpConn.SetWriteDeadline(time.Now().Add(pollDeadline)); err != nil {
		return 0, err
	}
	n, err := e.tcpConn.Write(p)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return n, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}
