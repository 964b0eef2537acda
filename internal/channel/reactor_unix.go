//go:build !windows

package channel

import (
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// fdOf extracts the raw file descriptor backing conn, used so the reactor
// can hand the fd to unix.Poll directly instead of going through the
// runtime's blocking I/O path.
func fdOf(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, fmt.Errorf("channel: connection does not expose a raw fd")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	ctrlErr := raw.Control(func(f uintptr) {
		fd = int(f)
	})
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}

// unixReactor multiplexes TCP endpoint readiness with unix.Poll, the same
// build-tag split the logger package uses for its own platform-specific
// terminal detection (terminal.go / terminal_windows.go).
type unixReactor struct {
	fds   map[int]*Endpoint
	write map[int]bool
}

// NewReactor creates the platform reactor for the current OS.
func NewReactor() Reactor {
	return &unixReactor{
		fds:   make(map[int]*Endpoint),
		write: make(map[int]bool),
	}
}

func (r *unixReactor) Register(e *Endpoint, watchWrite bool) error {
	if e.Transport() != TransportTCP {
		return fmt.Errorf("channel: reactor only watches TCP endpoints")
	}
	fd, err := fdOf(e.tcpConn)
	if err != nil {
		return fmt.Errorf("channel: reactor register: %w", err)
	}
	r.fds[fd] = e
	r.write[fd] = watchWrite
	return nil
}

func (r *unixReactor) Unregister(e *Endpoint) {
	if e.Transport() != TransportTCP || e.tcpConn == nil {
		return
	}
	if fd, err := fdOf(e.tcpConn); err == nil {
		delete(r.fds, fd)
		delete(r.write, fd)
	}
}

func (r *unixReactor) Poll(timeout time.Duration) ([]Ready, error) {
	if len(r.fds) == 0 {
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return nil, nil
	}

	pfds := make([]unix.PollFd, 0, len(r.fds))
	order := make([]int, 0, len(r.fds))
	for fd := range r.fds {
		events := int16(unix.POLLIN)
		if r.write[fd] {
			events |= unix.POLLOUT
		}
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: events})
		order = append(order, fd)
	}

	ms := int(timeout / time.Millisecond)
	n, err := unix.Poll(pfds, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("channel: poll: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	ready := make([]Ready, 0, n)
	for i, pfd := range pfds {
		if pfd.Revents == 0 {
			continue
		}
		ep := r.fds[order[i]]
		ready = append(ready, Ready{
			Endpoint: ep,
			Readable: pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0,
			Writable: pfd.Revents&unix.POLLOUT != 0,
		})
	}
	return ready, nil
}

func (r *unixReactor) Close() error {
	r.fds = nil
	r.write = nil
	return nil
}
