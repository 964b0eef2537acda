//go:build windows

package channel

import (
	"fmt"
	"time"
)

// deadlineReactor is the Windows fallback: it has no unix.Poll equivalent
// wired in, so rather than risk consuming bytes out-of-band with a probe
// read, it reports every registered endpoint as worth trying this tick and
// lets Endpoint.Read/Write's own ErrWouldBlock carry the real backpressure
// signal. Correct but coarser than the Unix reactor: a session built on
// this fallback spins at the scheduler's quantum rate instead of blocking
// until a socket is actually ready.
type deadlineReactor struct {
	watched map[*Endpoint]bool
}

// NewReactor creates the platform reactor for the current OS.
func NewReactor() Reactor {
	return &deadlineReactor{watched: make(map[*Endpoint]bool)}
}

func (r *deadlineReactor) Register(e *Endpoint, watchWrite bool) error {
	if e.Transport() != TransportTCP {
		return fmt.Errorf("channel: reactor only watches TCP endpoints")
	}
	r.watched[e] = watchWrite
	return nil
}

func (r *deadlineReactor) Unregister(e *Endpoint) {
	delete(r.watched, e)
}

func (r *deadlineReactor) Poll(timeout time.Duration) ([]Ready, error) {
	if len(r.watched) == 0 {
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return nil, nil
	}
	ready := make([]Ready, 0, len(r.watched))
	for e, watchWrite := range r.watched {
		ready = append(ready, Ready{Endpoint: e, Readable: true, Writable: watchWrite})
	}
	return ready, nil
}

func (r *deadlineReactor) Close() error {
	r.watched = nil
	return nil
}
