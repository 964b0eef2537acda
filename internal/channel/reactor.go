package channel

import "time"

// Ready reports which direction(s) an endpoint became ready for during a
// Poll call.
type Ready struct {
	Endpoint  *Endpoint
	Readable  bool
	Writable  bool
}

// Reactor multiplexes readiness across every TCP endpoint in a session so
// the cooperative quantum scheduler can ask once per tick "which channels
// have work" instead of polling each endpoint in turn. Local (in-process)
// endpoints need no reactor: readFrom/writeTo are already non-blocking
// memory operations, so the session treats them as always worth a try.
type Reactor interface {
	// Register adds a TCP endpoint to the watch set. watchWrite selects
	// whether writability is also monitored (only needed while a caller
	// has unflushed output).
	Register(e *Endpoint, watchWrite bool) error
	// Unregister removes an endpoint previously passed to Register.
	Unregister(e *Endpoint)
	// Poll blocks up to timeout and returns the endpoints that became
	// ready. A zero timeout polls without blocking, matching the
	// scheduler's quantum contract of never stalling the event loop.
	Poll(timeout time.Duration) ([]Ready, error)
	// Close releases the reactor's underlying OS resources.
	Close() error
}
