package metrics

import "time"

// SessionMetrics provides observability for an NDMP session kernel: the
// control connections, DATA/MOVER state transitions, and job outcomes
// across the CONTROL, DATA, TAPE, and ROBOT roles.
//
// Pass nil to disable metrics collection with zero overhead.
type SessionMetrics interface {
	// RecordOp records a completed NDMP request with its message name,
	// role, duration, and outcome.
	RecordOp(role string, op string, duration time.Duration, errorCode int)

	// SetActiveConnections updates the current control-connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted(role string)

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed(role string)

	// RecordDataStateTransition records a DATA role state machine transition.
	RecordDataStateTransition(from, to string)

	// RecordMoverStateTransition records a MOVER state machine transition.
	RecordMoverStateTransition(from, to string)

	// RecordBytesMoved adds to the cumulative bytes-moved counter for a
	// mover mode (read or write).
	RecordBytesMoved(mode string, bytes uint64)

	// RecordMediaChange records a tape or media-changer operation outcome
	// (mount, unmount, move-medium) and whether it succeeded.
	RecordMediaChange(operation string, success bool)

	// RecordJobOutcome records the terminal outcome of a CONTROL-agent job.
	RecordJobOutcome(butype string, success bool, duration time.Duration)
}

// RecordOp is a nil-safe helper so call sites do not need to check m != nil.
func RecordOp(m SessionMetrics, role, op string, duration time.Duration, errorCode int) {
	if m != nil {
		m.RecordOp(role, op, duration, errorCode)
	}
}

// SetActiveConnections is a nil-safe helper.
func SetActiveConnections(m SessionMetrics, count int32) {
	if m != nil {
		m.SetActiveConnections(count)
	}
}

// RecordConnectionAccepted is a nil-safe helper.
func RecordConnectionAccepted(m SessionMetrics, role string) {
	if m != nil {
		m.RecordConnectionAccepted(role)
	}
}

// RecordConnectionClosed is a nil-safe helper.
func RecordConnectionClosed(m SessionMetrics, role string) {
	if m != nil {
		m.RecordConnectionClosed(role)
	}
}

// RecordDataStateTransition is a nil-safe helper.
func RecordDataStateTransition(m SessionMetrics, from, to string) {
	if m != nil {
		m.RecordDataStateTransition(from, to)
	}
}

// RecordMoverStateTransition is a nil-safe helper.
func RecordMoverStateTransition(m SessionMetrics, from, to string) {
	if m != nil {
		m.RecordMoverStateTransition(from, to)
	}
}

// RecordBytesMoved is a nil-safe helper.
func RecordBytesMoved(m SessionMetrics, mode string, bytes uint64) {
	if m != nil {
		m.RecordBytesMoved(mode, bytes)
	}
}

// RecordMediaChange is a nil-safe helper.
func RecordMediaChange(m SessionMetrics, operation string, success bool) {
	if m != nil {
		m.RecordMediaChange(operation, success)
	}
}

// RecordJobOutcome is a nil-safe helper.
func RecordJobOutcome(m SessionMetrics, butype string, success bool, duration time.Duration) {
	if m != nil {
		m.RecordJobOutcome(butype, success, duration)
	}
}
