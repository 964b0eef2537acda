package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds connection-scoped logging context for an NDMP session.
type LogContext struct {
	TraceID   string    // OpenTelemetry trace ID
	SpanID    string    // OpenTelemetry span ID
	Role      string    // Agent role: control, data, tape, robot
	Op        string    // NDMP message name (NDMP_DATA_START_BACKUP, etc.)
	ClientIP  string    // Client IP address (without port)
	ConnSeq   uint64    // Connection sequence number, unique per accepted socket
	MsgSeq    uint32    // Request sequence number within the connection
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a connection from the given client IP.
func NewLogContext(clientIP string, connSeq uint64) *LogContext {
	return &LogContext{
		ClientIP:  clientIP,
		ConnSeq:   connSeq,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:   lc.TraceID,
		SpanID:    lc.SpanID,
		Role:      lc.Role,
		Op:        lc.Op,
		ClientIP:  lc.ClientIP,
		ConnSeq:   lc.ConnSeq,
		MsgSeq:    lc.MsgSeq,
		StartTime: lc.StartTime,
	}
}

// WithRole returns a copy with the agent role set
func (lc *LogContext) WithRole(role string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Role = role
	}
	return clone
}

// WithOp returns a copy with the NDMP message name set
func (lc *LogContext) WithOp(op string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Op = op
	}
	return clone
}

// WithMsgSeq returns a copy with the request sequence number set
func (lc *LogContext) WithMsgSeq(seq uint32) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.MsgSeq = seq
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
