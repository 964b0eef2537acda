package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging across the NDMP agent roles
// (CONTROL, DATA, TAPE, ROBOT). Use these keys consistently across all log
// statements so they can be aggregated and queried uniformly.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// NDMP Protocol & Operation
	// ========================================================================
	KeyRole      = "role"       // Agent role: control, data, tape, robot
	KeyOp        = "op"         // NDMP message name: NDMP_DATA_START_BACKUP, etc.
	KeyProtoVer  = "proto_ver"  // Negotiated NDMP protocol version (2, 3, 4)
	KeyConnSeq   = "conn_seq"   // Connection sequence number
	KeyMsgSeq    = "msg_seq"    // Request sequence number within a connection
	KeyMsgType   = "msg_type"   // NDMP_MESSAGE_REQUEST or NDMP_MESSAGE_REPLY
	KeyErrorCode = "error_code" // ndmp9_error value returned in a reply
	KeyStatus    = "status"     // State machine status string
	KeyStatusMsg = "status_msg" // Human-readable status message

	// ========================================================================
	// Session & Connection State
	// ========================================================================
	KeyDataState   = "data_state"   // DATA role state: IDLE, ACTIVE, HALTED, etc.
	KeyMoverState  = "mover_state"  // MOVER (tape-side) state: IDLE, ACTIVE, PAUSED, HALTED
	KeyMoverMode   = "mover_mode"   // MOVER mode: READ, WRITE
	KeyHaltReason  = "halt_reason"  // NDMP halt reason code
	KeyPauseReason = "pause_reason" // NDMP pause reason code

	// ========================================================================
	// Backup / Recover Operation
	// ========================================================================
	KeyBackupType = "backup_type" // Formatter/backup type name: tar, dump, etc.
	KeyBytesMoved = "bytes_moved" // Cumulative bytes moved for the operation
	KeyTargetPath = "target_path" // Filesystem path backed up or recovered into
	KeyFileCount  = "file_count"  // Number of file-history entries processed
	KeyEnvVar     = "env_var"     // NDMP env variable name

	// ========================================================================
	// Tape & Media
	// ========================================================================
	KeyDevice     = "device"      // Tape or robot device path
	KeyRecordSize = "record_size" // Tape record size in bytes
	KeyTapeFile   = "tape_file"   // Tape file number (fseek position on the media)
	KeyTapeRecord = "tape_record" // Tape record number within a file
	KeyMediaLabel = "media_label" // Media label read from or written to tape
	KeySlot       = "slot"        // Robot storage element (slot) address
	KeyDrive      = "drive"       // Robot data-transfer element (drive) address

	// ========================================================================
	// Image Stream (DATA <-> MOVER transport)
	// ========================================================================
	KeyStreamTransport = "stream_transport" // local or tcp
	KeyStreamAddr      = "stream_addr"      // TCP address for a remote image stream
	KeyWindowOffset    = "window_offset"    // Current mover data window offset
	KeyWindowLength    = "window_length"    // Current mover data window length

	// ========================================================================
	// Client Identification
	// ========================================================================
	KeyClientIP   = "client_ip"   // Client IP address
	KeyClientPort = "client_port" // Client source port
	KeyUsername   = "username"    // NDMP auth username
	KeyAuthType   = "auth_type"   // NDMP auth type: none, text, md5

	// ========================================================================
	// Job / Control Agent
	// ========================================================================
	KeyJobID     = "job_id"     // Control-agent job identifier
	KeySessionID = "session_id" // NDMP session identifier

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeySource     = "source"      // Originating component
	KeyOperation  = "operation"   // Sub-operation type for complex operations
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Role returns a slog.Attr for the agent role
func Role(role string) slog.Attr {
	return slog.String(KeyRole, role)
}

// Op returns a slog.Attr for the NDMP message name
func Op(name string) slog.Attr {
	return slog.String(KeyOp, name)
}

// ProtoVer returns a slog.Attr for the negotiated protocol version
func ProtoVer(v uint32) slog.Attr {
	return slog.Any(KeyProtoVer, v)
}

// ConnSeq returns a slog.Attr for the connection sequence number
func ConnSeq(seq uint64) slog.Attr {
	return slog.Uint64(KeyConnSeq, seq)
}

// MsgSeq returns a slog.Attr for the request sequence number
func MsgSeq(seq uint32) slog.Attr {
	return slog.Any(KeyMsgSeq, seq)
}

// MsgType returns a slog.Attr for the NDMP message type
func MsgType(t string) slog.Attr {
	return slog.String(KeyMsgType, t)
}

// ErrorCode returns a slog.Attr for an ndmp9_error value
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// Status returns a slog.Attr for a state machine status string
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// StatusMsg returns a slog.Attr for a human-readable status message
func StatusMsg(msg string) slog.Attr {
	return slog.String(KeyStatusMsg, msg)
}

// DataState returns a slog.Attr for the DATA role state
func DataState(state string) slog.Attr {
	return slog.String(KeyDataState, state)
}

// MoverState returns a slog.Attr for the MOVER state
func MoverState(state string) slog.Attr {
	return slog.String(KeyMoverState, state)
}

// MoverMode returns a slog.Attr for the MOVER mode
func MoverMode(mode string) slog.Attr {
	return slog.String(KeyMoverMode, mode)
}

// HaltReason returns a slog.Attr for an NDMP halt reason
func HaltReason(reason string) slog.Attr {
	return slog.String(KeyHaltReason, reason)
}

// PauseReason returns a slog.Attr for an NDMP pause reason
func PauseReason(reason string) slog.Attr {
	return slog.String(KeyPauseReason, reason)
}

// BackupType returns a slog.Attr for the backup/formatter type
func BackupType(t string) slog.Attr {
	return slog.String(KeyBackupType, t)
}

// BytesMoved returns a slog.Attr for cumulative bytes moved
func BytesMoved(n uint64) slog.Attr {
	return slog.Uint64(KeyBytesMoved, n)
}

// TargetPath returns a slog.Attr for the backup/recover target path
func TargetPath(p string) slog.Attr {
	return slog.String(KeyTargetPath, p)
}

// FileCount returns a slog.Attr for a file-history entry count
func FileCount(n int) slog.Attr {
	return slog.Int(KeyFileCount, n)
}

// EnvVar returns a slog.Attr for an NDMP env variable name
func EnvVar(name string) slog.Attr {
	return slog.String(KeyEnvVar, name)
}

// Device returns a slog.Attr for a tape or robot device path
func Device(path string) slog.Attr {
	return slog.String(KeyDevice, path)
}

// RecordSize returns a slog.Attr for the tape record size
func RecordSize(n uint32) slog.Attr {
	return slog.Any(KeyRecordSize, n)
}

// TapeFile returns a slog.Attr for a tape file number
func TapeFile(n uint32) slog.Attr {
	return slog.Any(KeyTapeFile, n)
}

// TapeRecord returns a slog.Attr for a tape record number
func TapeRecord(n uint64) slog.Attr {
	return slog.Uint64(KeyTapeRecord, n)
}

// MediaLabel returns a slog.Attr for a media label
func MediaLabel(label string) slog.Attr {
	return slog.String(KeyMediaLabel, label)
}

// Slot returns a slog.Attr for a robot storage element address
func Slot(addr uint16) slog.Attr {
	return slog.Any(KeySlot, addr)
}

// Drive returns a slog.Attr for a robot data-transfer element address
func Drive(addr uint16) slog.Attr {
	return slog.Any(KeyDrive, addr)
}

// StreamTransport returns a slog.Attr for the image stream transport
func StreamTransport(transport string) slog.Attr {
	return slog.String(KeyStreamTransport, transport)
}

// StreamAddr returns a slog.Attr for a remote image stream address
func StreamAddr(addr string) slog.Attr {
	return slog.String(KeyStreamAddr, addr)
}

// WindowOffset returns a slog.Attr for the mover data window offset
func WindowOffset(off uint64) slog.Attr {
	return slog.Uint64(KeyWindowOffset, off)
}

// WindowLength returns a slog.Attr for the mover data window length
func WindowLength(length uint64) slog.Attr {
	return slog.Uint64(KeyWindowLength, length)
}

// ClientIP returns a slog.Attr for client IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// ClientPort returns a slog.Attr for client source port
func ClientPort(port int) slog.Attr {
	return slog.Int(KeyClientPort, port)
}

// Username returns a slog.Attr for NDMP auth username
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// AuthType returns a slog.Attr for NDMP auth type
func AuthType(t string) slog.Attr {
	return slog.String(KeyAuthType, t)
}

// JobID returns a slog.Attr for a control-agent job identifier
func JobID(id string) slog.Attr {
	return slog.String(KeyJobID, id)
}

// SessionID returns a slog.Attr for an NDMP session identifier
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Source returns a slog.Attr for the originating component
func Source(src string) slog.Attr {
	return slog.String(KeySource, src)
}

// Operation returns a slog.Attr for a sub-operation type
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Attempt returns a slog.Attr for retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for maximum retry attempts
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// fmtHex formats a byte slice as lowercase hex, for callers logging opaque
// NDMP handles or SCSI CDBs without a dedicated constructor.
func fmtHex(b []byte) string {
	return fmt.Sprintf("%x", b)
}
