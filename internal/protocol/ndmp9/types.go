package ndmp9

import "fmt"

// MessageType distinguishes a request from a reply in the 24-byte header.
type MessageType uint32

const (
	MessageRequest MessageType = 0
	MessageReply   MessageType = 1
)

// MessageID enumerates the canonical NDMP message set. CONNECT ids sit
// below 0x0100, CONFIG at 0x0100, TAPE at 0x0300, DATA at 0x0400, notify
// at 0x0500, log and file history at 0x0600, MOVER at 0x0700 and SCSI at
// 0x0800. IsNotifyClass uses the notify, log and file-history ranges to
// decide whether a reply is NO_SEND.
type MessageID uint32

const (
	ConnectOpen MessageID = 0x0001 + iota
	ConnectClientAuth
	ConnectClose
	ConnectServerAuth
)

const (
	ConfigGetHost MessageID = 0x0100 + iota
	ConfigGetConnectionType
	ConfigGetAuthAttr
	ConfigGetButypeAttr
	ConfigGetFsInfo
	ConfigGetTapeInfo
	ConfigGetScsiInfo
	ConfigGetServerInfo
)

const (
	NotifyDataHalted MessageID = 0x0501 + iota
	NotifyConnected
	NotifyMoverHalted
	NotifyMoverPaused
	NotifyDataRead
)

const (
	LogMessage MessageID = 0x0602 + iota
	LogFile
)

const (
	FhAddUnixPath MessageID = 0x0610 + iota
	FhAddUnixDir
	FhAddNode
)

const (
	DataGetState MessageID = 0x0400 + iota
	DataStart
	DataStartBackup
	DataStartRecover
	DataAbort
	DataGetEnv
	DataStop
	DataListen
	DataConnect
	DataStartRecoverFilehist
)

const (
	TapeOpen MessageID = 0x0300 + iota
	TapeClose
	TapeGetState
	TapeMtio
	TapeWrite
	TapeRead
	TapeExecuteCdb
)

const (
	MoverGetState MessageID = 0x0700 + iota
	MoverListen
	MoverContinue
	MoverAbort
	MoverStop
	MoverSetWindow
	MoverRead
	MoverConnect
)

const (
	SCSIOpen MessageID = 0x0800 + iota
	SCSIClose
	SCSIGetState
	SCSISetTarget
	SCSIReset
	SCSIExecuteCdb
)

// String renders the message id the way op= log lines and OutcomeError
// report it: the symbolic name where known, the raw hex value otherwise.
func (id MessageID) String() string {
	switch id {
	case ConnectOpen:
		return "CONNECT_OPEN"
	case ConnectClientAuth:
		return "CONNECT_CLIENT_AUTH"
	case ConnectClose:
		return "CONNECT_CLOSE"
	case ConnectServerAuth:
		return "CONNECT_SERVER_AUTH"
	case ConfigGetHost:
		return "CONFIG_GET_HOST"
	case ConfigGetConnectionType:
		return "CONFIG_GET_CONNECTION_TYPE"
	case ConfigGetAuthAttr:
		return "CONFIG_GET_AUTH_ATTR"
	case ConfigGetButypeAttr:
		return "CONFIG_GET_BUTYPE_ATTR"
	case ConfigGetFsInfo:
		return "CONFIG_GET_FS_INFO"
	case ConfigGetTapeInfo:
		return "CONFIG_GET_TAPE_INFO"
	case ConfigGetScsiInfo:
		return "CONFIG_GET_SCSI_INFO"
	case ConfigGetServerInfo:
		return "CONFIG_GET_SERVER_INFO"
	case NotifyDataHalted:
		return "NOTIFY_DATA_HALTED"
	case NotifyConnected:
		return "NOTIFY_CONNECTED"
	case NotifyMoverHalted:
		return "NOTIFY_MOVER_HALTED"
	case NotifyMoverPaused:
		return "NOTIFY_MOVER_PAUSED"
	case NotifyDataRead:
		return "NOTIFY_DATA_READ"
	case LogMessage:
		return "LOG_MESSAGE"
	case LogFile:
		return "LOG_FILE"
	case FhAddUnixPath:
		return "FH_ADD_UNIX_PATH"
	case FhAddUnixDir:
		return "FH_ADD_UNIX_DIR"
	case FhAddNode:
		return "FH_ADD_NODE"
	case DataGetState:
		return "DATA_GET_STATE"
	case DataStart:
		return "DATA_START"
	case DataStartBackup:
		return "DATA_START_BACKUP"
	case DataStartRecover:
		return "DATA_START_RECOVER"
	case DataAbort:
		return "DATA_ABORT"
	case DataGetEnv:
		return "DATA_GET_ENV"
	case DataStop:
		return "DATA_STOP"
	case DataListen:
		return "DATA_LISTEN"
	case DataConnect:
		return "DATA_CONNECT"
	case DataStartRecoverFilehist:
		return "DATA_START_RECOVER_FILEHIST"
	case TapeOpen:
		return "TAPE_OPEN"
	case TapeClose:
		return "TAPE_CLOSE"
	case TapeGetState:
		return "TAPE_GET_STATE"
	case TapeMtio:
		return "TAPE_MTIO"
	case TapeWrite:
		return "TAPE_WRITE"
	case TapeRead:
		return "TAPE_READ"
	case TapeExecuteCdb:
		return "TAPE_EXECUTE_CDB"
	case MoverGetState:
		return "MOVER_GET_STATE"
	case MoverListen:
		return "MOVER_LISTEN"
	case MoverContinue:
		return "MOVER_CONTINUE"
	case MoverAbort:
		return "MOVER_ABORT"
	case MoverStop:
		return "MOVER_STOP"
	case MoverSetWindow:
		return "MOVER_SET_WINDOW"
	case MoverRead:
		return "MOVER_READ"
	case MoverConnect:
		return "MOVER_CONNECT"
	case SCSIOpen:
		return "SCSI_OPEN"
	case SCSIClose:
		return "SCSI_CLOSE"
	case SCSIGetState:
		return "SCSI_GET_STATE"
	case SCSISetTarget:
		return "SCSI_SET_TARGET"
	case SCSIReset:
		return "SCSI_RESET"
	case SCSIExecuteCdb:
		return "SCSI_EXECUTE_CDB"
	default:
		return fmt.Sprintf("MESSAGE_ID(0x%04x)", uint32(id))
	}
}

// IsNotifyClass reports whether a message id falls in a class that is
// always NO_SEND in the dispatcher's reply-marking step: notify, log, and
// file-history messages are unilateral, not request/reply.
func (id MessageID) IsNotifyClass() bool {
	switch {
	case id >= NotifyDataHalted && id <= NotifyDataRead:
		return true
	case id >= LogMessage && id <= LogFile:
		return true
	case id >= FhAddUnixPath && id <= FhAddNode:
		return true
	default:
		return false
	}
}

// AddrType enumerates the image-stream address kinds.
type AddrType uint32

const (
	AddrLocal AddrType = iota
	AddrTCP
	AddrFC
	AddrIPC
)

// Addr is the canonical image-stream address: a tagged union keyed by
// AddrType, matching ndmp9_addr from the wire protocol.
type Addr struct {
	Type AddrType
	TCP  []TCPAddr // present when Type == AddrTCP; a single entry for v2/v3, a list for v4 multi-homed hosts
}

// TCPAddr is one IP/port pair for a TCP image-stream endpoint.
type TCPAddr struct {
	IPAddr uint32
	Port   uint16
}

// Pval is a canonical name/value pair, used for environment variables,
// name-lists, and the formatter's result environment.
type Pval struct {
	Name  string
	Value string
}

// TapeMtioOp enumerates TAPE_MTIO's wire-level positioning operations.
type TapeMtioOp uint32

const (
	MtioWireFSF TapeMtioOp = iota
	MtioWireBSF
	MtioWireFSR
	MtioWireBSR
	MtioWireREW
	MtioWireOFF
	MtioWireEOF
)

// Header is the decoded form of the 24-byte NDMP message header.
type Header struct {
	Sequence      uint32
	TimeStamp     uint32
	MessageType   MessageType
	MessageID     MessageID
	ReplySequence uint32
	ErrorCode     Error
}
