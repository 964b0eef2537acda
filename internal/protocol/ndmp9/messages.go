package ndmp9

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Canonical (version-9) request and reply bodies. Unlike Header and the
// Pval/Addr helpers in codec.go (hand-encoded because they back
// frequently-logged, fixed-shape values), these bodies are marshaled
// through the reflection-based github.com/rasky/go-xdr/xdr2 package.

// ConnectOpenRequest negotiates the protocol version for a connection.
type ConnectOpenRequest struct {
	ProtocolVersion uint32
}

// ConnectOpenReply carries only the header's error field on the wire; the
// body is empty.
type ConnectOpenReply struct{}

// ConnectClientAuthRequest authenticates the CONTROL client to this agent.
type ConnectClientAuthRequest struct {
	AuthType uint32 // 0=none, 1=text, 2=md5
	Username string
	Password string // cleartext for AuthType==text
	Digest   []byte // 16-byte MD5 digest for AuthType==md5
}

// ConfigGetAuthAttrRequest asks which auth_type a given type supports,
// and for AUTH_MD5 fetches the challenge to digest the password against.
type ConfigGetAuthAttrRequest struct {
	AuthType uint32
}

// ConfigGetAuthAttrReply answers CONFIG_GET_AUTH_ATTR. Challenge is set
// only when AuthType is AUTH_MD5.
type ConfigGetAuthAttrReply struct {
	AuthType  uint32
	Challenge []byte
}

// DataStartBackupRequest starts a backup on the DATA agent.
type DataStartBackupRequest struct {
	BuType string
	Env    []Pval
	Addr   Addr
}

// DataStartRecoverRequest starts a recovery on the DATA agent.
type DataStartRecoverRequest struct {
	BuType string
	Env    []Pval
	Nlist  []NlistEntry
	Addr   Addr
}

// NlistEntry names one path to recover, with its target rename and
// optional byte-range node id (canonical form of ndmp9_name).
type NlistEntry struct {
	OriginalPath string
	DestPath     string
	Name         string
	FhInfo       uint64
}

// DataGetStateReply reports the DATA agent's state machine snapshot.
type DataGetStateReply struct {
	State           uint32
	BytesProcessed  uint64
	EstBytesRemain  uint64
	EstFilesRemain  uint64
	HaltReason      uint32
	Addr            Addr
	ReadOffset      uint64
	ReadLength      uint64
}

// MoverListenRequest asks the MOVER to listen for an image-stream peer.
type MoverListenRequest struct {
	Mode     uint32 // 0=read, 1=write
	AddrType uint32
}

// MoverListenReply returns the address the MOVER is listening on.
type MoverListenReply struct {
	Addr Addr
}

// MoverConnectRequest asks the MOVER to actively connect to a peer.
type MoverConnectRequest struct {
	Mode uint32
	Addr Addr
}

// MoverSetWindowRequest sets the MOVER's sliding byte window.
type MoverSetWindowRequest struct {
	Offset uint64
	Length uint64
}

// MoverReadRequest asks the MOVER to seek and serve a byte range (WRITE
// mode only), used by CONTROL's restore monitoring loop in response to
// NOTIFY_DATA_READ.
type MoverReadRequest struct {
	Offset uint64
	Length uint64
}

// MoverGetStateReply reports the MOVER's state machine snapshot.
type MoverGetStateReply struct {
	State        uint32
	Mode         uint32
	PauseReason  uint32
	HaltReason   uint32
	RecordSize   uint32
	RecordNum    uint64
	DataWritten  uint64
	SeekPosition uint64
	BytesLeft    uint64
	WindowOffset uint64
	WindowLength uint64
}

// TapeOpenRequest opens the tape device in the given mode.
type TapeOpenRequest struct {
	Device string
	Mode   uint32 // 0=RDWR, 1=RDONLY, 2=RAW
}

// TapeMtioRequest issues a tape control operation (rewind, fsf, bsf, ...).
type TapeMtioRequest struct {
	Op    uint32
	Count uint32
}

// TapeMtioReply reports the residual count from a tape control operation.
type TapeMtioReply struct {
	ResidCount uint32
}

// TapeReadRequest asks TAPE to read one record of the given length
// directly, bypassing MOVER — used by CONTROL to read label records
// before a job's MOVER is even started.
type TapeReadRequest struct {
	Count uint32
}

// TapeReadReply carries the bytes TAPE read.
type TapeReadReply struct {
	Data []byte
}

// TapeWriteRequest asks TAPE to write one record directly, bypassing
// MOVER — used by CONTROL to lay down a label record.
type TapeWriteRequest struct {
	Data []byte
}

// TapeWriteReply reports how many bytes TAPE actually wrote.
type TapeWriteReply struct {
	Count uint32
}

// NotifyMoverHaltedPost is the unilateral notification body sent to
// CONTROL when the MOVER transitions to HALTED.
type NotifyMoverHaltedPost struct {
	Reason uint32
}

// NotifyMoverPausedPost is the unilateral notification body sent to
// CONTROL when the MOVER transitions to PAUSED.
type NotifyMoverPausedPost struct {
	Reason     uint32
	SeekPosition uint64
}

// NotifyDataHaltedPost is the unilateral notification body sent to
// CONTROL when the DATA agent transitions to HALTED.
type NotifyDataHaltedPost struct {
	Reason uint32
}

// NotifyDataReadPost asks CONTROL to issue MOVER_READ for the given range.
type NotifyDataReadPost struct {
	Offset uint64
	Length uint64
}

// DataListenRequest asks the DATA agent to listen for a MOVER peer on the
// given address type.
type DataListenRequest struct {
	AddrType AddrType
}

// DataConnectRequest asks the DATA agent to actively connect to a MOVER
// peer at addr.
type DataConnectRequest struct {
	Addr Addr
}

// DataListenReply returns the image-stream address the DATA agent is now
// listening on, for CONTROL to pass along to MOVER_CONNECT (or the reverse
// for MOVER_LISTEN/DATA_CONNECT).
type DataListenReply struct {
	Addr Addr
}

// DataGetEnvReply returns the formatter's accumulated environment. Only
// meaningful after a completed BACKUP, per DATA_GET_ENV's own precondition.
type DataGetEnvReply struct {
	Env []Pval
}

// ConfigGetButypeAttrRequest names the bu_type whose attributes CONTROL is
// asking about.
type ConfigGetButypeAttrRequest struct {
	ButypeName string
}

// HostInfoReply answers CONFIG_GET_HOST: the agent's host identity, used
// by CONTROL's QUERY_AGENTS to report per-agent host info.
type HostInfoReply struct {
	Hostname  string
	OSType    string
	OSVersion string
	HostID    string
}

// ConnectionTypeReply answers CONFIG_GET_CONNECTION_TYPE: the image-stream
// address types this agent's MOVER supports.
type ConnectionTypeReply struct {
	Types []AddrType
}

// ButypeAttrReply answers CONFIG_GET_BUTYPE_ATTR for one bu_type.
type ButypeAttrReply struct {
	ButypeName string
	Attrs      uint32
}

// FsInfo describes one filesystem the DATA agent can back up or restore
// into.
type FsInfo struct {
	FsName    string
	TotalSize uint64
	UsedSize  uint64
	AvailSize uint64
}

// FsInfoReply answers CONFIG_GET_FS_INFO.
type FsInfoReply struct {
	Filesystems []FsInfo
}

// TapeInfo describes one tape device the TAPE agent can drive.
type TapeInfo struct {
	Model  string
	Device string
}

// TapeInfoReply answers CONFIG_GET_TAPE_INFO.
type TapeInfoReply struct {
	Devices []TapeInfo
}

// ScsiInfo describes one SCSI device (tape drive or media changer) the
// ROBOT/TAPE agent can drive.
type ScsiInfo struct {
	Model      string
	Device     string
	Controller uint32
	SCSIId     uint32
	Lun        uint32
}

// ScsiInfoReply answers CONFIG_GET_SCSI_INFO.
type ScsiInfoReply struct {
	Devices []ScsiInfo
}

// ServerInfoReply answers CONFIG_GET_SERVER_INFO: the agent's own identity
// and the auth types it accepts.
type ServerInfoReply struct {
	Vendor    string
	Product   string
	Revision  string
	AuthTypes []uint32
}

// ScsiExecuteCdbRequest carries a raw SCSI command descriptor block
// through to the device the ROBOT or TAPE agent has open, for the handful
// of SMC/media-changer operations NDMP has no dedicated message for.
type ScsiExecuteCdbRequest struct {
	DataIn uint32 // 0=none, 1=data in, 2=data out
	Cdb    []byte
	Data   []byte // present when DataIn==2
}

// ScsiExecuteCdbReply returns the status and any data phase from a
// SCSI_EXECUTE_CDB passthrough command.
type ScsiExecuteCdbReply struct {
	Status    uint32
	DataIn    []byte
	SenseData []byte
}

// MarshalBody encodes a canonical request/reply body via go-xdr.
func MarshalBody(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, fmt.Errorf("ndmp9: marshal body: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBody decodes a canonical request/reply body via go-xdr.
func UnmarshalBody(data []byte, v interface{}) error {
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("ndmp9: unmarshal body: %w", err)
	}
	return nil
}
