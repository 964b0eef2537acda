package session

import (
	"os"
	"runtime"

	"github.com/ndmpd/ndmpd/internal/dispatcher"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
)

// Identity is this agent process's answers to the read-only CONFIG_GET_*
// queries, the server side of what controlagent.QueryAgents asks of a
// remote agent.
type Identity struct {
	Vendor   string
	Product  string
	Revision string

	Butypes     []string
	Filesystems []ndmp9.FsInfo
	TapeDevices []ndmp9.TapeInfo
	ScsiDevices []ndmp9.ScsiInfo
}

// AddConfigHandlers wires the read-only CONFIG_GET_* ids every connected
// agent answers: host identity, supported image-stream address types,
// server identity, and (when this process hosts DATA/TAPE/ROBOT) the
// bu_type/filesystem/tape/SCSI inventory.
func AddConfigHandlers(t dispatcher.Table, id Identity) {
	t[ndmp9.ConfigGetHost] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, req interface{}) (interface{}, error) {
		hostname, _ := os.Hostname()
		return &ndmp9.HostInfoReply{
			Hostname:  hostname,
			OSType:    runtime.GOOS,
			OSVersion: runtime.GOARCH,
			HostID:    hostname,
		}, nil
	}}

	t[ndmp9.ConfigGetConnectionType] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, req interface{}) (interface{}, error) {
		return &ndmp9.ConnectionTypeReply{Types: []ndmp9.AddrType{ndmp9.AddrLocal, ndmp9.AddrTCP}}, nil
	}}

	t[ndmp9.ConfigGetServerInfo] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, req interface{}) (interface{}, error) {
		return &ndmp9.ServerInfoReply{
			Vendor:    id.Vendor,
			Product:   id.Product,
			Revision:  id.Revision,
			AuthTypes: []uint32{authNone, authText, authMD5},
		}, nil
	}}

	t[ndmp9.ConfigGetButypeAttr] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, reqI interface{}) (interface{}, error) {
		req, ok := reqI.(*ndmp9.ConfigGetButypeAttrRequest)
		if !ok {
			return nil, ndmp9.IllegalArgsErr
		}
		for _, name := range id.Butypes {
			if name == req.ButypeName {
				return &ndmp9.ButypeAttrReply{ButypeName: name}, nil
			}
		}
		return nil, ndmp9.NoDeviceErr
	}}

	t[ndmp9.ConfigGetFsInfo] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, req interface{}) (interface{}, error) {
		return &ndmp9.FsInfoReply{Filesystems: id.Filesystems}, nil
	}}

	t[ndmp9.ConfigGetTapeInfo] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, req interface{}) (interface{}, error) {
		return &ndmp9.TapeInfoReply{Devices: id.TapeDevices}, nil
	}}

	t[ndmp9.ConfigGetScsiInfo] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, req interface{}) (interface{}, error) {
		return &ndmp9.ScsiInfoReply{Devices: id.ScsiDevices}, nil
	}}
}
