package session

import (
	"math"
	"net"
	"strconv"
	"time"

	"github.com/ndmpd/ndmpd/internal/channel"
	"github.com/ndmpd/ndmpd/internal/dataagent"
	"github.com/ndmpd/ndmpd/internal/dispatcher"
	"github.com/ndmpd/ndmpd/internal/osfacade"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
	"github.com/ndmpd/ndmpd/internal/robotagent"
	"github.com/ndmpd/ndmpd/internal/tapeagent"
)

// acceptDeadline bounds a TCP image-stream LISTEN's wait for its peer to
// connect. A handler invocation is one synchronous step of the request
// dispatch algorithm, so this is also how long that one call may block
// the session's quantum loop.
const acceptDeadline = 30 * time.Second

// localBridge hands out the two halves of an in-process image stream
// pair, used when CONTROL negotiates AddrLocal between co-located DATA and
// MOVER roles. The pair is created lazily by whichever side asks first;
// the other side's call retrieves the already-created peer half.
type localBridge struct {
	dataEnd, moverEnd *channel.Endpoint
}

func (b *localBridge) pair(bufferSize int) (*channel.Endpoint, *channel.Endpoint) {
	if b.dataEnd == nil {
		b.dataEnd, b.moverEnd = channel.NewLocalPair(bufferSize)
	}
	return b.dataEnd, b.moverEnd
}

// BuildTable assembles the canonical dispatcher.Table for one session,
// wiring DATA/TAPE/MOVER/SCSI message ids to the given role agents. Any
// of data/tape/robot may be nil when the session doesn't host that role;
// the corresponding ids are simply absent from the table, so the
// dispatcher reports NOT_SUPPORTED for them.
func BuildTable(data *dataagent.Agent, tape *tapeagent.Agent, robot *robotagent.Agent) dispatcher.Table {
	t := dispatcher.Table{}
	bridge := &localBridge{}

	if data != nil {
		addDataHandlers(t, data, tape, bridge)
	}
	if tape != nil {
		addTapeHandlers(t, tape)
		addMoverHandlers(t, tape, bridge)
	}
	if robot != nil {
		addSCSIHandlers(t, robot)
	}

	return t
}

func addDataHandlers(t dispatcher.Table, data *dataagent.Agent, tape *tapeagent.Agent, bridge *localBridge) {
	t[ndmp9.DataGetState] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, req interface{}) (interface{}, error) {
		haltReason := data.HaltReason()
		estRemain, estValid := data.EstBytesRemaining()
		reply := &ndmp9.DataGetStateReply{
			State:          uint32(data.State()),
			BytesProcessed: data.BytesProcessed(),
			HaltReason:     uint32(haltReason),
		}
		if estValid {
			reply.EstBytesRemain = estRemain
		} else {
			reply.EstBytesRemain = math.MaxUint64
		}
		return reply, nil
	}}

	t[ndmp9.DataListen] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, reqI interface{}) (interface{}, error) {
		req, ok := reqI.(*ndmp9.DataListenRequest)
		if !ok {
			return nil, ndmp9.IllegalArgsErr
		}
		endpoint, addr, err := listenEndpoint(req.AddrType, bridge, tape, true)
		if err != nil {
			return nil, err
		}
		if err := data.Listen(endpoint); err != nil {
			return nil, err
		}
		return &ndmp9.DataListenReply{Addr: addr}, nil
	}}

	t[ndmp9.DataConnect] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, reqI interface{}) (interface{}, error) {
		req, ok := reqI.(*ndmp9.DataConnectRequest)
		if !ok {
			return nil, ndmp9.IllegalArgsErr
		}
		endpoint, err := connectEndpoint(req.Addr, bridge, true)
		if err != nil {
			return nil, err
		}
		return nil, data.Connect(endpoint)
	}}

	t[ndmp9.DataStartBackup] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, reqI interface{}) (interface{}, error) {
		req, ok := reqI.(*ndmp9.DataStartBackupRequest)
		if !ok {
			return nil, ndmp9.IllegalArgsErr
		}
		return nil, data.StartBackup(req.BuType, req.Env)
	}}

	t[ndmp9.DataStartRecover] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, reqI interface{}) (interface{}, error) {
		req, ok := reqI.(*ndmp9.DataStartRecoverRequest)
		if !ok {
			return nil, ndmp9.IllegalArgsErr
		}
		nlist := make([]*dataagent.NlistEntry, len(req.Nlist))
		for i, e := range req.Nlist {
			nlist[i] = &dataagent.NlistEntry{
				OriginalPath:    e.OriginalPath,
				DestinationPath: e.DestPath,
				Name:            e.Name,
				FhInfo:          e.FhInfo,
			}
		}
		return nil, data.StartRecover(req.BuType, req.Env, nlist, dataagent.AccessSequential)
	}}

	t[ndmp9.DataAbort] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, req interface{}) (interface{}, error) {
		return nil, data.Abort()
	}}

	t[ndmp9.DataStop] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, req interface{}) (interface{}, error) {
		return nil, data.Stop()
	}}

	t[ndmp9.DataGetEnv] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, req interface{}) (interface{}, error) {
		env, err := data.GetEnv()
		if err != nil {
			return nil, err
		}
		return &ndmp9.DataGetEnvReply{Env: env}, nil
	}}
}

func addTapeHandlers(t dispatcher.Table, tape *tapeagent.Agent) {
	t[ndmp9.TapeOpen] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, reqI interface{}) (interface{}, error) {
		req, ok := reqI.(*ndmp9.TapeOpenRequest)
		if !ok {
			return nil, ndmp9.IllegalArgsErr
		}
		return nil, tape.Tape.Open(req.Device, osfacadeModeOf(req.Mode))
	}}

	t[ndmp9.TapeClose] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, req interface{}) (interface{}, error) {
		return nil, tape.Tape.Close()
	}}

	t[ndmp9.TapeMtio] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, reqI interface{}) (interface{}, error) {
		req, ok := reqI.(*ndmp9.TapeMtioRequest)
		if !ok {
			return nil, ndmp9.IllegalArgsErr
		}
		resid, err := tape.Tape.Mtio(osfacadeMtioOf(ndmp9.TapeMtioOp(req.Op)), int(req.Count))
		if err != nil {
			return nil, err
		}
		return &ndmp9.TapeMtioReply{ResidCount: uint32(resid)}, nil
	}}

	t[ndmp9.TapeRead] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, reqI interface{}) (interface{}, error) {
		req, ok := reqI.(*ndmp9.TapeReadRequest)
		if !ok {
			return nil, ndmp9.IllegalArgsErr
		}
		buf := make([]byte, req.Count)
		n, err := tape.Tape.Read(buf)
		if err != nil {
			return nil, err
		}
		return &ndmp9.TapeReadReply{Data: buf[:n]}, nil
	}}

	t[ndmp9.TapeWrite] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, reqI interface{}) (interface{}, error) {
		req, ok := reqI.(*ndmp9.TapeWriteRequest)
		if !ok {
			return nil, ndmp9.IllegalArgsErr
		}
		n, err := tape.Tape.Write(req.Data)
		if err != nil {
			return nil, err
		}
		return &ndmp9.TapeWriteReply{Count: uint32(n)}, nil
	}}
}

func addMoverHandlers(t dispatcher.Table, tape *tapeagent.Agent, bridge *localBridge) {
	mv := tape.Mover

	t[ndmp9.MoverGetState] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, req interface{}) (interface{}, error) {
		return &ndmp9.MoverGetStateReply{
			State:       uint32(mv.State()),
			Mode:        uint32(mv.Mode()),
			PauseReason: uint32(mv.PauseReason()),
			HaltReason:  uint32(mv.HaltReason()),
			RecordSize:  tape.Tape.RecordSize(),
			DataWritten: mv.BytesMoved(),
		}, nil
	}}

	t[ndmp9.MoverListen] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, reqI interface{}) (interface{}, error) {
		req, ok := reqI.(*ndmp9.MoverListenRequest)
		if !ok {
			return nil, ndmp9.IllegalArgsErr
		}
		endpoint, addr, err := listenEndpoint(ndmp9.AddrType(req.AddrType), bridge, tape, false)
		if err != nil {
			return nil, err
		}
		if err := mv.Listen(moverModeOf(req.Mode), endpoint); err != nil {
			return nil, err
		}
		return &ndmp9.MoverListenReply{Addr: addr}, nil
	}}

	t[ndmp9.MoverConnect] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, reqI interface{}) (interface{}, error) {
		req, ok := reqI.(*ndmp9.MoverConnectRequest)
		if !ok {
			return nil, ndmp9.IllegalArgsErr
		}
		endpoint, err := connectEndpoint(req.Addr, bridge, false)
		if err != nil {
			return nil, err
		}
		return nil, mv.Connect(moverModeOf(req.Mode), endpoint)
	}}

	t[ndmp9.MoverSetWindow] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, reqI interface{}) (interface{}, error) {
		req, ok := reqI.(*ndmp9.MoverSetWindowRequest)
		if !ok {
			return nil, ndmp9.IllegalArgsErr
		}
		return nil, mv.SetWindow(req.Offset, req.Length, conn.Version)
	}}

	t[ndmp9.MoverContinue] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, req interface{}) (interface{}, error) {
		return nil, mv.Continue()
	}}

	t[ndmp9.MoverRead] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, reqI interface{}) (interface{}, error) {
		req, ok := reqI.(*ndmp9.MoverReadRequest)
		if !ok {
			return nil, ndmp9.IllegalArgsErr
		}
		return nil, mv.Read(req.Offset, req.Length)
	}}

	t[ndmp9.MoverAbort] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, req interface{}) (interface{}, error) {
		return nil, mv.Abort()
	}}

	t[ndmp9.MoverStop] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, req interface{}) (interface{}, error) {
		return nil, mv.Stop()
	}}
}

func addSCSIHandlers(t dispatcher.Table, robot *robotagent.Agent) {
	t[ndmp9.SCSIExecuteCdb] = dispatcher.Entry{Handler: func(conn *dispatcher.Connection, reqI interface{}) (interface{}, error) {
		req, ok := reqI.(*ndmp9.ScsiExecuteCdbRequest)
		if !ok {
			return nil, ndmp9.IllegalArgsErr
		}
		resp, err := robot.ExecuteCDB(req.Cdb)
		if err != nil {
			return nil, ndmp9.IOErr
		}
		return &ndmp9.ScsiExecuteCdbReply{DataIn: resp}, nil
	}}
}

// listenEndpoint builds the endpoint a DATA_LISTEN/MOVER_LISTEN handler
// commits to the agent and the address reported back to the caller.
// AddrLocal pairs with the session's co-located peer role via bridge;
// AddrTCP opens a real listener and blocks for one peer within
// acceptDeadline, since a handler invocation is one synchronous step of
// request dispatch.
func listenEndpoint(addrType ndmp9.AddrType, bridge *localBridge, tape *tapeagent.Agent, forData bool) (*channel.Endpoint, ndmp9.Addr, error) {
	if addrType != ndmp9.AddrTCP {
		bufferSize := 64 * 1024
		if tape != nil {
			bufferSize = int(tape.Tape.RecordSize())
		}
		dataEnd, moverEnd := bridge.pair(bufferSize)
		if forData {
			return dataEnd, ndmp9.Addr{Type: ndmp9.AddrLocal}, nil
		}
		return moverEnd, ndmp9.Addr{Type: ndmp9.AddrLocal}, nil
	}

	ln, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		return nil, ndmp9.Addr{}, ndmp9.IOErr
	}
	tcpAddr := ln.Addr().(*net.TCPAddr)
	addr := ndmp9.Addr{Type: ndmp9.AddrTCP, TCP: []ndmp9.TCPAddr{{IPAddr: ipToUint32(tcpAddr.IP), Port: uint16(tcpAddr.Port)}}}

	_ = ln.(*net.TCPListener).SetDeadline(time.Now().Add(acceptDeadline))
	conn, err := ln.Accept()
	_ = ln.Close()
	if err != nil {
		return nil, ndmp9.Addr{}, ndmp9.ConnectErr
	}
	return channel.NewTCPEndpoint(conn), addr, nil
}

// connectEndpoint dials or pairs a DATA_CONNECT/MOVER_CONNECT target,
// depending on the negotiated address type.
func connectEndpoint(addr ndmp9.Addr, bridge *localBridge, forData bool) (*channel.Endpoint, error) {
	if addr.Type != ndmp9.AddrTCP {
		dataEnd, moverEnd := bridge.pair(64 * 1024)
		if forData {
			return dataEnd, nil
		}
		return moverEnd, nil
	}
	if len(addr.TCP) == 0 {
		return nil, ndmp9.IllegalArgsErr
	}
	target := addr.TCP[0]
	conn, err := net.Dial("tcp", uint32ToIP(target.IPAddr).String()+":"+strconv.Itoa(int(target.Port)))
	if err != nil {
		return nil, ndmp9.ConnectErr
	}
	return channel.NewTCPEndpoint(conn), nil
}

func ipToUint32(ip net.IP) uint32 {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0
	}
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}

func uint32ToIP(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func osfacadeModeOf(wire uint32) osfacade.OpenMode {
	switch wire {
	case 1:
		return osfacade.OpenRDOnly
	case 2:
		return osfacade.OpenRaw
	default:
		return osfacade.OpenRDWR
	}
}

func osfacadeMtioOf(wire ndmp9.TapeMtioOp) osfacade.MtioOp {
	switch wire {
	case ndmp9.MtioWireFSF:
		return osfacade.MtioForwardFiles
	case ndmp9.MtioWireBSF:
		return osfacade.MtioBackwardFiles
	case ndmp9.MtioWireFSR:
		return osfacade.MtioForwardRecords
	case ndmp9.MtioWireBSR:
		return osfacade.MtioBackwardRecords
	case ndmp9.MtioWireREW:
		return osfacade.MtioRewind
	case ndmp9.MtioWireEOF:
		return osfacade.MtioWriteFileMarks
	default:
		return osfacade.MtioEOD
	}
}

func moverModeOf(wire uint32) tapeagent.MoverMode {
	if wire == 1 {
		return tapeagent.MoverModeWrite
	}
	return tapeagent.MoverModeRead
}
