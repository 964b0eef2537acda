// Package server ties config, the role agents, the dispatcher table, and
// the session kernel together into the accept loop ndmpd's start command
// runs: one TCP listener, one Session per accepted connection, each
// driven by repeated Quantum calls until its connections are all gone.
package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ndmpd/ndmpd/internal/dataagent"
	"github.com/ndmpd/ndmpd/internal/dispatcher"
	"github.com/ndmpd/ndmpd/internal/logger"
	"github.com/ndmpd/ndmpd/internal/osfacade"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
	"github.com/ndmpd/ndmpd/internal/protocol/version"
	"github.com/ndmpd/ndmpd/internal/robotagent"
	"github.com/ndmpd/ndmpd/internal/session"
	"github.com/ndmpd/ndmpd/internal/tapeagent"
	"github.com/ndmpd/ndmpd/pkg/config"
	"github.com/ndmpd/ndmpd/pkg/metrics"
)

// quantumDelay bounds how long one idle Quantum pass waits before trying
// again, the same role a blocking select() loop would play in the
// original implementation.
const quantumDelay = 50 * time.Millisecond

// Server owns the listener and the role agents this process embodies for
// the lifetime of one `ndmpd start` invocation.
type Server struct {
	cfg      *config.Config
	table    dispatcher.Table
	identity session.Identity
	auth     session.AuthPolicy

	data  *dataagent.Agent
	tape  *tapeagent.Agent
	robot *robotagent.Agent

	metrics     metrics.SessionMetrics
	activeConns atomic.Int32

	listener net.Listener
	wg       sync.WaitGroup
}

// New builds a Server from cfg: the role agents enabled roles call for,
// the dispatcher table they're wired into, and this process's identity
// and auth policy. m is the session metrics sink InitFromConfig built (nil
// when metrics collection is disabled). It does not open the listener;
// call Run for that.
func New(cfg *config.Config, m metrics.SessionMetrics) (*Server, error) {
	if !cfg.Roles.Any() {
		return nil, fmt.Errorf("server: no roles enabled in configuration")
	}

	s := &Server{cfg: cfg, metrics: m}

	if cfg.Roles.Data {
		s.data = dataagent.New(formatterLookup{cfg.Formatter}, noopFlush)
		s.data.SetMetrics(m)
	}
	if cfg.Roles.Tape {
		drive, err := buildTapeDrive(cfg.Tape)
		if err != nil {
			return nil, err
		}
		s.tape = tapeagent.New(drive, uint32(cfg.Tape.RecordSize.Uint64()), uint32(cfg.Tape.BlockSize.Uint64()))
		s.tape.Mover.SetMetrics(m)
	}
	if cfg.Roles.Robot {
		changer, err := buildChanger(cfg.Robot)
		if err != nil {
			return nil, err
		}
		if len(cfg.Robot.DriveAddresses) == 0 {
			return nil, fmt.Errorf("server: robot role requires at least one drive_address")
		}
		s.robot = robotagent.New(changer, cfg.Robot.DriveAddresses[0], cfg.Robot.DriveAddresses, cfg.Robot.SlotAddresses)
	}

	s.table = session.BuildTable(s.data, s.tape, s.robot)
	session.AddAuthHandlers(s.table, session.AuthPolicy{
		Username:  cfg.Auth.Username,
		Password:  cfg.Auth.Password,
		AllowNone: cfg.Auth.AllowNone,
	})
	session.AddConfigHandlers(s.table, buildIdentity(cfg))

	return s, nil
}

// Run opens the control connection listener and serves accepted
// connections until ctx is cancelled, then waits up to
// cfg.ShutdownTimeout for in-flight sessions to drain.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Listen.Host, strconv.Itoa(s.cfg.Listen.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.listener = ln
	logger.Info("listening for control connections", "addr", addr)

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		s.acceptLoop(ctx)
	}()

	<-ctx.Done()
	_ = ln.Close()
	<-acceptDone

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.cfg.ShutdownTimeout):
		logger.Warn("shutdown timeout elapsed with sessions still active")
	}

	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				logger.Error("accept failed", "error", err)
				return
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(ctx, netConn)
		}()
	}
}

// serve drives one accepted connection's Session to completion: an
// implicit RoleControl connection (the accepting peer is always treated
// as CONTROL from this process's point of view, per Role's own doc
// comment) running Quantum in a loop until the connection closes or ctx
// is cancelled.
func (s *Server) serve(ctx context.Context, netConn net.Conn) {
	defer func() { _ = netConn.Close() }()

	conn := session.NewConn(netConn, session.RoleControl, version.V4)
	sess := session.New(dispatcher.New(s.table))
	sess.Metrics = s.metrics
	sess.Initialize([]*session.Conn{conn}, s.data, s.tape, s.robot)
	sess.Commission()
	defer sess.Destroy()

	metrics.RecordConnectionAccepted(s.metrics, session.RoleControl.String())
	metrics.SetActiveConnections(s.metrics, s.activeConns.Add(1))
	defer func() {
		metrics.SetActiveConnections(s.metrics, s.activeConns.Add(-1))
		metrics.RecordConnectionClosed(s.metrics, session.RoleControl.String())
	}()

	logger.Info("control connection accepted", "remote", netConn.RemoteAddr().String())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := sess.Quantum(quantumDelay); err != nil {
			logger.Info("control connection closed", "remote", netConn.RemoteAddr().String(), "error", err)
			return
		}
	}
}

func buildTapeDrive(cfg config.TapeConfig) (osfacade.TapeDrive, error) {
	if cfg.Simulate {
		return osfacade.NewSimDrive(), nil
	}
	if cfg.Device == "" {
		return nil, fmt.Errorf("server: tape role requires a device (or simulate: true)")
	}
	return osfacade.NewDrive(cfg.Device), nil
}

// buildChanger builds the ROBOT role's SCSI media changer driver. Only a
// real device is supported; RobotConfig.Simulate has no in-memory SMC
// changer backing it (see DESIGN.md — emulating READ_ELEMENT_STATUS/
// MOVE_MEDIUM's real SCSI CDB wire format in-memory was judged out of
// proportion to this package's scope).
func buildChanger(cfg config.RobotConfig) (osfacade.Changer, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("server: robot role requires a device")
	}
	return osfacade.NewChanger(cfg.Device), nil
}

func buildIdentity(cfg *config.Config) session.Identity {
	id := session.Identity{
		Vendor:   "ndmpd",
		Product:  "ndmpd agent framework",
		Revision: "9",
	}
	for name := range cfg.Formatter.Types {
		id.Butypes = append(id.Butypes, name)
	}
	if cfg.Roles.Tape && cfg.Tape.Device != "" {
		id.TapeDevices = append(id.TapeDevices, ndmp9.TapeInfo{Model: "generic", Device: cfg.Tape.Device})
	}
	if cfg.Roles.Robot && cfg.Robot.Device != "" {
		id.ScsiDevices = append(id.ScsiDevices, ndmp9.ScsiInfo{Model: "generic", Device: cfg.Robot.Device})
	}
	return id
}

// formatterLookup adapts config.FormatterConfig to dataagent.CommandLookup.
type formatterLookup struct {
	cfg config.FormatterConfig
}

func (f formatterLookup) BackupCommand(buType string) (string, bool) {
	t, ok := f.cfg.Types[buType]
	if !ok || t.BackupCommand == "" {
		return "", false
	}
	return t.BackupCommand, true
}

func (f formatterLookup) RecoverCommand(buType string) (string, bool) {
	t, ok := f.cfg.Types[buType]
	if !ok || t.RecoverCommand == "" {
		return "", false
	}
	return t.RecoverCommand, true
}

// noopFlush discards file-history batches; a future CONTROL-side catalog
// sink would replace this.
func noopFlush(records []dataagent.FHRecord) error {
	return nil
}
