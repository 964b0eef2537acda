// Package dataagent implements the DATA role: the state machine that
// drives a backup/restore formatter child process, feeds or drains the
// image stream, and emits file-history records to CONTROL.
package dataagent

import (
	"strconv"
	"strings"

	"github.com/ndmpd/ndmpd/internal/channel"
	"github.com/ndmpd/ndmpd/internal/logger"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
	"github.com/ndmpd/ndmpd/pkg/metrics"
)

// Operation is the kind of work the DATA agent is performing.
type Operation int

const (
	OpNone Operation = iota
	OpBackup
	OpRecover
	OpRecoverFH
)

// State is the DATA agent's connection/activity state. Operation
// transitions only IDLE -> (LISTEN -> CONNECTED) | CONNECTED -> ACTIVE ->
// HALTED -> IDLE (via DATA_STOP).
type State int

const (
	StateIdle State = iota
	StateListen
	StateConnected
	StateActive
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListen:
		return "LISTEN"
	case StateConnected:
		return "CONNECTED"
	case StateActive:
		return "ACTIVE"
	case StateHalted:
		return "HALTED"
	default:
		return "UNKNOWN"
	}
}

// HaltReason explains why an ACTIVE DATA agent halted. A halt always
// carries a non-NA reason.
type HaltReason int

const (
	HaltNA HaltReason = iota
	HaltSuccessful
	HaltAborted
	HaltInternalError
	HaltConnectClosed
	HaltConnectError
)

func (h HaltReason) String() string {
	switch h {
	case HaltNA:
		return "NA"
	case HaltSuccessful:
		return "SUCCESSFUL"
	case HaltAborted:
		return "ABORTED"
	case HaltInternalError:
		return "INTERNAL_ERROR"
	case HaltConnectClosed:
		return "CONNECT_CLOSED"
	case HaltConnectError:
		return "CONNECT_ERROR"
	default:
		return "UNKNOWN"
	}
}

// BuTypeMaxLen is the maximum length of a bu_type identifier.
const BuTypeMaxLen = 31

// CommandLookup resolves a bu_type identifier to the shell command line
// used to invoke its formatter, for either direction.
type CommandLookup interface {
	BackupCommand(buType string) (string, bool)
	RecoverCommand(buType string) (string, bool)
}

// Agent is the DATA role's full state.
type Agent struct {
	operation  Operation
	state      State
	haltReason HaltReason
	buType     string

	env   EnvTable
	nlist NlistTable

	bytesProcessed         uint64
	estBytesRemainingValid bool
	estBytesRemaining      uint64

	fh        *FileHistory
	endpoint  *channel.Endpoint
	formatter *Formatter
	recovery  *RecoveryAccess

	logLines []string

	commands CommandLookup
	metrics  metrics.SessionMetrics
}

// New creates an idle DATA agent. flush is called with each file-history
// batch as FileHistory emits it; commands resolves bu_type to a formatter
// command line.
func New(commands CommandLookup, flush func([]FHRecord) error) *Agent {
	return &Agent{commands: commands, fh: NewFileHistory(flush)}
}

func (a *Agent) State() State             { return a.state }
func (a *Agent) Operation() Operation     { return a.operation }
func (a *Agent) HaltReason() HaltReason   { return a.haltReason }
func (a *Agent) BytesProcessed() uint64   { return a.bytesProcessed }

// Endpoint returns the image-stream endpoint bound by Listen/Connect, or
// nil before either has been called. Used by the session scheduler to
// register a TCP-backed stream with its reactor.
func (a *Agent) Endpoint() *channel.Endpoint { return a.endpoint }

// SetMetrics installs the session-wide metrics sink; nil disables
// collection. Call before Progress starts reporting state transitions.
func (a *Agent) SetMetrics(m metrics.SessionMetrics) { a.metrics = m }
func (a *Agent) EstBytesRemaining() (uint64, bool) {
	return a.estBytesRemaining, a.estBytesRemainingValid
}

// TakeLogLines returns and clears the formatter stderr lines accumulated
// since the last call, for the session scheduler to mirror as NDMP LOG
// notifications to CONTROL.
func (a *Agent) TakeLogLines() []string {
	if len(a.logLines) == 0 {
		return nil
	}
	lines := a.logLines
	a.logLines = nil
	return lines
}

// Listen transitions IDLE -> LISTEN, binding the image-stream endpoint the
// session created for this role.
func (a *Agent) Listen(endpoint *channel.Endpoint) error {
	if a.state != StateIdle {
		return ndmp9.IllegalStateErr
	}
	a.endpoint = endpoint
	a.state = StateListen
	return nil
}

// Connect transitions IDLE/LISTEN -> CONNECTED directly, used for
// AS_CONNECTED (the peer's address was already established, e.g. a LOCAL
// pair whose MOVER end is already LISTENing) or an outbound TCP dial.
func (a *Agent) Connect(endpoint *channel.Endpoint) error {
	if a.state != StateIdle && a.state != StateListen {
		return ndmp9.IllegalStateErr
	}
	a.endpoint = endpoint
	a.state = StateConnected
	return nil
}

// OnAccept transitions LISTEN -> CONNECTED once the session scheduler
// observes the bound endpoint accepted.
func (a *Agent) OnAccept() error {
	if a.state != StateListen {
		return ndmp9.IllegalStateErr
	}
	a.state = StateConnected
	return nil
}

// StartBackup validates bu_type against the configured formatters, seeds
// the environment table, forks the formatter, and transitions CONNECTED ->
// ACTIVE.
func (a *Agent) StartBackup(buType string, env []ndmp9.Pval) error {
	if a.state != StateConnected {
		return ndmp9.IllegalStateErr
	}
	if len(buType) > BuTypeMaxLen {
		return ndmp9.IllegalArgsErr
	}
	commandLine, ok := a.commands.BackupCommand(buType)
	if !ok {
		return ndmp9.IllegalArgsErr
	}
	for _, p := range env {
		if err := a.env.Set(p.Name, p.Value); err != nil {
			return err
		}
	}

	f, err := spawnFormatter(commandLine, true)
	if err != nil {
		a.haltReason = HaltInternalError
		a.state = StateHalted
		return ndmp9.IOErr
	}

	a.formatter = f
	a.operation = OpBackup
	a.buType = buType
	a.bytesProcessed = 0
	a.state = StateActive
	return nil
}

// StartRecover validates bu_type, seeds the nlist table, forks the
// formatter, sets up the recovery access machine, and transitions
// CONNECTED -> ACTIVE.
func (a *Agent) StartRecover(buType string, env []ndmp9.Pval, nlist []*NlistEntry, mode AccessMode) error {
	if a.state != StateConnected {
		return ndmp9.IllegalStateErr
	}
	if len(buType) > BuTypeMaxLen {
		return ndmp9.IllegalArgsErr
	}
	commandLine, ok := a.commands.RecoverCommand(buType)
	if !ok {
		return ndmp9.IllegalArgsErr
	}
	for _, p := range env {
		if err := a.env.Set(p.Name, p.Value); err != nil {
			return err
		}
	}
	for _, e := range nlist {
		if err := a.nlist.Add(e); err != nil {
			return err
		}
	}

	f, err := spawnFormatter(commandLine, false)
	if err != nil {
		a.haltReason = HaltInternalError
		a.state = StateHalted
		return ndmp9.IOErr
	}

	a.formatter = f
	a.operation = OpRecover
	a.buType = buType
	a.bytesProcessed = 0
	a.recovery = NewRecoveryAccess(mode, &a.nlist)
	a.state = StateActive
	return nil
}

// GetEnv returns the formatter's accumulated environment. Only valid after
// a BACKUP has reached HALTED.
func (a *Agent) GetEnv() ([]ndmp9.Pval, error) {
	if a.operation != OpBackup || a.state != StateHalted {
		return nil, ndmp9.IllegalStateErr
	}
	return a.env.All(), nil
}

// Abort halts any non-IDLE agent with reason ABORTED.
func (a *Agent) Abort() error {
	if a.state == StateIdle {
		return nil
	}
	a.halt(HaltAborted)
	return nil
}

// Stop transitions HALTED -> IDLE, releasing the formatter and image
// stream.
func (a *Agent) Stop() error {
	if a.state != StateHalted {
		return ndmp9.IllegalStateErr
	}
	a.operation = OpNone
	a.state = StateIdle
	a.haltReason = HaltNA
	a.buType = ""
	a.env = EnvTable{}
	a.nlist = NlistTable{}
	a.endpoint = nil
	a.formatter = nil
	a.recovery = nil
	a.bytesProcessed = 0
	a.estBytesRemainingValid = false
	return nil
}

func (a *Agent) halt(reason HaltReason) {
	a.fh.Flush()
	if a.formatter != nil {
		a.formatter.Kill()
	}
	if a.endpoint != nil {
		a.endpoint.Close()
	}
	from := a.state.String()
	a.state = StateHalted
	a.haltReason = reason
	logger.Info("data halted", logger.DataState(a.state.String()), logger.HaltReason(reason.String()), logger.BytesMoved(a.bytesProcessed))
	metrics.RecordDataStateTransition(a.metrics, from, a.state.String())
	metrics.RecordBytesMoved(a.metrics, "data", a.bytesProcessed)
}

// Progress performs one bounded unit of work: drain at most one formatter
// stderr line, one wrap line, and one chunk of image data, keeping each
// scheduler quantum constant-time. It returns whether any work was done.
func (a *Agent) Progress() (bool, error) {
	if a.state != StateActive {
		return false, nil
	}

	if exited, err := a.formatter.Exited(); exited {
		if err != nil {
			a.halt(HaltInternalError)
		} else {
			a.fh.Flush()
			a.halt(HaltSuccessful)
		}
		return true, nil
	}

	progressed := false

	if line, ok, _ := a.formatter.PollStderr(); ok {
		progressed = true
		a.logLines = append(a.logLines, line)
	}

	if line, ok, _ := a.formatter.PollWrap(); ok {
		progressed = true
		if rec, isRec := parseWrapLine(line); isRec {
			if rec.Kind == FHAddEnv {
				a.env.Set(rec.EnvName, rec.EnvValue)
			} else {
				a.fh.Add(rec)
			}
		}
	}

	var imageProgressed bool
	var err error
	if a.operation == OpBackup {
		imageProgressed, err = a.progressBackup()
	} else {
		imageProgressed, err = a.progressRecover()
	}
	if err != nil {
		return true, err
	}

	return progressed || imageProgressed, nil
}

func (a *Agent) progressBackup() (bool, error) {
	buf := channel.ScratchBuffer(64 * 1024)
	defer channel.ReleaseScratchBuffer(buf)

	n, err := a.formatter.ReadImage(buf)
	if err == ErrWouldBlock {
		return false, nil
	}
	if err != nil {
		a.halt(HaltInternalError)
		return true, nil
	}
	if n == 0 {
		return false, nil
	}

	written, werr := a.endpoint.Write(buf[:n])
	a.bytesProcessed += uint64(written)
	if werr == channel.ErrClosed {
		a.halt(HaltConnectClosed)
		return true, nil
	}
	if werr != nil && werr != channel.ErrWouldBlock {
		a.halt(HaltInternalError)
		return true, werr
	}
	return true, nil
}

func (a *Agent) progressRecover() (bool, error) {
	buf := channel.ScratchBuffer(64 * 1024)
	defer channel.ReleaseScratchBuffer(buf)

	n, err := a.endpoint.Read(buf)
	if err == channel.ErrWouldBlock {
		return false, nil
	}
	if err == channel.ErrClosed {
		a.halt(HaltConnectClosed)
		return true, nil
	}
	if err != nil {
		a.halt(HaltInternalError)
		return true, err
	}
	if n == 0 {
		return false, nil
	}

	written, werr := a.formatter.WriteImage(buf[:n])
	a.bytesProcessed += uint64(written)
	if werr != nil && werr != ErrWouldBlock {
		a.halt(HaltInternalError)
		return true, werr
	}
	return true, nil
}

// parseWrapLine decodes one line of the formatter's wrap mini-protocol:
// "ENV name value", "FILE path", "DIR name parent_node node", or
// "NODE node".
func parseWrapLine(line string) (FHRecord, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return FHRecord{}, false
	}
	switch fields[0] {
	case "ENV":
		if len(fields) < 3 {
			return FHRecord{}, false
		}
		return FHRecord{Kind: FHAddEnv, EnvName: fields[1], EnvValue: strings.Join(fields[2:], " ")}, true
	case "FILE":
		if len(fields) < 2 {
			return FHRecord{}, false
		}
		return FHRecord{Kind: FHAddFile, UnixPath: fields[1]}, true
	case "DIR":
		if len(fields) < 4 {
			return FHRecord{}, false
		}
		parent, err1 := strconv.ParseUint(fields[2], 10, 64)
		node, err2 := strconv.ParseUint(fields[3], 10, 64)
		if err1 != nil || err2 != nil {
			return FHRecord{}, false
		}
		return FHRecord{Kind: FHAddDir, UnixName: fields[1], ParentNode: parent, Node: node}, true
	case "NODE":
		if len(fields) < 2 {
			return FHRecord{}, false
		}
		node, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return FHRecord{}, false
		}
		return FHRecord{Kind: FHAddNode, Node: node}, true
	default:
		return FHRecord{}, false
	}
}
