// Package controlagent implements the CONTROL role: the driver that
// coordinates DATA, TAPE, and ROBOT over their NDMP control connections to
// carry out one backup or restore job, per spec.md §4.6. It runs job audit,
// drives the per-tape media lifecycle, and monitors DATA/MOVER to
// completion, including multi-volume tape changes.
package controlagent

import (
	"fmt"
	"time"

	"github.com/ndmpd/ndmpd/internal/dispatcher"
	"github.com/ndmpd/ndmpd/internal/media"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
	"github.com/ndmpd/ndmpd/internal/protocol/version"
	"github.com/ndmpd/ndmpd/pkg/metrics"
)

// Operation names the high-level host operation a Job carries out, per
// spec.md §4.6's operation list.
type Operation int

const (
	OpBackup Operation = iota
	OpExtract
	OpTOC
	OpQueryAgents
	OpInitLabels
	OpListLabels
	OpRemedyRobot
	OpTestTape
	OpTestMover
	OpTestData
	OpRewindTape
	OpEjectTape
	OpMoveTape
	OpLoadTape
	OpUnloadTape
	OpImportTape
	OpExportTape
	OpInitElemStatus
)

func (o Operation) String() string {
	switch o {
	case OpBackup:
		return "BACKUP"
	case OpExtract:
		return "EXTRACT"
	case OpTOC:
		return "TOC"
	case OpQueryAgents:
		return "QUERY_AGENTS"
	case OpInitLabels:
		return "INIT_LABELS"
	case OpListLabels:
		return "LIST_LABELS"
	case OpRemedyRobot:
		return "REMEDY_ROBOT"
	case OpTestTape:
		return "TEST_TAPE"
	case OpTestMover:
		return "TEST_MOVER"
	case OpTestData:
		return "TEST_DATA"
	case OpRewindTape:
		return "REWIND_TAPE"
	case OpEjectTape:
		return "EJECT_TAPE"
	case OpMoveTape:
		return "MOVE_TAPE"
	case OpLoadTape:
		return "LOAD_TAPE"
	case OpUnloadTape:
		return "UNLOAD_TAPE"
	case OpImportTape:
		return "IMPORT_TAPE"
	case OpExportTape:
		return "EXPORT_TAPE"
	case OpInitElemStatus:
		return "INIT_ELEM_STATUS"
	default:
		return "UNKNOWN"
	}
}

// Agents bundles the connections a Job drives. Any of DataConn/TapeConn may
// be nil for an operation that does not need that role (e.g. INIT_LABELS
// needs only Tape). RobotAgent is driven directly rather than over the
// wire: spec.md §6 names only SCSI EXECUTE_CDB as ROBOT's NDMP surface, so
// the job audit/media lifecycle calls into the local ROBOT agent's SMC
// helpers (robotagent.Agent) the way it would a co-located role, the
// common single-process deployment spec.md §1 describes.
type Agents struct {
	DataConn dispatcher.Transport
	DataVer  version.Number
	TapeConn dispatcher.Transport
	TapeVer  version.Number
	Robot    RobotDriver
}

// RobotDriver is the subset of robotagent.Agent a Job's media lifecycle
// needs: move a tape into a drive and remedy one found unexpectedly full.
// Satisfied directly by *robotagent.Agent.
type RobotDriver interface {
	MoveMedium(from, to uint16) error
	RemedyRobot(driveAddress uint16) error
}

// Job is the CONTROL agent's full job description, the ndm_job_param-shaped
// record SPEC_FULL.md's supplemented-features section names: not just an
// operation name, but the complete parameter set the original tracks.
type Job struct {
	Operation Operation

	Agents Agents

	ButType  string
	ButLevel uint32
	Env      []ndmp9.Pval
	Nlist    []ndmp9.NlistEntry

	ResultEnv []ndmp9.Pval

	TapeDevice  string
	TapeTimeout time.Duration
	RecordSize  uint64

	RobotTarget  uint16 // drive element address used for this job
	RobotTimeout time.Duration

	AutoRemedy bool
	RemedyAll  bool
	UseEject   bool

	Media       media.Table
	ResultMedia media.Table

	BytesProcessed uint64

	// CallTimeout bounds each outgoing NDMP call's round trip before it
	// tattles REPLY_LATE; zero means no limit (CallNoTattle).
	CallTimeout time.Duration

	// Metrics is the session-wide observability sink; nil disables
	// collection.
	Metrics metrics.SessionMetrics
}

// Defect is one audit finding: the job field at fault and a human-readable
// description, matching ndma_job_audit's "field + explanation" shape.
type Defect struct {
	Field   string
	Problem string
}

// Audit returns every defect found in the job's parameters, in a stable
// order, so ndma_job_media_audit's skip-index enumeration contract
// (AuditDefect) can walk them one at a time.
func (j *Job) Audit() []Defect {
	var defects []Defect
	add := func(field, format string, args ...interface{}) {
		defects = append(defects, Defect{Field: field, Problem: fmt.Sprintf(format, args...)})
	}

	switch j.Operation {
	case OpBackup, OpExtract, OpTOC:
		if j.Agents.DataConn == nil {
			add("data_conn", "operation %s requires a DATA agent connection", j.Operation)
		}
		if j.ButType == "" {
			add("bu_type", "bu_type is required")
		} else if len(j.ButType) > 31 {
			add("bu_type", "bu_type %q exceeds 31 bytes", j.ButType)
		}
		if j.Operation != OpTOC {
			if j.Agents.TapeConn == nil {
				add("tape_conn", "operation %s requires a TAPE agent connection", j.Operation)
			}
			if j.TapeDevice == "" {
				add("tape_device", "tape_device is required")
			}
			if j.RecordSize == 0 {
				add("record_size", "record_size must be nonzero")
			} else if j.RecordSize%512 != 0 {
				add("record_size", "record_size %d is not a multiple of 512", j.RecordSize)
			}
			if len(j.Media.Entries) == 0 {
				add("media", "at least one media entry is required")
			}
		}
		if j.Operation == OpExtract && len(j.Nlist) == 0 {
			add("nlist", "restore requires at least one nlist entry")
		}
	case OpInitLabels, OpListLabels, OpRewindTape, OpEjectTape, OpUnloadTape, OpTestTape:
		if j.Agents.TapeConn == nil {
			add("tape_conn", "operation %s requires a TAPE agent connection", j.Operation)
		}
		if j.TapeDevice == "" {
			add("tape_device", "tape_device is required")
		}
	case OpMoveTape, OpLoadTape, OpImportTape, OpExportTape, OpInitElemStatus, OpRemedyRobot:
		if j.Agents.Robot == nil {
			add("robot", "operation %s requires a ROBOT agent", j.Operation)
		}
	}

	if len(j.Media.Entries) > media.MaxEntries {
		add("media", "media table has %d entries, exceeding the %d-entry maximum", len(j.Media.Entries), media.MaxEntries)
	}

	return defects
}

// AuditDefect returns the defect at position skip in Audit()'s stable
// order, the enumeration contract ndma_job_audit/ndma_job_media_audit give
// callers so they can walk every defect one at a time by increasing skip
// count without re-running the full audit each time for anything but the
// defect list itself.
func (j *Job) AuditDefect(skip int) (Defect, bool) {
	defects := j.Audit()
	if skip < 0 || skip >= len(defects) {
		return Defect{}, false
	}
	return defects[skip], true
}
