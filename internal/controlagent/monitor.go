package controlagent

import (
	"errors"
	"time"

	"github.com/ndmpd/ndmpd/internal/dataagent"
	"github.com/ndmpd/ndmpd/internal/logger"
	"github.com/ndmpd/ndmpd/internal/media"
	"github.com/ndmpd/ndmpd/internal/tapeagent"
	"github.com/ndmpd/ndmpd/pkg/metrics"
)

// RunOutcome is the three-way result spec.md §7 asks every job to settle
// into: a backup/restore either fully succeeded, ended in a state CONTROL
// can't fully vouch for (a media error survived by a tape swap, say), or
// failed outright.
type RunOutcome int

const (
	RunSuccess RunOutcome = iota
	RunQuestionable
	RunFailure
)

func (o RunOutcome) String() string {
	switch o {
	case RunSuccess:
		return "SUCCESSFUL"
	case RunQuestionable:
		return "QUESTIONABLE"
	default:
		return "FAILED"
	}
}

// densePollInterval is how often the monitoring loop polls while DATA or
// MOVER has reported progress recently; after idleDensePolls consecutive
// unchanged polls it backs off to idlePollInterval, the dense-then-10s
// cadence real NDMP monitors use so an idle job doesn't get hammered.
const (
	densePollInterval = 250 * time.Millisecond
	idlePollInterval  = 10 * time.Second
	idleDensePolls    = 8
)

var errNoMediaEntry = errors.New("controlagent: no media entry covers the requested offset")
var errMoverHalted = errors.New("controlagent: mover halted unexpectedly during backup")

// MonitorBackup drives a started backup to completion: polling DATA and
// MOVER, swapping tapes at end-of-medium via the job's media table, and
// capturing each tape's window into the result media table.
func (j *Job) MonitorBackup() (RunOutcome, error) {
	started := time.Now()
	outcome, err := j.monitorBackup()
	metrics.RecordJobOutcome(j.Metrics, j.ButType, err == nil && outcome == RunSuccess, time.Since(started))
	return outcome, err
}

func (j *Job) monitorBackup() (RunOutcome, error) {
	dataClient := &Client{Transport: j.Agents.DataConn, Version: j.Agents.DataVer, TimeLimit: j.CallTimeout}
	moverClient := &Client{Transport: j.Agents.TapeConn, Version: j.Agents.TapeVer, TimeLimit: j.CallTimeout}

	mediaIndex := 0
	if len(j.ResultMedia.Entries) == 0 {
		if entry := j.ResultMedia.Add(); entry != nil {
			mediaIndex = 1
		} else {
			return RunFailure, errors.New("controlagent: media table full before backup could start")
		}
	} else {
		mediaIndex = len(j.ResultMedia.Entries)
	}
	var windowStart uint64
	var lastWritten uint64
	idleCount := 0
	questionable := false

	for {
		dataState, err := dataClient.DataGetState()
		if err != nil {
			return RunFailure, err
		}

		moverState, err := moverClient.MoverGetState()
		if err != nil {
			return RunFailure, err
		}

		if dataagent.State(dataState.State) == dataagent.StateHalted {
			return j.finishBackup(dataagent.HaltReason(dataState.HaltReason), mediaIndex, windowStart, moverState.DataWritten, questionable)
		}

		switch tapeagent.MoverState(moverState.State) {
		case tapeagent.MoverHalted:
			if tapeagent.HaltReason(moverState.HaltReason) == tapeagent.HaltConnectClosed {
				idleCount = 0
				time.Sleep(densePollInterval)
				continue
			}
			return RunFailure, errMoverHalted

		case tapeagent.MoverPaused:
			switch tapeagent.PauseReason(moverState.PauseReason) {
			case tapeagent.PauseEOM:
				entry, next, err := j.nextBackupEntry(mediaIndex, windowStart, moverState.DataWritten)
				if err != nil {
					return RunFailure, err
				}
				if err := j.swapTapeForBackup(moverClient, entry); err != nil {
					entry.EOM = true
					questionable = true
					return RunFailure, err
				}
				mediaIndex = next
				windowStart = moverState.DataWritten
				idleCount = 0
				continue
			case tapeagent.PauseEOF:
				questionable = true
				if err := moverClient.MoverContinue(); err != nil {
					return RunFailure, err
				}
				idleCount = 0
				continue
			}
		}

		if moverState.DataWritten > lastWritten {
			lastWritten = moverState.DataWritten
			idleCount = 0
		} else {
			idleCount++
		}

		if idleCount >= idleDensePolls {
			time.Sleep(idlePollInterval)
		} else {
			time.Sleep(densePollInterval)
		}
	}
}

// nextBackupEntry appends a new media table entry for the tape about to be
// mounted after the current one's window closes at windowEnd, and returns
// the index MonitorBackup should track going forward. Existing entries are
// never reused.
func (j *Job) nextBackupEntry(mediaIndex int, windowStart, windowEnd uint64) (*media.Entry, int, error) {
	if mediaIndex > 0 && mediaIndex <= len(j.ResultMedia.Entries) {
		j.CaptureWindow(j.ResultMedia.Entries[mediaIndex-1], windowStart, windowEnd-windowStart)
	}
	entry := j.ResultMedia.Add()
	if entry == nil {
		return nil, mediaIndex, errors.New("controlagent: media table full, cannot continue backup across another volume")
	}
	return entry, mediaIndex + 1, nil
}

// swapTapeForBackup unloads whatever's currently in the drive, loads
// entry, and resumes MOVER with a window starting over the fresh tape.
func (j *Job) swapTapeForBackup(moverClient *Client, entry *media.Entry) error {
	if err := j.LoadTape(entry, false); err != nil {
		return err
	}
	if err := moverClient.MoverSetWindow(0, media.Infinity); err != nil {
		return err
	}
	return moverClient.MoverContinue()
}

// finishBackup settles the final media entry's window and reports the
// three-way outcome from DATA's halt reason plus every media entry's
// result flags.
func (j *Job) finishBackup(reason dataagent.HaltReason, mediaIndex int, windowStart, windowEnd uint64, questionable bool) (RunOutcome, error) {
	if mediaIndex > 0 && mediaIndex <= len(j.ResultMedia.Entries) {
		entry := j.ResultMedia.Entries[mediaIndex-1]
		j.CaptureWindow(entry, windowStart, windowEnd-windowStart)
		entry.Written = true
		entry.NBytesDetermined = true
	}
	j.ResultMedia.CalculateOffsets()

	outcome := RunFailure
	switch reason {
	case dataagent.HaltSuccessful:
		if questionable || j.anyMediaError() {
			outcome = RunQuestionable
		} else {
			outcome = RunSuccess
		}
	case dataagent.HaltConnectClosed, dataagent.HaltConnectError:
		outcome = RunQuestionable
	}
	logger.Info("backup finished", logger.Operation(j.Operation.String()), logger.Status(outcome.String()), logger.BytesMoved(windowEnd))
	return outcome, nil
}

func (j *Job) anyMediaError() bool {
	for _, e := range j.ResultMedia.Entries {
		if e.OpenError || e.IOError || e.LabelIOError || e.LabelMismatch || e.FileMarkError || e.SlotBad {
			return true
		}
	}
	return false
}

// MonitorRestore drives a started restore to completion: polling DATA's
// reported read offset/length (the poll-based equivalent of
// NOTIFY_DATA_READ), issuing MOVER_READ to seek MOVER to the requested
// range, and swapping tapes via the job's media table's Locate when the
// requested offset falls on a tape other than the one currently mounted.
func (j *Job) MonitorRestore() (RunOutcome, error) {
	started := time.Now()
	outcome, err := j.monitorRestore()
	metrics.RecordJobOutcome(j.Metrics, j.ButType, err == nil && outcome == RunSuccess, time.Since(started))
	return outcome, err
}

func (j *Job) monitorRestore() (RunOutcome, error) {
	dataClient := &Client{Transport: j.Agents.DataConn, Version: j.Agents.DataVer, TimeLimit: j.CallTimeout}
	moverClient := &Client{Transport: j.Agents.TapeConn, Version: j.Agents.TapeVer, TimeLimit: j.CallTimeout}

	var lastRequested uint64
	haveRequested := false
	idleCount := 0
	var mounted *media.Entry

	for {
		dataState, err := dataClient.DataGetState()
		if err != nil {
			return RunFailure, err
		}

		if dataagent.State(dataState.State) == dataagent.StateHalted {
			outcome := outcomeFromRestoreHalt(dataagent.HaltReason(dataState.HaltReason))
			logger.Info("restore finished", logger.Operation(j.Operation.String()), logger.Status(outcome.String()))
			return outcome, nil
		}

		if dataState.ReadLength > 0 && (!haveRequested || dataState.ReadOffset != lastRequested) {
			next, err := j.serviceReadRequest(moverClient, mounted, dataState.ReadOffset, dataState.ReadLength)
			if err != nil {
				return RunFailure, err
			}
			mounted = next
			lastRequested = dataState.ReadOffset
			haveRequested = true
			idleCount = 0
			continue
		}

		idleCount++
		if idleCount >= idleDensePolls {
			time.Sleep(idlePollInterval)
		} else {
			time.Sleep(densePollInterval)
		}
	}
}

// serviceReadRequest loads whichever tape the job's media table says
// holds offset (swapping out mounted first if it's a different one),
// sets MOVER's window over that tape, and issues MOVER_READ for the
// requested range. It returns the entry now mounted.
func (j *Job) serviceReadRequest(moverClient *Client, mounted *media.Entry, offset, length uint64) (*media.Entry, error) {
	entry, ok := j.Media.Locate(offset)
	if !ok {
		return mounted, errNoMediaEntry
	}
	if entry != mounted {
		if mounted != nil {
			if err := j.UnloadTape(mounted); err != nil {
				return mounted, err
			}
		}
		if err := j.LoadTape(entry, true); err != nil {
			return mounted, err
		}
	}
	if err := moverClient.MoverSetWindow(entry.BeginOffset, entry.ByteCount); err != nil {
		return entry, err
	}
	if err := moverClient.MoverRead(offset, length); err != nil {
		return entry, err
	}
	return entry, nil
}

// outcomeFromRestoreHalt maps a DATA halt reason to the three-way job
// outcome for a finished restore.
func outcomeFromRestoreHalt(reason dataagent.HaltReason) RunOutcome {
	switch reason {
	case dataagent.HaltSuccessful:
		return RunSuccess
	case dataagent.HaltConnectClosed, dataagent.HaltConnectError:
		return RunQuestionable
	default:
		return RunFailure
	}
}
