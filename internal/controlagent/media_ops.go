package controlagent

import (
	"time"

	"github.com/ndmpd/ndmpd/internal/media"
	"github.com/ndmpd/ndmpd/internal/protocol/ndmp9"
)

// robotRetryInterval is how long media_open_tape waits between a drive
// found occupied and its next remedy attempt, before giving up once
// RobotTimeout has elapsed.
const robotRetryInterval = 10 * time.Second

// OpenMode mirrors the TAPE_OPEN wire mode values.
const (
	tapeOpenRDWR   uint32 = 0
	tapeOpenRDOnly uint32 = 1
)

// LoadTape drives one media table entry through robot load, tape open,
// rewind, and label verification, the per-tape lifecycle spec.md §4.6
// describes for both backup and restore. readOnly selects TAPE_OPEN's
// mode for a restore; a backup opens read/write.
func (j *Job) LoadTape(entry *media.Entry, readOnly bool) error {
	client := &Client{Transport: j.Agents.TapeConn, Version: j.Agents.TapeVer, TimeLimit: j.CallTimeout}

	if j.Agents.Robot != nil && entry.SlotValid {
		if err := j.loadFromRobot(entry); err != nil {
			entry.SlotBad = true
			return err
		}
	}

	mode := tapeOpenRDWR
	if readOnly {
		mode = tapeOpenRDOnly
	}
	if err := client.TapeOpen(j.TapeDevice, mode); err != nil {
		entry.OpenError = true
		return err
	}

	if _, err := client.TapeMtio(uint32(ndmp9.MtioWireREW), 1); err != nil {
		entry.IOError = true
		return err
	}

	if err := j.checkLabel(client, entry); err != nil {
		return err
	}

	if entry.FileMarkOffset > 0 {
		if _, err := client.TapeMtio(uint32(ndmp9.MtioWireFSF), entry.FileMarkOffset); err != nil {
			entry.FileMarkError = true
			return err
		}
	}

	entry.Used = true
	return nil
}

// loadFromRobot moves entry's slot into the job's configured drive,
// retrying via RemedyRobot (when AutoRemedy is set) if the drive is
// already occupied, up to RobotTimeout.
func (j *Job) loadFromRobot(entry *media.Entry) error {
	deadline := time.Now().Add(j.RobotTimeout)
	for {
		err := j.Agents.Robot.MoveMedium(entry.SlotAddress, j.RobotTarget)
		if err == nil {
			return nil
		}
		if !j.AutoRemedy {
			return err
		}
		if remedyErr := j.Agents.Robot.RemedyRobot(j.RobotTarget); remedyErr != nil {
			return err
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(robotRetryInterval)
	}
}

// checkLabel reads the label record at the front of the tape and compares
// it against entry's expected label, setting the matching result flags.
// A tape with no expected label (entry.Label == "") skips comparison,
// matching INIT_LABELS' own use of this same open path to write one.
func (j *Job) checkLabel(client *Client, entry *media.Entry) error {
	data, err := client.TapeRead(media.LabelSize)
	if err != nil {
		entry.LabelIOError = true
		return err
	}

	typ, label, ok := media.ReadLabel(data)
	if !ok {
		entry.LabelMismatch = true
		return nil
	}
	entry.LabelRead = true

	if entry.Label == "" {
		entry.Label = label
		return nil
	}
	if typ != media.LabelTape || label != entry.Label {
		entry.LabelMismatch = true
	}
	return nil
}

// WriteLabel lays down a fresh label record for entry, the INIT_LABELS
// operation: open, rewind, write label, leaving the tape positioned right
// after it.
func (j *Job) WriteLabel(entry *media.Entry, label string) error {
	client := &Client{Transport: j.Agents.TapeConn, Version: j.Agents.TapeVer, TimeLimit: j.CallTimeout}

	if j.Agents.Robot != nil && entry.SlotValid {
		if err := j.loadFromRobot(entry); err != nil {
			entry.SlotBad = true
			return err
		}
	}

	if err := client.TapeOpen(j.TapeDevice, tapeOpenRDWR); err != nil {
		entry.OpenError = true
		return err
	}
	if _, err := client.TapeMtio(uint32(ndmp9.MtioWireREW), 1); err != nil {
		entry.IOError = true
		return err
	}

	record, err := media.WriteLabel(media.LabelTape, label)
	if err != nil {
		return err
	}
	if _, err := client.TapeWrite(record); err != nil {
		entry.IOError = true
		return err
	}

	entry.Label = label
	entry.LabelValid = true
	entry.Used = true
	return nil
}

// CaptureWindow records entry's observed byte count once a volume has
// finished (the tape hit EOM/EOF, or the job completed on this tape), and
// recalculates the whole table's cumulative offsets.
func (j *Job) CaptureWindow(entry *media.Entry, windowOffset, windowLength uint64) {
	entry.ByteCount = windowLength
	j.Media.CalculateOffsets()
	_ = windowOffset // offsets are derived from cumulative ByteCount, not the raw window
}

// UnloadTape closes the tape device and, if a robot is configured,
// returns the medium to its slot (or ejects it, when UseEject is set).
func (j *Job) UnloadTape(entry *media.Entry) error {
	client := &Client{Transport: j.Agents.TapeConn, Version: j.Agents.TapeVer, TimeLimit: j.CallTimeout}

	if err := client.TapeClose(); err != nil {
		entry.IOError = true
		return err
	}

	if j.Agents.Robot == nil || !entry.SlotValid || j.UseEject {
		return nil
	}
	return j.Agents.Robot.MoveMedium(j.RobotTarget, entry.SlotAddress)
}
