// Package osfacade is the small OS/simulator boundary the core calls out to
// for tape and SCSI media-changer I/O: tape_open/close/mtio/read/write and
// scsi_execute_cdb. Everything above this package (the TAPE and ROBOT
// agents) is oblivious to whether a device is real hardware or a
// development simulator.
package osfacade

import (
	"fmt"
	"os/exec"
	"strconv"

	"github.com/pkg/errors"
)

// MtioOp enumerates the tape positioning operations the MOVER issues while
// aligning to a window (forward/backward space records or files, rewind,
// write filemarks).
type MtioOp int

const (
	MtioForwardRecords MtioOp = iota
	MtioBackwardRecords
	MtioForwardFiles
	MtioBackwardFiles
	MtioRewind
	MtioWriteFileMarks
	MtioEOD
)

func (op MtioOp) mtArg() string {
	switch op {
	case MtioForwardRecords:
		return "fsr"
	case MtioBackwardRecords:
		return "bsr"
	case MtioForwardFiles:
		return "fsf"
	case MtioBackwardFiles:
		return "bsf"
	case MtioRewind:
		return "rewind"
	case MtioWriteFileMarks:
		return "weof"
	case MtioEOD:
		return "eod"
	default:
		return "status"
	}
}

// OpenMode is the mode a tape device is opened in.
type OpenMode int

const (
	OpenRDWR OpenMode = iota
	OpenRDOnly
	OpenRaw
)

// TapeDrive is the vtable the TAPE agent drives: open(name, write_flag),
// close, mtio(op, count, &resid), read(buf, n, &got), write(buf, n, &done).
// A zero-length Read or Write is a no-op returning success, matching the
// boundary behavior the TAPE role guarantees to MOVER.
type TapeDrive interface {
	Open(device string, mode OpenMode) error
	Close() error
	Mtio(op MtioOp, count int) (resid int, err error)
	Read(buf []byte) (n int, err error)
	Write(buf []byte) (n int, err error)
	IsOpen() bool
}

// ErrDevNotOpen mirrors the canonical DEV_NOT_OPEN_ERR condition.
var ErrDevNotOpen = errors.New("osfacade: device not open")

// ErrWriteProtected mirrors the canonical WRITE_PROTECT_ERR condition: a
// write attempted on a drive opened OpenRDOnly.
var ErrWriteProtected = errors.New("osfacade: device opened read-only")

// ErrFileMark is returned by Read when the next record is a file mark; the
// caller (MOVER) treats this as the EOF pause condition.
var ErrFileMark = errors.New("osfacade: file mark")

// ErrEndOfMedium is returned by Read past the last recorded block; the
// caller treats this as the EOM pause/halt condition. SimDrive has no
// capacity limit, so its Write never returns it.
var ErrEndOfMedium = errors.New("osfacade: end of medium")

// mtDrive drives a real tape device via the mt(1) command line for
// positioning and a raw file handle for data transfer, the same split
// benmcclelland-mt.Drive uses (mt for SCSI tape ioctls, direct I/O for the
// byte stream).
type mtDrive struct {
	device  string
	mode    OpenMode
	mtCmd   string
	file    rawTapeFile
	isOpen  bool
}

// rawTapeFile is the minimal os.File surface mtDrive needs; abstracted so
// tests can substitute an in-memory file without touching a real device
// node.
type rawTapeFile interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// NewDrive returns a TapeDrive that drives a real device node at device,
// using the system "mt" command for positioning.
func NewDrive(device string) TapeDrive {
	return &mtDrive{device: device, mtCmd: "mt"}
}

func (d *mtDrive) Open(device string, mode OpenMode) error {
	d.device = device
	d.mode = mode
	f, err := openTapeFile(device, mode)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	d.file = f
	d.isOpen = true
	return nil
}

func (d *mtDrive) Close() error {
	if !d.isOpen {
		return nil
	}
	d.isOpen = false
	if d.file == nil {
		return nil
	}
	return errors.Wrap(d.file.Close(), "close")
}

func (d *mtDrive) IsOpen() bool { return d.isOpen }

func (d *mtDrive) Mtio(op MtioOp, count int) (int, error) {
	if !d.isOpen {
		return 0, ErrDevNotOpen
	}
	args := []string{"-f", d.device, op.mtArg()}
	if count > 0 {
		args = append(args, strconv.Itoa(count))
	}
	cmd := exec.Command(d.mtCmd, args...)
	if err := cmd.Run(); err != nil {
		return count, errors.Wrap(err, op.mtArg())
	}
	return 0, nil
}

func (d *mtDrive) Read(buf []byte) (int, error) {
	if !d.isOpen {
		return 0, ErrDevNotOpen
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := d.file.Read(buf)
	if err != nil {
		return n, errors.Wrap(err, "read")
	}
	return n, nil
}

func (d *mtDrive) Write(buf []byte) (int, error) {
	if !d.isOpen {
		return 0, ErrDevNotOpen
	}
	if d.mode == OpenRDOnly {
		return 0, ErrWriteProtected
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := d.file.Write(buf)
	if err != nil {
		return n, errors.Wrap(err, "write")
	}
	return n, nil
}

func modeDescription(mode OpenMode) string {
	switch mode {
	case OpenRDWR:
		return "rdwr"
	case OpenRDOnly:
		return "rdonly"
	case OpenRaw:
		return "raw"
	default:
		return fmt.Sprintf("mode(%d)", mode)
	}
}
