// Package robotagent implements the ROBOT role: SCSI pass-through
// (EXECUTE_CDB) and SCSI Media Changer (SMC) operations — move medium,
// read element status, initialize element status — plus the
// remedy-robot recovery the CONTROL agent's job audit invokes when a
// drive is occupied by a tape it didn't expect.
package robotagent

import (
	"errors"

	"github.com/ndmpd/ndmpd/internal/osfacade"
)

// ElementType is an SMC element type code.
type ElementType int

const (
	ElementMediumTransport ElementType = iota
	ElementStorage
	ElementImportExport
	ElementDataTransfer
)

// ElementDescriptor is one slot in the changer's element status: its
// address, type, occupancy, and — if SValid — the address it was last
// loaded from.
type ElementDescriptor struct {
	Address uint16
	Type    ElementType
	Full    bool
	SValid  bool
	Source  uint16
}

// ErrElementNotFound is returned when an operation names an address the
// last READ ELEMENT STATUS didn't report.
var ErrElementNotFound = errors.New("robotagent: element not found")

// ErrNoSourceElement is returned by RemedyRobot when the occupied drive
// has no recorded source to return the medium to.
var ErrNoSourceElement = errors.New("robotagent: drive has no source element recorded")

// ErrInvalidSource is returned by RemedyRobot when the drive's recorded
// source is not a storage element, or is itself occupied.
var ErrInvalidSource = errors.New("robotagent: recorded source element is not a free storage slot")

// Agent is the ROBOT role's state: a SCSI control block with the
// configured element address assignments and the descriptor array from
// the last READ ELEMENT STATUS.
type Agent struct {
	changer osfacade.Changer

	mteAddress     uint16
	driveAddresses []uint16
	slotAddresses  []uint16

	elements []ElementDescriptor
}

// New creates a ROBOT agent over changer, with the medium transport
// element at mteAddress and the configured drive/slot element addresses.
func New(changer osfacade.Changer, mteAddress uint16, driveAddresses, slotAddresses []uint16) *Agent {
	return &Agent{
		changer:        changer,
		mteAddress:     mteAddress,
		driveAddresses: driveAddresses,
		slotAddresses:  slotAddresses,
	}
}

// Open opens the changer device.
func (a *Agent) Open(device string) error {
	return a.changer.Open(device)
}

// Close closes the changer device.
func (a *Agent) Close() error {
	return a.changer.Close()
}

// IsOpen reports whether the changer device is open.
func (a *Agent) IsOpen() bool {
	return a.changer.IsOpen()
}

// Elements returns the descriptor array from the last ReadElementStatus.
func (a *Agent) Elements() []ElementDescriptor {
	return a.elements
}

// ExecuteCDB passes a raw SCSI command descriptor block through to the
// changer, for NDMP's SCSI pass-through surface.
func (a *Agent) ExecuteCDB(cdb []byte) ([]byte, error) {
	return a.changer.ExecuteCDB(cdb)
}

// MoveMedium issues MOVE MEDIUM, moving a tape from the "from" element
// address to "to" via the configured medium transport element.
func (a *Agent) MoveMedium(from, to uint16) error {
	cdb := buildMoveMediumCDB(a.mteAddress, from, to)
	_, err := a.changer.ExecuteCDB(cdb)
	if err != nil {
		return err
	}
	a.updateAfterMove(from, to)
	return nil
}

// updateAfterMove keeps the cached descriptor array consistent with a
// successful move without requiring a full re-scan.
func (a *Agent) updateAfterMove(from, to uint16) {
	var src, dst *ElementDescriptor
	for i := range a.elements {
		switch a.elements[i].Address {
		case from:
			src = &a.elements[i]
		case to:
			dst = &a.elements[i]
		}
	}
	if src == nil || dst == nil {
		return
	}
	dst.Full = src.Full
	dst.SValid = true
	dst.Source = from
	src.Full = false
	src.SValid = false
}

// InitializeElementStatus issues INITIALIZE ELEMENT STATUS, the SMC
// command that forces the changer to re-inventory its elements.
func (a *Agent) InitializeElementStatus() error {
	cdb := buildInitializeElementStatusCDB()
	_, err := a.changer.ExecuteCDB(cdb)
	return err
}

// ReadElementStatus issues READ ELEMENT STATUS for every configured
// element (medium transport, storage slots, data transfer elements),
// parses the response, and caches the result in Elements.
func (a *Agent) ReadElementStatus() ([]ElementDescriptor, error) {
	var out []ElementDescriptor

	mte, err := a.readElementStatusOf(ElementMediumTransport, []uint16{a.mteAddress})
	if err != nil {
		return nil, err
	}
	out = append(out, mte...)

	slots, err := a.readElementStatusOf(ElementStorage, a.slotAddresses)
	if err != nil {
		return nil, err
	}
	out = append(out, slots...)

	drives, err := a.readElementStatusOf(ElementDataTransfer, a.driveAddresses)
	if err != nil {
		return nil, err
	}
	out = append(out, drives...)

	a.elements = out
	return out, nil
}

func (a *Agent) readElementStatusOf(typ ElementType, addresses []uint16) ([]ElementDescriptor, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	start := addresses[0]
	cdb := buildReadElementStatusCDB(typ, start, uint16(len(addresses)))
	resp, err := a.changer.ExecuteCDB(cdb)
	if err != nil {
		return nil, err
	}
	return parseElementStatusResponse(typ, addresses, resp), nil
}

// RemedyRobot handles a drive found Full when the job expected it empty:
// it moves the medium back to its recorded source slot, after validating
// that source is a free storage element.
func (a *Agent) RemedyRobot(driveAddress uint16) error {
	descs, err := a.ReadElementStatus()
	if err != nil {
		return err
	}

	var drive *ElementDescriptor
	for i := range descs {
		if descs[i].Type == ElementDataTransfer && descs[i].Address == driveAddress {
			drive = &descs[i]
			break
		}
	}
	if drive == nil {
		return ErrElementNotFound
	}
	if !drive.Full {
		return nil
	}
	if !drive.SValid {
		return ErrNoSourceElement
	}

	var source *ElementDescriptor
	for i := range descs {
		if descs[i].Address == drive.Source {
			source = &descs[i]
			break
		}
	}
	if source == nil || source.Type != ElementStorage || source.Full {
		return ErrInvalidSource
	}

	return a.MoveMedium(drive.Address, source.Address)
}
