package osfacade

import (
	"os/exec"

	"github.com/pkg/errors"
)

// Changer is the robot simulator vtable the ROBOT agent drives:
// {open(name), close, reset, execute_cdb(request, reply)}.
type Changer interface {
	Open(device string) error
	Close() error
	Reset() error
	ExecuteCDB(cdb []byte) (response []byte, err error)
	IsOpen() bool
}

// mtxChanger drives a real SCSI media changer. EXECUTE_CDB passthrough
// shells out to sg_raw, the same exec.Command-plus-pkg/errors.Wrap pattern
// benmcclelland-mt.Drive uses for mt(1): a wrapped external command rather
// than a raw ioctl binding.
type mtxChanger struct {
	device string
	isOpen bool
}

// NewChanger returns a Changer that drives a real SCSI media changer node.
func NewChanger(device string) Changer {
	return &mtxChanger{device: device}
}

func (c *mtxChanger) Open(device string) error {
	c.device = device
	c.isOpen = true
	return nil
}

func (c *mtxChanger) Close() error {
	c.isOpen = false
	return nil
}

func (c *mtxChanger) IsOpen() bool { return c.isOpen }

func (c *mtxChanger) Reset() error {
	if !c.isOpen {
		return ErrDevNotOpen
	}
	cmd := exec.Command("mtx", "-f", c.device, "status")
	return errors.Wrap(cmd.Run(), "reset")
}

// ExecuteCDB passes a raw 6/10/12/16-byte SCSI command descriptor block
// through to the device via sg_raw, returning whatever bytes sg_raw wrote
// to stdout as the response. ROBOT's MOVE_MEDIUM/READ_ELEMENT_STATUS
// handlers build cdb; this call has no opinion about its contents.
func (c *mtxChanger) ExecuteCDB(cdb []byte) ([]byte, error) {
	if !c.isOpen {
		return nil, ErrDevNotOpen
	}
	args := []string{"-r", "4096", c.device}
	for _, b := range cdb {
		args = append(args, hexByte(b))
	}
	cmd := exec.Command("sg_raw", args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrap(err, "execute_cdb")
	}
	return out, nil
}

func hexByte(b byte) string {
	const hexDigits = "0123456789abcdef"
	return string([]byte{hexDigits[b>>4], hexDigits[b&0xf]})
}
