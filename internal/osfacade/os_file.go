package osfacade

import (
	"os"

	"github.com/pkg/errors"
)

// openTapeFile opens a real device node in the flag combination matching
// mode, returning it through the rawTapeFile interface so the simulator
// build can substitute an in-memory buffer instead.
func openTapeFile(device string, mode OpenMode) (rawTapeFile, error) {
	flag := os.O_RDWR
	if mode == OpenRDOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(device, flag, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s (%s)", device, modeDescription(mode))
	}
	return f, nil
}
