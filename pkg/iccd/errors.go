package iccd

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("iccd: no PicoKey device found")
	ErrIO       = errors.New("iccd: transport i/o error")
	ErrClosed   = errors.New("iccd: device closed")
)

// ioError tags a low-level USB failure with the phase it occurred in, so a
// write-phase fault is distinguishable from a read-phase one.
func ioError(phase string, err error) error {
	return fmt.Errorf("%w (usb %s: %v)", ErrIO, phase, err)
}
