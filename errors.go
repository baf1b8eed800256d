package spidap

import (
	"errors"
	"fmt"

	"github.com/gentam/spidap/bitvec"
	"github.com/gentam/spidap/jtag"
)

// Failure kinds reported by Bridge. Use errors.Is to test for them.
var (
	ErrTransport  = errors.New("probe transport failure")
	ErrProtocol   = errors.New("JTAG protocol failure")
	ErrConversion = errors.New("bit conversion failure")

	ErrReleased = errors.New("bridge released")
)

// Error is returned by Bridge transactions. It unwraps to both its Kind and
// the underlying cause.
type Error struct {
	Op   string // "write" or "exchange"
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("spi %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

func newError(op string, err error) error {
	kind := ErrTransport
	switch {
	case errors.Is(err, bitvec.ErrLength):
		kind = ErrConversion
	case errors.Is(err, jtag.ErrSequence), errors.Is(err, jtag.ErrCaptureLength):
		kind = ErrProtocol
	}
	return &Error{Op: op, Kind: kind, Err: err}
}
