// Package jtag builds and runs bit-serial shift sequences against a probe.
package jtag

import (
	"errors"
	"fmt"

	"github.com/gentam/spidap/bitvec"
)

var (
	// ErrSequence is returned when a sequence cannot be built or run.
	ErrSequence = errors.New("jtag: invalid sequence")
	// ErrCaptureLength is returned when a probe hands back a different
	// number of captured bits than the sequence asked for.
	ErrCaptureLength = errors.New("jtag: captured bit count mismatch")
)

// OpKind selects what an Op drives on TMS.
type OpKind uint8

const (
	// OpShift clocks Bits out on TDI with TMS held low.
	OpShift OpKind = iota
	// OpMode clocks one cycle per element of Bits with TMS driven to that
	// state and TDI held low.
	OpMode
)

func (k OpKind) String() string {
	switch k {
	case OpShift:
		return "shift"
	case OpMode:
		return "mode"
	}
	return fmt.Sprintf("OpKind(%d)", uint8(k))
}

// Op is a single step of a sequence.
type Op struct {
	Kind    OpKind
	Bits    bitvec.Bits
	Capture bool // sample TDO on every cycle of this op
}

// Probe is an open debug-probe session able to execute accumulated ops.
//
// Execute runs ops in order and returns the TDO bits sampled during every op
// with Capture set, concatenated in execution order.
type Probe interface {
	Execute(ops []Op) (bitvec.Bits, error)
}

// Sequences accumulates ops for a single Run. The first build error sticks
// and is reported by Run, so calls can be chained:
//
//	captured, err := jtag.NewSequences(p).Exchange(bits).Mode(true).Run()
type Sequences struct {
	probe Probe
	ops   []Op
	ncap  int
	err   error
	done  bool
}

// NewSequences returns an empty sequence that will run on p.
func NewSequences(p Probe) *Sequences {
	return &Sequences{probe: p}
}

// Write enqueues a shift of b without capture.
func (s *Sequences) Write(b bitvec.Bits) *Sequences {
	return s.shift(b, false)
}

// Exchange enqueues a shift of b, capturing len(b) bits.
func (s *Sequences) Exchange(b bitvec.Bits) *Sequences {
	return s.shift(b, true)
}

// Mode enqueues TMS states, one clock cycle each.
func (s *Sequences) Mode(tms ...bool) *Sequences {
	if s.err != nil {
		return s
	}
	if len(tms) == 0 {
		s.err = fmt.Errorf("%w: empty mode sequence", ErrSequence)
		return s
	}
	s.ops = append(s.ops, Op{Kind: OpMode, Bits: append(bitvec.Bits(nil), tms...)})
	return s
}

func (s *Sequences) shift(b bitvec.Bits, capture bool) *Sequences {
	if s.err != nil {
		return s
	}
	s.ops = append(s.ops, Op{Kind: OpShift, Bits: b, Capture: capture})
	if capture {
		s.ncap += len(b)
	}
	return s
}

// Run executes all accumulated ops as one unit and returns captured bits.
// A Sequences value can only be run once.
func (s *Sequences) Run() (bitvec.Bits, error) {
	if s.err != nil {
		return nil, s.err
	}
	switch {
	case s.done:
		return nil, fmt.Errorf("%w: sequence already run", ErrSequence)
	case s.probe == nil:
		return nil, fmt.Errorf("%w: no probe", ErrSequence)
	case len(s.ops) == 0:
		return nil, fmt.Errorf("%w: no operations", ErrSequence)
	}
	s.done = true

	captured, err := s.probe.Execute(s.ops)
	if err != nil {
		return nil, err
	}
	if len(captured) != s.ncap {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrCaptureLength, s.ncap, len(captured))
	}
	return captured, nil
}
