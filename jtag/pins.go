package jtag

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/gentam/spidap/bitvec"
)

// PinProbe is a Probe that bit-bangs the four TAP signals over GPIO lines.
//
// TCK idles low. For every cycle TMS and TDI are set up while TCK is low,
// TDO is sampled, then TCK is pulsed high. The target samples TMS/TDI on the
// rising edge and updates TDO on the falling edge.
type PinProbe struct {
	tck, tdi, tms gpio.PinOut
	tdo           gpio.PinIn

	half time.Duration // TCK half period, zero for as fast as the pins allow

	// last driven levels; TMS/TDI are only written on change
	tmsL, tdiL gpio.Level
	primed     bool
}

// NewPinProbe configures the pins and drives TCK, TMS and TDI low. freq caps
// the TCK rate; zero disables pacing.
func NewPinProbe(tck, tdi, tdo, tms gpio.PinIO, freq physic.Frequency) (*PinProbe, error) {
	p := &PinProbe{tck: tck, tdi: tdi, tdo: tdo, tms: tms}
	if freq > 0 {
		p.half = freq.Period() / 2
	}
	if err := tdo.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("jtag: configure TDO: %w", err)
	}
	if err := p.tck.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("jtag: drive TCK: %w", err)
	}
	if err := p.set(gpio.Low, gpio.Low); err != nil {
		return nil, err
	}
	return p, nil
}

// Execute implements Probe.
func (p *PinProbe) Execute(ops []Op) (bitvec.Bits, error) {
	var captured bitvec.Bits
	for _, op := range ops {
		for _, bit := range op.Bits {
			tms, tdi := gpio.Low, gpio.Level(bit)
			if op.Kind == OpMode {
				tms, tdi = gpio.Level(bit), gpio.Low
			}
			out, err := p.clock(tms, tdi, op.Capture)
			if err != nil {
				return nil, err
			}
			if op.Capture {
				captured = append(captured, bool(out))
			}
		}
	}
	return captured, nil
}

func (p *PinProbe) clock(tms, tdi gpio.Level, sample bool) (tdo gpio.Level, err error) {
	if err = p.set(tms, tdi); err != nil {
		return
	}
	if sample {
		tdo = p.tdo.Read()
	}
	if err = p.tck.Out(gpio.High); err != nil {
		return tdo, fmt.Errorf("jtag: drive TCK: %w", err)
	}
	p.pace()
	if err = p.tck.Out(gpio.Low); err != nil {
		return tdo, fmt.Errorf("jtag: drive TCK: %w", err)
	}
	p.pace()
	return tdo, nil
}

func (p *PinProbe) set(tms, tdi gpio.Level) error {
	if !p.primed || tms != p.tmsL {
		if err := p.tms.Out(tms); err != nil {
			return fmt.Errorf("jtag: drive TMS: %w", err)
		}
		p.tmsL = tms
	}
	if !p.primed || tdi != p.tdiL {
		if err := p.tdi.Out(tdi); err != nil {
			return fmt.Errorf("jtag: drive TDI: %w", err)
		}
		p.tdiL = tdi
	}
	p.primed = true
	return nil
}

func (p *PinProbe) pace() {
	if p.half > 0 {
		time.Sleep(p.half)
	}
}
