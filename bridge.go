package spidap

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/gentam/spidap/bitvec"
	"github.com/gentam/spidap/jtag"
)

// FlashAccess is a byte-oriented SPI transport. Each call is one framed
// transaction with the flash chip selected for its whole duration.
type FlashAccess interface {
	Write(data []byte) error
	Exchange(data []byte) ([]byte, error)
}

// Bridge runs SPI transactions over a JTAG probe.
//
// SPI shifts each byte MSB first while the JTAG engine shifts LSB first, so
// every byte is bit-reversed before packing and again after capture. After
// the data bits one TMS-high cycle is clocked, which the target logic takes
// as the end of the SPI frame.
//
// Bridge owns its probe until Release. It is not safe for concurrent use.
type Bridge struct {
	probe jtag.Probe
	log   *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger used for per-transaction debug records.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// New returns a Bridge that takes exclusive ownership of p until Release.
func New(p jtag.Probe, opts ...Option) *Bridge {
	b := &Bridge{
		probe: p,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ FlashAccess = (*Bridge)(nil)

// Write clocks data out to the flash without capturing anything.
func (b *Bridge) Write(data []byte) error {
	const op = "write"
	bits, err := b.pack(op, data)
	if err != nil {
		return err
	}
	b.log.Debug("spi transaction", "op", op, "bytes", len(data))
	if _, err := jtag.NewSequences(b.probe).Write(bits).Mode(true).Run(); err != nil {
		return newError(op, err)
	}
	return nil
}

// Exchange clocks data out and returns the bytes clocked in during the same
// cycles. The result has the same length as data.
func (b *Bridge) Exchange(data []byte) ([]byte, error) {
	const op = "exchange"
	bits, err := b.pack(op, data)
	if err != nil {
		return nil, err
	}
	b.log.Debug("spi transaction", "op", op, "bytes", len(data))
	captured, err := jtag.NewSequences(b.probe).Exchange(bits).Mode(true).Run()
	if err != nil {
		return nil, newError(op, err)
	}
	if len(captured) != len(bits) {
		return nil, newError(op, fmt.Errorf("%w: sent %d bits, captured %d", jtag.ErrCaptureLength, len(bits), len(captured)))
	}
	out, err := bitvec.ToBytes(captured)
	if err != nil {
		return nil, newError(op, err)
	}
	return bitvec.ReverseEach(out), nil
}

// Release returns the probe to the caller. The Bridge must not be used
// afterwards; its transactions fail with ErrReleased.
func (b *Bridge) Release() jtag.Probe {
	p := b.probe
	b.probe = nil
	return p
}

func (b *Bridge) pack(op string, data []byte) (bitvec.Bits, error) {
	if b.probe == nil {
		return nil, &Error{Op: op, Kind: ErrProtocol, Err: ErrReleased}
	}
	bits, err := bitvec.FromBytes(bitvec.ReverseEach(data), len(data)*8)
	if err != nil {
		return nil, newError(op, err)
	}
	return bits, nil
}
