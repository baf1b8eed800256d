// Package bitvec packs bytes into bit sequences in JTAG shift order.
//
// Bit i of a Bits value corresponds to bit (i%8) of byte i/8, so the first
// element of a sequence is the least significant bit of the first byte. This
// is the order in which a TAP shifts data through TDI/TDO.
package bitvec

import (
	"errors"
	"fmt"
	"math/bits"
)

// ErrLength is returned when a bit count does not fit the byte data it is
// derived from or converted to.
var ErrLength = errors.New("bitvec: invalid length")

// Bits is an ordered sequence of single bits, first-shifted bit first.
type Bits []bool

// FromBytes unpacks the first n bits of data, LSB-first per byte.
func FromBytes(data []byte, n int) (Bits, error) {
	if n < 0 || n > len(data)*8 {
		return nil, fmt.Errorf("%w: %d bits requested from %d bytes", ErrLength, n, len(data))
	}
	out := make(Bits, n)
	for i := range out {
		out[i] = data[i/8]&(1<<(i%8)) != 0
	}
	return out, nil
}

// Bytes packs b LSB-first per byte. A trailing partial byte is zero-padded.
func (b Bits) Bytes() []byte {
	out := make([]byte, (len(b)+7)/8)
	for i, v := range b {
		if v {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

// ToBytes packs b like Bytes but refuses sequences that are not a whole
// number of bytes.
func ToBytes(b Bits) ([]byte, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("%w: %d bits is not a whole number of bytes", ErrLength, len(b))
	}
	return b.Bytes(), nil
}

// ReverseEach returns a copy of data with the bit order of every byte
// reversed. Applying it twice yields the original data.
func ReverseEach(data []byte) []byte {
	out := make([]byte, len(data))
	for i, c := range data {
		out[i] = bits.Reverse8(c)
	}
	return out
}
