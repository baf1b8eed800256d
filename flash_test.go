package spidap

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentam/spidap/bitvec"
	"github.com/gentam/spidap/jtag"
)

// memChip is an in-memory SPI NOR flash answering the commands Flash uses.
type memChip struct {
	id   [3]byte
	mem  []byte
	sr   StatusRegister
	sr2  byte
	sr3  byte
	down bool

	frames [][]byte
	fail   error
	busy   int // status reads that still report BUSY after a program/erase
}

func newMemChip(id [3]byte, size int) *memChip {
	c := &memChip{id: id, mem: make([]byte, size), sr2: 0x02, sr3: 0x60}
	for i := range c.mem {
		c.mem[i] = 0xFF
	}
	return c
}

func (c *memChip) Write(data []byte) error {
	_, err := c.Exchange(data)
	return err
}

func (c *memChip) Exchange(data []byte) ([]byte, error) {
	if c.fail != nil {
		return nil, c.fail
	}
	c.frames = append(c.frames, bytes.Clone(data))
	out := make([]byte, len(data))
	if len(data) == 0 {
		return out, nil
	}
	addr := func() int {
		return int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	}
	switch data[0] {
	case flashCmdReleasePowerDown:
		c.down = false
	case flashCmdPowerDown:
		c.down = true
	case flashCmdReadID:
		copy(out[1:], c.id[:])
	case flashCmdReadStatusRegister1:
		sr := c.sr
		if c.busy > 0 {
			c.busy--
			sr |= 1
		}
		fill(out[1:], byte(sr))
	case flashCmdReadStatusRegister2:
		fill(out[1:], c.sr2)
	case flashCmdReadStatusRegister3:
		fill(out[1:], c.sr3)
	case flashCmdWriteEnable:
		c.sr |= 1 << 1
	case flashCmdWriteStatusRegister:
		if c.sr.WriteEnabled() {
			c.sr = StatusRegister(data[1] &^ 0b11)
		}
	case flashCmdRead:
		a := addr()
		for i := range out[4:] {
			out[4+i] = c.mem[(a+i)%len(c.mem)]
		}
	case flashCmdPageProgram:
		if c.sr.WriteEnabled() {
			a := addr()
			page := a &^ (pageSize - 1)
			for i, v := range data[4:] {
				c.mem[page+(a+i)%pageSize] &= v
			}
			c.done()
		}
	case flashCmdErase4KB:
		c.erase(addr(), subsectorSize)
	case flashCmdErase64KB:
		c.erase(addr(), sectorSize)
	case flashCmdEraseChip:
		c.erase(0, len(c.mem))
	}
	return out, nil
}

func (c *memChip) erase(addr, size int) {
	if !c.sr.WriteEnabled() {
		return
	}
	addr &^= size - 1
	fill(c.mem[addr:addr+size], 0xFF)
	c.done()
}

func (c *memChip) done() {
	c.sr &^= 1 << 1
}

func (c *memChip) opcodes() []byte {
	var ops []byte
	for _, f := range c.frames {
		ops = append(ops, f[0])
	}
	return ops
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// chipProbe is a JTAG probe whose target is an SPI flash: every shift op is
// one SPI frame, MSB first on the wire.
type chipProbe struct {
	chip *memChip
}

func (p *chipProbe) Execute(ops []jtag.Op) (bitvec.Bits, error) {
	var captured bitvec.Bits
	for _, op := range ops {
		if op.Kind != jtag.OpShift {
			continue
		}
		raw, err := bitvec.ToBytes(op.Bits)
		if err != nil {
			return nil, err
		}
		rx, err := p.chip.Exchange(bitvec.ReverseEach(raw))
		if err != nil {
			return nil, err
		}
		if op.Capture {
			b, err := bitvec.FromBytes(bitvec.ReverseEach(rx), len(op.Bits))
			if err != nil {
				return nil, err
			}
			captured = append(captured, b...)
		}
	}
	return captured, nil
}

func TestFlash_ReadID(t *testing.T) {
	tests := []struct {
		name     string
		id       [3]byte
		wantName string
		capacity int
		known    bool
	}{
		{"micron", flashIDMicronN25Q32, "Micron N25Q 32Mb", 4 << 20, true},
		{"winbond", flashIDWinbondW25Q128, "Winbond W25Q 128Mb", 16 << 20, true},
		{"unknown 2MB", [3]byte{0xC8, 0x40, 0x15}, "", 2 << 20, true},
		{"garbage", [3]byte{0xFF, 0xFF, 0xFF}, "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFlash(newMemChip(tt.id, 4096))
			id, name, err := f.ReadID()
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.wantName, name)

			c, ok := f.Capacity()
			assert.Equal(t, tt.known, ok)
			assert.Equal(t, tt.capacity, c)
		})
	}
}

func TestFlash_OverBridge(t *testing.T) {
	chip := newMemChip(flashIDWinbondW25Q128, 2*sectorSize)
	f := NewFlash(New(&chipProbe{chip: chip}))

	require.NoError(t, f.ReleasePowerDown())
	id, name, err := f.ReadID()
	require.NoError(t, err)
	assert.Equal(t, flashIDWinbondW25Q128, id)
	assert.Equal(t, "Winbond W25Q 128Mb", name)

	data := []byte("iCE40 bitstream goes here")
	require.NoError(t, f.Program(0x1000, data, true))

	got, err := f.Read(0x1000, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, data, chip.mem[0x1000:0x1000+len(data)])

	require.NoError(t, f.PowerDown())
	assert.True(t, chip.down)
}

func TestFlash_ProgramCrossesPages(t *testing.T) {
	chip := newMemChip(flashIDWinbondW25Q128, 2*sectorSize)
	f := NewFlash(chip)
	_, _, err := f.ReadID()
	require.NoError(t, err)

	data := make([]byte, 700)
	for i := range data {
		data[i] = byte(i)
	}
	const addr = 0x10F0
	require.NoError(t, f.Program(addr, data, true))
	assert.Equal(t, data, chip.mem[addr:addr+len(data)])

	var pages []int
	for _, fr := range chip.frames {
		if fr[0] == flashCmdPageProgram {
			pages = append(pages, len(fr)-4)
		}
	}
	assert.Equal(t, []int{16, 256, 256, 172}, pages)
}

func TestFlash_Progress(t *testing.T) {
	chip := newMemChip(flashIDWinbondW25Q128, 4*sectorSize)
	f := NewFlash(chip)
	_, _, err := f.ReadID()
	require.NoError(t, err)

	type step struct{ done, total int }
	got := map[string][]step{}
	f.OnProgress = func(op string, done, total int) {
		got[op] = append(got[op], step{done, total})
	}

	_, err = f.Read(0, 2*sectorSize+100)
	require.NoError(t, err)
	assert.Equal(t, []step{
		{sectorSize, 2*sectorSize + 100},
		{2 * sectorSize, 2*sectorSize + 100},
		{2*sectorSize + 100, 2*sectorSize + 100},
	}, got["read"])

	delete(got, "read")
	data := make([]byte, 700)
	require.NoError(t, f.Program(0x10F0, data, true))

	writes := got["write"]
	require.Len(t, writes, 4)
	assert.Equal(t, step{16, 700}, writes[0])
	assert.Equal(t, step{700, 700}, writes[3])

	erases := got["erase"]
	require.NotEmpty(t, erases)
	assert.Equal(t, step{subsectorSize, subsectorSize}, erases[len(erases)-1])

	reads := got["read"]
	require.Len(t, reads, 1)
	assert.Equal(t, step{700, 700}, reads[0])
}

func TestFlash_ProgramVerifyFails(t *testing.T) {
	chip := newMemChip(flashIDWinbondW25Q128, sectorSize)
	f := NewFlash(&stuckBits{memChip: chip, addr: 5})

	err := f.Program(0, []byte{0, 1, 2, 3, 4, 5, 6}, true)
	assert.ErrorIs(t, err, ErrVerify)
	assert.Contains(t, err.Error(), "0x000005")

	assert.NoError(t, f.Program(0, []byte{0, 1, 2, 3, 4, 5, 6}, false))
}

// stuckBits reads one byte of memory back as 0xFF.
type stuckBits struct {
	*memChip
	addr int
}

func (s *stuckBits) Exchange(data []byte) ([]byte, error) {
	out, err := s.memChip.Exchange(data)
	if err == nil && data[0] == flashCmdRead {
		a := int(data[1])<<16 | int(data[2])<<8 | int(data[3])
		if i := s.addr - a; i >= 0 && 4+i < len(out) {
			out[4+i] = 0xFF
		}
	}
	return out, err
}

func TestFlash_EraseSplitsSectors(t *testing.T) {
	chip := newMemChip(flashIDMicronN25Q32, 3*sectorSize)
	f := NewFlash(chip)
	_, _, err := f.ReadID()
	require.NoError(t, err)

	require.NoError(t, f.Erase(sectorSize-subsectorSize, sectorSize+2*subsectorSize))

	var erases []byte
	for _, op := range chip.opcodes() {
		if op == flashCmdErase4KB || op == flashCmdErase64KB {
			erases = append(erases, op)
		}
	}
	assert.Equal(t, []byte{flashCmdErase4KB, flashCmdErase64KB, flashCmdErase4KB}, erases)

	assert.Error(t, f.Erase(0x123, subsectorSize))
}

func TestFlash_EraseChip(t *testing.T) {
	chip := newMemChip(flashIDMicronN25Q32, subsectorSize)
	chip.mem[10] = 0
	f := NewFlash(chip)

	require.NoError(t, f.EraseChip())
	assert.Equal(t, byte(0xFF), chip.mem[10])
}

func TestFlash_BusyWait(t *testing.T) {
	chip := newMemChip(flashIDWinbondW25Q128, subsectorSize)
	chip.busy = 3
	f := NewFlash(chip)

	require.NoError(t, f.BusyWait(time.Microsecond, time.Second))
	assert.Zero(t, chip.busy)

	chip.busy = 1 << 30
	err := f.BusyWait(time.Millisecond, 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestFlash_StatusRegisters(t *testing.T) {
	chip := newMemChip(flashIDWinbondW25Q128, subsectorSize)
	f := NewFlash(chip)

	protected, err := f.IsProtected()
	require.NoError(t, err)
	assert.False(t, protected)

	require.NoError(t, f.Protect(true, true, true))
	sr, err := f.ReadStatusRegister()
	require.NoError(t, err)
	assert.True(t, sr.BlockProtect0())
	assert.True(t, sr.BlockProtect1())
	assert.True(t, sr.BlockProtect2())
	assert.Equal(t, "00011100 BP2,BP1,BP0", sr.String())

	protected, err = f.IsProtected()
	require.NoError(t, err)
	assert.True(t, protected)

	chip.sr |= srSEC | srTB
	require.NoError(t, f.Unprotect())
	sr, err = f.ReadStatusRegister()
	require.NoError(t, err)
	assert.Equal(t, StatusRegister(0), sr)

	sr2, err := f.ReadStatusRegister2()
	require.NoError(t, err)
	assert.Equal(t, byte(0x02), sr2)
	sr3, err := f.ReadStatusRegister3()
	require.NoError(t, err)
	assert.Equal(t, byte(0x60), sr3)
}

func TestFlash_TransportError(t *testing.T) {
	chip := newMemChip(flashIDWinbondW25Q128, subsectorSize)
	boom := errors.New("probe gone")
	chip.fail = boom
	f := NewFlash(New(&chipProbe{chip: chip}))

	_, _, err := f.ReadID()
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrTransport)

	_, err = f.Read(0, 16)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestFlash_AddressRange(t *testing.T) {
	f := NewFlash(newMemChip(flashIDWinbondW25Q128, subsectorSize))
	_, err := f.Read(max24+1, 1)
	assert.Error(t, err)
	assert.Error(t, f.Erase4KB(-4096))
}

func TestStatusRegister_String(t *testing.T) {
	assert.Equal(t, "00000000", StatusRegister(0).String())
	assert.Equal(t, "11100011 SRP,SEC,TB,WEL,BUSY", StatusRegister(0b1110_0011).String())
}
