package spidap

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTimeout = errors.New("flash busy timeout")
	ErrVerify  = errors.New("flash verification failed")
)

type Flash struct {
	spi FlashAccess
	id  [3]byte // JEDEC ID of the flash chip
	pr  *flashParams

	// OnProgress, if set, is called after each chunk of a Read, each page of a
	// Write and each sector of an Erase. op is "read", "write" or "erase";
	// done reaches total when the operation completes.
	OnProgress func(op string, done, total int)
}

func NewFlash(a FlashAccess) *Flash {
	return &Flash{spi: a}
}

// Flash commands:
//   - [N25Q32|Table 16: Command Set]
//   - [W25Q128|8.1.2 Instruction Set Table 1]
const (
	flashCmdReleasePowerDown    = 0xAB
	flashCmdPowerDown           = 0xB9
	flashCmdReadID              = 0x9F
	flashCmdRead                = 0x03
	flashCmdWriteEnable         = 0x06
	flashCmdPageProgram         = 0x02
	flashCmdErase4KB            = 0x20 // Subsector Erase / Sector Erase (4KB)
	flashCmdErase64KB           = 0xD8 // Sector Erase / Block Erase (64KB)
	flashCmdEraseChip           = 0xC7 // Bulk Erase / Chip Erase
	flashCmdReadStatusRegister1 = 0x05
	flashCmdReadStatusRegister2 = 0x35
	flashCmdReadStatusRegister3 = 0x15
	flashCmdWriteStatusRegister = 0x01
)

const (
	pageSize      = 256
	sectorSize    = 64 << 10 // 64KB
	subsectorSize = 4 << 10  // 4KB
	max24         = 1<<24 - 1
)

// tx runs a full-duplex transaction; buf is overwritten with the bytes read.
func (f *Flash) tx(buf []byte) error {
	rx, err := f.spi.Exchange(buf)
	if err != nil {
		return err
	}
	copy(buf, rx)
	return nil
}

func (f *Flash) progress(op string, done, total int) {
	if f.OnProgress != nil {
		f.OnProgress(op, done, total)
	}
}

func (f *Flash) ReleasePowerDown() error {
	if err := f.spi.Write([]byte{flashCmdReleasePowerDown}); err != nil {
		return err
	}
	time.Sleep(f.tRES1())
	return nil
}

// PowerDown puts the flash into deep power-down until ReleasePowerDown.
func (f *Flash) PowerDown() error {
	if err := f.spi.Write([]byte{flashCmdPowerDown}); err != nil {
		return err
	}
	time.Sleep(f.tDP())
	return nil
}

// ReadID returns the JEDEC ID of the flash chip and configures its parameters.
// It returns a non-empty name for known IDs. The extended device string is ignored.
func (f *Flash) ReadID() (id [3]byte, name string, err error) {
	buf := make([]byte, 4)
	buf[0] = flashCmdReadID

	if err = f.tx(buf); err != nil {
		return
	}

	f.id = [3]byte(buf[1:])
	f.pr = nil
	if params, ok := knownFlash[f.id]; ok {
		f.pr = &params
		name = params.name
	}
	return f.id, name, err
}

// Capacity reports the flash size in bytes. ReadID must have been called. For
// unknown parts the size is taken from the JEDEC capacity byte, which most
// vendors encode as log2 of the size.
func (f *Flash) Capacity() (int, bool) {
	if f.pr != nil {
		return f.pr.capacity, true
	}
	if c := f.id[2]; c >= 0x10 && c <= 0x18 {
		return 1 << c, true
	}
	return 0, false
}

func addr24(cmd byte, addr int, n int) ([]byte, error) {
	if addr < 0 || addr > max24 {
		return nil, fmt.Errorf("address 0x%X out of 24-bit range", addr)
	}
	buf := make([]byte, 4+n)
	buf[0] = cmd
	buf[1] = byte(addr >> 16)
	buf[2] = byte(addr >> 8)
	buf[3] = byte(addr)
	return buf, nil
}

// Read performs a read operation, splitting it into multiple transactions so
// that one transaction never holds more than maxData bytes.
func (f *Flash) Read(addr, n int) ([]byte, error) {
	const (
		cmdBytes = 4 // opRead + 24-bit address
		maxData  = 64 << 10
	)

	out := make([]byte, n)
	off := 0
	for remaining := n; remaining > 0; {
		chunk := min(remaining, maxData)
		buf, err := addr24(flashCmdRead, addr, chunk)
		if err != nil {
			return nil, err
		}
		// buf[4:] dummy bytes

		if err := f.tx(buf); err != nil {
			return nil, err
		}

		copy(out[off:], buf[cmdBytes:])

		addr += chunk
		off += chunk
		remaining -= chunk
		f.progress("read", off, n)
	}
	return out, nil
}

func (f *Flash) writeEnable() error {
	return f.spi.Write([]byte{flashCmdWriteEnable})
}

// addr: 24 bit
// data: max 256 bytes, must not cross a page boundary
func (f *Flash) pageProgram(addr int, data []byte) error {
	if len(data) > pageSize-addr%pageSize {
		return errors.New("data must not cross a page boundary")
	}
	buf, err := addr24(flashCmdPageProgram, addr, len(data))
	if err != nil {
		return err
	}
	copy(buf[4:], data)

	if err := f.writeEnable(); err != nil {
		return err
	}
	if err := f.spi.Write(buf); err != nil {
		return err
	}
	return f.BusyWait(100*time.Microsecond, f.tPP())
}

// Write page-programs data starting at addr. The target range must already
// be erased.
func (f *Flash) Write(addr int, data []byte) error {
	total, done := len(data), 0
	for len(data) > 0 {
		n := min(len(data), pageSize-addr%pageSize)
		if err := f.pageProgram(addr, data[:n]); err != nil {
			return err
		}
		addr += n
		data = data[n:]
		done += n
		f.progress("write", done, total)
	}
	return nil
}

// Program erases the sectors covering [addr, addr+len(data)), writes data and,
// if verify is set, reads it back and compares.
func (f *Flash) Program(addr int, data []byte, verify bool) error {
	if len(data) == 0 {
		return nil
	}
	start := addr &^ (subsectorSize - 1)
	end := (addr + len(data) + subsectorSize - 1) &^ (subsectorSize - 1)
	if err := f.Erase(start, end-start); err != nil {
		return fmt.Errorf("erase: %w", err)
	}
	if err := f.Write(addr, data); err != nil {
		return fmt.Errorf("program: %w", err)
	}
	if !verify {
		return nil
	}
	got, err := f.Read(addr, len(data))
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if i := mismatch(data, got); i >= 0 {
		return fmt.Errorf("%w at 0x%06X: wrote %02X, read %02X", ErrVerify, addr+i, data[i], got[i])
	}
	return nil
}

func mismatch(a, b []byte) int {
	if bytes.Equal(a, b) {
		return -1
	}
	for i := range a {
		if i >= len(b) || a[i] != b[i] {
			return i
		}
	}
	return len(a)
}

func (f *Flash) Erase4KB(addr int) error {
	buf, err := addr24(flashCmdErase4KB, addr, 0)
	if err != nil {
		return err
	}
	if err := f.writeEnable(); err != nil {
		return err
	}
	if err := f.spi.Write(buf); err != nil {
		return err
	}
	return f.BusyWait(50*time.Millisecond, f.tErase4KB())
}

// Erase64KB erases a 64KB sector.
func (f *Flash) Erase64KB(addr int) error {
	buf, err := addr24(flashCmdErase64KB, addr, 0)
	if err != nil {
		return err
	}
	if err := f.writeEnable(); err != nil {
		return err
	}
	if err := f.spi.Write(buf); err != nil {
		return err
	}
	return f.BusyWait(100*time.Millisecond, f.tErase64KB())
}

// EraseChip bulk erase the entire chip.
func (f *Flash) EraseChip() error {
	if err := f.writeEnable(); err != nil {
		return err
	}
	if err := f.spi.Write([]byte{flashCmdEraseChip}); err != nil {
		return err
	}
	return f.BusyWait(time.Second, f.tEraseChip())
}

// Erase erases the size bytes starting from baseAddr by repeatedly calling
// Erase64KB and Erase4KB. baseAddr must be 4KB aligned; size is rounded up
// to a whole number of 4KB subsectors.
func (f *Flash) Erase(baseAddr, size int) error {
	if baseAddr%subsectorSize != 0 {
		return fmt.Errorf("erase address 0x%X is not 4KB aligned", baseAddr)
	}

	addr := baseAddr
	end := baseAddr + size
	for addr < end {
		// Use 64KB sectors wherever a whole aligned sector is covered
		if addr%sectorSize == 0 && end-addr >= sectorSize {
			if err := f.Erase64KB(addr); err != nil {
				return err
			}
			addr += sectorSize
			f.progress("erase", min(addr-baseAddr, size), size)
			continue
		}
		if err := f.Erase4KB(addr); err != nil {
			return err
		}
		addr += subsectorSize
		f.progress("erase", min(addr-baseAddr, size), size)
	}
	return nil
}

// BusyWait waits for the flash to become ready by polling the status register's
// bit 0 with specified intervals, or until the timeout expires. Set timeout to
// 0 to wait indefinitely.
func (f *Flash) BusyWait(interval, timeout time.Duration) error {
	// Fast path
	if sr, err := f.ReadStatusRegister(); err == nil && !sr.Busy() {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	if timeout == 0 {
		timer.Stop() // disable timer for unconfigured timeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			return fmt.Errorf("%w after %v", ErrTimeout, timeout)
		case <-ticker.C:
			sr, err := f.ReadStatusRegister()
			if err != nil {
				return err
			}
			if !sr.Busy() {
				return nil
			}
		}
	}
}

// StatusRegister represents the status register of the flash chip.
//
//	Bits| [N25Q32|Table 9]                     | [W25Q128|7.1 Status Registers]
//	----+--------------------------------------+-------------------------------
//	7   | Status register write enable/disable | SRP: Status Register Protect
//	6   | Reserved                             | SEC: Sector protect
//	5   | Top/bottom                           | TB: Top/Bottom protect
//	4:2 | Block protect 2-0                    | BP2-0: Block Protect bit 2-0
//	1   | Write enable latch                   | WEL: Write Enable Latch
//	0   | Write in progress                    | BUSY: Erase/Write in progress
type StatusRegister byte

const (
	srBlockProtect = 0b0001_1100
	srSEC          = 1 << 6
	srTB           = 1 << 5
)

func (sr StatusRegister) StatusRegisterProtect() bool { return sr&(1<<7) != 0 }
func (sr StatusRegister) SectorProtect() bool         { return sr&(1<<6) != 0 }
func (sr StatusRegister) TopBottom() bool             { return sr&(1<<5) != 0 }
func (sr StatusRegister) BlockProtect2() bool         { return sr&(1<<4) != 0 }
func (sr StatusRegister) BlockProtect1() bool         { return sr&(1<<3) != 0 }
func (sr StatusRegister) BlockProtect0() bool         { return sr&(1<<2) != 0 }
func (sr StatusRegister) WriteEnabled() bool          { return sr&(1<<1) != 0 }
func (sr StatusRegister) Busy() bool                  { return sr&(1<<0) != 0 }

func (sr StatusRegister) String() string {
	b := fmt.Sprintf("%08b", byte(sr))
	s := []string{}
	if sr.StatusRegisterProtect() {
		s = append(s, "SRP")
	}
	if sr.SectorProtect() {
		s = append(s, "SEC")
	}
	if sr.TopBottom() {
		s = append(s, "TB")
	}
	if sr.BlockProtect2() {
		s = append(s, "BP2")
	}
	if sr.BlockProtect1() {
		s = append(s, "BP1")
	}
	if sr.BlockProtect0() {
		s = append(s, "BP0")
	}
	if sr.WriteEnabled() {
		s = append(s, "WEL")
	}
	if sr.Busy() {
		s = append(s, "BUSY")
	}
	if len(s) == 0 {
		return b
	}
	return b + " " + strings.Join(s, ",")
}

func (f *Flash) readRegister(cmd byte) (byte, error) {
	buf := []byte{cmd, 0}
	if err := f.tx(buf); err != nil {
		return 0, err
	}
	return buf[1], nil
}

func (f *Flash) ReadStatusRegister() (StatusRegister, error) {
	v, err := f.readRegister(flashCmdReadStatusRegister1)
	return StatusRegister(v), err
}

// ReadStatusRegister2 and ReadStatusRegister3 return the raw Winbond status
// registers 2 and 3. Parts without them usually answer 0x00 or 0xFF.
func (f *Flash) ReadStatusRegister2() (byte, error) {
	return f.readRegister(flashCmdReadStatusRegister2)
}

func (f *Flash) ReadStatusRegister3() (byte, error) {
	return f.readRegister(flashCmdReadStatusRegister3)
}

func (f *Flash) WriteStatusRegister(sr StatusRegister) error {
	if err := f.writeEnable(); err != nil {
		return err
	}
	if err := f.spi.Write([]byte{flashCmdWriteStatusRegister, byte(sr) &^ 0b11}); err != nil {
		return err
	}
	return f.BusyWait(time.Millisecond, f.tW())
}

// IsProtected reports whether any block protect bit is set.
func (f *Flash) IsProtected() (bool, error) {
	sr, err := f.ReadStatusRegister()
	if err != nil {
		return false, err
	}
	return sr&srBlockProtect != 0, nil
}

// Protect sets the requested block protect bits, leaving the others as they are.
func (f *Flash) Protect(bp0, bp1, bp2 bool) error {
	sr, err := f.ReadStatusRegister()
	if err != nil {
		return err
	}
	for i, set := range []bool{bp0, bp1, bp2} {
		if set {
			sr |= 1 << (2 + i)
		}
	}
	return f.WriteStatusRegister(sr)
}

// Unprotect clears the block protect, SEC and TB bits.
func (f *Flash) Unprotect() error {
	sr, err := f.ReadStatusRegister()
	if err != nil {
		return err
	}
	return f.WriteStatusRegister(sr &^ (srBlockProtect | srSEC | srTB))
}
