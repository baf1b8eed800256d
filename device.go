package spidap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"

	"github.com/gentam/spidap/jtag"
)

var ErrProbeNotFound = errors.New("probe not found")

// Device is an FTDI MPSSE adapter driven as a JTAG probe.
type Device struct {
	FTDI *ftdi.FT232H
	Info ProbeInfo

	probe *jtag.PinProbe
	reset gpio.PinIO // ADBUS7 Reset
}

// ProbeFilter selects a probe by USB vendor/product ID and, optionally,
// serial number.
type ProbeFilter struct {
	VenID  uint16
	DevID  uint16
	Serial string // empty matches any
}

// DefaultProbeFilter matches the FT2232H found on iCEBreaker/iCEstick style boards.
var DefaultProbeFilter = ProbeFilter{
	VenID: 0x0403, // FTDI
	DevID: 0x6010, // FT2232H
}

// ParseProbeFilter parses "VID:PID[:SN]" with hexadecimal IDs.
func ParseProbeFilter(s string) (ProbeFilter, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return ProbeFilter{}, fmt.Errorf("invalid probe %q: want VID:PID[:SN]", s)
	}
	vid, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "0x"), 16, 16)
	if err != nil {
		return ProbeFilter{}, fmt.Errorf("invalid probe vendor ID %q: %w", parts[0], err)
	}
	pid, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 16)
	if err != nil {
		return ProbeFilter{}, fmt.Errorf("invalid probe product ID %q: %w", parts[1], err)
	}
	f := ProbeFilter{VenID: uint16(vid), DevID: uint16(pid)}
	if len(parts) == 3 {
		f.Serial = parts[2]
	}
	return f, nil
}

func (f ProbeFilter) String() string {
	s := fmt.Sprintf("%04x:%04x", f.VenID, f.DevID)
	if f.Serial != "" {
		s += ":" + f.Serial
	}
	return s
}

func (f ProbeFilter) Match(p ProbeInfo) bool {
	if p.VenID != f.VenID || p.DevID != f.DevID {
		return false
	}
	return f.Serial == "" || f.Serial == p.Serial
}

type ProbeInfo struct {
	Type   string
	VenID  uint16
	DevID  uint16
	Desc   string
	Serial string
}

func (p ProbeInfo) String() string {
	s := fmt.Sprintf("%04x:%04x", p.VenID, p.DevID)
	if p.Serial != "" {
		s += ":" + p.Serial
	}
	if p.Desc != "" {
		s += " " + p.Desc
	}
	if p.Type != "" {
		s += " (" + p.Type + ")"
	}
	return s
}

var hostInitialized atomic.Bool

func initHost() error {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			hostInitialized.Store(false)
			return fmt.Errorf("host initialization failed: %w", err)
		}
	}
	return nil
}

func probeInfo(dev ftdi.Dev) ProbeInfo {
	info := ftdi.Info{}
	dev.Info(&info)
	p := ProbeInfo{Type: info.Type, VenID: info.VenID, DevID: info.DevID}

	// Reference: https://github.com/periph/cmd/tree/main/ftdi-list
	ee := ftdi.EEPROM{}
	if err := dev.EEPROM(&ee); err == nil {
		p.Desc = ee.Desc
		p.Serial = ee.Serial
	}
	return p
}

// ListProbes returns every FTDI device on the host.
func ListProbes() ([]ProbeInfo, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	var out []ProbeInfo
	for _, dev := range ftdi.All() {
		out = append(out, probeInfo(dev))
	}
	return out, nil
}

// OpenDevice finds the first MPSSE-capable FTDI device matching filter and
// sets it up as a JTAG probe. freq caps the TCK rate; zero runs unpaced.
func OpenDevice(filter ProbeFilter, freq physic.Frequency) (*Device, error) {
	if err := initHost(); err != nil {
		return nil, err
	}

	d := &Device{}
	for _, dev := range ftdi.All() {
		info := probeInfo(dev)
		if !filter.Match(info) {
			continue
		}
		if ft, ok := dev.(*ftdi.FT232H); ok {
			d.FTDI = ft
			d.Info = info
			break
		}
	}
	if d.FTDI == nil {
		return nil, fmt.Errorf("%w: %s", ErrProbeNotFound, filter)
	}

	// [FTDI-AN_129|Table 1: FT2232H JTAG pin mapping]
	// ADBUS0 | TCK
	// ADBUS1 | TDI
	// ADBUS2 | TDO
	// ADBUS3 | TMS
	// ADBUS7 | nRST / iCE_CRESET
	ft := d.FTDI
	d.reset = ft.D7

	var err error
	d.probe, err = jtag.NewPinProbe(ft.D0, ft.D1, ft.D2, ft.D3, freq)
	if err != nil {
		return nil, fmt.Errorf("failed to set up JTAG pins: %w", err)
	}
	return d, nil
}

// Probe returns the JTAG probe session of the device.
func (d *Device) Probe() *jtag.PinProbe {
	return d.probe
}

// SetReset drives the reset line: gpio.Low asserts, gpio.High deasserts.
func (d *Device) SetReset(l gpio.Level) error {
	return d.reset.Out(l)
}

// Close releases the USB device.
func (d *Device) Close() error {
	return d.FTDI.Halt()
}
