package spidap

import "time"

type flashParams struct {
	name     string
	capacity int // bytes

	tRES1      time.Duration
	tDP        time.Duration
	tW         time.Duration
	tPP        time.Duration
	tErase4KB  time.Duration
	tErase64KB time.Duration
	tEraseChip time.Duration
}

var (
	flashIDMicronN25Q32   = [3]byte{0x20, 0xBA, 0x16}
	flashIDWinbondW25Q128 = [3]byte{0xEF, 0x70, 0x18}
	flashIDWinbondW25Q80  = [3]byte{0xEF, 0x40, 0x14}
)

var knownFlash = map[[3]byte]flashParams{
	flashIDMicronN25Q32: {
		name:     "Micron N25Q 32Mb",
		capacity: 4 << 20,

		// [N25Q32|Table 38: AC Characteristics and Operating Conditions]
		// tW: WRITE STATUS REGISTER cycle time
		tW: 8 * time.Millisecond,
		// tPP: PAGE PROGRAM cycle time (256 bytes)
		tPP: 5 * time.Millisecond,
		// tSSE: Subsector ERASE cycle time
		tErase4KB: 800 * time.Millisecond,
		// tSE: Sector ERASE cycle time
		tErase64KB: 3 * time.Second,
		// tBE: Bulk ERASE cycle time
		tEraseChip: 60 * time.Second,
	},

	flashIDWinbondW25Q128: {
		name:     "Winbond W25Q 128Mb",
		capacity: 16 << 20,

		// [W25Q128|9.6 AC Electrical Characteristics]:
		// tRES1: /CS High to Standby Mode without ID Read
		tRES1: 3 * time.Microsecond,
		// tDP: /CS High to Power-down Mode
		tDP: 3 * time.Microsecond,
		// tW: Write Status Register Time
		tW: 15 * time.Millisecond,
		// tPP: Page Program Time
		tPP: 3 * time.Millisecond,
		// tSE: Sector Erase Time (4KB)
		tErase4KB: 400 * time.Millisecond,
		// tBE2: Block Erase Time (64KB)
		tErase64KB: 2000 * time.Millisecond,
		// tCE: Chip Erase Time
		tEraseChip: 200 * time.Second,
	},

	// iCEstick / some iCE40 breakout boards
	flashIDWinbondW25Q80: {
		name:     "Winbond W25Q 8Mb",
		capacity: 1 << 20,

		// [W25Q80|9.6 AC Electrical Characteristics]
		tRES1:      3 * time.Microsecond,
		tDP:        3 * time.Microsecond,
		tW:         15 * time.Millisecond,
		tPP:        3 * time.Millisecond,
		tErase4KB:  400 * time.Millisecond,
		tErase64KB: 2000 * time.Millisecond,
		tEraseChip: 6 * time.Second,
	},
}

func (f *Flash) paramOrMax(get func(*flashParams) time.Duration) time.Duration {
	// get parameter if configured
	if f.pr != nil {
		return get(f.pr)
	}

	// fall back to maximum duration from all known flash parameters
	var tmax time.Duration
	for _, param := range knownFlash {
		tmax = max(tmax, get(&param))
	}
	return tmax
}

func (f *Flash) tRES1() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tRES1 })
}
func (f *Flash) tDP() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tDP })
}
func (f *Flash) tW() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tW })
}
func (f *Flash) tPP() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tPP })
}
func (f *Flash) tErase4KB() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tErase4KB })
}
func (f *Flash) tErase64KB() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tErase64KB })
}
func (f *Flash) tEraseChip() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tEraseChip })
}
