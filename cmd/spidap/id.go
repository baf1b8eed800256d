package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gentam/spidap"
)

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Read SPI flash ID",
	Args:  cobra.NoArgs,
	RunE: withSession(func(s *session, args []string) error {
		id, name, err := s.flash.ReadID()
		if err != nil {
			return fmt.Errorf("read flash ID failed: %w", err)
		}
		fmt.Printf("%X\t%s\n", id, name)
		return nil
	}),
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Read SPI flash ID, capacity and status registers",
	Args:  cobra.NoArgs,
	RunE: withSession(func(s *session, args []string) error {
		return scan(cmdOut(), s.flash)
	}),
}

func cmdOut() io.Writer { return rootCmd.OutOrStdout() }

func scan(w io.Writer, f *spidap.Flash) error {
	log.Info("Reading flash ID...")
	id, name, err := f.ReadID()
	if err != nil {
		return fmt.Errorf("read flash ID failed: %w", err)
	}
	if name == "" {
		name = "unknown"
	}
	fmt.Fprintf(w, "ID:       %X (%s)\n", id, name)
	if c, ok := f.Capacity(); ok {
		fmt.Fprintf(w, "Capacity: %s\n", humanize.IBytes(uint64(c)))
	} else {
		fmt.Fprintln(w, "Capacity: unknown")
	}
	fmt.Fprintln(w, "SFDP:     not read (capacity from JEDEC ID)")

	log.Info("Reading status registers...")
	sr1, err := f.ReadStatusRegister()
	if err != nil {
		return fmt.Errorf("read status register 1 failed: %w", err)
	}
	sr2, err := f.ReadStatusRegister2()
	if err != nil {
		return fmt.Errorf("read status register 2 failed: %w", err)
	}
	sr3, err := f.ReadStatusRegister3()
	if err != nil {
		return fmt.Errorf("read status register 3 failed: %w", err)
	}
	fmt.Fprintf(w, "Status 1: 0x%02X, status 2: 0x%02X, status 3: 0x%02X\n", byte(sr1), sr2, sr3)
	fmt.Fprintf(w, "BP0: %t, BP1: %t, BP2: %t, SEC: %t, TB: %t\n",
		sr1.BlockProtect0(), sr1.BlockProtect1(), sr1.BlockProtect2(), sr1.SectorProtect(), sr1.TopBottom())
	return nil
}
