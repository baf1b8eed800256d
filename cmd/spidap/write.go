package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var writeOpts struct {
	offset   int
	noVerify bool
}

var writeCmd = &cobra.Command{
	Use:   "write <file>",
	Short: "Write binary file to SPI flash",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(s *session, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}

		if protected, err := s.flash.IsProtected(); err != nil {
			return err
		} else if protected {
			log.Warn("Flash appears to be write-protected; writing may fail.")
		}

		log.Info("Writing flash", "offset", fmt.Sprintf("0x%06X", writeOpts.offset), "size", humanize.IBytes(uint64(len(data))), "verify", !writeOpts.noVerify)
		if err := s.flash.Program(writeOpts.offset, data, !writeOpts.noVerify); err != nil {
			return fmt.Errorf("write flash failed: %w", err)
		}
		return nil
	}),
}

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase entire SPI flash",
	Args:  cobra.NoArgs,
	RunE: withSession(func(s *session, args []string) error {
		log.Info("Erasing flash...")
		if err := s.flash.EraseChip(); err != nil {
			return fmt.Errorf("bulk erase flash failed: %w", err)
		}
		return nil
	}),
}

func init() {
	fs := writeCmd.Flags()
	fs.IntVar(&writeOpts.offset, "offset", 0, "start address (in bytes) to write to")
	fs.BoolVarP(&writeOpts.noVerify, "no-verify", "n", false, "disable readback verification")
}
