package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var readOpts struct {
	offset int
	length int
}

var readCmd = &cobra.Command{
	Use:   "read [file]",
	Short: "Read SPI flash contents to file (default: hexdump)",
	Args:  cobra.MaximumNArgs(1),
	RunE: withSession(func(s *session, args []string) error {
		outFile := ""
		if len(args) > 0 {
			outFile = args[0]
		}
		n, err := readLength(s, readOpts.length, outFile)
		if err != nil {
			return err
		}

		log.Info("Reading flash", "offset", fmt.Sprintf("0x%06X", readOpts.offset), "size", humanize.IBytes(uint64(n)))
		data, err := s.flash.Read(readOpts.offset, n)
		if err != nil {
			return fmt.Errorf("read flash failed: %w", err)
		}
		if outFile == "" {
			fmt.Print(hex.Dump(data))
			return nil
		}
		if err := os.WriteFile(outFile, data, 0644); err != nil {
			return fmt.Errorf("write file failed: %w", err)
		}
		return nil
	}),
}

func init() {
	fs := readCmd.Flags()
	fs.IntVar(&readOpts.offset, "offset", 0, "start address (in bytes) of read")
	fs.IntVarP(&readOpts.length, "length", "n", 0, "number of bytes to read (default: flash capacity, or 256 for a hexdump)")
}

// readLength picks the read size when none was given: the detected capacity
// minus the offset for file output, one page for a hexdump.
func readLength(s *session, length int, outFile string) (int, error) {
	switch {
	case length < 0:
		return 0, fmt.Errorf("invalid length %d", length)
	case length > 0:
		return length, nil
	case outFile == "":
		return 256, nil
	}
	log.Info("No length specified, autodetecting")
	c, ok := s.flash.Capacity()
	if !ok {
		return 0, errors.New("could not detect flash capacity; specify --length instead")
	}
	if readOpts.offset >= c {
		return 0, fmt.Errorf("offset 0x%X is beyond the flash capacity", readOpts.offset)
	}
	return c - readOpts.offset, nil
}
