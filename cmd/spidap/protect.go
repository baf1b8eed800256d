package main

import (
	"github.com/spf13/cobra"
)

var protectCmd = &cobra.Command{
	Use:   "protect",
	Short: "Enable SPI flash write protection",
	Args:  cobra.NoArgs,
	RunE: withSession(func(s *session, args []string) error {
		log.Info("Setting block protection bits...")
		if err := s.flash.Protect(true, true, true); err != nil {
			return err
		}
		log.Info("All block protection bits set.")
		return nil
	}),
}

var unprotectCmd = &cobra.Command{
	Use:   "unprotect",
	Short: "Disable SPI flash write protection",
	Args:  cobra.NoArgs,
	RunE: withSession(func(s *session, args []string) error {
		log.Info("Disabling flash write protection...")
		if err := s.flash.Unprotect(); err != nil {
			return err
		}
		log.Info("Flash write protection disabled.")
		return nil
	}),
}
