package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"periph.io/x/host/v3/ftdi"

	"github.com/gentam/spidap"
)

var probesCmd = &cobra.Command{
	Use:   "probes",
	Short: "List available FTDI probes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		probes, err := spidap.ListProbes()
		if err != nil {
			return err
		}
		if len(probes) == 0 {
			fmt.Println("No FTDI probes found.")
			return nil
		}
		suffix := "s"
		if len(probes) == 1 {
			suffix = ""
		}
		fmt.Printf("Found %d FTDI probe%s:\n", len(probes), suffix)
		for _, p := range probes {
			fmt.Printf("  %s\n", p)
		}
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print EEPROM and pin information of the probe",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := spidap.ParseProbeFilter(cfg.Probe)
		if err != nil {
			return err
		}
		d, err := spidap.OpenDevice(filter, 0)
		if err != nil {
			return err
		}
		defer d.Close()
		ft := d.FTDI

		// Reference: https://github.com/periph/cmd/tree/main/ftdi-list
		i := ftdi.Info{}
		ft.Info(&i)
		fmt.Printf("Type:            %s\n", i.Type)
		fmt.Printf("Vendor ID:       %#04x\n", i.VenID)
		fmt.Printf("Device ID:       %#04x\n", i.DevID)

		ee := ftdi.EEPROM{}
		if err := ft.EEPROM(&ee); err != nil {
			return fmt.Errorf("failed to read EEPROM: %w", err)
		}

		fmt.Printf("Manufacturer:    %s\n", ee.Manufacturer)
		fmt.Printf("ManufacturerID:  %s\n", ee.ManufacturerID)
		fmt.Printf("Desc:            %s\n", ee.Desc)
		fmt.Printf("Serial:          %s\n", ee.Serial)

		h := ee.AsHeader()
		fmt.Printf("MaxPower:        %dmA\n", h.MaxPower)
		fmt.Printf("SelfPowered:     %x\n", h.SelfPowered)
		fmt.Printf("RemoteWakeup:    %x\n", h.RemoteWakeup)
		fmt.Printf("PullDownEnable:  %x\n", h.PullDownEnable)

		for _, p := range ft.Header() {
			fmt.Printf("%s: %s\n", p, p.Function())
		}
		return nil
	},
}
