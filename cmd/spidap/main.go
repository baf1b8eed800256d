package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/gentam/spidap"
)

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

var (
	v   = viper.New()
	cfg config
	log = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "spidap",
	Short: "SPI flash access through an FTDI JTAG probe",
	Long: `spidap reads, writes and erases SPI flash wired to the JTAG pins of an
FTDI MPSSE adapter (FT2232H/FT232H), shifting SPI frames as JTAG sequences.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		cfg, err = loadConfig(v)
		if err != nil {
			return err
		}
		log = newLogger(cfg)
		return nil
	},
}

func init() {
	cobra.OnInitialize(func() {
		if err := initConfig(v); err != nil {
			fatalf("%v", err)
		}
	})

	fs := rootCmd.PersistentFlags()
	fs.StringP("config", "c", "", "config file (default is $HOME/.config/spidap/config.yaml)")
	fs.StringP("probe", "p", spidap.DefaultProbeFilter.String(), "VID:PID[:SN] of the FTDI probe to use")
	fs.IntP("freq", "f", 1000, "upper bound of the JTAG clock, in kHz (0 for unpaced)")
	fs.BoolP("hold-reset", "r", false, "hold the reset line asserted during operation")
	fs.BoolP("quiet", "q", false, "suppress informative output")
	fs.BoolP("verbose", "v", false, "log every SPI transaction")
	for _, name := range []string{"config", "probe", "freq", "hold-reset", "quiet", "verbose"} {
		_ = v.BindPFlag(name, fs.Lookup(name))
	}

	rootCmd.AddCommand(
		probesCmd,
		infoCmd,
		idCmd,
		scanCmd,
		eraseCmd,
		writeCmd,
		readCmd,
		protectCmd,
		unprotectCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fatalf("%v", err)
	}
}

// session is an open probe with the flash powered up and identified.
type session struct {
	dev    *spidap.Device
	bridge *spidap.Bridge
	flash  *spidap.Flash
	t0     time.Time
}

func openSession() (*session, error) {
	filter, err := spidap.ParseProbeFilter(cfg.Probe)
	if err != nil {
		return nil, err
	}
	dev, err := spidap.OpenDevice(filter, physic.Frequency(cfg.FreqKHz)*physic.KiloHertz)
	if err != nil {
		return nil, err
	}
	s := &session{dev: dev, t0: time.Now()}
	log.Debug("opened probe", "probe", dev.Info)

	if cfg.HoldReset {
		if err := dev.SetReset(gpio.Low); err != nil {
			dev.Close()
			return nil, fmt.Errorf("assert reset: %w", err)
		}
	}

	s.bridge = spidap.New(dev.Probe(), spidap.WithLogger(log))
	s.flash = spidap.NewFlash(s.bridge)
	if !cfg.Quiet {
		s.flash.OnProgress = progressLogger(log)
	}

	// iCE40s put the flash into power-down after configuring, so always wake it.
	if err := s.flash.ReleasePowerDown(); err != nil {
		s.close()
		return nil, fmt.Errorf("flash power up failed: %w", err)
	}
	id, name, err := s.flash.ReadID()
	if err != nil {
		s.close()
		return nil, fmt.Errorf("read flash ID failed: %w", err)
	}
	if name == "" {
		log.Warn("unknown flash ID", "id", fmt.Sprintf("%X", id))
	}
	return s, nil
}

func (s *session) close() {
	s.releaseFlash()
	if cfg.HoldReset {
		if err := s.dev.SetReset(gpio.High); err != nil {
			log.Error("deassert reset failed", "err", err)
		}
	}
	if err := s.dev.Close(); err != nil {
		log.Debug("close probe", "err", err)
	}
	log.Info(fmt.Sprintf("Finished in %.2fs", time.Since(s.t0).Seconds()))
}

// releaseFlash puts the flash back into deep power-down and hands the JTAG
// pins back from the bridge.
func (s *session) releaseFlash() {
	if err := s.flash.PowerDown(); err != nil {
		log.Warn("flash power down failed", "err", err)
	}
	s.bridge.Release()
}

// withSession wraps a command body with openSession/close.
func withSession(run func(s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.close()
		return run(s, args)
	}
}
