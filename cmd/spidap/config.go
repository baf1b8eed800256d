package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/gentam/spidap"
)

type config struct {
	Probe     string
	FreqKHz   int
	HoldReset bool
	Quiet     bool
	Verbose   bool
}

// configDir returns $HOME/.config/spidap, or "" if the home directory is unknown.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "spidap")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("probe", spidap.DefaultProbeFilter.String())
	v.SetDefault("freq", 1000)
}

// initConfig wires environment variables and the optional config file into v.
// Flags bound with BindPFlag take precedence over both.
func initConfig(v *viper.Viper) error {
	setDefaults(v)

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir := configDir(); dir != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	// e.g. SPIDAP_HOLD_RESET for hold-reset
	v.SetEnvPrefix("SPIDAP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func loadConfig(v *viper.Viper) (config, error) {
	c := config{
		Probe:     v.GetString("probe"),
		FreqKHz:   v.GetInt("freq"),
		HoldReset: v.GetBool("hold-reset"),
		Quiet:     v.GetBool("quiet"),
		Verbose:   v.GetBool("verbose"),
	}
	if _, err := spidap.ParseProbeFilter(c.Probe); err != nil {
		return c, err
	}
	if c.FreqKHz < 0 {
		return c, fmt.Errorf("invalid frequency %d kHz", c.FreqKHz)
	}
	if c.Quiet && c.Verbose {
		return c, errors.New("--quiet and --verbose are mutually exclusive")
	}
	return c, nil
}

func newLogger(c config) *slog.Logger {
	return newLoggerTo(os.Stderr, c)
}

func newLoggerTo(w io.Writer, c config) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case c.Quiet:
		level = slog.LevelWarn
	case c.Verbose:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
