// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/freeloader/internal/logging"
	"github.com/Thermoquad/freeloader/internal/profile"
)

var (
	// Profile file; flags below override it when set
	profilePath string
	flagValues  = profile.Default()

	// WebSocket bridge flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	simulate bool

	logLevel string
	logJSON  bool

	// Resolved in PersistentPreRunE
	settings profile.Profile
	logger   = slog.New(slog.DiscardHandler)
)

var rootCmd = &cobra.Command{
	Use:   "freeloader",
	Short: "Freeloader test machine control",
	Long: `Freeloader - drive the crosshead of a Freeloader materials test machine.

The crosshead is moved by a Dynamixel MX-64 servo in wheel mode. Commands talk
to the servo over a half-duplex serial bus, a serial-over-WebSocket bridge, or
an in-memory simulated servo.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 1000000]
  Auto:      --port auto (probe every serial port for the servo)
  WebSocket: --url ws://host/path [--username user]
  Simulated: --simulate

Machine settings can be kept in a profile file (--profile) with one
"key value" pair per line, and overridden by FREELOADER_* environment
variables. Flags given on the command line win over both.

For WebSocket authentication, the password is read from the FREELOADER_PASSWORD
environment variable, or prompted interactively if not set.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

func init() {
	d := profile.Default()
	pf := rootCmd.PersistentFlags()

	// Serial connection flags
	pf.StringVarP(&flagValues.Port, "port", "p", "", `Serial port device, or "auto"`)
	pf.IntVarP(&flagValues.Baud, "baud", "b", d.Baud, "Baud rate (serial only)")

	// WebSocket connection flags
	pf.StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	pf.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	pf.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	pf.BoolVar(&simulate, "simulate", false, "Use a simulated servo instead of hardware")

	// Servo link flags
	pf.IntVar(&flagValues.ServoID, "id", d.ServoID, "Servo ID")
	pf.DurationVar(&flagValues.Timeout, "timeout", d.Timeout, "Response timeout (0 for the default)")
	pf.IntVar(&flagValues.Retries, "retries", d.Retries, "Attempts per exchange")

	// Machine flags
	pf.Float64Var(&flagValues.Pitch, "pitch", d.Pitch, "Lead screw threads per inch")
	pf.Float64Var(&flagValues.GearRatio, "gear-ratio", d.GearRatio, "Servo to lead screw gear ratio")
	pf.Float64Var(&flagValues.MaxSpeed, "max-speed", d.MaxSpeed, "Crosshead speed limit in mm/min")
	pf.StringVar(&profilePath, "profile", "", "Machine profile file")

	// Logging flags
	pf.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	pf.BoolVar(&logJSON, "log-json", false, "Log JSON records instead of console lines")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func loadSettings(cmd *cobra.Command, args []string) error {
	l, err := logging.New(logging.Options{Level: logLevel, JSON: logJSON})
	if err != nil {
		return err
	}
	logger = l

	p, err := profile.Load(profilePath)
	if err != nil {
		return err
	}
	settings = overlayFlags(p, flagValues, cmd.Flags().Changed)
	if err := settings.Validate(); err != nil {
		return err
	}

	logger.Debug("settings loaded",
		slog.String("profile", profilePath),
		slog.String("port", settings.Port),
		slog.Int("id", settings.ServoID),
		slog.Float64("pitch", settings.Pitch),
		slog.Float64("gear_ratio", settings.GearRatio))
	return nil
}

// overlayFlags copies the flags the user set from f onto p
func overlayFlags(p, f profile.Profile, changed func(name string) bool) profile.Profile {
	if changed("port") {
		p.Port = f.Port
	}
	if changed("baud") {
		p.Baud = f.Baud
	}
	if changed("id") {
		p.ServoID = f.ServoID
	}
	if changed("timeout") {
		p.Timeout = f.Timeout
	}
	if changed("retries") {
		p.Retries = f.Retries
	}
	if changed("pitch") {
		p.Pitch = f.Pitch
	}
	if changed("gear-ratio") {
		p.GearRatio = f.GearRatio
	}
	if changed("max-speed") {
		p.MaxSpeed = f.MaxSpeed
	}
	return p
}
