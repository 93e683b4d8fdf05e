// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Thermoquad/freeloader/internal/profile"
)

func TestOverlayFlags(t *testing.T) {
	fromFile := profile.Default()
	fromFile.Port = "/dev/ttyUSB1"
	fromFile.Pitch = 12
	fromFile.GearRatio = 3

	flags := profile.Default()
	flags.Port = "/dev/ttyACM0"
	flags.Pitch = 20
	flags.Timeout = 50 * time.Millisecond

	tests := []struct {
		name    string
		changed []string
		check   func(t *testing.T, p profile.Profile)
	}{
		{
			name: "no flags keeps profile",
			check: func(t *testing.T, p profile.Profile) {
				assert.Equal(t, fromFile, p)
			},
		},
		{
			name:    "set flags win",
			changed: []string{"port", "pitch", "timeout"},
			check: func(t *testing.T, p profile.Profile) {
				assert.Equal(t, "/dev/ttyACM0", p.Port)
				assert.Equal(t, 20.0, p.Pitch)
				assert.Equal(t, 50*time.Millisecond, p.Timeout)
				assert.Equal(t, 3.0, p.GearRatio)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed := func(name string) bool {
				for _, c := range tt.changed {
					if c == name {
						return true
					}
				}
				return false
			}
			tt.check(t, overlayFlags(fromFile, flags, changed))
		})
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"ping", "position", "move", "stop", "set-id", "reset", "scan", "ports", "sniff", "collect", "control"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}
