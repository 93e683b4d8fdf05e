// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/freeloader/pkg/dynamixel"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rig.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
}

func TestLoad_File(t *testing.T) {
	path := writeProfile(t, "# bench rig B\nport /dev/ttyUSB1\npitch 12\ngear-ratio 3\ntimeout 40ms\n")

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", p.Port)
	assert.Equal(t, 12.0, p.Pitch)
	assert.Equal(t, 3.0, p.GearRatio)
	assert.Equal(t, 40*time.Millisecond, p.Timeout)
	assert.Equal(t, dynamixel.DefaultBaudRate, p.Baud)

	cfg := p.MachineConfig()
	assert.InDelta(t, 12/25.4*3*4096, cfg.CountsPerMM(), 1e-9)

	linkCfg, err := dynamixel.NewLinkConfig(p.LinkOptions()...)
	require.NoError(t, err)
	assert.Equal(t, 8, linkCfg.Timing().ScanFactor)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeProfile(t, "pitch 12\n")
	t.Setenv("FREELOADER_PITCH", "8")
	t.Setenv("FREELOADER_GEAR_RATIO", "4")

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8.0, p.Pitch)
	assert.Equal(t, 4.0, p.GearRatio)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	assert.Error(t, err)

	_, err = Load(writeProfile(t, "colour blue\n"))
	assert.Error(t, err)

	_, err = Load(writeProfile(t, "pitch 0\n"))
	assert.Error(t, err)

	_, err = Load(writeProfile(t, "retries 0\n"))
	assert.Error(t, err)
}
