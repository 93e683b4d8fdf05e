// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/freeloader/pkg/dynamixel"
	"github.com/Thermoquad/freeloader/pkg/freeloader"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for jogging the crosshead",
	Long: `Jog and position the crosshead via an interactive terminal UI.

Features:
  - Live crosshead position and raw encoder reading
  - Jog up and down at a set speed
  - Go to a target position, slowing down on approach
  - Zero the position at the current crosshead height
  - Link statistics and event log
  - Automatic reconnection on communication failure

Keys: u/d jog, s or space stop, g go to target, z zero, tab switch field,
q quit. The crosshead is stopped on exit.

Supports serial, WebSocket and simulated connections.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

// machineController serializes access to the machine between the TUI and
// the commands it spawns
type machineController struct {
	mu       sync.Mutex
	machine  *freeloader.Machine
	link     *dynamixel.Link
	connInfo string
	done     chan struct{}
}

// sample reads the raw encoder and the tracked position
func (mc *machineController) sample(ctx context.Context) (raw int, pos float64, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if raw, err = mc.machine.RawPosition(ctx); err != nil {
		return 0, 0, err
	}
	pos, err = mc.machine.Position(ctx)
	return raw, pos, err
}

func (mc *machineController) moveAt(ctx context.Context, mmPerMin float64, dir freeloader.Direction) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.machine.MoveAt(ctx, mmPerMin, dir)
}

func (mc *machineController) stop(ctx context.Context) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.machine.Stop(ctx)
}

func (mc *machineController) zero() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.machine.ResetPosition()
}

func (mc *machineController) stats() dynamixel.Statistics {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.link == nil {
		return *dynamixel.NewStatistics()
	}
	return mc.link.Stats()
}

func (mc *machineController) info() string {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.connInfo
}

// connect opens a link and connects the machine to it
func (mc *machineController) connect(ctx context.Context) error {
	link, connInfo, err := OpenLink(ctx)
	if err != nil {
		return err
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err := mc.machine.Connect(ctx, link); err != nil {
		return err
	}
	mc.link = link
	mc.connInfo = connInfo
	return nil
}

// disconnect stops the crosshead and releases the link
func (mc *machineController) disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.link = nil
	return mc.machine.Disconnect(ctx)
}

// abandon releases a link that came up after shutdown was requested
func (mc *machineController) abandon() {
	if err := mc.disconnect(); err != nil {
		logger.Debug("disconnect after shutdown", "err", err)
	}
}

// reconnect attempts to reconnect with exponential backoff.
// Returns false if shutdown was requested during reconnection.
func (mc *machineController) reconnect() bool {
	if err := mc.disconnect(); err != nil {
		logger.Debug("disconnect before reconnect", "err", err)
	}

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-mc.done:
			return false
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := mc.connect(ctx)
		cancel()
		if err == nil {
			select {
			case <-mc.done:
				// Shut down while connecting
				mc.abandon()
				return false
			default:
				return true
			}
		}
		logger.Info("reconnect failed", "err", err, "backoff", backoff)

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func runControl(cmd *cobra.Command, args []string) error {
	m, err := freeloader.NewMachine(settings.MachineConfig(), freeloader.WithLogger(logger))
	if err != nil {
		return err
	}

	mc := &machineController{
		machine: m,
		done:    make(chan struct{}),
	}
	if err := mc.connect(cmd.Context()); err != nil {
		return err
	}

	model := initialControlModel(mc)

	// Create TUI program with alt screen and mouse support
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())

	_, err = p.Run()
	close(mc.done)
	if err != nil {
		return errors.Join(fmt.Errorf("TUI error: %w", err), mc.disconnect())
	}
	return mc.disconnect()
}
