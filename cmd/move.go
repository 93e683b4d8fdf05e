// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/freeloader/pkg/freeloader"
)

var moveCmd = &cobra.Command{
	Use:   "move",
	Short: "Move the crosshead at a constant speed",
	Long: `Move the crosshead up or down at a speed in mm/min.

The crosshead moves for --duration, or until Ctrl+C when no duration is
given, and then stops. With --distance it stops once it has travelled that
far instead. The crosshead is always stopped before the command exits.`,
	RunE: runMove,
}

var (
	moveSpeed     float64
	moveDirection string
	moveDuration  time.Duration
	moveDistance  float64
)

func init() {
	rootCmd.AddCommand(moveCmd)

	moveCmd.Flags().Float64VarP(&moveSpeed, "speed", "s", 10, "Speed in mm/min")
	moveCmd.Flags().StringVarP(&moveDirection, "direction", "d", "up", "Direction (up or down)")
	moveCmd.Flags().DurationVar(&moveDuration, "duration", 0, "Time to move (0 until Ctrl+C)")
	moveCmd.Flags().Float64Var(&moveDistance, "distance", 0, "Distance to travel in mm (0 for no limit)")
}

func runMove(cmd *cobra.Command, args []string) error {
	dir, err := freeloader.ParseDirection(moveDirection)
	if err != nil {
		return err
	}
	if moveSpeed < 0 || moveDistance < 0 || moveDuration < 0 {
		return errors.New("speed, distance and duration must not be negative")
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	m, connInfo, err := OpenMachine(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Connection: %s\n", connInfo)
	word, err := m.SpeedWord(moveSpeed, dir)
	if err != nil {
		return errors.Join(err, m.Disconnect(context.Background()))
	}
	fmt.Printf("Moving %s at %.2f mm/min (speed word %d)\n", dir, moveSpeed, word)

	moveErr := move(ctx, m, dir)

	// Stop with a fresh context: ctx is usually cancelled by now
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	pos, posErr := m.Position(stopCtx)
	if err := errors.Join(moveErr, m.Disconnect(stopCtx)); err != nil {
		return err
	}

	if posErr == nil {
		fmt.Printf("Stopped after %.3f mm\n", pos)
	}
	return nil
}

// move runs the crosshead until the duration, distance or ctx ends it
func move(ctx context.Context, m *freeloader.Machine, dir freeloader.Direction) error {
	if moveDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, moveDuration)
		defer cancel()
	}

	// Baseline the tracker before the crosshead starts
	if _, err := m.Position(ctx); err != nil {
		return err
	}
	if err := m.MoveAt(ctx, moveSpeed, dir); err != nil {
		return err
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		pos, err := m.Position(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if moveDistance > 0 && math.Abs(pos) >= moveDistance {
			return nil
		}
	}
}
