// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/freeloader/pkg/dynamixel"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the servo answers",
	Long: `Send PING instructions to the configured servo and report the round trip
time of each exchange, followed by the link statistics.`,
	RunE: runPing,
}

var positionCmd = &cobra.Command{
	Use:   "position",
	Short: "Read the servo encoder position",
	Long: `Read the raw encoder position (0-4095) and its angle in degrees.

With --watch the crosshead position in mm is tracked across encoder wraps and
printed until Ctrl+C. The position starts at 0 when the command starts.`,
	RunE: runPosition,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the crosshead",
	RunE:  runStop,
}

var setIDCmd = &cobra.Command{
	Use:   "set-id NEW_ID",
	Short: "Change the servo ID",
	Long: `Write a new ID to the servo selected by --id. The servo answers from the
new ID afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: runSetID,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the servo's factory settings",
	Long: `Send RESET to the servo selected by --id. The control table returns to
factory values, including ID 1. Requires --yes.`,
	RunE: runReset,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find the servos on the bus",
	Long:  `Ping every ID in a range with a single attempt each and list those that answer.`,
	RunE:  runScan,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	RunE:  runPorts,
}

var (
	pingCount     int
	watchPosition bool
	watchInterval time.Duration
	resetConfirm  bool
	scanFirst     int
	scanLast      int
)

func init() {
	rootCmd.AddCommand(pingCmd, positionCmd, stopCmd, setIDCmd, resetCmd, scanCmd, portsCmd)

	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 1, "Number of pings")
	positionCmd.Flags().BoolVarP(&watchPosition, "watch", "w", false, "Track the crosshead position until Ctrl+C")
	positionCmd.Flags().DurationVar(&watchInterval, "interval", 200*time.Millisecond, "Sample interval with --watch")
	resetCmd.Flags().BoolVar(&resetConfirm, "yes", false, "Confirm the factory reset")
	scanCmd.Flags().IntVar(&scanFirst, "from", 0, "First ID")
	scanCmd.Flags().IntVar(&scanLast, "to", dynamixel.MaxID, "Last ID")
}

// signalContext is cancelled by Ctrl+C
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	link, connInfo, err := OpenLink(ctx)
	if err != nil {
		return err
	}
	defer link.Close()

	fmt.Printf("Connection: %s\n\n", connInfo)

	failed := 0
	for i := 0; i < pingCount && ctx.Err() == nil; i++ {
		start := time.Now()
		if err := link.Ping(ctx, settings.ServoID); err != nil {
			failed++
			fmt.Printf("ID %d: %v\n", settings.ServoID, err)
			continue
		}
		fmt.Printf("ID %d: reply in %v\n", settings.ServoID, time.Since(start).Round(time.Microsecond))
	}

	stats := link.Stats()
	fmt.Printf("\n%s\n", stats.String())

	if failed > 0 {
		return fmt.Errorf("%d of %d pings failed", failed, pingCount)
	}
	return nil
}

func runPosition(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	if watchPosition {
		return watchCrosshead(ctx)
	}

	link, _, err := OpenLink(ctx)
	if err != nil {
		return err
	}
	defer link.Close()

	raw, err := link.RawPosition(ctx, settings.ServoID)
	if err != nil {
		return err
	}
	deg, err := link.PositionDegrees(ctx, settings.ServoID)
	if err != nil {
		return err
	}

	fmt.Printf("Raw position: %d\n", raw)
	fmt.Printf("Angle:        %.2f°\n", deg)
	return nil
}

func watchCrosshead(ctx context.Context) error {
	m, connInfo, err := OpenMachine(ctx)
	if err != nil {
		return err
	}
	defer m.Disconnect(context.Background())

	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		raw, err := m.RawPosition(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		pos, err := m.Position(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Printf("[%s] raw %4d  position %9.3f mm\n", time.Now().Format("15:04:05.000"), raw, pos)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runStop(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	link, _, err := OpenLink(ctx)
	if err != nil {
		return err
	}
	defer link.Close()

	if err := link.SetSpeed(ctx, settings.ServoID, 0); err != nil {
		return err
	}
	fmt.Println("Stopped")
	return nil
}

func runSetID(cmd *cobra.Command, args []string) error {
	newID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid ID %q: %w", args[0], err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	link, _, err := OpenLink(ctx)
	if err != nil {
		return err
	}
	defer link.Close()

	if err := link.SetID(ctx, settings.ServoID, newID); err != nil {
		return err
	}
	fmt.Printf("Servo ID changed from %d to %d\n", settings.ServoID, newID)
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetConfirm {
		return errors.New("factory reset changes the servo ID to 1; rerun with --yes")
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	link, _, err := OpenLink(ctx)
	if err != nil {
		return err
	}
	defer link.Close()

	if err := link.Reset(ctx, settings.ServoID); err != nil {
		return err
	}
	fmt.Printf("Servo %d reset to factory settings (now ID 1)\n", settings.ServoID)
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFirst < 0 || scanLast > dynamixel.MaxID || scanFirst > scanLast {
		return fmt.Errorf("invalid ID range %d-%d", scanFirst, scanLast)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	link, connInfo, err := OpenLink(ctx, dynamixel.WithRetryLimit(1))
	if err != nil {
		return err
	}
	defer link.Close()

	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Scanning IDs %d-%d\n\n", scanFirst, scanLast)

	found := 0
	for id := scanFirst; id <= scanLast; id++ {
		err := link.Ping(ctx, id)
		if ctx.Err() != nil {
			break
		}
		if flags, ok := dynamixel.IsDeviceError(err); ok {
			found++
			fmt.Printf("  ID %3d: found (%s)\n", id, flags)
			continue
		}
		switch {
		case err == nil:
			found++
			fmt.Printf("  ID %3d: found\n", id)
		case errors.Is(err, dynamixel.ErrCommunicationFailure):
			// nothing at this ID
		default:
			return err
		}
	}

	fmt.Printf("\n%d servo(s) found\n", found)
	return nil
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := dynamixel.SerialPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}
