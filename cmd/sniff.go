// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/freeloader/pkg/dynamixel"
)

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Decode bus traffic without transmitting",
	Long: `Listen on the bus and print every instruction and status frame in
human-readable form. Nothing is transmitted, so another controller can keep
driving the servo.

Corrupted frames are reported and counted; a statistics summary is printed
on exit (Ctrl+C).

With --tui the traffic is shown in a live monitor: statistics, the position and
speed of each servo seen on the bus, and an event log of errors (or of every
frame with --all).

Supports both serial and WebSocket connections.`,
	RunE: runSniff,
}

var (
	sniffRaw bool
	sniffTUI bool
	sniffAll bool
)

func init() {
	rootCmd.AddCommand(sniffCmd)
	sniffCmd.Flags().BoolVar(&sniffRaw, "raw", false, "Also print the raw bytes of each frame")
	sniffCmd.Flags().BoolVar(&sniffTUI, "tui", false, "Show a live monitor instead of a frame log")
	sniffCmd.Flags().BoolVar(&sniffAll, "all", false, "Log every frame in the monitor, not only errors")
}

func runSniff(cmd *cobra.Command, args []string) error {
	port, connInfo, err := OpenPort()
	if err != nil {
		return err
	}
	defer port.Close()

	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		return err
	}

	if sniffTUI {
		return runMonitorTUI(port, connInfo)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	fmt.Printf("Freeloader - Bus Sniffer\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := dynamixel.NewStatistics()
	err = sniff(ctx, port, os.Stdout, stats)
	fmt.Printf("\n%s", stats.String())
	return err
}

// sniff decodes frames from r until ctx is done, writing one line per frame
// or error to w
func sniff(ctx context.Context, r io.Reader, w io.Writer, stats *dynamixel.Statistics) error {
	decoder := dynamixel.NewDecoder()
	buf := make([]byte, 128)

	for ctx.Err() == nil {
		n, err := r.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				fmt.Fprintf(w, "Connection closed\n")
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}

		for i := 0; i < n; i++ {
			frame, err := decoder.DecodeByte(buf[i])
			if err != nil {
				stats.Update(err)
				fmt.Fprintf(w, "[ERROR] %v\n", err)
				continue
			}
			if frame == nil {
				continue
			}

			if frame.Kind == dynamixel.KindStatus {
				stats.Update(frame.Flags().Err())
			} else {
				stats.Update(nil)
			}
			fmt.Fprint(w, dynamixel.FormatFrame(frame))
			if sniffRaw {
				fmt.Fprintf(w, "    %s\n", dynamixel.FormatBytes(frame.Raw))
			}
		}
	}
	return nil
}
