// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/freeloader/pkg/collect"
	"github.com/Thermoquad/freeloader/pkg/freeloader"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run the crosshead and record position over time",
	Long: `Move the crosshead at a constant speed while sampling time and position.

The run ends when the stop condition holds (--field, --cmp, --threshold), after
--duration, or on Ctrl+C. The crosshead is stopped, optionally returned to its
start position (--return), and the samples are written as CSV or CBOR.

Examples:
  freeloader collect --simulate --speed 20 --field position --cmp ">" --threshold 2
  freeloader collect -p /dev/ttyUSB0 --duration 30s --format cbor -o run.cbor`,
	RunE: runCollect,
}

var (
	collectSpeed     float64
	collectDirection string
	collectField     string
	collectCmp       string
	collectThreshold float64
	collectDuration  time.Duration
	collectRate      float64
	collectOutput    string
	collectFormat    string
	collectNotes     []string
	collectReturn    bool
	collectQuiet     bool
)

func init() {
	rootCmd.AddCommand(collectCmd)

	f := collectCmd.Flags()
	f.Float64VarP(&collectSpeed, "speed", "s", 10, "Crosshead speed in mm/min")
	f.StringVarP(&collectDirection, "direction", "d", "up", "Direction (up or down)")
	f.StringVar(&collectField, "field", "", "Stop condition field (time, position, load)")
	f.StringVar(&collectCmp, "cmp", ">", "Stop condition comparator (< or >)")
	f.Float64Var(&collectThreshold, "threshold", 0, "Stop condition threshold")
	f.DurationVar(&collectDuration, "duration", 0, "Run time when no stop condition is given")
	f.Float64Var(&collectRate, "rate", 20, "Samples per second (0 for as fast as possible)")
	f.StringVarP(&collectOutput, "output", "o", "-", "Output file (- for stdout)")
	f.StringVar(&collectFormat, "format", "csv", "Output format (csv or cbor)")
	f.StringArrayVar(&collectNotes, "note", nil, "Note stored with the data (repeatable)")
	f.BoolVar(&collectReturn, "return", false, "Return to the start position after the run")
	f.BoolVarP(&collectQuiet, "quiet", "q", false, "Do not print progress")
}

// stopCondition is the parsed --field/--cmp/--threshold triple
type stopCondition struct {
	field     collect.Field
	cmp       collect.Comparator
	threshold float64
}

func parseStopCondition(field, cmp string, threshold float64) (*stopCondition, error) {
	if field == "" {
		return nil, nil
	}
	f, err := collect.ParseField(field)
	if err != nil {
		return nil, err
	}
	c, err := collect.ParseComparator(cmp)
	if err != nil {
		return nil, err
	}
	return &stopCondition{field: f, cmp: c, threshold: threshold}, nil
}

func runCollect(cmd *cobra.Command, args []string) error {
	dir, err := freeloader.ParseDirection(collectDirection)
	if err != nil {
		return err
	}
	cond, err := parseStopCondition(collectField, collectCmp, collectThreshold)
	if err != nil {
		return err
	}
	switch collectFormat {
	case "csv", "cbor":
	default:
		return fmt.Errorf("unsupported format %q (use csv or cbor)", collectFormat)
	}

	out, closeOut, err := openOutput(collectOutput)
	if err != nil {
		return err
	}
	defer closeOut()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	m, connInfo, err := OpenMachine(ctx)
	if err != nil {
		return err
	}
	defer m.Disconnect(context.Background())

	opts := []collect.Option{collect.WithRate(collectRate)}
	if !collectQuiet {
		opts = append(opts, collect.WithProgress(func(p collect.Progress) {
			fmt.Fprintf(os.Stderr, "\r%8.2fs %9.3f mm", p.Point.Time, p.Point.Position)
		}))
	}
	run := collect.NewRun(m, opts...)

	fmt.Fprintf(os.Stderr, "Connection: %s\n", connInfo)
	fmt.Fprintf(os.Stderr, "Stop condition: %s\n", formatCondition(cond))
	if err := run.Initialize(ctx); err != nil {
		return err
	}
	start, _ := run.First(collect.FieldPosition)

	if err := m.MoveAt(ctx, collectSpeed, dir); err != nil {
		return err
	}

	runErr := collectRun(ctx, run, cond)
	if !collectQuiet {
		fmt.Fprintln(os.Stderr)
	}

	// The run may have ended on Ctrl+C; stop regardless
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := m.Stop(stopCtx); err != nil {
		return errors.Join(runErr, err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	if collectReturn && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Returning to %.3f mm\n", start)
		if err := approach(ctx, m, start, collectSpeed); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "Collected %d samples\n", run.Len())
	return writeRun(out, run, dir)
}

func collectRun(ctx context.Context, run *collect.Run, cond *stopCondition) error {
	switch {
	case cond != nil:
		return run.CollectUntil(ctx, cond.field, cond.cmp, cond.threshold)
	case collectDuration > 0:
		return run.CollectFor(ctx, collectDuration)
	default:
		fmt.Fprintf(os.Stderr, "Collecting until Ctrl+C\n")
		return run.CollectUntilCancelled(ctx)
	}
}

func writeRun(w io.Writer, run *collect.Run, dir freeloader.Direction) error {
	if collectFormat == "cbor" {
		notes := map[string]string{
			"speed":     fmt.Sprintf("%g mm/min", collectSpeed),
			"direction": dir.String(),
			"date":      time.Now().Format(time.RFC3339),
		}
		for i, n := range collectNotes {
			notes[fmt.Sprintf("note%d", i+1)] = n
		}
		return run.WriteCBOR(w, notes)
	}

	notes := append([]string{
		fmt.Sprintf("Freeloader run %s", time.Now().Format(time.RFC3339)),
		fmt.Sprintf("Speed %g mm/min %s", collectSpeed, dir),
	}, collectNotes...)
	return run.WriteCSV(w, notes...)
}

func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, f.Close, nil
}

// approach drives the crosshead to target, slowing down on the way in
func approach(ctx context.Context, m *freeloader.Machine, target, speed float64) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		pos, err := m.Position(ctx)
		if err != nil {
			return err
		}
		mmPerMin, dir, done := freeloader.ApproachSpeed(pos, target, speed)
		if done {
			return m.Stop(ctx)
		}
		if err := m.MoveAt(ctx, mmPerMin, dir); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// formatCondition renders a stop condition for display
func formatCondition(c *stopCondition) string {
	if c == nil {
		return "none"
	}
	return strings.Join([]string{c.field.String(), c.cmp.String(), fmt.Sprintf("%g", c.threshold)}, " ")
}
