// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package collect samples a machine during a test: time, crosshead position
// and, when a force source is attached, load. Collection loops end on a
// threshold condition or when their context is cancelled.
package collect

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoData            = errors.New("collect: no data collected")
	ErrUnknownField      = errors.New("collect: unknown field")
	ErrUnknownComparator = errors.New("collect: unknown comparator")
)

// waitPollInterval spaces samples in WaitUntil
const waitPollInterval = 10 * time.Millisecond

// PositionSource is the part of freeloader.Machine a run samples
type PositionSource interface {
	Position(ctx context.Context) (float64, error)
}

// ForceSource supplies load readings
type ForceSource interface {
	Load(ctx context.Context) (float64, error)
}

// Progress is reported after each stored sample of CollectUntil
type Progress struct {
	Field      Field
	Comparator Comparator
	Threshold  float64
	Point      Point
}

// Option configures a Run
type Option func(*Run)

// WithForceSource attaches a load reader; without one load is always 0
func WithForceSource(f ForceSource) Option {
	return func(r *Run) { r.force = f }
}

// WithRate caps sampling at hz samples per second; 0 samples as fast as possible
func WithRate(hz float64) Option {
	return func(r *Run) {
		if hz > 0 {
			r.interval = time.Duration(float64(time.Second) / hz)
		}
	}
}

// WithProgress sets a callback invoked after each collected sample
func WithProgress(fn func(Progress)) Option {
	return func(r *Run) { r.progress = fn }
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(r *Run) { r.now = now }
}

// Run holds the data of one test
type Run struct {
	machine  PositionSource
	force    ForceSource
	interval time.Duration
	progress func(Progress)
	now      func() time.Time

	start    time.Time
	loadZero float64
	data     []Point
}

// NewRun creates a run sampling machine
func NewRun(machine PositionSource, opts ...Option) *Run {
	r := &Run{
		machine: machine,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize tares the load, restarts the clock and stores a first sample
func (r *Run) Initialize(ctx context.Context) error {
	r.loadZero = 0
	if r.force != nil {
		zero, err := r.force.Load(ctx)
		if err != nil {
			return fmt.Errorf("tare load: %w", err)
		}
		r.loadZero = zero
	}

	r.start = r.now()
	r.data = r.data[:0]

	p, err := r.sample(ctx)
	if err != nil {
		return err
	}
	r.data = append(r.data, p)
	return nil
}

func (r *Run) sample(ctx context.Context) (Point, error) {
	p := Point{Time: r.now().Sub(r.start).Seconds()}

	pos, err := r.machine.Position(ctx)
	if err != nil {
		return p, fmt.Errorf("sample position: %w", err)
	}
	p.Position = pos

	if r.force != nil {
		load, err := r.force.Load(ctx)
		if err != nil {
			return p, fmt.Errorf("sample load: %w", err)
		}
		p.Load = load - r.loadZero
	}
	return p, nil
}

// CollectUntil stores samples until the last sample's field compares to
// threshold as cmp requires. It returns ctx.Err() if cancelled first.
func (r *Run) CollectUntil(ctx context.Context, field Field, cmp Comparator, threshold float64) error {
	if err := checkCondition(field, cmp); err != nil {
		return err
	}
	last, err := r.LastPoint()
	if err != nil {
		return err
	}

	for !cmp.Holds(last.Get(field), threshold) {
		started := r.now()
		if err := ctx.Err(); err != nil {
			return err
		}

		last, err = r.sample(ctx)
		if err != nil {
			return err
		}
		r.data = append(r.data, last)

		if r.progress != nil {
			r.progress(Progress{Field: field, Comparator: cmp, Threshold: threshold, Point: last})
		}
		if err := r.pace(ctx, started); err != nil {
			return err
		}
	}
	return nil
}

// CollectFor stores samples for d from now
func (r *Run) CollectFor(ctx context.Context, d time.Duration) error {
	if len(r.data) == 0 {
		return ErrNoData
	}
	threshold := r.now().Sub(r.start).Seconds() + d.Seconds()
	return r.CollectUntil(ctx, FieldTime, GreaterThan, threshold)
}

// CollectUntilCancelled stores samples until ctx is cancelled, which is the
// normal way for it to end.
func (r *Run) CollectUntilCancelled(ctx context.Context) error {
	if len(r.data) == 0 {
		return ErrNoData
	}
	for ctx.Err() == nil {
		started := r.now()
		p, err := r.sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		r.data = append(r.data, p)
		if err := r.pace(ctx, started); err != nil {
			return nil
		}
	}
	return nil
}

// WaitUntil samples without storing until the condition holds. Sampling keeps
// the position tracker current while the crosshead moves.
func (r *Run) WaitUntil(ctx context.Context, field Field, cmp Comparator, threshold float64) error {
	if err := checkCondition(field, cmp); err != nil {
		return err
	}
	p, err := r.sample(ctx)
	if err != nil {
		return err
	}
	for !cmp.Holds(p.Get(field), threshold) {
		if err := sleep(ctx, waitPollInterval); err != nil {
			return err
		}
		if p, err = r.sample(ctx); err != nil {
			return err
		}
	}
	return nil
}

// WaitFor samples position without storing for d
func (r *Run) WaitFor(ctx context.Context, d time.Duration) error {
	deadline := r.now().Add(d)
	for r.now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.machine.Position(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Run) pace(ctx context.Context, started time.Time) error {
	if r.interval <= 0 {
		return nil
	}
	return sleep(ctx, r.interval-r.now().Sub(started))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Len returns the number of stored samples
func (r *Run) Len() int {
	return len(r.data)
}

// Points returns the stored samples
func (r *Run) Points() []Point {
	return r.data
}

// FirstPoint returns the first stored sample
func (r *Run) FirstPoint() (Point, error) {
	if len(r.data) == 0 {
		return Point{}, ErrNoData
	}
	return r.data[0], nil
}

// LastPoint returns the most recent sample
func (r *Run) LastPoint() (Point, error) {
	if len(r.data) == 0 {
		return Point{}, ErrNoData
	}
	return r.data[len(r.data)-1], nil
}

// First returns field of the first stored sample
func (r *Run) First(field Field) (float64, error) {
	p, err := r.FirstPoint()
	return p.Get(field), err
}

// Last returns field of the most recent sample
func (r *Run) Last(field Field) (float64, error) {
	p, err := r.LastPoint()
	return p.Get(field), err
}

// Values returns one column
func (r *Run) Values(field Field) []float64 {
	out := make([]float64, len(r.data))
	for i, p := range r.data {
		out[i] = p.Get(field)
	}
	return out
}
