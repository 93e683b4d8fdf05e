// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package freeloader

import (
	"fmt"

	"github.com/Thermoquad/freeloader/pkg/dynamixel"
)

// PositionTracker turns successive raw encoder readings into a continuous
// linear position in mm.
//
// The encoder wraps every revolution, so the tracker must see at least two
// samples per revolution; a jump of more than half a revolution between
// samples is taken as a wrap.
type PositionTracker struct {
	countsPerMM float64
	position    float64
	last        int
	hasBaseline bool
}

// NewPositionTracker creates a tracker at position 0 with no baseline
func NewPositionTracker(countsPerMM float64) *PositionTracker {
	return &PositionTracker{countsPerMM: countsPerMM}
}

// Update folds in a raw encoder reading (0..4095) and returns the position.
// The first reading after creation or Reset only sets the baseline.
func (t *PositionTracker) Update(raw int) (float64, error) {
	if raw < 0 || raw > dynamixel.MaxPosition {
		return t.position, fmt.Errorf("%w: encoder reading %d not in [0, %d]",
			dynamixel.ErrInvalidParameterValue, raw, dynamixel.MaxPosition)
	}

	if !t.hasBaseline {
		t.last = raw
		t.hasBaseline = true
		return t.position, nil
	}

	delta := t.last - raw
	if delta > dynamixel.HalfRevolution || delta < -dynamixel.HalfRevolution {
		if raw < t.last {
			delta -= dynamixel.CountsPerRevolution
		} else {
			delta += dynamixel.CountsPerRevolution
		}
	}

	t.last = raw
	t.position += float64(delta) / t.countsPerMM
	return t.position, nil
}

// Position returns the accumulated position without sampling
func (t *PositionTracker) Position() float64 {
	return t.position
}

// Reset zeroes the position and drops the baseline
func (t *PositionTracker) Reset() {
	t.position = 0
	t.last = 0
	t.hasBaseline = false
}
