// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package freeloader

import "math"

// Approach thresholds, mm
const (
	ApproachSlowZone  = 1.0
	ApproachFineZone  = 0.5
	ApproachTolerance = 0.01

	// ApproachSlowSpeed caps the speed inside the slow zone, mm/min
	ApproachSlowSpeed = 30.0
	// approachFineGain sets speed = gain*distance inside the fine zone
	approachFineGain = 60.0
)

// ApproachSpeed returns the speed and direction to use on the way from
// position to target when the operator asked for speed. done is true once
// the crosshead is within ApproachTolerance.
func ApproachSpeed(position, target, speed float64) (mmPerMin float64, dir Direction, done bool) {
	diff := math.Abs(target - position)
	if diff < ApproachTolerance {
		return 0, Down, true
	}

	dir = Down
	if target > position {
		dir = Up
	}

	mmPerMin = speed
	if diff < ApproachSlowZone && speed > ApproachSlowSpeed {
		mmPerMin = ApproachSlowSpeed
	}
	if diff < ApproachFineZone {
		mmPerMin = diff * approachFineGain
	}
	return mmPerMin, dir, false
}
