// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dynamixel

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame counts and error rates, either for a Link's
// exchanges or for a sniffed capture.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	ValidFrames     uint64
	HeaderErrors    uint64
	ChecksumErrors  uint64
	FramingTimeouts uint64
	FramingErrors   uint64
	DeviceErrors    uint64
	OtherErrors     uint64

	// Link only
	Retries      uint64
	CommFailures uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts one received frame (or failed receive) by its outcome
func (s *Statistics) Update(err error) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if err == nil {
		s.ValidFrames++
		return
	}

	var devErr *DeviceError
	switch {
	case errors.As(err, &devErr):
		// Intact frame, the servo itself complained
		s.DeviceErrors++
	case errors.Is(err, ErrMalformedHeader):
		s.HeaderErrors++
	case errors.Is(err, ErrChecksumMismatch):
		s.ChecksumErrors++
	case errors.Is(err, ErrFramingTimeout):
		s.FramingTimeouts++
	case errors.Is(err, ErrFramingError):
		s.FramingErrors++
	default:
		s.OtherErrors++
	}
}

// Errors returns the number of failed frames
func (s *Statistics) Errors() uint64 {
	return s.HeaderErrors + s.ChecksumErrors + s.FramingTimeouts + s.FramingErrors +
		s.DeviceErrors + s.OtherErrors
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, percent(s.ValidFrames))

	if s.HeaderErrors > 0 {
		result += fmt.Sprintf("Header Errors:   %8d (%.1f%%)\n", s.HeaderErrors, percent(s.HeaderErrors))
	}
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, percent(s.ChecksumErrors))
	}
	if s.FramingTimeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d (%.1f%%)\n", s.FramingTimeouts, percent(s.FramingTimeouts))
	}
	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d (%.1f%%)\n", s.FramingErrors, percent(s.FramingErrors))
	}
	if s.DeviceErrors > 0 {
		result += fmt.Sprintf("Device Errors:   %8d (%.1f%%)\n", s.DeviceErrors, percent(s.DeviceErrors))
	}
	if s.OtherErrors > 0 {
		result += fmt.Sprintf("Other Errors:    %8d (%.1f%%)\n", s.OtherErrors, percent(s.OtherErrors))
	}
	if s.Retries > 0 || s.CommFailures > 0 {
		result += fmt.Sprintf("Retries:         %8d\n", s.Retries)
		result += fmt.Sprintf("Comm Failures:   %8d\n", s.CommFailures)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
