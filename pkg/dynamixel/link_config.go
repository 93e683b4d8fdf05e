// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dynamixel

import (
	"fmt"
	"log/slog"
	"time"
)

// Link defaults
const (
	DefaultBaudRate   = 1000000
	DefaultRetryLimit = 15 // total attempts per exchange

	MaxRetryLimit      = 255
	MaxResponseTimeout = 10 * time.Second
)

// LinkConfig holds the settings of a Link. Build it with NewLinkConfig.
type LinkConfig struct {
	baudRate int

	// responseTimeout overrides the first-header wait of timing when non-zero
	responseTimeout time.Duration
	timing          Timing
	retryLimit      int

	logger *slog.Logger
}

// NewLinkConfig applies opts over the defaults.
func NewLinkConfig(opts ...LinkOption) (*LinkConfig, error) {
	cfg := &LinkConfig{
		baudRate:   DefaultBaudRate,
		timing:     DefaultTiming(),
		retryLimit: DefaultRetryLimit,
		logger:     slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// BaudRate returns the serial baud rate
func (cfg *LinkConfig) BaudRate() int { return cfg.baudRate }

// RetryLimit returns the total number of attempts per exchange
func (cfg *LinkConfig) RetryLimit() int { return cfg.retryLimit }

// Logger returns the link logger
func (cfg *LinkConfig) Logger() *slog.Logger { return cfg.logger }

// Timing returns the effective frame timing, with any response timeout applied
func (cfg *LinkConfig) Timing() Timing {
	t := cfg.timing
	if cfg.responseTimeout > 0 {
		t.ScanFactor = int((cfg.responseTimeout + t.Unit - 1) / t.Unit)
	}
	return t
}

// LinkOption is a functional option for configuring a Link.
type LinkOption interface {
	apply(*LinkConfig) error
}

type linkOptFunc func(*LinkConfig) error

func (f linkOptFunc) apply(cfg *LinkConfig) error { return f(cfg) }

// WithBaudRate sets the serial baud rate used by Open.
func WithBaudRate(baud int) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if baud <= 0 {
			return fmt.Errorf("%w: baud rate %d", ErrInvalidParameterValue, baud)
		}
		cfg.baudRate = baud
		return nil
	})
}

// WithResponseTimeout sets how long to wait for the first byte of a reply.
// Zero restores the timing default (Unit*ScanFactor).
func WithResponseTimeout(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if d < 0 || d > MaxResponseTimeout {
			return fmt.Errorf("%w: response timeout %v out of range [0, %v]", ErrInvalidParameterValue, d, MaxResponseTimeout)
		}
		cfg.responseTimeout = d
		return nil
	})
}

// WithTiming replaces the frame assembly timing.
func WithTiming(t Timing) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if err := t.Validate(); err != nil {
			return err
		}
		cfg.timing = t
		return nil
	})
}

// WithRetryLimit sets the total number of attempts per exchange.
func WithRetryLimit(n int) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if n < 1 || n > MaxRetryLimit {
			return fmt.Errorf("%w: retry limit %d out of range [1, %d]", ErrInvalidParameterValue, n, MaxRetryLimit)
		}
		cfg.retryLimit = n
		return nil
	})
}

// WithLogger sets the logger for retry and failure events.
func WithLogger(l *slog.Logger) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if l != nil {
			cfg.logger = l
		}
		return nil
	})
}
