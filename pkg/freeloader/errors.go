// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package freeloader

import "errors"

var (
	ErrNotConnected     = errors.New("freeloader: motor not connected")
	ErrAlreadyConnected = errors.New("freeloader: motor already connected")
	ErrInvalidConfig    = errors.New("freeloader: invalid machine config")
	ErrProbeFailed      = errors.New("freeloader: no servo answered")
)
