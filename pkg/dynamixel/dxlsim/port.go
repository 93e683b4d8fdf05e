// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dxlsim

import (
	"time"

	"github.com/Thermoquad/freeloader/pkg/dynamixel"
)

// Read returns pending reply bytes, waiting up to the read timeout.
// A negative timeout waits forever.
func (s *Servo) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.out) == 0 && !s.closed && s.timeout != 0 {
		var timer *time.Timer
		expired := false
		if s.timeout > 0 {
			timer = time.AfterFunc(s.timeout, func() {
				s.mu.Lock()
				expired = true
				s.mu.Unlock()
				s.cond.Broadcast()
			})
		}
		for len(s.out) == 0 && !s.closed && !expired {
			s.cond.Wait()
		}
		if timer != nil {
			timer.Stop()
		}
	}

	if s.closed {
		return 0, ErrClosed
	}
	n := copy(p, s.out)
	s.out = s.out[n:]
	return n, nil
}

// Write feeds bytes to the servo's frame decoder and queues any replies.
func (s *Servo) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	for _, b := range p {
		frame, err := s.decoder.DecodeByte(b)
		if err != nil || frame == nil {
			continue
		}
		// The decoder only ever sees requests here
		if reply := s.handle(frame); reply != nil {
			s.out = append(s.out, reply...)
		}
	}
	if len(s.out) > 0 {
		s.cond.Broadcast()
	}
	return len(p), nil
}

// Close releases blocked readers. Further operations fail with ErrClosed.
func (s *Servo) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
	return nil
}

// SetReadTimeout sets the Read timeout
func (s *Servo) SetReadTimeout(t time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = t
	return nil
}

// ResetInputBuffer discards replies not yet read
func (s *Servo) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = nil
	return nil
}

// Drain is a no-op; writes are processed synchronously
func (s *Servo) Drain() error {
	return nil
}

var _ dynamixel.Port = (*Servo)(nil)
