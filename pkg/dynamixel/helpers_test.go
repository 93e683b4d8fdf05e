// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dynamixel

import (
	"errors"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"
)

// fastTiming keeps timeout-heavy tests quick
var fastTiming = Timing{
	Unit:          time.Millisecond,
	ScanFactor:    5,
	ScanLimit:     20,
	HeaderFactor:  2,
	PayloadFactor: 1,
}

// fakePort is a scripted Port. Each Write is answered by respond, whose
// return value becomes readable input. A nil reply leaves the bus silent.
type fakePort struct {
	mu      sync.Mutex
	respond func(n int, frame []byte) []byte
	writes  [][]byte
	pending []byte
	timeout time.Duration
	closed  int
	resets  int
	readErr error
}

func newFakePort(respond func(n int, frame []byte) []byte) *fakePort {
	return &fakePort{respond: respond}
}

// replyAlways answers every write with the same bytes
func replyAlways(reply []byte) func(int, []byte) []byte {
	return func(int, []byte) []byte { return reply }
}

// replySequence answers the n-th write with replies[n], then stays silent
func replySequence(replies ...[]byte) func(int, []byte) []byte {
	return func(n int, _ []byte) []byte {
		if n < len(replies) {
			return replies[n]
		}
		return nil
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.readErr != nil {
		p.mu.Unlock()
		return 0, p.readErr
	}
	if len(p.pending) == 0 {
		timeout := p.timeout
		p.mu.Unlock()
		time.Sleep(timeout)
		return 0, nil
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	p.mu.Unlock()
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed > 0 {
		return 0, errors.New("port closed")
	}
	frame := append([]byte(nil), b...)
	p.writes = append(p.writes, frame)
	if p.respond != nil {
		p.pending = append(p.pending, p.respond(len(p.writes)-1, frame)...)
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	p.pending = nil
	return nil
}

func (p *fakePort) Drain() error { return nil }

func (p *fakePort) feed(b ...byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, b...)
}

func (p *fakePort) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writes)
}

// mustStatus builds a status frame or fails the test
func mustStatus(t *testing.T, id int, flags ErrorFlags, params ...byte) []byte {
	t.Helper()
	frame, err := EncodeStatus(id, flags, params)
	if err != nil {
		t.Fatalf("EncodeStatus: %v", err)
	}
	return frame
}

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}
