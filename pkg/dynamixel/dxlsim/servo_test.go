// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dxlsim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/freeloader/pkg/dynamixel"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newSimLink(t *testing.T, s *Servo, opts ...dynamixel.LinkOption) *dynamixel.Link {
	t.Helper()
	link, err := dynamixel.NewLink(s, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { link.Close() })
	return link
}

func TestServo_PingAndPosition(t *testing.T) {
	s := New(WithPosition(1234))
	link := newSimLink(t, s)
	ctx := context.Background()

	require.NoError(t, link.Ping(ctx, 1))

	pos, err := link.RawPosition(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1234, pos)

	moving, err := link.IsMoving(ctx, 1)
	require.NoError(t, err)
	assert.False(t, moving)

	err = link.Ping(ctx, 2)
	assert.ErrorIs(t, err, dynamixel.ErrCommunicationFailure)
}

func TestServo_WheelMotion(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	s := New(WithPosition(100), WithClock(clock.now))
	link := newSimLink(t, s)
	ctx := context.Background()

	// 100 units = 11.4 rpm = 778.24 counts per second
	require.NoError(t, link.SetSpeed(ctx, 1, 100))
	clock.advance(time.Second)
	assert.Equal(t, 878, s.Position())

	moving, err := link.IsMoving(ctx, 1)
	require.NoError(t, err)
	assert.True(t, moving)

	// Reverse with the direction bit and wrap below zero
	require.NoError(t, link.SetSpeed(ctx, 1, 100+dynamixel.SpeedDirectionBit))
	clock.advance(2 * time.Second)
	assert.Equal(t, 4096+878-1557, s.Position())

	require.NoError(t, link.SetSpeed(ctx, 1, 0))
	before := s.Position()
	clock.advance(time.Minute)
	assert.Equal(t, before, s.Position())

	speed, err := link.Speed(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, speed)
}

func TestServo_SetIDAndReset(t *testing.T) {
	s := New()
	link := newSimLink(t, s)
	ctx := context.Background()

	require.NoError(t, link.SetID(ctx, 1, 7))
	assert.Equal(t, uint8(7), s.ID())
	require.NoError(t, link.Ping(ctx, 7))

	require.NoError(t, link.Reset(ctx, 7))
	assert.Equal(t, uint8(1), s.ID())
	require.NoError(t, link.Ping(ctx, 1))
}

func TestServo_Faults(t *testing.T) {
	s := New()
	link := newSimLink(t, s)
	ctx := context.Background()

	s.InjectFaults(Faults{DropReplies: 2, CorruptReplies: 2, GarbleHeader: 1})
	require.NoError(t, link.Ping(ctx, 1))
	assert.Equal(t, 6, s.Requests())

	stats := link.Stats()
	assert.Equal(t, uint64(5), stats.Retries)
	assert.Equal(t, uint64(2), stats.ChecksumErrors)
	assert.Equal(t, uint64(1), stats.FramingErrors)

	s.InjectFaults(Faults{Flags: dynamixel.FlagOverheating})
	err := link.Ping(ctx, 1)
	flags, ok := dynamixel.IsDeviceError(err)
	require.True(t, ok)
	assert.Equal(t, dynamixel.FlagOverheating, flags)
}

func TestServo_RejectsOutOfRangeWrites(t *testing.T) {
	s := New()
	link := newSimLink(t, s)

	// Bypass Link's own range check with a raw write to a read-only register
	pkt, err := dynamixel.NewWriteWord(1, dynamixel.RegPresentPosition, 5)
	require.NoError(t, err)
	_, err = s.Write(pkt.Bytes())
	require.NoError(t, err)

	require.NoError(t, s.SetReadTimeout(50*time.Millisecond))
	buf := make([]byte, 16)
	n, err := s.Read(buf)
	require.NoError(t, err)

	status, err := dynamixel.DecodeStatus(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, dynamixel.FlagRange, status.Flags())

	require.NoError(t, link.Ping(context.Background(), 1))
}

func TestServo_ReadTimeoutAndClose(t *testing.T) {
	s := New()
	require.NoError(t, s.SetReadTimeout(10*time.Millisecond))

	start := time.Now()
	n, err := s.Read(make([]byte, 4))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	require.NoError(t, s.SetReadTimeout(-1))
	done := make(chan error, 1)
	go func() {
		_, err := s.Read(make([]byte, 4))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Close")
	}
}
