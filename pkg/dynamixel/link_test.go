// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dynamixel

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLink(t *testing.T, port *fakePort, opts ...LinkOption) *Link {
	t.Helper()
	opts = append([]LinkOption{WithTiming(fastTiming)}, opts...)
	link, err := NewLink(port, opts...)
	require.NoError(t, err)
	return link
}

func TestLink_RawPosition(t *testing.T) {
	port := newFakePort(replyAlways(mustStatus(t, 1, 0, 0x10, 0x00)))
	link := newTestLink(t, port)

	pos, err := link.RawPosition(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 16, pos)

	require.Len(t, port.writes, 1)
	assert.Equal(t, []byte{0xFF, 0xFF, 0x01, 0x04, 0x02, 0x24, 0x02, 0xD2}, port.writes[0])
	assert.Equal(t, 1, port.resets)
}

func TestLink_StaleInputDiscarded(t *testing.T) {
	port := newFakePort(replyAlways(mustStatus(t, 1, 0, 0x20, 0x01)))
	port.feed(mustStatus(t, 1, 0, 0x99, 0x09)...)
	link := newTestLink(t, port)

	pos, err := link.RawPosition(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0x0120, pos)
}

func TestLink_RetriesTransportFaults(t *testing.T) {
	good := mustStatus(t, 1, 0, 0x10, 0x00)
	corrupt := append([]byte(nil), good...)
	corrupt[len(corrupt)-1] ^= 0x01

	// Length byte 1 is below the minimum of 2
	shortLength := []byte{0xFF, 0xFF, 0x01, 0x01, 0x00, 0xFE}

	port := newFakePort(replySequence(corrupt, nil, []byte{0xFF, 0x00}, shortLength, good))
	link := newTestLink(t, port)

	pos, err := link.RawPosition(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 16, pos)
	assert.Equal(t, 5, port.writeCount())

	stats := link.Stats()
	assert.Equal(t, uint64(4), stats.Retries)
	assert.Equal(t, uint64(1), stats.HeaderErrors)
	assert.Equal(t, uint64(1), stats.ChecksumErrors)
	assert.Equal(t, uint64(1), stats.FramingTimeouts)
	assert.Equal(t, uint64(1), stats.FramingErrors)
	assert.Equal(t, uint64(1), stats.ValidFrames)
}

func TestLink_ExhaustsRetryLimit(t *testing.T) {
	port := newFakePort(nil)
	link := newTestLink(t, port)

	err := link.Ping(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommunicationFailure)
	assert.ErrorIs(t, err, ErrFramingTimeout)
	assert.False(t, IsTransportFault(err))
	assert.Equal(t, DefaultRetryLimit, port.writeCount())

	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "ping", opErr.Op)
	assert.Equal(t, 1, opErr.ID)
	assert.Equal(t, uint64(1), link.Stats().CommFailures)
}

func TestLink_CustomRetryLimit(t *testing.T) {
	port := newFakePort(nil)
	link := newTestLink(t, port, WithRetryLimit(3))

	err := link.Ping(context.Background(), 1)
	assert.ErrorIs(t, err, ErrCommunicationFailure)
	assert.Equal(t, 3, port.writeCount())
}

func TestLink_DeviceErrorNotRetried(t *testing.T) {
	port := newFakePort(replyAlways(mustStatus(t, 1, FlagOverload|FlagOverheating)))
	link := newTestLink(t, port)

	err := link.SetSpeed(context.Background(), 1, 600)
	require.Error(t, err)
	assert.Equal(t, 1, port.writeCount())

	flags, ok := IsDeviceError(err)
	require.True(t, ok)
	assert.Equal(t, FlagOverload|FlagOverheating, flags)
	assert.Contains(t, err.Error(), "set speed servo 1")
	assert.Contains(t, err.Error(), "Overheating|Overload")
}

func TestLink_PortErrorAborts(t *testing.T) {
	port := newFakePort(nil)
	port.readErr = errors.New("device unplugged")
	link := newTestLink(t, port)

	err := link.Ping(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, 1, port.writeCount())
	assert.NotErrorIs(t, err, ErrCommunicationFailure)
	assert.Contains(t, err.Error(), "device unplugged")
}

func TestLink_ContextCancelled(t *testing.T) {
	port := newFakePort(nil)
	link := newTestLink(t, port)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := link.Ping(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, port.writeCount())
}

func TestLink_WriteRegisters(t *testing.T) {
	ack := mustStatus(t, 1, 0)

	tests := []struct {
		name string
		call func(*Link) error
		want []byte // params of the instruction sent
	}{
		{"set speed up 600", func(l *Link) error { return l.SetSpeed(context.Background(), 1, 1624) }, []byte{RegMovingSpeed, 0x58, 0x06}},
		{"set speed down 600", func(l *Link) error { return l.SetSpeed(context.Background(), 1, 600) }, []byte{RegMovingSpeed, 0x58, 0x02}},
		{"set position", func(l *Link) error { return l.SetRawPosition(context.Background(), 1, 4095) }, []byte{RegGoalPosition, 0xFF, 0x0F}},
		{"set position degrees", func(l *Link) error { return l.SetPositionDegrees(context.Background(), 1, 90) }, []byte{RegGoalPosition, 0x00, 0x04}},
		{"set position 360 degrees", func(l *Link) error { return l.SetPositionDegrees(context.Background(), 1, 360) }, []byte{RegGoalPosition, 0xFF, 0x0F}},
		{"set id", func(l *Link) error { return l.SetID(context.Background(), 1, 9) }, []byte{RegID, 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := newFakePort(replyAlways(ack))
			link := newTestLink(t, port)

			require.NoError(t, tt.call(link))
			require.Len(t, port.writes, 1)

			frame := port.writes[0]
			assert.Equal(t, byte(InstWriteData), frame[offsetCode])
			assert.True(t, bytes.Equal(tt.want, frame[offsetParams:len(frame)-1]), "params % X", frame[offsetParams:len(frame)-1])
		})
	}
}

func TestLink_InvalidArguments(t *testing.T) {
	port := newFakePort(replyAlways(mustStatus(t, 1, 0)))
	link := newTestLink(t, port)
	ctx := context.Background()

	assert.ErrorIs(t, link.SetSpeed(ctx, 1, MaxSpeed+1), ErrInvalidParameterValue)
	assert.ErrorIs(t, link.SetSpeed(ctx, 1, -1), ErrInvalidParameterValue)
	assert.ErrorIs(t, link.SetRawPosition(ctx, 1, 4096), ErrInvalidParameterValue)
	assert.ErrorIs(t, link.SetPositionDegrees(ctx, 1, 361), ErrInvalidParameterValue)
	assert.ErrorIs(t, link.SetID(ctx, 1, 254), ErrInvalidID)
	assert.ErrorIs(t, link.Ping(ctx, 254), ErrInvalidID)
	assert.Equal(t, 0, port.writeCount())
}

func TestLink_UnexpectedParameterCount(t *testing.T) {
	port := newFakePort(replyAlways(mustStatus(t, 1, 0, 0x10)))
	link := newTestLink(t, port)

	_, err := link.RawPosition(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnexpectedParameterCount)

	_, err = link.Speed(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnexpectedParameterCount)

	port.respond = replyAlways(mustStatus(t, 1, 0, 0x01, 0x00))
	_, err = link.IsMoving(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnexpectedParameterCount)
}

func TestLink_IsMoving(t *testing.T) {
	port := newFakePort(replySequence(mustStatus(t, 1, 0, 1), mustStatus(t, 1, 0, 0)))
	link := newTestLink(t, port)

	moving, err := link.IsMoving(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, moving)

	moving, err = link.IsMoving(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, moving)
}

func TestLink_PositionDegrees(t *testing.T) {
	port := newFakePort(replyAlways(mustStatus(t, 1, 0, 0x00, 0x08)))
	link := newTestLink(t, port)

	deg, err := link.PositionDegrees(context.Background(), 1)
	require.NoError(t, err)
	assert.InDelta(t, 180.0, deg, 1e-9)
}

func TestLink_Close(t *testing.T) {
	port := newFakePort(nil)
	link := newTestLink(t, port)

	require.NoError(t, link.Close())
	require.NoError(t, link.Close())
	assert.Equal(t, 1, port.closed)

	err := link.Ping(context.Background(), 1)
	assert.ErrorIs(t, err, ErrLinkClosed)
}

func TestLinkConfig(t *testing.T) {
	cfg, err := NewLinkConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultBaudRate, cfg.BaudRate())
	assert.Equal(t, DefaultRetryLimit, cfg.RetryLimit())
	assert.Equal(t, DefaultTiming(), cfg.Timing())

	cfg, err = NewLinkConfig(WithResponseTimeout(100*time.Millisecond), WithLogger(slog.Default()))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Timing().ScanFactor)
	assert.Equal(t, DefaultTimingUnit, cfg.Timing().Unit)

	_, err = NewLinkConfig(WithRetryLimit(0))
	assert.ErrorIs(t, err, ErrInvalidParameterValue)
	_, err = NewLinkConfig(WithBaudRate(0))
	assert.ErrorIs(t, err, ErrInvalidParameterValue)
	_, err = NewLinkConfig(WithResponseTimeout(-time.Second))
	assert.ErrorIs(t, err, ErrInvalidParameterValue)
}
