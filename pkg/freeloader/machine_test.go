// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package freeloader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/freeloader/pkg/dynamixel"
	"github.com/Thermoquad/freeloader/pkg/dynamixel/dxlsim"
)

// recordingServo captures speed writes and serves scripted positions
type recordingServo struct {
	speeds    []int
	positions []int
	readErr   error
	speedErr  error
	closed    int
}

func (s *recordingServo) RawPosition(_ context.Context, _ int) (int, error) {
	if s.readErr != nil {
		return 0, s.readErr
	}
	if len(s.positions) == 0 {
		return 0, nil
	}
	p := s.positions[0]
	if len(s.positions) > 1 {
		s.positions = s.positions[1:]
	}
	return p, nil
}

func (s *recordingServo) SetSpeed(_ context.Context, _ int, speed int) error {
	if s.speedErr != nil {
		return s.speedErr
	}
	s.speeds = append(s.speeds, speed)
	return nil
}

func (s *recordingServo) Close() error {
	s.closed++
	return nil
}

func newConnected(t *testing.T, cfg Config, servo Servo) *Machine {
	t.Helper()
	m, err := NewMachine(cfg)
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background(), servo))
	return m
}

func TestConfig_Units(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.InDelta(t, 10.0/25.4*2*4096, cfg.CountsPerMM(), 1e-9)
	assert.InDelta(t, 10.0/25.4*2*7.95, cfg.SpeedUnitsPerMMPerMin(), 1e-9)

	bad := cfg
	bad.Pitch = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
	bad = cfg
	bad.ServoID = 254
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestEncodeSpeed(t *testing.T) {
	up, err := EncodeSpeed(600, Up)
	require.NoError(t, err)
	assert.Equal(t, 1624, up)

	down, err := EncodeSpeed(600, Down)
	require.NoError(t, err)
	assert.Equal(t, 600, down)

	_, err = EncodeSpeed(1024, Down)
	assert.ErrorIs(t, err, dynamixel.ErrInvalidParameterValue)
}

func TestMachine_NotConnected(t *testing.T) {
	m, err := NewMachine(DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, Disconnected, m.State())
	assert.ErrorIs(t, m.MoveAt(ctx, 10, Up), ErrNotConnected)
	assert.ErrorIs(t, m.Stop(ctx), ErrNotConnected)
	_, err = m.Position(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = m.RawPosition(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, m.Disconnect(ctx))
}

func TestMachine_Connect(t *testing.T) {
	servo := &recordingServo{positions: []int{1000}}
	m := newConnected(t, DefaultConfig(), servo)

	assert.Equal(t, Connected, m.State())
	assert.Equal(t, []int{0}, servo.speeds, "connect stops the motor")
	assert.ErrorIs(t, m.Connect(context.Background(), &recordingServo{}), ErrAlreadyConnected)
}

func TestMachine_ConnectProbeFails(t *testing.T) {
	servo := &recordingServo{readErr: dynamixel.ErrCommunicationFailure}
	m, err := NewMachine(DefaultConfig())
	require.NoError(t, err)

	err = m.Connect(context.Background(), servo)
	assert.ErrorIs(t, err, ErrProbeFailed)
	assert.ErrorIs(t, err, dynamixel.ErrCommunicationFailure)
	assert.Equal(t, 1, servo.closed)
	assert.Equal(t, Disconnected, m.State())
}

func TestMachine_MoveAt(t *testing.T) {
	cfg := DefaultConfig()
	units := cfg.SpeedUnitsPerMMPerMin()

	tests := []struct {
		name  string
		speed float64
		dir   Direction
		want  int
	}{
		{"stopped", 0, Down, 0},
		{"down 10", 10, Down, 63},
		{"up 10", 10, Up, 1024 + 63},
		{"clamped to max", 500, Down, int(70*units + 0.5)},
		{"clamped up", 70.0001, Up, 1024 + int(70*units+0.5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			servo := &recordingServo{}
			m := newConnected(t, cfg, servo)

			require.NoError(t, m.MoveAt(context.Background(), tt.speed, tt.dir))
			require.Len(t, servo.speeds, 2)
			assert.Equal(t, tt.want, servo.speeds[1])
		})
	}
}

func TestMachine_MoveAtRejectsInvalid(t *testing.T) {
	servo := &recordingServo{}
	m := newConnected(t, DefaultConfig(), servo)
	ctx := context.Background()

	assert.ErrorIs(t, m.MoveAt(ctx, -1, Up), dynamixel.ErrInvalidParameterValue)

	// A coarse screw can ask for more than the servo can do
	cfg := DefaultConfig()
	cfg.Pitch = 100
	cfg.MaxSpeed = 1000
	fast := newConnected(t, cfg, &recordingServo{})
	assert.ErrorIs(t, fast.MoveAt(ctx, 1000, Down), dynamixel.ErrInvalidParameterValue)
}

func TestMachine_Disconnect(t *testing.T) {
	servo := &recordingServo{}
	m := newConnected(t, DefaultConfig(), servo)
	require.NoError(t, m.MoveAt(context.Background(), 20, Up))

	require.NoError(t, m.Disconnect(context.Background()))
	assert.Equal(t, 0, servo.speeds[len(servo.speeds)-1])
	assert.Equal(t, 1, servo.closed)
	assert.Equal(t, Disconnected, m.State())
	assert.NoError(t, m.Disconnect(context.Background()))
}

func TestMachine_DisconnectClosesOnStopFailure(t *testing.T) {
	servo := &recordingServo{}
	m := newConnected(t, DefaultConfig(), servo)
	servo.speedErr = errors.New("bus fault")

	err := m.Disconnect(context.Background())
	assert.EqualError(t, err, "bus fault")
	assert.Equal(t, 1, servo.closed)
	assert.Equal(t, Disconnected, m.State())
}

func TestMachine_PositionWithSimulator(t *testing.T) {
	start := time.Unix(0, 0)
	now := start
	sim := dxlsim.New(dxlsim.WithPosition(4000), dxlsim.WithClock(func() time.Time { return now }))
	link, err := dynamixel.NewLink(sim)
	require.NoError(t, err)

	m := newConnected(t, DefaultConfig(), link)
	defer m.Disconnect(context.Background())
	ctx := context.Background()

	pos, err := m.Position(ctx)
	require.NoError(t, err)
	assert.Zero(t, pos)

	// Move up long enough to wrap the encoder several times, sampling often
	require.NoError(t, m.MoveAt(ctx, 60, Up))
	speedWord := sim.Speed()
	countsPerSecond := float64(speedWord-dynamixel.SpeedDirectionBit) * dxlsim.RPMPerSpeedUnit * dynamixel.CountsPerRevolution / 60

	for i := 0; i < 50; i++ {
		now = now.Add(200 * time.Millisecond)
		pos, err = m.Position(ctx)
		require.NoError(t, err)
	}
	want := countsPerSecond * 10 / m.Config().CountsPerMM()
	assert.InDelta(t, want, pos, 1.0/m.Config().CountsPerMM()*2)
	assert.Greater(t, pos, 0.0)

	require.NoError(t, m.Stop(ctx))
	m.ResetPosition()
	pos, err = m.Position(ctx)
	require.NoError(t, err)
	assert.Zero(t, pos)
}

func TestApproachSpeed(t *testing.T) {
	tests := []struct {
		name     string
		position float64
		target   float64
		speed    float64
		want     float64
		dir      Direction
		done     bool
	}{
		{"far below target", 0, 10, 50, 50, Up, false},
		{"far above target", 10, 0, 50, 50, Down, false},
		{"slow zone caps speed", 0, 0.8, 50, 30, Up, false},
		{"slow zone keeps slower speed", 0, 0.8, 20, 20, Up, false},
		{"fine zone proportional", 0.6, 0.4, 50, 12, Down, false},
		{"within tolerance", 1.0, 1.005, 50, 0, Down, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dir, done := ApproachSpeed(tt.position, tt.target, tt.speed)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Equal(t, tt.done, done)
			if !tt.done {
				assert.Equal(t, tt.dir, dir)
			}
		})
	}
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("up")
	require.NoError(t, err)
	assert.Equal(t, Up, d)
	assert.Equal(t, "down", Down.String())

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}
