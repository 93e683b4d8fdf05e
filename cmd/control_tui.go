// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/freeloader/pkg/dynamixel"
	"github.com/Thermoquad/freeloader/pkg/freeloader"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	sampleInterval   = 100 * time.Millisecond
	commandTimeout   = 2 * time.Second
	defaultJogSpeed  = "10"
	defaultTarget    = "0"
	maxLogEntries    = 100
	visibleLogEvents = 8
)

// Focus states
const (
	focusSpeedInput = iota
	focusTargetInput
	focusCount
)

// motion is what the crosshead was last told to do
type motion int

const (
	motionStopped motion = iota
	motionJogUp
	motionJogDown
	motionApproach
)

func (mo motion) String() string {
	switch mo {
	case motionJogUp:
		return "jogging up"
	case motionJogDown:
		return "jogging down"
	case motionApproach:
		return "going to target"
	default:
		return "stopped"
	}
}

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	ctrl     *machineController
	connInfo string

	// Crosshead
	raw      int
	position float64
	sampled  bool
	motion   motion
	target   float64
	polling  bool

	stats dynamixel.Statistics

	// Control
	speedInput   textinput.Model
	targetInput  textinput.Model
	focusedField int

	errorLog []logEntry

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type sampleMsg struct {
	raw      int
	position float64
	stats    dynamixel.Statistics
	err      error
}

type commandDoneMsg struct {
	action string
	quiet  bool
	err    error
}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func newNumberInput(placeholder string) textinput.Model {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = 8
	ti.Width = 10
	return ti
}

func initialControlModel(ctrl *machineController) controlModel {
	speed := newNumberInput(defaultJogSpeed)
	speed.Focus()

	return controlModel{
		ctrl:         ctrl,
		connInfo:     ctrl.connInfo,
		speedInput:   speed,
		targetInput:  newNumberInput(defaultTarget),
		focusedField: focusSpeedInput,
		errorLog:     make([]logEntry, 0),
		width:        80,
		height:       24,
		stats:        *dynamixel.NewStatistics(),
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, controlTickCmd())
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(sampleInterval, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case controlTickMsg:
		cmds := []tea.Cmd{controlTickCmd()}
		if !m.polling && !m.connectionLost {
			m.polling = true
			cmds = append(cmds, m.sampleCmd())
		}
		return m, tea.Batch(cmds...)

	case sampleMsg:
		return m.handleSample(msg)

	case commandDoneMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s failed: %v", msg.action, msg.err), true)
			if isLinkFailure(msg.err) {
				return m.connectionFailed()
			}
		} else if !msg.quiet {
			m.addLogEntry(msg.action, false)
		}
		return m, nil

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.sampled = false
		m.addLogEntry("Reconnected - position zeroed", false)
		return m, nil
	}

	// Blink and other input messages go to the focused field
	return m.updateFocusedInput(msg)
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab":
		return m.cycleFocus(1), textinput.Blink

	case "shift+tab":
		return m.cycleFocus(-1), textinput.Blink

	case "u", "up":
		return m.jog(freeloader.Up)

	case "d", "down":
		return m.jog(freeloader.Down)

	case "s", " ":
		m.motion = motionStopped
		return m, m.stopCmd("Stopped")

	case "g", "enter":
		return m.goToTarget()

	case "z":
		if m.motion != motionStopped {
			m.addLogEntry("Stop before zeroing", true)
			return m, nil
		}
		m.ctrl.zero()
		m.sampled = false
		m.addLogEntry("Position zeroed", false)
		return m, nil
	}

	return m.updateFocusedInput(msg)
}

func (m controlModel) updateFocusedInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.focusedField {
	case focusSpeedInput:
		m.speedInput, cmd = m.speedInput.Update(msg)
	case focusTargetInput:
		m.targetInput, cmd = m.targetInput.Update(msg)
	}
	return m, cmd
}

func (m controlModel) cycleFocus(delta int) controlModel {
	m.focusedField = (m.focusedField + delta + focusCount) % focusCount
	if m.focusedField == focusSpeedInput {
		m.speedInput.Focus()
		m.targetInput.Blur()
	} else {
		m.targetInput.Focus()
		m.speedInput.Blur()
	}
	return m
}

func (m controlModel) jog(dir freeloader.Direction) (tea.Model, tea.Cmd) {
	if m.connectionLost {
		return m, nil
	}
	speed, err := m.jogSpeed()
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return m, nil
	}

	m.motion = motionJogDown
	if dir == freeloader.Up {
		m.motion = motionJogUp
	}
	return m, m.moveCmd(fmt.Sprintf("Jog %s at %g mm/min", dir, speed), false, speed, dir)
}

func (m controlModel) goToTarget() (tea.Model, tea.Cmd) {
	if m.connectionLost {
		return m, nil
	}
	if _, err := m.jogSpeed(); err != nil {
		m.addLogEntry(err.Error(), true)
		return m, nil
	}
	target, err := parseInput(m.targetInput, "target")
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return m, nil
	}

	m.target = target
	m.motion = motionApproach
	m.addLogEntry(fmt.Sprintf("Going to %.3f mm", target), false)
	return m, nil
}

// handleSample updates the position and steers an approach in progress
func (m controlModel) handleSample(msg sampleMsg) (tea.Model, tea.Cmd) {
	m.polling = false
	if msg.err != nil {
		m.addLogEntry(fmt.Sprintf("Position read failed: %v", msg.err), true)
		if isLinkFailure(msg.err) {
			return m.connectionFailed()
		}
		return m, nil
	}

	m.raw = msg.raw
	m.position = msg.position
	m.stats = msg.stats
	m.sampled = true

	if m.motion != motionApproach {
		return m, nil
	}

	speed, err := m.jogSpeed()
	if err != nil {
		m.motion = motionStopped
		m.addLogEntry(err.Error(), true)
		return m, m.stopCmd("Stopped")
	}

	mmPerMin, dir, done := freeloader.ApproachSpeed(m.position, m.target, speed)
	if done {
		m.motion = motionStopped
		return m, m.stopCmd(fmt.Sprintf("Reached %.3f mm", m.target))
	}
	return m, m.moveCmd("Approach", true, mmPerMin, dir)
}

// connectionFailed stops all motion and starts reconnecting
func (m controlModel) connectionFailed() (tea.Model, tea.Cmd) {
	if m.connectionLost {
		return m, nil
	}
	m.connectionLost = true
	m.motion = motionStopped
	m.addLogEntry("Connection lost - reconnecting...", true)
	return m, m.reconnectCmd()
}

func (m controlModel) jogSpeed() (float64, error) {
	speed, err := parseInput(m.speedInput, "speed")
	if err != nil {
		return 0, err
	}
	if speed <= 0 {
		return 0, fmt.Errorf("speed must be positive")
	}
	return speed, nil
}

func parseInput(ti textinput.Model, name string) (float64, error) {
	s := strings.TrimSpace(ti.Value())
	if s == "" {
		s = ti.Placeholder
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}

// isLinkFailure reports whether err means the servo stopped answering
func isLinkFailure(err error) bool {
	return errors.Is(err, dynamixel.ErrCommunicationFailure) ||
		errors.Is(err, dynamixel.ErrLinkClosed) ||
		errors.Is(err, freeloader.ErrNotConnected)
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m controlModel) sampleCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		raw, pos, err := ctrl.sample(ctx)
		return sampleMsg{raw: raw, position: pos, stats: ctrl.stats(), err: err}
	}
}

func (m controlModel) moveCmd(action string, quiet bool, mmPerMin float64, dir freeloader.Direction) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return commandDoneMsg{action: action, quiet: quiet, err: ctrl.moveAt(ctx, mmPerMin, dir)}
	}
}

func (m controlModel) stopCmd(action string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return commandDoneMsg{action: action, err: ctrl.stop(ctx)}
	}
}

func (m controlModel) reconnectCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if !ctrl.reconnect() {
			return nil
		}
		return reconnectedMsg{connInfo: ctrl.info()}
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	focusedBoxStyle = boxStyle.
			BorderForeground(lipgloss.Color("12"))
)

func (m controlModel) View() string {
	if m.quitting {
		return "Stopping crosshead...\n"
	}

	var s strings.Builder

	s.WriteString(titleStyle.Render("FREELOADER CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | u/d=jog s=stop g=go z=zero Tab=field q=quit", connStatus)))
	s.WriteString("\n\n")

	// Layout: left panel (position) | right panel (inputs)
	panelWidth := max((m.width-6)/2, 30)
	position := boxStyle.Width(panelWidth).Render(m.renderPosition())
	inputs := boxStyle.Width(panelWidth).Render(m.renderInputs())
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, position, " ", inputs))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar())
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog())

	return s.String()
}

func (m controlModel) renderPosition() string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("CROSSHEAD"))
	s.WriteString("\n")

	if !m.sampled {
		s.WriteString(headerStyle.Render("waiting for position..."))
		return s.String()
	}

	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Position:"),
		valueStyle.Render(fmt.Sprintf("%.3f mm", m.position))))
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Encoder: "),
		valueStyle.Render(fmt.Sprintf("%d", m.raw))))

	state := m.motion.String()
	if m.motion == motionApproach {
		state = fmt.Sprintf("%s %.3f mm", state, m.target)
	}
	s.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("Motion:  "), valueStyle.Render(state)))
	return s.String()
}

func (m controlModel) renderInputs() string {
	field := func(label string, ti textinput.Model, focused bool) string {
		if focused {
			return focusedBoxStyle.Render(fmt.Sprintf("%s %s", labelStyle.Render(label), ti.View()))
		}
		val := ti.Value()
		if val == "" {
			val = ti.Placeholder
		}
		return boxStyle.Render(fmt.Sprintf("%s [%s]", labelStyle.Render(label), val))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		field("Speed mm/min:", m.speedInput, m.focusedField == focusSpeedInput),
		field("Target mm:   ", m.targetInput, m.focusedField == focusTargetInput),
	)
}

func (m controlModel) renderStatisticsBar() string {
	var validPercent float64
	if m.stats.TotalFrames > 0 {
		validPercent = float64(m.stats.ValidFrames) * 100.0 / float64(m.stats.TotalFrames)
	}

	errCount := valueStyle.Render("0")
	if n := m.stats.Errors(); n > 0 {
		errCount = errorStyle.Render(fmt.Sprintf("%d", n))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Exchanges:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		labelStyle.Render("Valid:"), valueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		labelStyle.Render("Errors:"), errCount,
		labelStyle.Render("Retries:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.Retries)),
		labelStyle.Render("Failures:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.CommFailures)),
	)

	return boxStyle.Width(max(m.width-4, 20)).Render(content)
}

func (m controlModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
		return boxStyle.Width(max(m.width-4, 20)).Render(s.String())
	}

	start := max(len(m.errorLog)-visibleLogEvents, 0)
	for _, entry := range m.errorLog[start:] {
		icon := "i"
		style := warningStyle
		if entry.isError {
			icon = "x"
			style = errorStyle
		}
		s.WriteString(fmt.Sprintf("%s %s %s\n",
			headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
			style.Render(icon),
			entry.message))
	}

	return boxStyle.Width(max(m.width-4, 20)).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) addLogEntry(message string, isError bool) {
	m.errorLog = append(m.errorLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	if len(m.errorLog) > maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-maxLogEntries:]
	}
}
