// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/freeloader/pkg/dynamixel"
)

// servoView is what the bus traffic has revealed about one servo
type servoView struct {
	id          uint8
	lastSeen    time.Time
	lastInst    dynamixel.Instruction
	flags       dynamixel.ErrorFlags
	position    int
	hasPosition bool
	speed       int
	hasSpeed    bool
}

// monitorModel is the Bubble Tea model for the sniffer TUI
type monitorModel struct {
	connInfo     string
	showAll      bool
	stats        *dynamixel.Statistics
	errorLog     []logEntry
	synchronized bool
	invalidBytes int
	servos       map[uint8]*servoView
	// pending maps a servo id to the register its outstanding READ_DATA asked for
	pending  map[uint8]uint8
	width    int
	height   int
	quitting bool
}

// Messages
type monitorTickMsg time.Time

type busFrameMsg struct {
	frame     *dynamixel.Frame
	decodeErr error
}

type busSyncMsg struct {
	invalidBytes int
}

type busClosedMsg struct {
	err error
}

func initialMonitorModel(connInfo string, showAll bool) monitorModel {
	return monitorModel{
		connInfo: connInfo,
		showAll:  showAll,
		stats:    dynamixel.NewStatistics(),
		errorLog: make([]logEntry, 0),
		servos:   make(map[uint8]*servoView),
		pending:  make(map[uint8]uint8),
		width:    80,
		height:   24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		m.stats.CalculateRates()
		return m, monitorTickCmd()

	case busSyncMsg:
		m.synchronized = true
		m.invalidBytes = msg.invalidBytes
		if msg.invalidBytes > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d invalid bytes", msg.invalidBytes), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case busFrameMsg:
		if msg.decodeErr != nil {
			m.stats.Update(msg.decodeErr)
			m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.decodeErr), true)
		} else if msg.frame != nil {
			m.processFrame(msg.frame)
		}

	case busClosedMsg:
		m.addLogEntry(fmt.Sprintf("Connection closed: %v", msg.err), true)
	}

	return m, nil
}

func (m *monitorModel) processFrame(f *dynamixel.Frame) {
	sv := m.servos[f.ID]
	if sv == nil && f.ID != dynamixel.BroadcastID {
		sv = &servoView{id: f.ID}
		m.servos[f.ID] = sv
	}

	if f.Kind == dynamixel.KindInstruction {
		m.stats.Update(nil)
		if sv != nil {
			sv.lastSeen = f.Timestamp
			sv.lastInst = f.Instruction()
		}
		m.trackInstruction(f, sv)
		if m.showAll {
			m.addLogEntry(strings.TrimSpace(dynamixel.FormatFrame(f)), false)
		}
		return
	}

	flagsErr := f.Flags().Err()
	m.stats.Update(flagsErr)
	if sv != nil {
		sv.lastSeen = f.Timestamp
		sv.flags = f.Flags()
		m.trackStatus(f, sv)
	}

	if flagsErr != nil {
		m.addLogEntry(fmt.Sprintf("ID %d reported %s", f.ID, f.Flags()), true)
	} else if m.showAll {
		m.addLogEntry(strings.TrimSpace(dynamixel.FormatFrame(f)), false)
	}
}

// trackInstruction remembers reads and records speed writes
func (m *monitorModel) trackInstruction(f *dynamixel.Frame, sv *servoView) {
	switch f.Instruction() {
	case dynamixel.InstReadData:
		if len(f.Params) == 2 {
			m.pending[f.ID] = f.Params[0]
		}
	case dynamixel.InstWriteData:
		if sv != nil && len(f.Params) == 3 && f.Params[0] == dynamixel.RegMovingSpeed {
			sv.speed = dynamixel.DecodeWord(f.Params[1:])
			sv.hasSpeed = true
		}
	}
}

// trackStatus interprets the reply to an outstanding read
func (m *monitorModel) trackStatus(f *dynamixel.Frame, sv *servoView) {
	addr, ok := m.pending[f.ID]
	if !ok {
		return
	}
	delete(m.pending, f.ID)

	if len(f.Params) != 2 {
		return
	}
	switch addr {
	case dynamixel.RegPresentPosition:
		sv.position = dynamixel.DecodeWord(f.Params)
		sv.hasPosition = true
	case dynamixel.RegMovingSpeed:
		sv.speed = dynamixel.DecodeWord(f.Params)
		sv.hasSpeed = true
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.errorLog = append(m.errorLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.errorLog) > maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-maxLogEntries:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("FREELOADER - BUS MONITOR"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | Press 'q' to quit", m.connInfo, mode)))
	s.WriteString("\n\n")

	// Sync status
	if !m.synchronized {
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	} else {
		s.WriteString(valueStyle.Render("✓ Synchronized"))
		if m.invalidBytes > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d invalid bytes)", m.invalidBytes)))
		}
	}
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(m.renderStats()))
	s.WriteString("\n\n")

	if len(m.servos) > 0 {
		s.WriteString(labelStyle.Render("Servos:"))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(m.renderServos()))
		s.WriteString("\n\n")
	}

	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(m.renderLog()))

	return s.String()
}

func (m monitorModel) renderStats() string {
	st := m.stats
	st.CalculateRates()

	var validPercent float64
	if st.TotalFrames > 0 {
		validPercent = float64(st.ValidFrames) * 100.0 / float64(st.TotalFrames)
	}

	var c strings.Builder
	c.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Total:"), valueStyle.Render(fmt.Sprintf("%d", st.TotalFrames)),
		labelStyle.Render("Valid:"), valueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidFrames, validPercent)),
		labelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d", st.Errors())),
	))

	if st.HeaderErrors > 0 || st.ChecksumErrors > 0 {
		c.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			labelStyle.Render("Header Errors:"), errorStyle.Render(fmt.Sprintf("%d", st.HeaderErrors)),
			labelStyle.Render("Checksum Errors:"), errorStyle.Render(fmt.Sprintf("%d", st.ChecksumErrors)),
		))
	}
	if st.DeviceErrors > 0 {
		c.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render("Device Errors:"), warningStyle.Render(fmt.Sprintf("%d", st.DeviceErrors))))
	}

	errRate := valueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	if st.ErrorRate > 0 {
		errRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	}
	c.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("Frame Rate:"), valueStyle.Render(fmt.Sprintf("%.1f frames/s", st.FrameRate)),
		labelStyle.Render("Error Rate:"), errRate,
	))
	return c.String()
}

func (m monitorModel) renderServos() string {
	ids := make([]int, 0, len(m.servos))
	for id := range m.servos {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	var c strings.Builder
	for i, id := range ids {
		sv := m.servos[uint8(id)]
		position, speed := "-", "-"
		if sv.hasPosition {
			position = fmt.Sprintf("%d", sv.position)
		}
		if sv.hasSpeed {
			speed = fmt.Sprintf("%d", sv.speed)
		}
		if i > 0 {
			c.WriteString("\n")
		}
		c.WriteString(fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
			labelStyle.Render(fmt.Sprintf("ID %3d", sv.id)), headerStyle.Render(dynamixel.FormatInstruction(sv.lastInst)),
			labelStyle.Render("Position:"), valueStyle.Render(position),
			labelStyle.Render("Speed:"), valueStyle.Render(speed),
			labelStyle.Render("Flags:"), valueStyle.Render(sv.flags.String()),
		))
	}
	return c.String()
}

func (m monitorModel) renderLog() string {
	logHeight := max(m.height-20, 5)
	start := max(len(m.errorLog)-logHeight, 0)

	if len(m.errorLog) == 0 {
		return headerStyle.Render("  (no events yet)")
	}

	var c strings.Builder
	for _, entry := range m.errorLog[start:] {
		timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
		if entry.isError {
			c.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
		} else {
			c.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
		}
	}
	return c.String()
}

// runMonitorTUI decodes port traffic into the monitor TUI until the user quits
func runMonitorTUI(port dynamixel.Port, connInfo string) error {
	p := tea.NewProgram(initialMonitorModel(connInfo, sniffAll), tea.WithAltScreen())
	done := make(chan struct{})

	go func() {
		decoder := dynamixel.NewDecoder()
		synchronized := false
		invalidBytesBeforeSync := 0
		buf := make([]byte, 128)

		for {
			select {
			case <-done:
				return
			default:
			}

			n, err := port.Read(buf)
			if err != nil {
				if errors.Is(err, ErrConnectionClosed) {
					p.Send(busClosedMsg{err: err})
					return
				}
				logger.Debug("read error", "err", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}

			for i := 0; i < n; i++ {
				frame, decodeErr := decoder.DecodeByte(buf[i])
				switch {
				case decodeErr != nil:
					if synchronized {
						p.Send(busFrameMsg{decodeErr: decodeErr})
					} else {
						invalidBytesBeforeSync++
					}
				case frame != nil:
					// First frame: we're now synchronized
					if !synchronized {
						synchronized = true
						p.Send(busSyncMsg{invalidBytes: invalidBytesBeforeSync})
					}
					p.Send(busFrameMsg{frame: frame})
				}
			}
		}
	}()

	_, err := p.Run()
	close(done)
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
