// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/tamcoord/pkg/feed"
	"github.com/Thermoquad/tamcoord/pkg/scheduler"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// TAM list items
//////////////////////////////////////////////////////////////

type tamItem struct {
	status feed.TAMStatus
}

// Implement list.Item interface
func (t tamItem) Title() string {
	if !t.status.Resolved {
		return fmt.Sprintf("? %s", addressString(t.status.Address))
	}
	return fmt.Sprintf("%s %s", t.status.ID, addressString(t.status.Address))
}

func (t tamItem) Description() string {
	s := t.status
	robot := "no robot"
	if s.RobotPresent {
		robot = fmt.Sprintf("robot 0x%02X", s.RobotData)
	}
	desc := fmt.Sprintf("%s  %s  %.2fV", s.Color(), robot, s.Voltage)
	if s.Stale {
		desc += "  STALE"
	}
	return desc
}

func (t tamItem) FilterValue() string { return t.status.ID }

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// monitorModel is the Bubble Tea model for the TAM monitor
type monitorModel struct {
	connInfo string
	connLost bool

	snapshot   feed.Snapshot
	lastUpdate time.Time
	tamList    list.Model

	eventLog      []logEntry
	maxLogEntries int

	width    int
	height   int
	quitting bool
}

type monitorTickMsg time.Time

type snapshotMsg feed.Snapshot

type logLineMsg string

type connStateMsg feed.ClientState

func initialMonitorModel(connInfo string) monitorModel {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	tamList := list.New([]list.Item{}, delegate, 60, 10)
	tamList.Title = "TAMs"
	tamList.SetShowStatusBar(false)
	tamList.SetShowHelp(false)
	tamList.SetFilteringEnabled(false)

	return monitorModel{
		connInfo:      connInfo,
		tamList:       tamList,
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
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
		m.updateListSize()

	case monitorTickMsg:
		return m, monitorTickCmd()

	case snapshotMsg:
		m.snapshot = feed.Snapshot(msg)
		m.lastUpdate = time.Now()
		items := make([]list.Item, 0, len(msg.TAMs))
		for _, s := range msg.TAMs {
			items = append(items, tamItem{status: s})
		}
		cmd := m.tamList.SetItems(items)
		return m, cmd

	case logLineMsg:
		line := strings.TrimSpace(string(msg))
		isError := strings.Contains(line, "WRN") || strings.Contains(line, "ERR")
		m.addLogEntry(line, isError)

	case connStateMsg:
		state := feed.ClientState(msg)
		switch state {
		case feed.StateConnected:
			m.connLost = false
			m.addLogEntry("Feed connected", false)
		case feed.StateDisconnected:
			if !m.connLost {
				m.addLogEntry("Feed lost - reconnecting...", true)
			}
			m.connLost = true
		}
	}

	var cmd tea.Cmd
	m.tamList, cmd = m.tamList.Update(msg)
	return m, cmd
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	s.WriteString(titleStyle.Render("TAM COORDINATOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit", connStatus)))
	s.WriteString("\n")

	if m.snapshot.RunID != "" {
		s.WriteString(fmt.Sprintf(" %s %s", labelStyle.Render("Run:"), valueStyle.Render(m.snapshot.RunID)))
	}
	if !m.lastUpdate.IsZero() {
		s.WriteString(fmt.Sprintf("  %s %s", labelStyle.Render("Updated:"),
			valueStyle.Render(fmt.Sprintf("%s ago", time.Since(m.lastUpdate).Round(time.Second)))))
	}
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Width(m.width - 4).Render(m.tamList.View()))
	s.WriteString("\n\n")

	s.WriteString(m.renderSummary(labelStyle, valueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog(labelStyle, warningStyle, errorStyle, headerStyle))

	return s.String()
}

func (m monitorModel) renderSummary(labelStyle, valueStyle, errorStyle, boxStyle lipgloss.Style) string {
	var resolved, stale, robots int
	var failed, decode, mismatch uint64
	for _, t := range m.snapshot.TAMs {
		if t.Resolved {
			resolved++
		}
		if t.Stale {
			stale++
		}
		if t.RobotPresent {
			robots++
		}
		failed += t.FailedCommands
		decode += t.DecodeErrors
		mismatch += t.MismatchErrors
	}

	errors := valueStyle.Render("0")
	if total := failed + decode + mismatch; total > 0 {
		errors = errorStyle.Render(fmt.Sprintf("%d failed / %d decode / %d mismatch", failed, decode, mismatch))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("TAMs:"), valueStyle.Render(fmt.Sprintf("%d", len(m.snapshot.TAMs))),
		labelStyle.Render("Resolved:"), valueStyle.Render(fmt.Sprintf("%d", resolved)),
		labelStyle.Render("Stale:"), valueStyle.Render(fmt.Sprintf("%d", stale)),
		labelStyle.Render("Robots:"), valueStyle.Render(fmt.Sprintf("%d", robots)),
		labelStyle.Render("Errors:"), errors,
	)
	return boxStyle.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderEventLog(labelStyle, warningStyle, errorStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := 8
	if len(m.eventLog) < logHeight {
		logHeight = len(m.eventLog)
	}

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
		return s.String()
	}

	for _, entry := range m.eventLog[len(m.eventLog)-logHeight:] {
		timestamp := entry.timestamp.Format("15:04:05.000")
		icon := "i"
		style := warningStyle
		if entry.isError {
			icon = "x"
			style = errorStyle
		}
		s.WriteString(fmt.Sprintf("  %s %s %s\n", headerStyle.Render(timestamp), style.Render(icon), entry.message))
	}
	return s.String()
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m *monitorModel) updateListSize() {
	listHeight := m.height / 2
	if listHeight < 5 {
		listHeight = 5
	}
	m.tamList.SetSize(m.width-8, listHeight)
}

//////////////////////////////////////////////////////////////
// Program wrapper
//////////////////////////////////////////////////////////////

// monitorProgram runs the monitor TUI. Messages posted from other goroutines
// are queued and dropped when the queue is full, so the coordinator never
// blocks on the terminal.
type monitorProgram struct {
	p    *tea.Program
	msgs chan tea.Msg
	done chan struct{}

	mu      sync.Mutex
	partial []byte
}

func newMonitorProgram(connInfo string) *monitorProgram {
	return &monitorProgram{
		p:    tea.NewProgram(initialMonitorModel(connInfo), tea.WithAltScreen()),
		msgs: make(chan tea.Msg, 256),
		done: make(chan struct{}),
	}
}

func (mp *monitorProgram) post(msg tea.Msg) {
	select {
	case mp.msgs <- msg:
	default:
	}
}

// Write receives log output; each complete line becomes an event log entry
func (mp *monitorProgram) Write(p []byte) (int, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.partial = append(mp.partial, p...)
	for {
		i := bytes.IndexByte(mp.partial, '\n')
		if i < 0 {
			break
		}
		mp.post(logLineMsg(mp.partial[:i]))
		mp.partial = mp.partial[i+1:]
	}
	return len(p), nil
}

// follow posts a snapshot of src every interval until ctx is cancelled
func (mp *monitorProgram) follow(ctx context.Context, src feed.Source, clock scheduler.Clock, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mp.snapshot(feed.Capture(src, clock))
		case <-ctx.Done():
			return
		}
	}
}

func (mp *monitorProgram) snapshot(s feed.Snapshot) {
	mp.post(snapshotMsg(s))
}

func (mp *monitorProgram) connState(s feed.ClientState) {
	mp.post(connStateMsg(s))
}

// run blocks until the TUI exits
func (mp *monitorProgram) run() error {
	defer close(mp.done)

	go func() {
		for {
			select {
			case msg := <-mp.msgs:
				mp.p.Send(msg)
			case <-mp.done:
				return
			}
		}
	}()

	_, err := mp.p.Run()
	return err
}

// quit stops the TUI and waits for the terminal to be restored
func (mp *monitorProgram) quit() {
	mp.p.Quit()
	<-mp.done
}
