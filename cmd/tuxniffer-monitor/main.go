// Command tuxniffer-monitor is a terminal fleet-monitor for a running
// tuxniffer capture session: it polls the session's status/metrics HTTP
// surface (internal/statusserver) and renders queue health, learned key
// counts, and per-device state as a live table.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"
)

type deviceStatus struct {
	ID    int    `json:"id"`
	Port  string `json:"port"`
	Ready bool   `json:"ready"`
	State string `json:"state"`
}

type snapshot struct {
	Uptime       string         `json:"uptime"`
	QueueDepth   int            `json:"queue_depth"`
	QueueDropped int64          `json:"queue_dropped"`
	LinkKeys     int            `json:"link_keys"`
	NetworkKeys  int            `json:"network_keys"`
	Devices      []deviceStatus `json:"devices"`
}

type pollResultMsg struct {
	snap snapshot
	err  error
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFF00"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#34D399"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
)

type model struct {
	client     *http.Client
	addr       string
	interval   time.Duration
	tbl        table.Model
	lastSnap   snapshot
	lastErr    error
	lastPolled time.Time
}

func newModel(addr string, interval time.Duration) model {
	columns := []table.Column{
		{Title: "Device", Width: 8},
		{Title: "Port", Width: 24},
		{Title: "Ready", Width: 7},
		{Title: "State", Width: 14},
	}
	tbl := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(10),
	)
	return model{
		client:   &http.Client{Timeout: 2 * time.Second},
		addr:     addr,
		interval: interval,
		tbl:      tbl,
	}
}

func (m model) Init() tea.Cmd {
	return m.poll()
}

func (m model) poll() tea.Cmd {
	return func() tea.Msg {
		resp, err := m.client.Get(m.addr + "/api/v1/status")
		if err != nil {
			return pollResultMsg{err: err}
		}
		defer resp.Body.Close()

		var snap snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return pollResultMsg{err: err}
		}
		return pollResultMsg{snap: snap}
	}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

type tickMsg struct{}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, m.poll()
	case pollResultMsg:
		m.lastPolled = time.Now()
		if msg.err != nil {
			m.lastErr = msg.err
		} else {
			m.lastErr = nil
			m.lastSnap = msg.snap
			rows := make([]table.Row, len(msg.snap.Devices))
			for i, d := range msg.snap.Devices {
				rows[i] = table.Row{
					fmt.Sprintf("%d", d.ID),
					d.Port,
					fmt.Sprintf("%v", d.Ready),
					d.State,
				}
			}
			m.tbl.SetRows(rows)
		}
		return m, m.tick()
	}
	return m, nil
}

func (m model) View() string {
	header := titleStyle.Render("tuxniffer fleet monitor") + "\n" +
		fmt.Sprintf("source: %s   polled: %s\n", m.addr, m.lastPolled.Format(time.RFC3339))

	if m.lastErr != nil {
		return header + "\n" + errStyle.Render(fmt.Sprintf("poll failed: %v", m.lastErr)) + "\n\nPress q to quit."
	}

	stats := fmt.Sprintf(
		"uptime: %s   queue depth: %d   queue dropped: %d   link keys: %d   network keys: %d\n",
		m.lastSnap.Uptime, m.lastSnap.QueueDepth, m.lastSnap.QueueDropped,
		m.lastSnap.LinkKeys, m.lastSnap.NetworkKeys,
	)

	status := okStyle.Render("connected")
	return header + stats + status + "\n\n" + m.tbl.View() + "\n\nPress q to quit."
}

func main() {
	addr := pflag.StringP("addr", "a", "http://localhost:9099", "base URL of the status server to poll")
	interval := pflag.DurationP("interval", "i", time.Second, "poll interval")
	pflag.Parse()

	p := tea.NewProgram(newModel(*addr, *interval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
