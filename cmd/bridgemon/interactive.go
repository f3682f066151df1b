package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	mgmtbridge "github.com/wippyai/mgmt-bridge"
	"github.com/wippyai/mgmt-bridge/bridge"
	"github.com/wippyai/mgmt-bridge/hostwazero"
	"github.com/wippyai/mgmt-bridge/instrument"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#87CEEB"))

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const refreshEvery = 250 * time.Millisecond

type registeredRow struct {
	name  string
	owner mgmtbridge.IsolateID
}

type monitorModel struct {
	ctx   context.Context
	host  *hostwazero.Host
	reg   *bridge.Registry
	input textinput.Model

	queued     []string
	registered []registeredRow
	used       uint64
	reserved   uint64
	gcCycles   uint32

	status string
	err    error
	ready  bool
}

type bootedMsg struct {
	host *hostwazero.Host
	reg  *bridge.Registry
	err  error
}

type enqueuedMsg struct {
	name string
	err  error
}

type tickMsg time.Time

func newMonitorModel() monitorModel {
	ti := textinput.New()
	ti.Placeholder = "wippy.app:type=Counter,name=..."
	ti.Width = 48
	ti.Focus()

	return monitorModel{
		ctx:   context.Background(),
		input: ti,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(m.boot, tick())
}

func (m monitorModel) boot() tea.Msg {
	host, err := hostwazero.NewHost(m.ctx)
	if err != nil {
		return bootedMsg{err: err}
	}
	guest, err := host.Attach(hostwazero.AttachConfig{IsolateID: 1})
	if err != nil {
		host.Close(m.ctx)
		return bootedMsg{err: err}
	}
	reg := bridge.NewRegistry(guest, nil, bridge.DefaultOptions())
	guest.BindQueue(reg.Bindings())
	ok, err := reg.Bootstrap(m.ctx, guest.Layout())
	if err != nil {
		host.Close(m.ctx)
		return bootedMsg{err: err}
	}
	if !ok {
		host.Close(m.ctx)
		return bootedMsg{err: fmt.Errorf("host declined bootstrap")}
	}
	return bootedMsg{host: host, reg: reg}
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func enqueue(ctx context.Context, reg *bridge.Registry, name string) tea.Cmd {
	return func() tea.Msg {
		proxy, err := reg.NewProxy(instrument.NewCounter(name), name)
		if err != nil {
			return enqueuedMsg{err: err}
		}
		if err := reg.EnqueueAndNotify(ctx, proxy); err != nil {
			return enqueuedMsg{err: err}
		}
		return enqueuedMsg{name: proxy.Name()}
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			if m.reg != nil {
				m.reg.Close(m.ctx)
			}
			if m.host != nil {
				m.host.Close(m.ctx)
			}
			return m, tea.Quit
		case "enter":
			name := strings.TrimSpace(m.input.Value())
			if !m.ready || name == "" {
				return m, nil
			}
			m.input.SetValue("")
			return m, enqueue(m.ctx, m.reg, name)
		}

	case bootedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.host = msg.host
		m.reg = msg.reg
		m.ready = true
		m.status = "isolate 1 bootstrapped"
		return m, nil

	case enqueuedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = ""
			return m, nil
		}
		m.err = nil
		m.status = fmt.Sprintf("queued %s", msg.name)
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tick()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *monitorModel) refresh() {
	if m.reg != nil {
		m.queued = m.reg.PendingNames()
		if mp := m.reg.MemoryPool(); mp != nil {
			mp.Poll()
			if pool, ok := mp.Instrument().(*instrument.MemoryPool); ok {
				m.used = pool.Used()
				m.reserved = pool.Reserved()
				m.gcCycles = pool.GCCycles()
			}
		}
	}
	if m.host != nil {
		names := m.host.RegisteredNames()
		sort.Strings(names)
		rows := make([]registeredRow, 0, len(names))
		for _, name := range names {
			owner, _ := m.host.RegisteredOwner(name)
			rows = append(rows, registeredRow{name: name, owner: owner})
		}
		m.registered = rows
	}
}

func (m monitorModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Bridge Monitor"))
	b.WriteString("\n\n")

	if m.err != nil && !m.ready {
		b.WriteString(errorStyle.Render(fmt.Sprintf("✗ %v", m.err)))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("esc quit"))
		b.WriteString("\n")
		return b.String()
	}
	if !m.ready {
		b.WriteString("Booting host...\n")
		return b.String()
	}

	b.WriteString(fmt.Sprintf("Heap: used %d  reserved %d  gc %d\n\n",
		m.used, m.reserved, m.gcCycles))

	b.WriteString(headerStyle.Render(fmt.Sprintf("Queued (%d)", len(m.queued))))
	b.WriteString("\n")
	if len(m.queued) == 0 {
		b.WriteString(helpStyle.Render("  (empty)"))
		b.WriteString("\n")
	}
	for _, name := range m.queued {
		b.WriteString(fmt.Sprintf("  %s\n", name))
	}
	b.WriteString("\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("Registered (%d)", len(m.registered))))
	b.WriteString("\n")
	for _, row := range m.registered {
		b.WriteString(fmt.Sprintf("  %s  %s\n",
			nameStyle.Render(row.name),
			helpStyle.Render(fmt.Sprintf("isolate %d", row.owner))))
	}
	b.WriteString("\n")

	b.WriteString("New instrument:\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("✗ %v", m.err)))
		b.WriteString("\n")
	} else if m.status != "" {
		b.WriteString(okStyle.Render(fmt.Sprintf("✓ %s", m.status)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter enqueue • esc quit"))
	b.WriteString("\n")

	return b.String()
}

func runInteractive() error {
	p := tea.NewProgram(newMonitorModel(), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
