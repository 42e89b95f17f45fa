// Package tui is the terminal front-end: a single-screen dashboard bound to
// the coordinator's observable state.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/yllada/vpn-dialer/bus"
	"github.com/yllada/vpn-dialer/common"
	"github.com/yllada/vpn-dialer/vpn"
)

// Controller is the part of the coordinator the dashboard drives.
type Controller interface {
	Toggle(ctx context.Context) error
	Snapshot() vpn.ObservableState
}

type stateMsg vpn.ObservableState

type noteMsg vpn.Notification

type toggleDoneMsg struct {
	err error
}

type busClosedMsg struct{}

// Model is the bubbletea model of the dashboard.
type Model struct {
	ctx  context.Context
	ctrl Controller
	sub  bus.Subscription

	state    vpn.ObservableState
	note     *vpn.Notification
	err      error
	toggling bool

	keys    keyMap
	help    help.Model
	spinner spinner.Model
	width   int
}

// New creates the dashboard. sub must be subscribed to bus.TopicState and
// bus.TopicNotification.
func New(ctx context.Context, ctrl Controller, sub bus.Subscription) Model {
	if ctx == nil {
		ctx = context.Background()
	}
	return Model{
		ctx:     ctx,
		ctrl:    ctrl,
		sub:     sub,
		state:   ctrl.Snapshot(),
		keys:    defaultKeyMap(),
		help:    help.New(),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(stateStyle(vpn.VisualConnecting))),
	}
}

// Run shows the dashboard until the user quits or ctx is cancelled.
func Run(ctx context.Context, ctrl Controller, sub bus.Subscription) error {
	p := tea.NewProgram(New(ctx, ctrl, sub), tea.WithContext(ctx), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("terminal UI failed: %w", err)
	}
	return nil
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForBus(m.sub), m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Toggle):
			if m.toggling || !m.state.CanToggle {
				return m, nil
			}
			m.toggling = true
			m.err = nil
			return m, toggleCmd(m.ctx, m.ctrl)
		}
		return m, nil

	case toggleDoneMsg:
		m.toggling = false
		if msg.err != nil && !errors.Is(msg.err, common.ErrOperationInProgress) {
			m.err = msg.err
		}
		m.state = m.ctrl.Snapshot()
		return m, nil

	case stateMsg:
		m.state = vpn.ObservableState(msg)
		return m, waitForBus(m.sub)

	case noteMsg:
		n := vpn.Notification(msg)
		m.note = &n
		return m, waitForBus(m.sub)

	case busClosedMsg:
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	s := m.state
	var b strings.Builder

	title := common.AppName
	if s.Profile != "" {
		title += " · " + s.Profile
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	glyph := stateGlyph(s.Visual)
	if s.State.InFlight() {
		glyph = m.spinner.View()
	}
	b.WriteString(glyph + " " + stateStyle(s.Visual).Render(s.StateLabel))
	b.WriteString("\n\n")

	b.WriteString(labelStyle.Render("Elapsed") + s.ElapsedClock() + "\n")
	b.WriteString(labelStyle.Render("Upload") + s.UploadLabel() + "\n")
	b.WriteString(labelStyle.Render("Download") + s.DownloadLabel() + "\n\n")

	button := buttonStyle
	if !s.CanToggle || m.toggling {
		button = buttonDisabledStyle
	}
	b.WriteString(button.Render(s.ButtonLabel))
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(m.err.Error()) + "\n")
	case m.note != nil && m.note.Kind == vpn.NotifyError:
		b.WriteString(errorStyle.Render(m.note.Title+": "+m.note.Message) + "\n")
	case m.note != nil:
		b.WriteString(noteStyle.Render(m.note.Title+": "+m.note.Message) + "\n")
	}

	b.WriteString("\n" + m.help.View(m.keys))
	return frameStyle.Render(b.String())
}

func toggleCmd(ctx context.Context, ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		return toggleDoneMsg{err: ctrl.Toggle(ctx)}
	}
}

// waitForBus blocks for the next state or notification on sub.
func waitForBus(sub bus.Subscription) tea.Cmd {
	return func() tea.Msg {
		for {
			msg, ok := <-sub
			if !ok {
				return busClosedMsg{}
			}
			switch v := msg.(type) {
			case vpn.ObservableState:
				return stateMsg(v)
			case vpn.Notification:
				return noteMsg(v)
			}
		}
	}
}
