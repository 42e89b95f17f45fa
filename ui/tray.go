// Package ui provides the system tray front-end.
package ui

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"fyne.io/systray"

	"github.com/yllada/vpn-dialer/bus"
	"github.com/yllada/vpn-dialer/common"
	"github.com/yllada/vpn-dialer/vpn"
)

// Controller is the part of the coordinator the tray drives.
type Controller interface {
	Toggle(ctx context.Context) error
	Snapshot() vpn.ObservableState
}

// Tray manages the system tray icon and menu.
type Tray struct {
	ctrl Controller
	sub  bus.Subscription
	ctx  context.Context

	statusItem *systray.MenuItem
	uptimeItem *systray.MenuItem
	ratesItem  *systray.MenuItem
	toggleItem *systray.MenuItem

	toggling atomic.Bool
}

// NewTray creates a tray bound to ctrl. sub must be subscribed to
// bus.TopicState.
func NewTray(ctrl Controller, sub bus.Subscription) *Tray {
	return &Tray{ctrl: ctrl, sub: sub, ctx: context.Background()}
}

// Run shows the tray until Quit is chosen or ctx is cancelled.
func (t *Tray) Run(ctx context.Context) error {
	t.ctx = ctx

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			systray.Quit()
		case <-stop:
		}
	}()

	systray.Run(t.onReady, t.onExit)
	return nil
}

func (t *Tray) onReady() {
	systray.SetIcon(IconFor(vpn.VisualDefault))
	systray.SetTitle(common.AppName)

	t.statusItem = systray.AddMenuItem("○  Not Connected", "Current VPN status")
	t.statusItem.Disable()

	t.uptimeItem = systray.AddMenuItem("", "Connection duration")
	t.uptimeItem.Disable()

	t.ratesItem = systray.AddMenuItem("", "Current throughput")
	t.ratesItem.Disable()

	systray.AddSeparator()

	t.toggleItem = systray.AddMenuItem("Connect", "Connect or disconnect")
	go func() {
		for range t.toggleItem.ClickedCh {
			t.toggle()
		}
	}()

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Close "+common.AppName)
	go func() {
		<-quitItem.ClickedCh
		common.LogInfo("Tray: quit requested")
		systray.Quit()
	}()

	t.apply(viewFor(t.ctrl.Snapshot()))
	go t.listen()
}

func (t *Tray) onExit() {
	common.LogInfo("Tray: indicator closed")
}

// listen applies every published state until the subscription closes.
func (t *Tray) listen() {
	for msg := range t.sub {
		if s, ok := msg.(vpn.ObservableState); ok {
			t.apply(viewFor(s))
		}
	}
}

func (t *Tray) toggle() {
	if !t.toggling.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer t.toggling.Store(false)
		err := t.ctrl.Toggle(t.ctx)
		if err != nil && !errors.Is(err, common.ErrOperationInProgress) {
			common.LogWarn("Tray: toggle failed: %v", err)
		}
	}()
}

func (t *Tray) apply(v trayView) {
	systray.SetIcon(v.icon)
	systray.SetTooltip(v.tooltip)

	t.statusItem.SetTitle(v.status)
	t.toggleItem.SetTitle(v.toggle)
	if v.toggleEnabled {
		t.toggleItem.Enable()
	} else {
		t.toggleItem.Disable()
	}

	if !v.showDetails {
		t.uptimeItem.Hide()
		t.ratesItem.Hide()
		return
	}
	t.uptimeItem.SetTitle(v.uptime)
	t.ratesItem.SetTitle(v.rates)
	t.uptimeItem.Show()
	t.ratesItem.Show()
}

// trayView is what the tray shows for one observable state.
type trayView struct {
	icon          []byte
	tooltip       string
	status        string
	uptime        string
	rates         string
	toggle        string
	toggleEnabled bool
	showDetails   bool
}

func viewFor(s vpn.ObservableState) trayView {
	v := trayView{
		icon:          IconFor(s.Visual),
		toggle:        s.ButtonLabel,
		toggleEnabled: s.CanToggle,
		showDetails:   s.Connected,
		uptime:        "    ⏱ Uptime: " + s.ElapsedClock(),
		rates:         fmt.Sprintf("    ↑ %s  ↓ %s", s.UploadLabel(), s.DownloadLabel()),
	}

	switch s.State {
	case vpn.StateConnected:
		v.status = fmt.Sprintf("●  Connected: %s", s.Profile)
		v.tooltip = fmt.Sprintf("%s - Connected to %s", common.AppName, s.Profile)
	case vpn.StateConnecting:
		v.status = fmt.Sprintf("⟳  Connecting: %s...", s.Profile)
		v.tooltip = fmt.Sprintf("%s - Connecting to %s...", common.AppName, s.Profile)
	case vpn.StateDisconnecting:
		v.status = fmt.Sprintf("⟳  Disconnecting: %s...", s.Profile)
		v.tooltip = fmt.Sprintf("%s - Disconnecting...", common.AppName)
	default:
		v.status = "○  Not Connected"
		v.tooltip = fmt.Sprintf("%s - Disconnected", common.AppName)
		if s.LastError != "" {
			v.tooltip += ": " + s.LastError
		}
	}
	return v
}
