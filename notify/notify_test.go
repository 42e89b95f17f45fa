package notify

import (
	"errors"
	"strings"
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/vpn-dialer/common"
)

var _ common.Notifier = (*DesktopNotifier)(nil)

func TestUrgencyFor(t *testing.T) {
	tests := []struct {
		icon string
		want byte
	}{
		{"network-vpn", UrgencyLow},
		{"network-vpn-disconnected", UrgencyLow},
		{"network-vpn-error", UrgencyCritical},
		{"dialog-error", UrgencyCritical},
		{"dialog-warning", UrgencyNormal},
		{"", UrgencyLow},
	}

	for _, tt := range tests {
		if got := urgencyFor(tt.icon); got != tt.want {
			t.Errorf("urgencyFor(%q) = %d, want %d", tt.icon, got, tt.want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	n := New("VPN Dialer")

	if n.appName != "VPN Dialer" {
		t.Errorf("New() appName = %q, want %q", n.appName, "VPN Dialer")
	}
	if n.timeout != common.NotifyTimeout {
		t.Errorf("New() timeout = %v, want %v", n.timeout, common.NotifyTimeout)
	}
	if n.connect == nil {
		t.Error("New() connect = nil, want session bus dialer")
	}
	if n.fallback == nil {
		t.Error("New() fallback = nil, want beeep")
	}
	if n.conn != nil || n.unusable {
		t.Error("New() dialed the session bus eagerly")
	}
}

type fallbackCall struct {
	title, message, icon string
}

func newOfflineNotifier(fallbackErr error) (*DesktopNotifier, *[]fallbackCall, *int) {
	var calls []fallbackCall
	dials := 0

	n := New("VPN Dialer")
	n.connect = func() (*dbus.Conn, error) {
		dials++
		return nil, errors.New("no session bus")
	}
	n.fallback = func(title, message, icon string) error {
		calls = append(calls, fallbackCall{title, message, icon})
		return fallbackErr
	}
	return n, &calls, &dials
}

func TestDesktopNotifier_FallsBack(t *testing.T) {
	n, calls, dials := newOfflineNotifier(nil)

	if err := n.Notify("VPN Connected", "Connected to Office"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if err := n.NotifyWithIcon("Connection Error", "Office: timeout", "network-vpn-error"); err != nil {
		t.Fatalf("NotifyWithIcon() error = %v", err)
	}

	if len(*calls) != 2 {
		t.Fatalf("fallback calls = %d, want 2", len(*calls))
	}
	if (*calls)[0].icon != DefaultIcon {
		t.Errorf("Notify() icon = %q, want %q", (*calls)[0].icon, DefaultIcon)
	}
	if (*calls)[1].title != "Connection Error" || (*calls)[1].icon != "network-vpn-error" {
		t.Errorf("second call = %+v", (*calls)[1])
	}
	if *dials != 1 {
		t.Errorf("session bus dialed %d times, want 1", *dials)
	}

	if err := n.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestDesktopNotifier_FallbackError(t *testing.T) {
	n, _, _ := newOfflineNotifier(errors.New("no notifier"))

	err := n.Notify("VPN Disconnected", "Disconnected from Office")
	if err == nil {
		t.Fatal("Notify() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "no notifier") || !strings.Contains(err.Error(), "no session bus") {
		t.Errorf("Notify() error = %v, want both causes", err)
	}
}
