// Package notify sends desktop notifications for connection events.
//
// Notifications go to org.freedesktop.Notifications on the session bus.
// When no notification daemon answers, beeep is used instead.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/godbus/dbus/v5"

	"github.com/yllada/vpn-dialer/common"
)

const (
	notifyDest   = "org.freedesktop.Notifications"
	notifyPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod = "org.freedesktop.Notifications.Notify"

	// DefaultIcon is used by Notify.
	DefaultIcon = "network-vpn"
)

// Urgency levels of org.freedesktop.Notifications.
const (
	UrgencyLow      byte = 0
	UrgencyNormal   byte = 1
	UrgencyCritical byte = 2
)

// DesktopNotifier implements common.Notifier.
type DesktopNotifier struct {
	appName string
	timeout time.Duration

	connect  func() (*dbus.Conn, error)
	fallback func(title, message, icon string) error

	mu       sync.Mutex
	conn     *dbus.Conn
	lastID   uint32
	unusable bool
}

// New creates a notifier that labels notifications with appName.
func New(appName string) *DesktopNotifier {
	return &DesktopNotifier{
		appName: appName,
		timeout: common.NotifyTimeout,
		connect: func() (*dbus.Conn, error) {
			return dbus.ConnectSessionBus()
		},
		fallback: func(title, message, icon string) error {
			return beeep.Notify(title, message, icon)
		},
	}
}

// Notify sends a notification with the default icon.
func (n *DesktopNotifier) Notify(title, message string) error {
	return n.NotifyWithIcon(title, message, DefaultIcon)
}

// NotifyWithIcon sends a notification with a freedesktop icon name.
// Each notification replaces the previous one.
func (n *DesktopNotifier) NotifyWithIcon(title, message, icon string) error {
	err := n.notifyDBus(title, message, icon)
	if err == nil {
		return nil
	}

	common.LogDebug("Desktop notification over D-Bus failed, falling back: %v", err)
	if ferr := n.fallback(title, message, icon); ferr != nil {
		return fmt.Errorf("notification failed: %v; fallback: %w", err, ferr)
	}
	return nil
}

func (n *DesktopNotifier) notifyDBus(title, message, icon string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.unusable {
		return fmt.Errorf("session bus unavailable")
	}
	if n.conn == nil {
		conn, err := n.connect()
		if err != nil {
			n.unusable = true
			return err
		}
		n.conn = conn
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(urgencyFor(icon)),
	}

	var id uint32
	err := n.conn.Object(notifyDest, notifyPath).CallWithContext(ctx, notifyMethod, 0,
		n.appName, n.lastID, icon, title, message, []string{}, hints, int32(-1)).Store(&id)
	if err != nil {
		return err
	}
	n.lastID = id
	return nil
}

// Close releases the session bus connection.
func (n *DesktopNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	return err
}

// urgencyFor maps an icon name to an urgency level.
func urgencyFor(icon string) byte {
	switch icon {
	case "network-vpn-error", "dialog-error":
		return UrgencyCritical
	case "dialog-warning":
		return UrgencyNormal
	default:
		return UrgencyLow
	}
}
