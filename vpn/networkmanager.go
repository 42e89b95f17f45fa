package vpn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/vpn-dialer/common"
)

// D-Bus names used to drive NetworkManager.
const (
	nmDest          = "org.freedesktop.NetworkManager"
	nmPath          = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmSettingsPath  = dbus.ObjectPath("/org/freedesktop/NetworkManager/Settings")
	nmIface         = "org.freedesktop.NetworkManager"
	nmSettingsIface = nmIface + ".Settings"
	nmConnIface     = nmIface + ".Settings.Connection"
	nmActiveIface   = nmIface + ".Connection.Active"
	nmDeviceIface   = nmIface + ".Device"

	nmErrNotActive = nmIface + ".ConnectionNotActive"
	nmErrUnknown   = "org.freedesktop.DBus.Error.UnknownObject"
)

// NM_ACTIVE_CONNECTION_STATE values.
const (
	activeStateUnknown      uint32 = 0
	activeStateActivating   uint32 = 1
	activeStateActivated    uint32 = 2
	activeStateDeactivating uint32 = 3
	activeStateDeactivated  uint32 = 4
)

// deactivateWait bounds how long Disconnect waits for the deactivated signal
// after NetworkManager accepted the request.
const deactivateWait = 15 * time.Second

var activeStateReasons = map[uint32]string{
	0:  "unknown reason",
	1:  "no reason given",
	2:  "disconnected by user",
	3:  "base network connection was interrupted",
	4:  "VPN service stopped unexpectedly",
	5:  "VPN service returned invalid configuration",
	6:  "connection attempt timed out",
	7:  "VPN service did not start in time",
	8:  "VPN service failed to start",
	9:  "no valid secrets",
	10: "invalid secrets",
	11: "connection was removed",
	12: "a dependency of the connection failed",
	13: "failed to create the software device",
	14: "the device was removed",
}

// NetworkManager dials connections defined in NetworkManager over the system bus.
type NetworkManager struct {
	conn *dbus.Conn
}

// NewNetworkManager connects to the system bus.
func NewNetworkManager() (*NetworkManager, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return &NetworkManager{conn: conn}, nil
}

// Close releases the bus connection.
func (nm *NetworkManager) Close() error {
	return nm.conn.Close()
}

type nmHandle struct {
	*linkHandle
	active dbus.ObjectPath
}

// Connect activates the saved connection whose id is profile and waits until
// NetworkManager reports it activated.
func (nm *NetworkManager) Connect(ctx context.Context, profile string) (Handle, error) {
	settingsPath, connType, err := nm.findConnection(ctx, profile)
	if err != nil {
		return nil, err
	}

	// The active path is only known once ActivateConnection returns, so the
	// match rule is added after it. awaitActivated reads the State property
	// once the rule is in place to catch changes emitted in between.
	signals := make(chan *dbus.Signal, 16)
	nm.conn.Signal(signals)

	var active dbus.ObjectPath
	err = nm.conn.Object(nmDest, nmPath).CallWithContext(ctx, nmIface+".ActivateConnection", 0,
		settingsPath, dbus.ObjectPath("/"), dbus.ObjectPath("/")).Store(&active)
	if err != nil {
		nm.conn.RemoveSignal(signals)
		return nil, fmt.Errorf("activation of %q rejected: %w", profile, err)
	}

	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(active),
		dbus.WithMatchInterface(nmActiveIface),
		dbus.WithMatchMember("StateChanged"),
	}
	if err := nm.conn.AddMatchSignalContext(ctx, match...); err != nil {
		nm.conn.RemoveSignal(signals)
		nm.deactivate(active)
		return nil, fmt.Errorf("failed to watch %q: %w", profile, err)
	}

	release := func() {
		nm.conn.RemoveSignal(signals)
		_ = nm.conn.RemoveMatchSignal(match...)
	}

	if err := awaitActivated(ctx, active, nm.activeState, signals); err != nil {
		release()
		if ctx.Err() != nil {
			nm.deactivate(active)
		}
		return nil, fmt.Errorf("%q: %w", profile, err)
	}

	iface := nm.interfaceFor(active, connType)
	h := &nmHandle{linkHandle: newLinkHandle(string(active), iface), active: active}
	common.LogInfo("NetworkManager: %q activated on %s (%s)", profile, iface, active)

	go nm.monitor(h, signals, release)
	return h, nil
}

// Disconnect deactivates the connection and waits until it is gone.
func (nm *NetworkManager) Disconnect(ctx context.Context, h Handle) error {
	nh, ok := h.(*nmHandle)
	if !ok {
		return fmt.Errorf("not a NetworkManager connection: %T", h)
	}

	err := nm.conn.Object(nmDest, nmPath).CallWithContext(ctx, nmIface+".DeactivateConnection", 0, nh.active).Err
	if err != nil {
		if isDBusErrorName(err, nmErrNotActive) || isDBusErrorName(err, nmErrUnknown) {
			nh.markGone()
			return nil
		}
		return err
	}

	timer := time.NewTimer(deactivateWait)
	defer timer.Stop()

	select {
	case <-nh.Disconnected():
		return nil
	case <-timer.C:
		common.LogWarn("NetworkManager: no deactivation signal for %s, assuming gone", nh.active)
		nh.markGone()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// findConnection returns the settings path and type of the connection named profile.
func (nm *NetworkManager) findConnection(ctx context.Context, profile string) (dbus.ObjectPath, string, error) {
	var paths []dbus.ObjectPath
	err := nm.conn.Object(nmDest, nmSettingsPath).CallWithContext(ctx, nmSettingsIface+".ListConnections", 0).Store(&paths)
	if err != nil {
		return "", "", fmt.Errorf("failed to list connections: %w", err)
	}

	for _, path := range paths {
		var settings map[string]map[string]dbus.Variant
		err := nm.conn.Object(nmDest, path).CallWithContext(ctx, nmConnIface+".GetSettings", 0).Store(&settings)
		if err != nil {
			common.LogDebug("NetworkManager: skipping %s: %v", path, err)
			continue
		}
		id, connType := connectionID(settings)
		if id == profile {
			return path, connType, nil
		}
	}

	return "", "", fmt.Errorf("%w: %q", common.ErrProfileNotFound, profile)
}

// awaitActivated checks the current state of active, then follows its
// StateChanged signals until it is activated or deactivated.
func awaitActivated(ctx context.Context, active dbus.ObjectPath, stateOf func(dbus.ObjectPath) (uint32, error), signals <-chan *dbus.Signal) error {
	if state, err := stateOf(active); err == nil {
		switch state {
		case activeStateActivated:
			return nil
		case activeStateDeactivated:
			return errors.New("connection deactivated during activation")
		}
	}

	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				return errors.New("signal channel closed")
			}
			if sig.Path != active {
				continue
			}
			state, reason, ok := parseStateChanged(sig)
			if !ok {
				continue
			}
			switch state {
			case activeStateActivated:
				return nil
			case activeStateDeactivated:
				return errors.New(stateReason(reason))
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// monitor marks h gone once NetworkManager reports it deactivated.
func (nm *NetworkManager) monitor(h *nmHandle, signals <-chan *dbus.Signal, release func()) {
	defer release()
	defer h.markGone()

	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if sig.Path != h.active {
				continue
			}
			state, reason, ok := parseStateChanged(sig)
			if ok && state == activeStateDeactivated {
				common.LogInfo("NetworkManager: %s deactivated: %s", h.active, stateReason(reason))
				return
			}
		case <-h.Disconnected():
			return
		}
	}
}

func (nm *NetworkManager) activeState(active dbus.ObjectPath) (uint32, error) {
	v, err := nm.conn.Object(nmDest, active).GetProperty(nmActiveIface + ".State")
	if err != nil {
		return activeStateUnknown, err
	}
	state, ok := v.Value().(uint32)
	if !ok {
		return activeStateUnknown, fmt.Errorf("unexpected State type %s", v.Signature())
	}
	return state, nil
}

// interfaceFor resolves the kernel interface carrying an active connection.
func (nm *NetworkManager) interfaceFor(active dbus.ObjectPath, connType string) string {
	// VPN plugins bring up their own tun device beside the base device.
	if connType == "vpn" {
		if iface := detectTunInterface(sysClassNet); iface != "" {
			return iface
		}
	}

	v, err := nm.conn.Object(nmDest, active).GetProperty(nmActiveIface + ".Devices")
	if err != nil {
		common.LogWarn("NetworkManager: no devices for %s: %v", active, err)
		return ""
	}
	devices, _ := v.Value().([]dbus.ObjectPath)
	if len(devices) == 0 {
		return ""
	}

	iv, err := nm.conn.Object(nmDest, devices[0]).GetProperty(nmDeviceIface + ".IpInterface")
	if err != nil {
		return ""
	}
	iface, _ := iv.Value().(string)
	return iface
}

// deactivate abandons an activation that Connect will not hand out.
func (nm *NetworkManager) deactivate(active dbus.ObjectPath) {
	ctx, cancel := context.WithTimeout(context.Background(), common.DisconnectTimeout)
	defer cancel()
	err := nm.conn.Object(nmDest, nmPath).CallWithContext(ctx, nmIface+".DeactivateConnection", 0, active).Err
	if err != nil && !isDBusErrorName(err, nmErrNotActive) {
		common.LogWarn("NetworkManager: failed to abandon %s: %v", active, err)
	}
}

// connectionID extracts connection.id and connection.type from GetSettings output.
func connectionID(settings map[string]map[string]dbus.Variant) (id, connType string) {
	section, ok := settings["connection"]
	if !ok {
		return "", ""
	}
	if v, ok := section["id"]; ok {
		id, _ = v.Value().(string)
	}
	if v, ok := section["type"]; ok {
		connType, _ = v.Value().(string)
	}
	return id, connType
}

// parseStateChanged decodes a Connection.Active StateChanged (uu) signal.
func parseStateChanged(sig *dbus.Signal) (state, reason uint32, ok bool) {
	if sig == nil || sig.Name != nmActiveIface+".StateChanged" || len(sig.Body) < 2 {
		return 0, 0, false
	}
	state, ok1 := sig.Body[0].(uint32)
	reason, ok2 := sig.Body[1].(uint32)
	return state, reason, ok1 && ok2
}

func stateReason(reason uint32) string {
	if text, ok := activeStateReasons[reason]; ok {
		return text
	}
	return fmt.Sprintf("reason %d", reason)
}

// detectTunInterface returns the first tun device listed under root.
func detectTunInterface(root string) string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "tun") {
			return e.Name()
		}
	}
	return ""
}

func isDBusErrorName(err error, want string) bool {
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErrPtr) && dbusErrPtr != nil && dbusErrPtr.Name == want {
		return true
	}

	var dbusErr dbus.Error
	return errors.As(err, &dbusErr) && dbusErr.Name == want
}
