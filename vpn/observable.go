package vpn

import (
	"sync"
	"time"

	"github.com/yllada/vpn-dialer/bus"
	"github.com/yllada/vpn-dialer/common"
)

// ObservableState is the read-only view front-ends bind to.
// Connected is true iff State is StateConnected.
type ObservableState struct {
	State        ConnectionState
	StateLabel   string
	ButtonLabel  string
	Visual       Visual
	Elapsed      time.Duration
	Connected    bool
	UploadRate   float64 // bytes per second
	DownloadRate float64 // bytes per second
	CanToggle    bool
	Profile      string
	HandleID     string
	LastError    string
}

// ElapsedClock formats Elapsed as hh:mm:ss.
func (s ObservableState) ElapsedClock() string {
	return common.FormatClock(s.Elapsed)
}

// UploadLabel formats UploadRate for display.
func (s ObservableState) UploadLabel() string {
	return common.FormatRate(s.UploadRate)
}

// DownloadLabel formats DownloadRate for display.
func (s ObservableState) DownloadLabel() string {
	return common.FormatRate(s.DownloadRate)
}

func disconnectedState(profile, lastError string) ObservableState {
	return stateFor(StateDisconnected, profile, lastError)
}

func stateFor(state ConnectionState, profile, lastError string) ObservableState {
	return ObservableState{
		State:       state,
		StateLabel:  state.String(),
		ButtonLabel: state.ButtonLabel(),
		Visual:      state.Visual(),
		Connected:   state == StateConnected,
		CanToggle:   !state.InFlight(),
		Profile:     profile,
		LastError:   lastError,
	}
}

// NotificationKind classifies user-facing notifications.
type NotificationKind int

const (
	NotifyConnected NotificationKind = iota
	NotifyDisconnected
	NotifyError
)

// String returns the kind name.
func (k NotificationKind) String() string {
	switch k {
	case NotifyConnected:
		return "connected"
	case NotifyDisconnected:
		return "disconnected"
	case NotifyError:
		return "error"
	default:
		return "unknown"
	}
}

// Icon returns the freedesktop icon name for the kind.
func (k NotificationKind) Icon() string {
	switch k {
	case NotifyConnected:
		return "network-vpn"
	case NotifyError:
		return "network-vpn-error"
	default:
		return "network-vpn-disconnected"
	}
}

// Notification is a user-facing event emitted by the coordinator.
type Notification struct {
	Kind    NotificationKind
	Title   string
	Message string
	At      time.Time
}

// Surface holds the current ObservableState.
// Only the coordinator goroutine writes; any goroutine may read.
type Surface struct {
	mu    sync.RWMutex
	state ObservableState
	bus   bus.MessageBus
}

func newSurface(initial ObservableState, b bus.MessageBus) *Surface {
	return &Surface{state: initial, bus: b}
}

// Snapshot returns a copy of the current state.
func (s *Surface) Snapshot() ObservableState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// set replaces the state and publishes it.
func (s *Surface) set(state ObservableState) {
	state.Connected = state.State == StateConnected
	state.CanToggle = !state.State.InFlight()

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(bus.TopicState, state)
	}
}

// update applies fn to a copy of the current state and publishes the result.
func (s *Surface) update(fn func(*ObservableState)) {
	state := s.Snapshot()
	fn(&state)
	s.set(state)
}
