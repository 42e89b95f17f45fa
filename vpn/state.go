package vpn

// ConnectionState represents the lifecycle state of the dialed connection.
type ConnectionState int

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates a connection is being established.
	StateConnecting
	// StateConnected indicates an active, established connection.
	StateConnected
	// StateDisconnecting indicates the connection is being terminated.
	StateDisconnecting
)

// String returns a human-readable representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting..."
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting..."
	default:
		return "Unknown"
	}
}

// ButtonLabel returns the label of the toggle command in this state.
func (s ConnectionState) ButtonLabel() string {
	switch s {
	case StateConnecting:
		return "Connecting..."
	case StateConnected:
		return "Disconnect"
	case StateDisconnecting:
		return "Disconnecting..."
	default:
		return "Connect"
	}
}

// InFlight reports whether a connect or disconnect is outstanding.
func (s ConnectionState) InFlight() bool {
	return s == StateConnecting || s == StateDisconnecting
}

// Visual selects the background/icon variant shown by front-ends.
func (s ConnectionState) Visual() Visual {
	switch s {
	case StateConnected:
		return VisualConnected
	case StateConnecting, StateDisconnecting:
		return VisualConnecting
	default:
		return VisualDefault
	}
}

// Visual is the visual-state selector exposed to front-ends.
type Visual int

const (
	VisualDefault Visual = iota
	VisualConnecting
	VisualConnected
)

// String returns the variant name.
func (v Visual) String() string {
	switch v {
	case VisualConnecting:
		return "connecting"
	case VisualConnected:
		return "connected"
	default:
		return "default"
	}
}
