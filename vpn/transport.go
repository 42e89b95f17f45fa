package vpn

import "context"

// Transport establishes and tears down the dialed connection.
// Implementations must be safe to call from any goroutine.
type Transport interface {
	// Connect dials the named profile and blocks until it is up or has failed.
	Connect(ctx context.Context, profile string) (Handle, error)
	// Disconnect tears down h and blocks until the transport has released it.
	Disconnect(ctx context.Context, h Handle) error
}

// Handle is an opaque reference to one live connection.
//
// After teardown the counter methods return common.ErrStaleHandle.
type Handle interface {
	// ID identifies this connection instance.
	ID() string
	// BytesSent returns the cumulative bytes transmitted.
	BytesSent() (uint64, error)
	// BytesReceived returns the cumulative bytes received.
	BytesReceived() (uint64, error)
	// Disconnected is closed when the transport observes a teardown,
	// whether or not it was requested.
	Disconnected() <-chan struct{}
}
