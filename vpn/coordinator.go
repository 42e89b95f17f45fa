package vpn

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/yllada/vpn-dialer/bus"
	"github.com/yllada/vpn-dialer/common"
)

// Ticker is the periodic source driving elapsed time and sampling.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Options configures a Coordinator.
type Options struct {
	// Profile is the connection name passed to Transport.Connect.
	Profile string
	// TickInterval is the refresh period while connected.
	TickInterval time.Duration
	// ConnectTimeout bounds Transport.Connect. Zero leaves it to the transport.
	ConnectTimeout time.Duration
	// Notifier receives desktop notifications. May be nil.
	Notifier common.Notifier
	// Bus receives state snapshots and notifications. May be nil.
	Bus bus.MessageBus
	// Logger defaults to the application logger.
	Logger common.Logger

	// Clock and NewTicker are replaced in tests.
	Clock     func() time.Time
	NewTicker func(time.Duration) Ticker
}

type toggleRequest struct {
	reply chan error
}

type connectResult struct {
	session uint64
	handle  Handle
	err     error
}

type disconnectResult struct {
	session uint64
	err     error
}

// Coordinator owns the lifecycle of the single dialed connection.
//
// All state below the channels is touched only by the Run goroutine.
type Coordinator struct {
	transport Transport
	opts      Options
	log       common.Logger

	requests chan toggleRequest
	events   chan any
	done     chan struct{}
	started  atomic.Bool

	surface *Surface
	sampler *Sampler
	watcher *Watcher

	state     ConnectionState
	handle    Handle
	startedAt time.Time
	ticker    Ticker
	tickC     <-chan time.Time
	session   uint64
	pending   chan error
	opCancel  context.CancelFunc
	lastError string
}

// NewCoordinator creates a coordinator dialing opts.Profile over transport.
// Nothing happens until Run is called.
func NewCoordinator(transport Transport, opts Options) *Coordinator {
	if opts.TickInterval <= 0 {
		opts.TickInterval = common.TickInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewTicker == nil {
		opts.NewTicker = newTimeTicker
	}
	if opts.Logger == nil {
		opts.Logger = common.GetLogger().Component("coordinator")
	}

	return &Coordinator{
		transport: transport,
		opts:      opts,
		log:       opts.Logger,
		requests:  make(chan toggleRequest),
		events:    make(chan any),
		done:      make(chan struct{}),
		surface:   newSurface(disconnectedState(opts.Profile, ""), opts.Bus),
		sampler:   NewSampler(opts.TickInterval),
		watcher:   NewWatcher(),
		state:     StateDisconnected,
	}
}

// Snapshot returns the current observable state.
func (c *Coordinator) Snapshot() ObservableState {
	return c.surface.Snapshot()
}

// Done is closed once Run has returned.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Toggle connects when disconnected and disconnects when connected.
//
// It blocks until the transport call it started has settled. While another
// operation is in flight it returns common.ErrOperationInProgress and does
// nothing. Transport failures are reported through notifications and
// ObservableState.LastError, never as the returned error.
func (c *Coordinator) Toggle(ctx context.Context) error {
	reply := make(chan error, 1)

	select {
	case c.requests <- toggleRequest{reply: reply}:
	case <-c.done:
		return common.ErrCoordinatorStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return common.ErrCoordinatorStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes requests and events until ctx is cancelled.
// On return any held connection has been torn down. Run may be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return common.ErrAlreadyRunning
	}
	defer close(c.done)

	c.log.Info("Coordinator started for profile %q", c.opts.Profile)
	c.surface.set(disconnectedState(c.opts.Profile, ""))

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			c.log.Info("Coordinator stopped")
			return nil
		case req := <-c.requests:
			c.handleToggle(ctx, req)
		case ev := <-c.events:
			c.handleResult(ev)
		case ev := <-c.watcher.C():
			c.handleWatch(ev)
		case <-c.tickC:
			c.handleTick()
		}
	}
}

func (c *Coordinator) handleToggle(ctx context.Context, req toggleRequest) {
	switch c.state {
	case StateDisconnected:
		c.beginConnect(ctx, req.reply)
	case StateConnected:
		c.beginDisconnect(ctx, req.reply)
	default:
		c.log.Debug("Toggle rejected while %s", c.state)
		req.reply <- common.ErrOperationInProgress
	}
}

func (c *Coordinator) beginConnect(ctx context.Context, reply chan error) {
	c.session++
	session := c.session
	c.pending = reply
	c.lastError = ""
	c.state = StateConnecting
	c.surface.set(stateFor(StateConnecting, c.opts.Profile, ""))

	var (
		opCtx  context.Context
		cancel context.CancelFunc
	)
	// Cancelled by shutdown, not by ctx directly, so the result is always
	// consumed by the loop.
	base := context.WithoutCancel(ctx)
	if c.opts.ConnectTimeout > 0 {
		opCtx, cancel = context.WithTimeout(base, c.opts.ConnectTimeout)
	} else {
		opCtx, cancel = context.WithCancel(base)
	}
	c.opCancel = cancel

	c.log.Info("Connecting to %q", c.opts.Profile)
	go func() {
		h, err := c.transport.Connect(opCtx, c.opts.Profile)
		c.post(connectResult{session: session, handle: h, err: err})
	}()
}

func (c *Coordinator) beginDisconnect(ctx context.Context, reply chan error) {
	c.stopTicker()
	c.watcher.Stop()

	c.session++
	session := c.session
	c.pending = reply
	c.state = StateDisconnecting
	h := c.handle

	c.surface.update(func(s *ObservableState) {
		next := stateFor(StateDisconnecting, c.opts.Profile, c.lastError)
		next.Elapsed = s.Elapsed
		next.HandleID = s.HandleID
		*s = next
	})

	c.log.Info("Disconnecting from %q", c.opts.Profile)
	opCtx := context.WithoutCancel(ctx)
	go func() {
		err := c.transport.Disconnect(opCtx, h)
		c.post(disconnectResult{session: session, err: err})
	}()
}

// post delivers a transport result to the Run goroutine. A connection that
// comes up after Run has returned is torn down here.
func (c *Coordinator) post(ev any) {
	select {
	case c.events <- ev:
	case <-c.done:
		if r, ok := ev.(connectResult); ok && r.err == nil && r.handle != nil {
			c.releaseOrphan(r.handle)
		}
	}
}

func (c *Coordinator) releaseOrphan(h Handle) {
	c.log.Warn("Releasing connection %s that outlived its request", h.ID())
	ctx, cancel := context.WithTimeout(context.Background(), common.DisconnectTimeout)
	defer cancel()
	if err := c.transport.Disconnect(ctx, h); err != nil {
		c.log.Error("Failed to release connection %s: %v", h.ID(), err)
	}
}

func (c *Coordinator) handleResult(ev any) {
	switch r := ev.(type) {
	case connectResult:
		c.handleConnectResult(r)
	case disconnectResult:
		c.handleDisconnectResult(r)
	}
}

func (c *Coordinator) handleConnectResult(r connectResult) {
	if r.session != c.session || c.state != StateConnecting {
		if r.err == nil && r.handle != nil {
			go c.releaseOrphan(r.handle)
		}
		return
	}
	c.finishOp()

	if r.err == nil && r.handle == nil {
		r.err = fmt.Errorf("transport returned no connection")
	}
	if r.err != nil {
		err := fmt.Errorf("%w: %v", common.ErrConnectFailed, r.err)
		c.log.Error("Connect to %q failed: %v", c.opts.Profile, r.err)
		c.enterDisconnected(err.Error())
		c.notify(NotifyError, "Connection Error", fmt.Sprintf("%s: %v", c.opts.Profile, r.err))
		c.settle(nil)
		return
	}

	c.handle = r.handle
	c.startedAt = c.opts.Clock()
	c.sampler.Reset()
	c.watcher.Arm(r.handle)
	c.startTicker()
	c.state = StateConnected

	next := stateFor(StateConnected, c.opts.Profile, "")
	next.HandleID = r.handle.ID()
	c.surface.set(next)

	c.log.Info("Connected to %q (%s)", c.opts.Profile, r.handle.ID())
	c.notify(NotifyConnected, "VPN Connected", "Connected to "+c.opts.Profile)
	c.settle(nil)
}

func (c *Coordinator) handleDisconnectResult(r disconnectResult) {
	if r.session != c.session || c.state != StateDisconnecting {
		return
	}
	c.finishOp()

	if r.err != nil {
		err := fmt.Errorf("%w: %v", common.ErrDisconnectFailed, r.err)
		c.log.Error("Disconnect from %q failed: %v", c.opts.Profile, r.err)
		c.enterDisconnected(err.Error())
		c.notify(NotifyError, "Disconnect Error", fmt.Sprintf("%s: %v", c.opts.Profile, r.err))
		c.settle(nil)
		return
	}

	c.log.Info("Disconnected from %q", c.opts.Profile)
	c.enterDisconnected("")
	c.notify(NotifyDisconnected, "VPN Disconnected", "Disconnected from "+c.opts.Profile)
	c.settle(nil)
}

func (c *Coordinator) handleWatch(ev WatchEvent) {
	if c.handle == nil || c.handle.ID() != ev.HandleID || c.state != StateConnected {
		c.log.Debug("Ignoring stale disconnect event for %s", ev.HandleID)
		return
	}

	c.log.Warn("Connection %s to %q closed by the transport", ev.HandleID, c.opts.Profile)
	c.session++
	c.enterDisconnected("")
	c.notify(NotifyDisconnected, "VPN Disconnected", fmt.Sprintf("Connection to %s was closed", c.opts.Profile))
}

func (c *Coordinator) handleTick() {
	if c.state != StateConnected || c.handle == nil {
		return
	}

	now := c.opts.Clock()
	rates := c.sampler.Sample(c.handle, now)
	elapsed := now.Sub(c.startedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	c.surface.update(func(s *ObservableState) {
		s.Elapsed = elapsed
		s.UploadRate = rates.Upload
		s.DownloadRate = rates.Download
	})
}

// enterDisconnected stops the timer and watcher, clears the handle and resets
// every derived value.
func (c *Coordinator) enterDisconnected(lastError string) {
	c.stopTicker()
	c.watcher.Stop()
	c.handle = nil
	c.startedAt = time.Time{}
	c.sampler.Reset()
	c.state = StateDisconnected
	c.lastError = lastError
	c.surface.set(disconnectedState(c.opts.Profile, lastError))
}

func (c *Coordinator) startTicker() {
	c.stopTicker()
	c.ticker = c.opts.NewTicker(c.opts.TickInterval)
	c.tickC = c.ticker.C()
}

func (c *Coordinator) stopTicker() {
	if c.ticker != nil {
		c.ticker.Stop()
	}
	c.ticker = nil
	c.tickC = nil
}

func (c *Coordinator) finishOp() {
	if c.opCancel != nil {
		c.opCancel()
		c.opCancel = nil
	}
}

// settle answers the Toggle call waiting on the finished operation.
func (c *Coordinator) settle(err error) {
	if c.pending != nil {
		c.pending <- err
		c.pending = nil
	}
}

func (c *Coordinator) notify(kind NotificationKind, title, message string) {
	n := Notification{Kind: kind, Title: title, Message: message, At: c.opts.Clock()}

	if c.opts.Bus != nil {
		c.opts.Bus.Publish(bus.TopicNotification, n)
	}

	if notifier := c.opts.Notifier; notifier != nil {
		go func() {
			if err := notifier.NotifyWithIcon(n.Title, n.Message, kind.Icon()); err != nil {
				c.log.Warn("Notification failed: %v", err)
			}
		}()
	}
}

// shutdown leaves the coordinator Disconnected with nothing held. An
// in-flight connect is cancelled; an in-flight disconnect is awaited.
func (c *Coordinator) shutdown() {
	c.stopTicker()
	c.watcher.Stop()

	if c.state.InFlight() {
		disconnecting := c.state == StateDisconnecting
		c.finishOp()
		c.awaitInFlight(common.DisconnectTimeout)
		if disconnecting {
			c.handle = nil
		}
	}

	if c.handle != nil {
		h := c.handle
		c.handle = nil
		c.log.Info("Disconnecting %s before exit", h.ID())
		ctx, cancel := context.WithTimeout(context.Background(), common.DisconnectTimeout)
		if err := c.transport.Disconnect(ctx, h); err != nil {
			c.log.Error("Disconnect on exit failed: %v", err)
		}
		cancel()
	}

	c.state = StateDisconnected
	c.startedAt = time.Time{}
	c.surface.set(disconnectedState(c.opts.Profile, c.lastError))
	c.settleStopped()
}

// awaitInFlight waits up to timeout for the current operation's result.
// A connection that came up meanwhile is kept in c.handle for teardown.
func (c *Coordinator) awaitInFlight(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-c.events:
			switch r := ev.(type) {
			case connectResult:
				if r.session != c.session {
					if r.err == nil && r.handle != nil {
						go c.releaseOrphan(r.handle)
					}
					continue
				}
				if r.err == nil && r.handle != nil {
					c.handle = r.handle
				}
				return
			case disconnectResult:
				if r.session != c.session {
					continue
				}
				c.handle = nil
				return
			}
		case <-timer.C:
			c.log.Warn("Gave up waiting for %s to finish", c.state)
			return
		}
	}
}

func (c *Coordinator) settleStopped() {
	if c.pending != nil {
		c.pending <- common.ErrCoordinatorStopped
		c.pending = nil
	}
}
