package vpn

import "sync"

// WatchEvent reports that the transport tore down a connection.
type WatchEvent struct {
	HandleID string
}

// Watcher observes a borrowed Handle for disconnects nobody asked for.
// It never touches transport state; it only reports.
type Watcher struct {
	events chan WatchEvent

	mu    sync.Mutex
	stop  chan struct{}
	wg    sync.WaitGroup
	armed bool
}

// NewWatcher creates an idle watcher.
func NewWatcher() *Watcher {
	return &Watcher{events: make(chan WatchEvent, 1)}
}

// C delivers at most one event per Arm call.
func (w *Watcher) C() <-chan WatchEvent {
	return w.events
}

// Arm starts observing h, replacing any previous handle.
func (w *Watcher) Arm(h Handle) {
	w.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()

	stop := make(chan struct{})
	w.stop = stop
	w.armed = true

	event := WatchEvent{HandleID: h.ID()}
	gone := h.Disconnected()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case <-gone:
		case <-stop:
			return
		}
		select {
		case w.events <- event:
		case <-stop:
		}
	}()
}

// Stop disarms the watcher and waits for its goroutine to exit.
// An undelivered event is discarded. Calling Stop when idle is a no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.armed {
		w.mu.Unlock()
		return
	}
	w.armed = false
	close(w.stop)
	w.mu.Unlock()

	w.wg.Wait()

	select {
	case <-w.events:
	default:
	}
}

// Armed reports whether a handle is being observed.
func (w *Watcher) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}
