package vpn

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/yllada/vpn-dialer/common"
)

// sysClassNet is where the kernel exposes per-interface statistics.
const sysClassNet = "/sys/class/net"

// interfaceCounters reads cumulative byte counters of a network interface.
type interfaceCounters struct {
	root  string
	iface string
}

func newInterfaceCounters(iface string) interfaceCounters {
	return interfaceCounters{root: sysClassNet, iface: iface}
}

func (c interfaceCounters) read(name string) (uint64, error) {
	if c.iface == "" {
		return 0, fmt.Errorf("no interface bound to connection")
	}
	path := filepath.Join(c.root, c.iface, "statistics", name)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}

func (c interfaceCounters) txBytes() (uint64, error) { return c.read("tx_bytes") }
func (c interfaceCounters) rxBytes() (uint64, error) { return c.read("rx_bytes") }

// linkHandle is the Handle shared by the transports: a connection bound to
// one kernel interface, gone once teardown is observed.
type linkHandle struct {
	id       string
	counters interfaceCounters

	gone     chan struct{}
	goneOnce sync.Once
	stale    atomic.Bool
}

func newLinkHandle(id, iface string) *linkHandle {
	return &linkHandle{
		id:       id,
		counters: newInterfaceCounters(iface),
		gone:     make(chan struct{}),
	}
}

func (h *linkHandle) ID() string { return h.id }

// Interface returns the kernel interface carrying the tunnel.
func (h *linkHandle) Interface() string { return h.counters.iface }

func (h *linkHandle) BytesSent() (uint64, error) {
	if h.stale.Load() {
		return 0, common.ErrStaleHandle
	}
	return h.counters.txBytes()
}

func (h *linkHandle) BytesReceived() (uint64, error) {
	if h.stale.Load() {
		return 0, common.ErrStaleHandle
	}
	return h.counters.rxBytes()
}

func (h *linkHandle) Disconnected() <-chan struct{} { return h.gone }

// markGone records the teardown. Safe to call more than once.
func (h *linkHandle) markGone() {
	h.goneOnce.Do(func() {
		h.stale.Store(true)
		close(h.gone)
	})
}
