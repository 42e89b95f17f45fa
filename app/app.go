// Package app wires the coordinator, its transport and the selected
// front-end into one runnable application.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/yllada/vpn-dialer/bus"
	"github.com/yllada/vpn-dialer/cli"
	"github.com/yllada/vpn-dialer/common"
	"github.com/yllada/vpn-dialer/config"
	"github.com/yllada/vpn-dialer/keyring"
	"github.com/yllada/vpn-dialer/notify"
	"github.com/yllada/vpn-dialer/tui"
	"github.com/yllada/vpn-dialer/ui"
	"github.com/yllada/vpn-dialer/vpn"
)

// Frontend presents the coordinator until the user quits or ctx is done.
type Frontend func(ctx context.Context, c *vpn.Coordinator, sub bus.Subscription) error

// App is a configured application instance.
type App struct {
	cfg         *config.Config
	bus         *bus.PubSubBus
	coordinator *vpn.Coordinator
	frontend    Frontend
	topics      []string
	closers     []io.Closer
}

// New builds the application described by cfg.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.RequireProfile(); err != nil {
		return nil, err
	}

	transport, closer, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}

	a := newApp(cfg, transport, frontendFor(cfg.Frontend))
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	return a, nil
}

func newApp(cfg *config.Config, transport vpn.Transport, frontend Frontend) *App {
	b := bus.New(nil)

	opts := vpn.Options{
		Profile:        cfg.Profile,
		TickInterval:   cfg.TickInterval,
		ConnectTimeout: cfg.ConnectTimeout,
		Bus:            b,
	}

	a := &App{
		cfg:      cfg,
		bus:      b,
		frontend: frontend,
		topics:   []string{bus.TopicState, bus.TopicNotification},
	}

	if cfg.ShowNotifications {
		n := notify.New(common.AppName)
		opts.Notifier = n
		a.closers = append(a.closers, n)
	}

	if cfg.Frontend == common.FrontendTray {
		a.topics = []string{bus.TopicState}
	}

	a.coordinator = vpn.NewCoordinator(transport, opts)
	return a
}

func newTransport(cfg *config.Config) (vpn.Transport, io.Closer, error) {
	switch cfg.Backend {
	case common.BackendOpenVPN:
		common.LogInfo("Using openvpn backend with %s", cfg.OpenVPN.ConfigPath)
		return vpn.NewOpenVPN(cfg.OpenVPN.ConfigPath, cfg.OpenVPN.Username, keyring.Get), nil, nil
	case common.BackendNetworkManager:
		nm, err := vpn.NewNetworkManager()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NetworkManager: %w", err)
		}
		common.LogInfo("Using NetworkManager backend")
		return nm, nm, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown backend %q", common.ErrInvalidConfig, cfg.Backend)
	}
}

func frontendFor(name string) Frontend {
	switch name {
	case common.FrontendTray:
		return func(ctx context.Context, c *vpn.Coordinator, sub bus.Subscription) error {
			return ui.NewTray(c, sub).Run(ctx)
		}
	case common.FrontendHeadless:
		return func(ctx context.Context, c *vpn.Coordinator, sub bus.Subscription) error {
			return cli.Follow(ctx, c, sub, os.Stdout)
		}
	default:
		return func(ctx context.Context, c *vpn.Coordinator, sub bus.Subscription) error {
			return tui.Run(ctx, c, sub)
		}
	}
}

// Run runs the coordinator and the front-end until either stops or ctx is
// cancelled. When the front-end exits the coordinator is shut down, which
// tears down a held connection.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := a.bus.Subscribe(a.topics...)
	defer a.bus.Unsubscribe(sub)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return a.coordinator.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return a.frontend(gctx, a.coordinator, sub)
	})

	err := g.Wait()
	common.LogInfo("%s stopped", common.AppName)
	return err
}

// Close releases the bus, the notifier and the transport connection.
func (a *App) Close() {
	a.bus.Close()
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			common.LogWarn("Close failed: %v", err)
		}
	}
}
