// Package main provides the entry point for VPN Dialer.
// VPN Dialer dials a single named VPN connection and shows its state,
// elapsed time and throughput in a terminal dashboard or the system tray.
//
// Usage:
//
//	vpn-dialer [options]
//
// Environment:
//
//	The networkmanager backend needs a running NetworkManager with the
//	connection configured. The openvpn backend needs openvpn and pkexec.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/yllada/vpn-dialer/app"
	"github.com/yllada/vpn-dialer/cli"
	"github.com/yllada/vpn-dialer/common"
	"github.com/yllada/vpn-dialer/config"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")
	configPath  = flag.String("config", "", "Path to the configuration file")

	profile       = flag.String("profile", "", "Connection to dial")
	backend       = flag.String("backend", "", "Transport backend: networkmanager or openvpn")
	trayMode      = flag.Bool("tray", false, "Run as a system tray indicator")
	headless      = flag.Bool("headless", false, "Connect and print connection events")
	setPassword   = flag.Bool("set-password", false, "Store the password for the profile in the keyring")
	clearPassword = flag.Bool("clear-password", false, "Remove the stored password for the profile")
	saveConfig    = flag.Bool("save-config", false, "Write the command-line overrides to the configuration file")
)

func main() {
	flag.Parse()

	if *showHelp {
		cli.PrintHelp()
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("%s v%s\n", common.AppName, appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg)
	defer common.CloseLogger()

	if *saveConfig {
		if err := persistConfig(cfg, *configPath); err != nil {
			common.LogError("Failed to save configuration: %v", err)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		common.LogInfo("Configuration saved")
	}

	switch {
	case *setPassword:
		if err := cli.SetPassword(cfg.Profile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	case *clearPassword:
		if err := cli.ClearPassword(cfg.Profile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if cfg.Backend == common.BackendOpenVPN && !checkOpenVPNInstalled() {
		common.LogError("OpenVPN is not installed on the system")
		fmt.Fprintln(os.Stderr, "Error: OpenVPN is not installed on the system.")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	setupSignalHandler(cancel)

	a, err := app.New(cfg)
	if err != nil {
		common.LogError("Failed to start: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	common.LogInfo("Starting %s v%s (%s, %s)", common.AppName, appVersion, cfg.Backend, cfg.Frontend)
	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		common.LogError("Application error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		a.Close()
		common.CloseLogger()
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFrom(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if *profile != "" {
		cfg.Profile = *profile
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	switch {
	case *headless:
		cfg.Frontend = common.FrontendHeadless
	case *trayMode:
		cfg.Frontend = common.FrontendTray
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// persistConfig writes cfg back to the file it was loaded from.
func persistConfig(cfg *config.Config, path string) error {
	if path == "" {
		return cfg.Save()
	}
	return cfg.SaveTo(path)
}

// initLogging configures the application logger. The terminal dashboard
// owns the screen, so console output is discarded and only the log file
// is written.
func initLogging(cfg *config.Config) {
	logLevel, err := common.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		logLevel = common.LevelInfo
	}
	if *verbose {
		logLevel = common.LevelDebug
	}

	if err := common.InitLogger(common.LogConfig{
		Level:       logLevel,
		EnableFile:  true,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	if cfg.Frontend == common.FrontendTUI {
		common.GetLogger().SetOutput(io.Discard)
	}
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
// When a signal is received, it cancels the context, which disconnects
// a held connection before the application exits.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}

// checkOpenVPNInstalled verifies that openvpn and pkexec are in PATH.
func checkOpenVPNInstalled() bool {
	for _, bin := range []string{"openvpn", "pkexec"} {
		if _, err := exec.LookPath(bin); err != nil {
			return false
		}
	}
	return true
}
