// Package common provides shared constants, types, and utilities
// used across the VPN Dialer application.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "com.vpndialer.app"
	// AppName is the display name of the application.
	AppName = "VPN Dialer"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "vpn-dialer"
)

// File names used by the application.
const (
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	LogFileName         = "vpn-dialer.log"
)

// Default timeouts and intervals.
const (
	// TickInterval is how often elapsed time and throughput are refreshed.
	TickInterval = 1 * time.Second
	// DisconnectTimeout bounds the teardown issued during shutdown.
	DisconnectTimeout = 10 * time.Second
	// NotifyTimeout bounds a single desktop notification call.
	NotifyTimeout = 2 * time.Second
	// SamplerWarnInterval throttles repeated sampler read warnings.
	SamplerWarnInterval = 30 * time.Second
)

// Transport backends.
const (
	BackendNetworkManager = "networkmanager"
	BackendOpenVPN        = "openvpn"
)

// Front-end shells.
const (
	FrontendTUI      = "tui"
	FrontendTray     = "tray"
	FrontendHeadless = "headless"
)

// TrayIconSize is the size of the system tray icon.
const TrayIconSize = 22
