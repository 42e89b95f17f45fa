// Package cli provides the command-line side of VPN Dialer: one-shot
// commands and the headless front-end that prints connection events to the
// terminal instead of drawing a UI.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/yllada/vpn-dialer/bus"
	"github.com/yllada/vpn-dialer/common"
	"github.com/yllada/vpn-dialer/keyring"
	"github.com/yllada/vpn-dialer/vpn"
)

// Controller is the part of the coordinator the headless front-end drives.
type Controller interface {
	Toggle(ctx context.Context) error
	Snapshot() vpn.ObservableState
}

// SetPassword prompts for the password of profile and stores it in the keyring.
func SetPassword(profile string) error {
	return setPassword(profile, os.Stdin, os.Stdout, keyring.Store)
}

func setPassword(profile string, in *os.File, out io.Writer, store func(profile, password string) error) error {
	if strings.TrimSpace(profile) == "" {
		return fmt.Errorf("%w: no profile configured, use --profile", common.ErrInvalidConfig)
	}

	fmt.Fprintf(out, "Password for %s: ", profile)
	password, err := readPassword(in)
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return errors.New("password must not be empty")
	}

	if err := store(profile, password); err != nil {
		return fmt.Errorf("failed to store password: %w", err)
	}

	fmt.Fprintf(out, "✓ Password stored for %s\n", profile)
	return nil
}

// ClearPassword removes the stored password of profile from the keyring.
func ClearPassword(profile string) error {
	return clearPassword(profile, os.Stdout, keyring.Exists, keyring.Delete)
}

func clearPassword(profile string, out io.Writer, exists func(profile string) bool, del func(profile string) error) error {
	if strings.TrimSpace(profile) == "" {
		return fmt.Errorf("%w: no profile configured, use --profile", common.ErrInvalidConfig)
	}

	if !exists(profile) {
		fmt.Fprintf(out, "No password stored for %s\n", profile)
		return nil
	}
	if err := del(profile); err != nil {
		return fmt.Errorf("failed to remove password: %w", err)
	}

	fmt.Fprintf(out, "✓ Password removed for %s\n", profile)
	return nil
}

// readPassword reads without echo from a terminal, or one line otherwise.
func readPassword(in *os.File) (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		return string(b), err
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Follow is the headless front-end. It connects if disconnected, then prints
// every state transition and notification to w until ctx is cancelled or
// the subscription closes. sub must be subscribed to bus.TopicState and
// bus.TopicNotification.
func Follow(ctx context.Context, ctrl Controller, sub bus.Subscription, w io.Writer) error {
	last := ctrl.Snapshot()
	printState(w, last)

	toggled := make(chan error, 1)
	if last.State == vpn.StateDisconnected {
		go func() {
			toggled <- ctrl.Toggle(ctx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-toggled:
			if err != nil && ctx.Err() == nil {
				fmt.Fprintf(w, "Error: %v\n", err)
			}

		case msg, ok := <-sub:
			if !ok {
				return nil
			}
			switch v := msg.(type) {
			case vpn.ObservableState:
				if v.State != last.State {
					printState(w, v)
				}
				last = v
			case vpn.Notification:
				fmt.Fprintf(w, "  %s: %s\n", v.Title, v.Message)
			}
		}
	}
}

func printState(w io.Writer, s vpn.ObservableState) {
	switch s.State {
	case vpn.StateConnected:
		fmt.Fprintf(w, "● %s to %s\n", s.StateLabel, s.Profile)
	case vpn.StateConnecting, vpn.StateDisconnecting:
		fmt.Fprintf(w, "⟳ %s\n", s.StateLabel)
	default:
		if s.LastError != "" {
			fmt.Fprintf(w, "○ %s (%s)\n", s.StateLabel, s.LastError)
			return
		}
		fmt.Fprintf(w, "○ %s\n", s.StateLabel)
	}
}

// PrintHelp prints CLI usage help.
func PrintHelp() {
	fmt.Println(`VPN Dialer - dial and monitor a single VPN connection

Usage:
  vpn-dialer [OPTIONS]

Options:
  --profile NAME    Connection to dial (overrides the config file)
  --backend NAME    Transport: networkmanager or openvpn
  --tray            Run as a system tray indicator
  --headless        Connect and print connection events until interrupted
  --set-password    Store the password for the profile in the keyring
  --clear-password  Remove the stored password for the profile
  --save-config     Write --profile, --backend and front-end choices to the config file
  --config PATH     Use an alternative configuration file
  --verbose         Enable verbose logging
  --version         Show version and exit
  --help            Show this help message

Examples:
  vpn-dialer --profile "Office"
  vpn-dialer --tray
  vpn-dialer --backend openvpn --set-password
  vpn-dialer --headless
  vpn-dialer --profile "Office" --backend networkmanager --save-config

Notes:
  - Without --tray or --headless the terminal dashboard is shown
  - Configuration lives in ~/.config/vpn-dialer/config.yaml`)
}
