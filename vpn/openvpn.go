package vpn

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/yllada/vpn-dialer/common"
)

// defaultStopGrace is how long a stopping openvpn gets after SIGTERM
// before it is killed.
const defaultStopGrace = 5 * time.Second

// PasswordSource returns the stored password for a profile.
type PasswordSource func(profile string) (string, error)

// OpenVPN runs an openvpn client process through pkexec.
type OpenVPN struct {
	configPath string
	username   string
	password   PasswordSource

	command   func(args ...string) *exec.Cmd
	elevate   func(ctx context.Context, args ...string) *exec.Cmd
	credDir   string
	stopGrace time.Duration
}

// NewOpenVPN creates a transport for the given client configuration.
// password may be nil when the configuration needs no credentials.
func NewOpenVPN(configPath, username string, password PasswordSource) *OpenVPN {
	return &OpenVPN{
		configPath: configPath,
		username:   username,
		password:   password,
		command: func(args ...string) *exec.Cmd {
			return exec.Command("pkexec", append([]string{"openvpn"}, args...)...)
		},
		elevate: func(ctx context.Context, args ...string) *exec.Cmd {
			return exec.CommandContext(ctx, "pkexec", args...)
		},
		credDir:   filepath.Join(os.TempDir(), common.ConfigDirName),
		stopGrace: defaultStopGrace,
	}
}

type processHandle struct {
	*linkHandle
	cmd    *exec.Cmd
	exited chan struct{}
}

type lineKind int

const (
	lineReady lineKind = iota + 1
	lineDevice
	lineAuthFailed
	lineChallenge
	lineFatal
)

type lineEvent struct {
	kind  lineKind
	value string
}

// classifyLine picks out the openvpn log lines that drive the connection.
func classifyLine(line string) (lineEvent, bool) {
	switch {
	case strings.Contains(line, "Initialization Sequence Completed"):
		return lineEvent{kind: lineReady}, true
	case strings.Contains(line, "AUTH_FAILED"):
		return lineEvent{kind: lineAuthFailed}, true
	case strings.Contains(line, "AUTH:CRV1") || strings.Contains(line, "CHALLENGE"):
		return lineEvent{kind: lineChallenge}, true
	case strings.Contains(line, "Options error:") || strings.Contains(line, "Exiting due to fatal error"):
		return lineEvent{kind: lineFatal, value: strings.TrimSpace(line)}, true
	}

	// Format: "TUN/TAP device tun0 opened"
	if idx := strings.Index(line, "TUN/TAP device "); idx >= 0 {
		fields := strings.Fields(line[idx+len("TUN/TAP device "):])
		if len(fields) >= 2 && fields[1] == "opened" {
			return lineEvent{kind: lineDevice, value: fields[0]}, true
		}
	}
	return lineEvent{}, false
}

// buildArgs returns the openvpn command line. credFile may be empty.
func (o *OpenVPN) buildArgs(credFile string) []string {
	args := []string{"--config", o.configPath}
	if credFile != "" {
		args = append(args, "--auth-user-pass", credFile)
	}
	return append(args, "--verb", "3")
}

// credentials resolves the username and password for profile.
func (o *OpenVPN) credentials(profile string) (string, string, error) {
	if o.password == nil {
		return o.username, "", nil
	}
	password, err := o.password(profile)
	if errors.Is(err, common.ErrCredentialsNotFound) {
		if o.username != "" {
			return "", "", fmt.Errorf("no password stored for %q, run with --set-password", profile)
		}
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to read credentials: %w", err)
	}
	return o.username, password, nil
}

// Connect starts openvpn and waits for "Initialization Sequence Completed".
func (o *OpenVPN) Connect(ctx context.Context, profile string) (Handle, error) {
	username, password, err := o.credentials(profile)
	if err != nil {
		return nil, err
	}

	credFile, err := createCredentialsFile(o.credDir, username, password)
	if err != nil {
		return nil, fmt.Errorf("failed to create credentials: %w", err)
	}
	cleanup := func() {
		if credFile != "" {
			os.Remove(credFile)
		}
	}

	cmd := o.command(o.buildArgs(credFile)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cleanup()
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cleanup()
		return nil, err
	}

	common.LogInfo("OpenVPN: starting %s for %q", o.configPath, profile)
	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to start openvpn: %w", err)
	}
	common.LogDebug("OpenVPN: process started with PID %d", cmd.Process.Pid)

	events := make(chan lineEvent, 8)
	go monitorOutput(stdout, events)
	go monitorOutput(stderr, events)

	exited := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		cleanup()
		close(exited)
	}()

	iface, err := awaitReady(ctx, events, exited)
	if err != nil {
		select {
		case <-exited:
			if waitErr != nil {
				err = fmt.Errorf("%w (%v)", err, waitErr)
			}
		default:
			// ctx may already be done; stopping gets its own deadline.
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*o.stopGrace)
			if serr := o.terminate(stopCtx, cmd.Process, exited); serr != nil {
				common.LogWarn("OpenVPN: failed to stop process %d: %v", cmd.Process.Pid, serr)
			}
			cancel()
		}
		return nil, err
	}

	if iface == "" {
		iface = detectTunInterface(sysClassNet)
	}

	h := &processHandle{
		linkHandle: newLinkHandle(uuid.NewString(), iface),
		cmd:        cmd,
		exited:     exited,
	}
	go func() {
		<-exited
		common.LogInfo("OpenVPN: process for %s exited", h.ID())
		h.markGone()
	}()

	common.LogInfo("OpenVPN: connection established on %s", iface)
	return h, nil
}

func awaitReady(ctx context.Context, events <-chan lineEvent, exited <-chan struct{}) (string, error) {
	var iface string
	for {
		select {
		case ev := <-events:
			switch ev.kind {
			case lineReady:
				return iface, nil
			case lineDevice:
				iface = ev.value
			case lineAuthFailed:
				return "", errors.New("authentication failed, verify username and password")
			case lineChallenge:
				return "", errors.New("server requested a challenge response, which is not supported")
			case lineFatal:
				return "", errors.New(ev.value)
			}
		case <-exited:
			return "", errors.New("openvpn exited before the tunnel came up")
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// monitorOutput logs every line and forwards the significant ones.
func monitorOutput(pipe io.Reader, events chan<- lineEvent) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		common.LogDebug("OpenVPN: %s", line)

		if ev, ok := classifyLine(line); ok {
			select {
			case events <- ev:
			default:
			}
		}
	}
}

// Disconnect terminates the openvpn process and waits for it to exit.
func (o *OpenVPN) Disconnect(ctx context.Context, h Handle) error {
	ph, ok := h.(*processHandle)
	if !ok {
		return fmt.Errorf("not an openvpn connection: %T", h)
	}

	return o.terminate(ctx, ph.cmd.Process, ph.exited)
}

// terminate sends SIGTERM, escalates to SIGKILL after the grace period
// and waits for exited to close.
func (o *OpenVPN) terminate(ctx context.Context, proc *os.Process, exited <-chan struct{}) error {
	select {
	case <-exited:
		return nil
	default:
	}

	if err := o.stopProcess(ctx, proc, syscall.SIGTERM); err != nil {
		return err
	}

	timer := time.NewTimer(o.stopGrace)
	defer timer.Stop()

	select {
	case <-exited:
		return nil
	case <-timer.C:
		common.LogWarn("OpenVPN: process did not exit after SIGTERM, killing")
		if err := o.stopProcess(ctx, proc, syscall.SIGKILL); err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stopProcess delivers sig to proc. openvpn runs as root under pkexec, so
// when the direct signal is refused it is sent through pkexec kill.
func (o *OpenVPN) stopProcess(ctx context.Context, proc *os.Process, sig syscall.Signal) error {
	err := proc.Signal(sig)
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}

	flag := "-TERM"
	if sig == syscall.SIGKILL {
		flag = "-KILL"
	}
	common.LogDebug("OpenVPN: direct %v to %d failed (%v), using pkexec", sig, proc.Pid, err)
	out, kerr := o.elevate(ctx, "kill", flag, strconv.Itoa(proc.Pid)).CombinedOutput()
	if kerr != nil {
		return fmt.Errorf("failed to stop openvpn: %v: %s", kerr, strings.TrimSpace(string(out)))
	}
	return nil
}

// createCredentialsFile writes an --auth-user-pass file readable only by the user.
func createCredentialsFile(dir, username, password string) (string, error) {
	if username == "" && password == "" {
		return "", nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}

	credFile := filepath.Join(dir, "cred-"+uuid.NewString())
	content := fmt.Sprintf("%s\n%s\n", username, password)

	if err := os.WriteFile(credFile, []byte(content), 0600); err != nil {
		return "", err
	}
	return credFile, nil
}
