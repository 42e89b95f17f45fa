package vpn

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/yllada/vpn-dialer/common"
)

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line   string
		want   lineEvent
		wantOK bool
	}{
		{"2024-01-01 12:00:00 Initialization Sequence Completed", lineEvent{kind: lineReady}, true},
		{"2024-01-01 12:00:00 TUN/TAP device tun0 opened", lineEvent{kind: lineDevice, value: "tun0"}, true},
		{"TUN/TAP device tun7 opened", lineEvent{kind: lineDevice, value: "tun7"}, true},
		{"AUTH: Received control message: AUTH_FAILED", lineEvent{kind: lineAuthFailed}, true},
		{"AUTH:CRV1:R,E:abc:def:Enter OTP", lineEvent{kind: lineChallenge}, true},
		{"Options error: --config fails with 'x': No such file", lineEvent{kind: lineFatal, value: "Options error: --config fails with 'x': No such file"}, true},
		{"TUN/TAP device tun0 closed", lineEvent{}, false},
		{"PUSH: Received control message", lineEvent{}, false},
		{"", lineEvent{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := classifyLine(tt.line)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("classifyLine(%q) = %+v, %v, want %+v, %v", tt.line, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestOpenVPN_BuildArgs(t *testing.T) {
	o := NewOpenVPN("/etc/openvpn/office.ovpn", "alice", nil)

	want := []string{"--config", "/etc/openvpn/office.ovpn", "--auth-user-pass", "/tmp/cred", "--verb", "3"}
	if got := o.buildArgs("/tmp/cred"); !reflect.DeepEqual(got, want) {
		t.Errorf("buildArgs() = %v, want %v", got, want)
	}

	want = []string{"--config", "/etc/openvpn/office.ovpn", "--verb", "3"}
	if got := o.buildArgs(""); !reflect.DeepEqual(got, want) {
		t.Errorf("buildArgs(\"\") = %v, want %v", got, want)
	}
}

func TestOpenVPN_Credentials(t *testing.T) {
	stored := func(string) (string, error) { return "s3cret", nil }
	missing := func(string) (string, error) { return "", common.ErrCredentialsNotFound }
	broken := func(string) (string, error) { return "", errors.New("dbus down") }

	tests := []struct {
		name     string
		username string
		source   PasswordSource
		wantUser string
		wantPass string
		wantErr  bool
	}{
		{"stored", "alice", stored, "alice", "s3cret", false},
		{"no source", "alice", nil, "alice", "", false},
		{"missing without username", "", missing, "", "", false},
		{"missing with username", "alice", missing, "", "", true},
		{"keyring error", "alice", broken, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOpenVPN("/x.ovpn", tt.username, tt.source)
			user, pass, err := o.credentials("Office")
			if (err != nil) != tt.wantErr {
				t.Fatalf("credentials() error = %v, wantErr %v", err, tt.wantErr)
			}
			if user != tt.wantUser || pass != tt.wantPass {
				t.Errorf("credentials() = %q, %q, want %q, %q", user, pass, tt.wantUser, tt.wantPass)
			}
		})
	}
}

func TestCreateCredentialsFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "creds")

	path, err := createCredentialsFile(dir, "alice", "s3cret")
	if err != nil {
		t.Fatalf("createCredentialsFile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "alice\ns3cret\n" {
		t.Errorf("file content = %q", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}

	empty, err := createCredentialsFile(dir, "", "")
	if err != nil || empty != "" {
		t.Errorf("createCredentialsFile() without credentials = %q, %v", empty, err)
	}
}

// scriptedOpenVPN runs a shell script in place of openvpn.
func scriptedOpenVPN(t *testing.T, script string) *OpenVPN {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	o := NewOpenVPN("/x.ovpn", "", nil)
	o.credDir = t.TempDir()
	o.command = func(args ...string) *exec.Cmd {
		return exec.Command("sh", "-c", script)
	}
	return o
}

func TestOpenVPN_ConnectDisconnect(t *testing.T) {
	o := scriptedOpenVPN(t, "echo 'TUN/TAP device tun7 opened'; echo 'Initialization Sequence Completed'; exec sleep 30")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := o.Connect(ctx, "Office")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ph, ok := h.(*processHandle)
	if !ok {
		t.Fatalf("Connect() handle type = %T", h)
	}
	if ph.Interface() != "tun7" {
		t.Errorf("Interface() = %q, want tun7", ph.Interface())
	}
	if h.ID() == "" {
		t.Error("ID() is empty")
	}

	if err := o.Disconnect(ctx, h); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	select {
	case <-h.Disconnected():
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnected() not closed after Disconnect")
	}
	if _, err := h.BytesSent(); !errors.Is(err, common.ErrStaleHandle) {
		t.Errorf("BytesSent() after Disconnect error = %v, want ErrStaleHandle", err)
	}

	if err := o.Disconnect(ctx, h); err != nil {
		t.Errorf("second Disconnect() error = %v", err)
	}
}

func TestOpenVPN_ExternalExit(t *testing.T) {
	o := scriptedOpenVPN(t, "echo 'Initialization Sequence Completed'; sleep 1")

	h, err := o.Connect(context.Background(), "Office")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case <-h.Disconnected():
	case <-time.After(3 * time.Second):
		t.Fatal("Disconnected() not closed after process exit")
	}
}

func TestOpenVPN_ConnectFailures(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantErr string
	}{
		{"auth failed", "echo 'AUTH: Received control message: AUTH_FAILED'; exec sleep 30", "authentication failed"},
		{"challenge", "echo 'AUTH:CRV1:R,E:abc:def:OTP'; exec sleep 30", "challenge"},
		{"options error", "echo 'Options error: bad directive'; exec sleep 30", "Options error"},
		{"early exit", "exit 1", "exited"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := scriptedOpenVPN(t, tt.script)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			h, err := o.Connect(ctx, "Office")
			if err == nil {
				t.Fatalf("Connect() handle = %v, want error", h)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Connect() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestOpenVPN_ConnectCancelled(t *testing.T) {
	o := scriptedOpenVPN(t, "exec sleep 30")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := o.Connect(ctx, "Office"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Connect() error = %v, want DeadlineExceeded", err)
	}
}

func TestOpenVPN_ConnectFailureKillsStubbornProcess(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pid")
	o := scriptedOpenVPN(t, "echo $$ > "+pidFile+"; trap '' TERM; exec sleep 30")
	o.stopGrace = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if _, err := o.Connect(ctx, "Office"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect() error = %v, want DeadlineExceeded", err)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parse pid %q: %v", data, err)
	}
	if err := syscall.Kill(pid, 0); !errors.Is(err, syscall.ESRCH) {
		t.Errorf("process %d still present after Connect failed: kill(0) = %v", pid, err)
	}
}

func TestOpenVPN_StopProcessElevates(t *testing.T) {
	if _, err := exec.LookPath("kill"); err != nil {
		t.Skip("kill not available")
	}

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("sleep not available: %v", err)
	}
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		<-exited
	})

	// A released handle refuses direct signals, like a root-owned process.
	proc, err := os.FindProcess(cmd.Process.Pid)
	if err != nil {
		t.Fatal(err)
	}
	if err := proc.Release(); err != nil {
		t.Fatal(err)
	}

	var elevated []string
	o := NewOpenVPN("/x.ovpn", "", nil)
	o.elevate = func(ctx context.Context, args ...string) *exec.Cmd {
		elevated = args
		return exec.CommandContext(ctx, args[0], args[1:]...)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.stopProcess(ctx, proc, syscall.SIGTERM); err != nil {
		t.Fatalf("stopProcess() error = %v", err)
	}

	want := []string{"kill", "-TERM", strconv.Itoa(cmd.Process.Pid)}
	if !reflect.DeepEqual(elevated, want) {
		t.Errorf("elevated command = %v, want %v", elevated, want)
	}

	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		t.Fatal("process still running after elevated kill")
	}
}

func TestOpenVPN_StopProcessElevateFails(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	if err := proc.Release(); err != nil {
		t.Fatal(err)
	}

	o := NewOpenVPN("/x.ovpn", "", nil)
	o.elevate = func(ctx context.Context, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "echo 'Not authorized' >&2; exit 127")
	}

	err = o.stopProcess(context.Background(), proc, syscall.SIGKILL)
	if err == nil || !strings.Contains(err.Error(), "Not authorized") {
		t.Errorf("stopProcess() error = %v, want pkexec output", err)
	}
}
