package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yllada/vpn-dialer/bus"
	"github.com/yllada/vpn-dialer/common"
	"github.com/yllada/vpn-dialer/vpn"
)

func observable(state vpn.ConnectionState) vpn.ObservableState {
	return vpn.ObservableState{
		State:       state,
		StateLabel:  state.String(),
		ButtonLabel: state.ButtonLabel(),
		Visual:      state.Visual(),
		Connected:   state == vpn.StateConnected,
		CanToggle:   !state.InFlight(),
		Profile:     "Office",
	}
}

// scriptedController publishes a fixed event sequence when toggled.
type scriptedController struct {
	mu      sync.Mutex
	state   vpn.ObservableState
	sub     bus.Subscription
	events  []any
	close   bool
	toggles int
}

func (c *scriptedController) Toggle(ctx context.Context) error {
	c.mu.Lock()
	c.toggles++
	c.mu.Unlock()

	for _, ev := range c.events {
		c.sub <- ev
	}
	if c.close {
		close(c.sub)
	}
	return nil
}

func (c *scriptedController) Snapshot() vpn.ObservableState {
	return c.state
}

func (c *scriptedController) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toggles
}

func TestFollow_ConnectsAndPrintsTransitions(t *testing.T) {
	connected := observable(vpn.StateConnected)
	ticked := connected
	ticked.Elapsed = time.Second

	sub := make(bus.Subscription, 8)
	ctrl := &scriptedController{
		state: observable(vpn.StateDisconnected),
		sub:   sub,
		events: []any{
			observable(vpn.StateConnecting),
			connected,
			vpn.Notification{Kind: vpn.NotifyConnected, Title: "VPN Connected", Message: "Connected to Office"},
			ticked,
		},
		close: true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	if err := Follow(ctx, ctrl, sub, &out); err != nil {
		t.Fatalf("Follow() error = %v", err)
	}

	want := "○ Disconnected\n" +
		"⟳ Connecting...\n" +
		"● Connected to Office\n" +
		"  VPN Connected: Connected to Office\n"
	if out.String() != want {
		t.Errorf("Follow() output =\n%s\nwant\n%s", out.String(), want)
	}
	if ctrl.count() != 1 {
		t.Errorf("Toggle() called %d times, want 1", ctrl.count())
	}
}

func TestFollow_AlreadyConnected(t *testing.T) {
	sub := make(bus.Subscription, 1)
	ctrl := &scriptedController{state: observable(vpn.StateConnected), sub: sub}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var out bytes.Buffer
	go func() {
		done <- Follow(ctx, ctrl, sub, &out)
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Follow() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Follow() did not return after cancel")
	}

	if ctrl.count() != 0 {
		t.Errorf("Toggle() called %d times, want 0", ctrl.count())
	}
	if !strings.HasPrefix(out.String(), "● Connected to Office") {
		t.Errorf("Follow() output = %q", out.String())
	}
}

func TestPrintState_LastError(t *testing.T) {
	s := observable(vpn.StateDisconnected)
	s.LastError = "no valid secrets"

	var out bytes.Buffer
	printState(&out, s)
	if got := out.String(); got != "○ Disconnected (no valid secrets)\n" {
		t.Errorf("printState() = %q", got)
	}
}

func stdinFrom(t *testing.T, content string) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "stdin")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestSetPassword(t *testing.T) {
	tests := []struct {
		name      string
		profile   string
		input     string
		storeErr  error
		wantStore string
		wantErr   bool
	}{
		{"stores line", "Office", "s3cret\n", nil, "s3cret", false},
		{"no trailing newline", "Office", "s3cret", nil, "s3cret", false},
		{"crlf", "Office", "s3cret\r\n", nil, "s3cret", false},
		{"empty password", "Office", "\n", nil, "", true},
		{"no input", "Office", "", nil, "", true},
		{"no profile", " ", "s3cret\n", nil, "", true},
		{"store fails", "Office", "s3cret\n", errors.New("locked"), "s3cret", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stored string
			store := func(profile, password string) error {
				if profile != tt.profile {
					t.Errorf("store() profile = %q, want %q", profile, tt.profile)
				}
				stored = password
				return tt.storeErr
			}

			var out bytes.Buffer
			err := setPassword(tt.profile, stdinFrom(t, tt.input), &out, store)
			if (err != nil) != tt.wantErr {
				t.Fatalf("setPassword() error = %v, wantErr %v", err, tt.wantErr)
			}
			if stored != tt.wantStore {
				t.Errorf("stored password = %q, want %q", stored, tt.wantStore)
			}
			if !tt.wantErr && !strings.Contains(out.String(), "Password stored for Office") {
				t.Errorf("output = %q", out.String())
			}
		})
	}

	err := setPassword("", stdinFrom(t, "x\n"), &bytes.Buffer{}, nil)
	if !errors.Is(err, common.ErrInvalidConfig) {
		t.Errorf("setPassword(\"\") error = %v, want ErrInvalidConfig", err)
	}
}

func TestClearPassword(t *testing.T) {
	tests := []struct {
		name       string
		profile    string
		stored     bool
		deleteErr  error
		wantDelete bool
		wantOut    string
		wantErr    bool
	}{
		{"removes stored", "Office", true, nil, true, "Password removed for Office", false},
		{"nothing stored", "Office", false, nil, false, "No password stored for Office", false},
		{"delete fails", "Office", true, errors.New("locked"), true, "", true},
		{"no profile", "  ", true, nil, false, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deleted := false
			exists := func(profile string) bool {
				if profile != tt.profile {
					t.Errorf("exists() profile = %q, want %q", profile, tt.profile)
				}
				return tt.stored
			}
			del := func(profile string) error {
				deleted = true
				return tt.deleteErr
			}

			var out bytes.Buffer
			err := clearPassword(tt.profile, &out, exists, del)
			if (err != nil) != tt.wantErr {
				t.Fatalf("clearPassword() error = %v, wantErr %v", err, tt.wantErr)
			}
			if deleted != tt.wantDelete {
				t.Errorf("delete called = %v, want %v", deleted, tt.wantDelete)
			}
			if !strings.Contains(out.String(), tt.wantOut) {
				t.Errorf("output = %q, want %q", out.String(), tt.wantOut)
			}
		})
	}
}
