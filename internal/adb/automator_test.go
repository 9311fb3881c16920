package adb

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeDevice struct {
	connected bool
	commands  []string
	pushes    []string
}

func (d *fakeDevice) Connect(context.Context) error { d.connected = true; return nil }
func (d *fakeDevice) Connected() bool               { return d.connected }

func (d *fakeDevice) Shell(_ context.Context, command string) (string, error) {
	d.commands = append(d.commands, command)
	return "", nil
}

func (d *fakeDevice) ShellSu(ctx context.Context, command string) (string, error) {
	return d.Shell(ctx, "su -c '"+command+"'")
}

func (d *fakeDevice) Push(_ context.Context, local, remote string) error {
	d.pushes = append(d.pushes, local+" -> "+remote)
	return nil
}

func (d *fakeDevice) Screenshot(context.Context, string) error { return nil }

func (d *fakeDevice) contains(fragment string) bool {
	for _, cmd := range d.commands {
		if strings.Contains(cmd, fragment) {
			return true
		}
	}
	return false
}

func newTestAutomator(t *testing.T) (*Automator, *fakeDevice) {
	t.Helper()
	device := &fakeDevice{}
	a := NewAutomator(device, nil, AutomatorConfig{
		GamePackage:  "com.linecorp.LGRGS",
		PrefFilename: "_LINE_COCOS_PREF_KEY.xml",
		WorkDir:      t.TempDir(),
	}, nil)
	a.SetSleeper(func(context.Context, time.Duration) error { return nil })
	return a, device
}

func TestTransferPreferencesInstallsFile(t *testing.T) {
	a, device := newTestAutomator(t)

	source := filepath.Join(t.TempDir(), "creds.xml")
	if err := os.WriteFile(source, []byte("<map/>"), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}

	if err := a.TransferPreferences(context.Background(), source); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if !device.contains("am force-stop com.linecorp.LGRGS") {
		t.Fatal("game was not stopped before transfer")
	}
	if len(device.pushes) != 1 || !strings.Contains(device.pushes[0], "/sdcard/_LINE_COCOS_PREF_KEY.xml") {
		t.Fatalf("unexpected pushes: %v", device.pushes)
	}
	if !device.contains("mv /sdcard/_LINE_COCOS_PREF_KEY.xml /data/data/com.linecorp.LGRGS/shared_prefs/_LINE_COCOS_PREF_KEY.xml") {
		t.Fatal("credential file was not moved into shared_prefs")
	}
}

func TestTransferPreferencesMissingFile(t *testing.T) {
	a, _ := newTestAutomator(t)

	err := a.TransferPreferences(context.Background(), filepath.Join(t.TempDir(), "missing.xml"))
	if err == nil {
		t.Fatal("expected error for missing credential file")
	}
}

func TestLinkAccountLineFlow(t *testing.T) {
	a, device := newTestAutomator(t)

	var statuses []string
	a.SetStatusFunc(func(message string) { statuses = append(statuses, message) })

	result, err := a.LinkAccount(context.Background(), "line", "user@example.com", "hunter2")
	if err != nil {
		t.Fatalf("link account: %v", err)
	}
	if result.Message != "LINE login complete" {
		t.Fatalf("unexpected message %q", result.Message)
	}
	if result.VerificationCode != "" {
		t.Fatalf("line flow should not produce a verification code, got %q", result.VerificationCode)
	}

	if !device.contains("input text 'user\\@example.com'") {
		t.Fatal("username was not typed with escaping")
	}
	if len(statuses) == 0 || !strings.Contains(statuses[0], "[1/12]") {
		t.Fatalf("expected 12-step progress, got %v", statuses)
	}
}

func TestLinkAccountGoogleWithoutOCRSkips2FA(t *testing.T) {
	a, _ := newTestAutomator(t)

	result, err := a.LinkAccount(context.Background(), "google", "user@gmail.com", "hunter2")
	if err != nil {
		t.Fatalf("link account: %v", err)
	}
	if result.VerificationCode != "" {
		t.Fatalf("expected no verification code without OCR, got %q", result.VerificationCode)
	}
	if result.Message != "Google login complete" {
		t.Fatalf("unexpected message %q", result.Message)
	}
}

func TestLinkAccountStopsOnCancelledContext(t *testing.T) {
	a, _ := newTestAutomator(t)
	a.SetSleeper(WaitContext)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.LinkAccount(ctx, "line", "user", "pass"); err == nil {
		t.Fatal("expected context error")
	}
}

func TestContinuePhase2TapsThroughConsent(t *testing.T) {
	a, device := newTestAutomator(t)

	if err := a.ContinuePhase2(context.Background()); err != nil {
		t.Fatalf("phase2: %v", err)
	}
	if !device.contains("input keyevent 20") {
		t.Fatal("expected scroll keyevents")
	}
	if !device.contains("input tap 825 285") {
		t.Fatal("expected consent taps")
	}
}
