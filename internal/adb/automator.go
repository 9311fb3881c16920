package adb

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrgstore/idstore/pkg/logger"
)

// Device is the subset of Client the automator drives. Tests substitute a
// scripted fake.
type Device interface {
	Connect(ctx context.Context) error
	Connected() bool
	Shell(ctx context.Context, command string) (string, error)
	ShellSu(ctx context.Context, command string) (string, error)
	Push(ctx context.Context, local, remote string) error
	Screenshot(ctx context.Context, local string) error
}

// StatusFunc receives step-by-step progress lines during automation.
type StatusFunc func(message string)

// LinkResult is the outcome of a completed login automation.
type LinkResult struct {
	Message string
	// VerificationCode is the on-screen 2FA match code, when one appeared.
	VerificationCode string
}

// Screen regions on the 960x540 emulator used to detect the Google 2FA page
// and to read the match code it displays.
var (
	twoFactorHeaderCrop = image.Rect(200, 190, 760, 235)
	twoFactorFooterCrop = image.Rect(30, 480, 400, 540)
	twoFactorCodeCrop   = image.Rect(390, 50, 570, 125)
)

// Automator walks the game's account-link screens. All coordinates assume a
// 960x540 emulator resolution.
type Automator struct {
	device  Device
	ocr     OCR
	pkg     string
	prefDir string
	prefile string
	workDir string
	log     *logger.Logger

	sleep      func(ctx context.Context, d time.Duration) error
	status     StatusFunc
	totalSteps int
	step       int
}

// AutomatorConfig configures an Automator.
type AutomatorConfig struct {
	// GamePackage is the Android package the credential file belongs to.
	GamePackage string
	// PrefFilename is the shared preference file name inside the package.
	PrefFilename string
	// WorkDir holds screenshots taken during automation.
	WorkDir string
}

// NewAutomator creates an automator over the given device.
func NewAutomator(device Device, ocr OCR, cfg AutomatorConfig, log *logger.Logger) *Automator {
	if log == nil {
		log = logger.NewDefault("automator")
	}
	return &Automator{
		device:  device,
		ocr:     ocr,
		pkg:     cfg.GamePackage,
		prefDir: fmt.Sprintf("/data/data/%s/shared_prefs", cfg.GamePackage),
		prefile: cfg.PrefFilename,
		workDir: cfg.WorkDir,
		log:     log,
		sleep:   WaitContext,
	}
}

// SetSleeper overrides the inter-step delay, used by tests to run instantly.
func (a *Automator) SetSleeper(sleep func(ctx context.Context, d time.Duration) error) {
	a.sleep = sleep
}

// SetStatusFunc sets the progress callback for subsequent runs.
func (a *Automator) SetStatusFunc(fn StatusFunc) {
	a.status = fn
}

func (a *Automator) report(step int, message string) {
	if step > 0 {
		a.step = step
	}
	line := fmt.Sprintf("[%d/%d] %s", a.step, a.totalSteps, message)
	a.log.Info(line)
	if a.status != nil {
		a.status(line)
	}
}

// Connect ensures a device connection exists.
func (a *Automator) Connect(ctx context.Context) error {
	if a.device.Connected() {
		return nil
	}
	return a.device.Connect(ctx)
}

// TransferPreferences stops the game and installs the credential file into
// its shared preferences using root.
func (a *Automator) TransferPreferences(ctx context.Context, localXML string) error {
	if err := a.Connect(ctx); err != nil {
		return err
	}
	if _, err := os.Stat(localXML); err != nil {
		return fmt.Errorf("credential file: %w", err)
	}

	a.report(1, "transferring credential file")

	if _, err := a.device.Shell(ctx, "am force-stop "+a.pkg); err != nil {
		return err
	}
	if err := a.sleep(ctx, time.Second); err != nil {
		return err
	}

	tempPath := "/sdcard/" + a.prefile
	targetPath := a.prefDir + "/" + a.prefile
	if err := a.device.Push(ctx, localXML, tempPath); err != nil {
		return fmt.Errorf("push credential file: %w", err)
	}

	if _, err := a.device.ShellSu(ctx, "rm -f "+targetPath); err != nil {
		return err
	}
	if _, err := a.device.ShellSu(ctx, fmt.Sprintf("mv %s %s", tempPath, targetPath)); err != nil {
		return fmt.Errorf("install credential file: %w", err)
	}
	if _, err := a.device.ShellSu(ctx, "chmod 777 "+targetPath); err != nil {
		return err
	}

	a.report(0, "credential file installed")
	return nil
}

// StartApp launches the game via its launcher intent.
func (a *Automator) StartApp(ctx context.Context) error {
	_, err := a.device.Shell(ctx, fmt.Sprintf("monkey -p %s -c android.intent.category.LAUNCHER 1", a.pkg))
	return err
}

func (a *Automator) tap(ctx context.Context, x, y int, delay time.Duration) error {
	if _, err := a.device.Shell(ctx, fmt.Sprintf("input tap %d %d", x, y)); err != nil {
		return err
	}
	return a.sleep(ctx, delay)
}

func (a *Automator) text(ctx context.Context, value string) error {
	escaped := strings.NewReplacer(" ", "%s", "'", `\'`, "@", `\@`).Replace(value)
	if _, err := a.device.Shell(ctx, fmt.Sprintf("input text '%s'", escaped)); err != nil {
		return err
	}
	return a.sleep(ctx, 500*time.Millisecond)
}

func (a *Automator) keyevent(ctx context.Context, code int, delay time.Duration) error {
	if _, err := a.device.Shell(ctx, fmt.Sprintf("input keyevent %d", code)); err != nil {
		return err
	}
	return a.sleep(ctx, delay)
}

func (a *Automator) back(ctx context.Context, delay time.Duration) error {
	return a.keyevent(ctx, 4, delay)
}

func (a *Automator) pageDown(ctx context.Context, delay time.Duration) error {
	return a.keyevent(ctx, 93, delay)
}

// LinkAccount drives the full login flow for the given provider. method is
// "google" or "line".
func (a *Automator) LinkAccount(ctx context.Context, method, customerID, customerPass string) (LinkResult, error) {
	if err := a.Connect(ctx); err != nil {
		return LinkResult{}, err
	}

	if strings.EqualFold(method, "google") {
		a.totalSteps = 15
	} else {
		a.totalSteps = 12
	}
	a.step = 0

	_, _ = a.device.Shell(ctx, "settings put system show_touches 1")
	_, _ = a.device.Shell(ctx, "settings put system pointer_location 1")

	a.report(1, "waiting for game to load")
	if err := a.sleep(ctx, 30*time.Second); err != nil {
		return LinkResult{}, err
	}

	a.report(2, "closing check-in popup")
	for i := 0; i < 4; i++ {
		if err := a.tap(ctx, 814, 62, 1500*time.Millisecond); err != nil {
			return LinkResult{}, err
		}
	}

	a.report(3, "clearing popups")
	for i := 0; i < 100; i++ {
		if err := a.back(ctx, 150*time.Millisecond); err != nil {
			return LinkResult{}, err
		}
	}
	if err := a.sleep(ctx, time.Second); err != nil {
		return LinkResult{}, err
	}

	a.report(4, "cancelling exit dialog")
	if err := a.tap(ctx, 400, 380, time.Second); err != nil {
		return LinkResult{}, err
	}

	a.report(5, "opening settings")
	if err := a.tap(ctx, 845, 500, 1500*time.Millisecond); err != nil {
		return LinkResult{}, err
	}

	a.report(6, "selecting account tab")
	if err := a.tap(ctx, 710, 90, time.Second); err != nil {
		return LinkResult{}, err
	}

	a.report(7, "pressing connect")
	if err := a.tap(ctx, 580, 345, 1500*time.Millisecond); err != nil {
		return LinkResult{}, err
	}

	if strings.EqualFold(method, "google") {
		a.report(8, "selecting google login")
		return a.loginGoogle(ctx, customerID, customerPass)
	}
	a.report(8, "selecting line login")
	return a.loginLine(ctx, customerID, customerPass)
}

func (a *Automator) loginLine(ctx context.Context, username, password string) (LinkResult, error) {
	if err := a.tap(ctx, 480, 430, 2*time.Second); err != nil {
		return LinkResult{}, err
	}

	a.report(9, "entering line id")
	if err := a.tap(ctx, 480, 315, 500*time.Millisecond); err != nil {
		return LinkResult{}, err
	}
	if err := a.text(ctx, username); err != nil {
		return LinkResult{}, err
	}

	a.report(10, "entering password")
	if err := a.tap(ctx, 480, 420, 500*time.Millisecond); err != nil {
		return LinkResult{}, err
	}
	if err := a.text(ctx, password); err != nil {
		return LinkResult{}, err
	}

	a.report(11, "logging in")
	if err := a.tap(ctx, 480, 530, 8*time.Second); err != nil {
		return LinkResult{}, err
	}

	a.report(12, "accepting consent screens")
	steps := [][2]int{{480, 425}, {920, 215}, {920, 410}, {920, 520}}
	delays := []time.Duration{2 * time.Second, time.Second, time.Second, time.Second}
	for i, pt := range steps {
		if err := a.tap(ctx, pt[0], pt[1], delays[i]); err != nil {
			return LinkResult{}, err
		}
	}
	if err := a.pageDown(ctx, time.Second); err != nil {
		return LinkResult{}, err
	}
	if err := a.tap(ctx, 415, 405, 1500*time.Millisecond); err != nil {
		return LinkResult{}, err
	}
	if err := a.tap(ctx, 480, 410, time.Second); err != nil {
		return LinkResult{}, err
	}

	a.report(12, "line login complete")
	return LinkResult{Message: "LINE login complete"}, nil
}

func (a *Automator) loginGoogle(ctx context.Context, username, password string) (LinkResult, error) {
	if err := a.tap(ctx, 480, 245, 3*time.Second); err != nil {
		return LinkResult{}, err
	}

	a.report(9, "entering email")
	if err := a.sleep(ctx, 2*time.Second); err != nil {
		return LinkResult{}, err
	}
	if err := a.tap(ctx, 430, 430, 500*time.Millisecond); err != nil {
		return LinkResult{}, err
	}
	if err := a.text(ctx, username); err != nil {
		return LinkResult{}, err
	}

	a.report(10, "pressing next")
	if err := a.tap(ctx, 860, 500, 3*time.Second); err != nil {
		return LinkResult{}, err
	}

	a.report(11, "entering password")
	if err := a.tap(ctx, 400, 400, 500*time.Millisecond); err != nil {
		return LinkResult{}, err
	}
	if err := a.text(ctx, password); err != nil {
		return LinkResult{}, err
	}

	a.report(12, "confirming")
	if err := a.tap(ctx, 860, 500, 5*time.Second); err != nil {
		return LinkResult{}, err
	}

	a.report(13, "checking for 2FA challenge")
	if err := a.sleep(ctx, 3*time.Second); err != nil {
		return LinkResult{}, err
	}

	if a.detectTwoFactor(ctx) {
		return a.handleTwoFactor(ctx)
	}

	a.report(14, "accepting consent screens")
	if err := a.pageDown(ctx, time.Second); err != nil {
		return LinkResult{}, err
	}
	steps := [][2]int{
		{825, 280}, {110, 495}, {810, 505}, {810, 505}, {70, 510},
		{630, 440}, {555, 360}, {480, 410}, {920, 220}, {920, 415}, {920, 520},
	}
	delays := []time.Duration{
		1500 * time.Millisecond, 1500 * time.Millisecond, 1500 * time.Millisecond,
		1500 * time.Millisecond, 1500 * time.Millisecond, 1500 * time.Millisecond,
		time.Second, 2500 * time.Millisecond, time.Second, time.Second, time.Second,
	}
	for i, pt := range steps {
		if err := a.tap(ctx, pt[0], pt[1], delays[i]); err != nil {
			return LinkResult{}, err
		}
	}
	if err := a.pageDown(ctx, time.Second); err != nil {
		return LinkResult{}, err
	}
	if err := a.tap(ctx, 415, 405, time.Second); err != nil {
		return LinkResult{}, err
	}

	a.report(15, "google login complete")
	return LinkResult{Message: "Google login complete"}, nil
}

// detectTwoFactor screenshots the screen and looks for the Google challenge
// page markers. Without OCR the check always reports false.
func (a *Automator) detectTwoFactor(ctx context.Context) bool {
	if a.ocr == nil || !a.ocr.Available() {
		return false
	}

	shot := filepath.Join(a.workDir, "2fa_check.png")
	if err := a.device.Screenshot(ctx, shot); err != nil {
		a.log.WithError(err).Warn("screenshot for 2FA check failed")
		return false
	}

	for _, probe := range []struct {
		text string
		crop image.Rectangle
	}{
		{"verify it's you", twoFactorHeaderCrop},
		{"2-step verification", twoFactorHeaderCrop},
		{"try another way", twoFactorFooterCrop},
	} {
		text, err := a.ocr.Text(ctx, shot, probe.crop)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(text), probe.text) {
			return true
		}
	}
	return false
}

// handleTwoFactor surfaces the on-screen match code so the buyer can confirm
// the prompt on their own phone. Consent continues later via Phase2.
func (a *Automator) handleTwoFactor(ctx context.Context) (LinkResult, error) {
	a.report(13, "2FA challenge detected")
	if err := a.keyevent(ctx, 62, 2*time.Second); err != nil {
		return LinkResult{}, err
	}

	a.report(13, "reading match code")
	shot := filepath.Join(a.workDir, "2fa_code.png")
	if err := a.device.Screenshot(ctx, shot); err != nil {
		return LinkResult{Message: "2FA challenge detected, no code read"}, nil
	}

	code, err := a.ocr.Digits(ctx, shot, twoFactorCodeCrop)
	if err != nil || code == "" {
		a.report(13, "no match code found")
		return LinkResult{Message: "2FA challenge detected, no code read"}, nil
	}
	if len(code) > 2 {
		code = code[:2]
	}

	a.report(13, "match code "+code)
	return LinkResult{
		Message:          "Found 2FA code: " + code,
		VerificationCode: code,
	}, nil
}

// ContinuePhase2 resumes the consent flow after the buyer confirmed the 2FA
// prompt on their phone.
func (a *Automator) ContinuePhase2(ctx context.Context) error {
	if err := a.Connect(ctx); err != nil {
		return err
	}

	a.totalSteps = 19
	a.step = 0
	a.report(1, "resuming consent flow")

	scrollDown := func() error {
		for i := 0; i < 30; i++ {
			if err := a.keyevent(ctx, 20, 50*time.Millisecond); err != nil {
				return err
			}
		}
		return a.sleep(ctx, time.Second)
	}

	if err := scrollDown(); err != nil {
		return err
	}
	if err := a.tap(ctx, 95, 415, 1500*time.Millisecond); err != nil {
		return err
	}

	a.report(9, "scrolling down")
	if err := scrollDown(); err != nil {
		return err
	}

	a.report(10, "accepting consent screens")
	steps := [][2]int{
		{825, 285}, {110, 490}, {265, 490}, {75, 490},
		{860, 505}, {75, 490}, {860, 505}, {75, 490},
		{485, 410}, {75, 490}, {920, 215}, {920, 410}, {920, 520},
	}
	delays := []time.Duration{
		1500 * time.Millisecond, 1500 * time.Millisecond, 1500 * time.Millisecond, 1500 * time.Millisecond,
		time.Second, 1500 * time.Millisecond, 1500 * time.Millisecond, 1500 * time.Millisecond,
		1500 * time.Millisecond, 1500 * time.Millisecond, time.Second, time.Second, time.Second,
	}
	for i, pt := range steps {
		if err := a.tap(ctx, pt[0], pt[1], delays[i]); err != nil {
			return err
		}
	}

	a.report(18, "final scroll")
	if err := a.pageDown(ctx, time.Second); err != nil {
		return err
	}
	if err := a.tap(ctx, 415, 405, time.Second); err != nil {
		return err
	}

	a.report(19, "phase 2 complete")
	return nil
}
