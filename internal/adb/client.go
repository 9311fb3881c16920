// Package adb drives an Android emulator through the adb binary. The
// storefront uses it to install credential files and to walk the game's
// account-link screens on a 960x540 emulator.
package adb

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/lrgstore/idstore/pkg/logger"
)

// DefaultPorts are the loopback ports common emulators listen on.
var DefaultPorts = []int{7555, 5555, 16384, 62001, 21503}

// DefaultServerAddr is where a locally started adb daemon listens.
const DefaultServerAddr = "127.0.0.1:5037"

// Client shells out to the adb binary. A zero serial means "first device".
type Client struct {
	path       string
	serverAddr string
	ports      []int
	serial     string
	log        *logger.Logger
}

// NewClient creates a client for the given adb binary path and daemon
// address. An empty path falls back to "adb" on PATH, an empty address to
// DefaultServerAddr and nil ports to DefaultPorts.
func NewClient(path, serverAddr string, ports []int, log *logger.Logger) *Client {
	if path == "" {
		path = "adb"
	}
	if serverAddr == "" {
		serverAddr = DefaultServerAddr
	}
	if len(ports) == 0 {
		ports = DefaultPorts
	}
	if log == nil {
		log = logger.NewDefault("adb")
	}
	return &Client{path: path, serverAddr: serverAddr, ports: ports, log: log}
}

// Serial returns the serial of the connected device, or empty.
func (c *Client) Serial() string {
	return c.serial
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	if c.serial != "" && len(args) > 0 && args[0] != "connect" && args[0] != "devices" && args[0] != "start-server" {
		args = append([]string{"-s", c.serial}, args...)
	}
	cmd := exec.CommandContext(ctx, c.path, args...)
	cmd.Env = append(os.Environ(), "ANDROID_ADB_SERVER_SOCKET=tcp:"+c.serverAddr)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("adb %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// StartServer launches the adb daemon if it is not already running.
func (c *Client) StartServer(ctx context.Context) error {
	_, err := c.run(ctx, "start-server")
	return err
}

// Devices lists the serials of devices in "device" state.
func (c *Client) Devices(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "devices")
	if err != nil {
		return nil, err
	}

	var serials []string
	for _, line := range strings.Split(out, "\n")[1:] {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == "device" {
			serials = append(serials, fields[0])
		}
	}
	return serials, nil
}

// Connect finds an emulator, probing the known loopback ports when no device
// is attached, and remembers the first serial it sees.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.StartServer(ctx); err != nil {
		return err
	}

	serials, err := c.Devices(ctx)
	if err != nil {
		return err
	}
	if len(serials) == 0 {
		c.log.Debugf("no devices attached, probing ports %v", c.ports)
		for _, port := range c.ports {
			// Failures are expected for ports with no emulator.
			_, _ = c.run(ctx, "connect", fmt.Sprintf("127.0.0.1:%d", port))
		}
		if serials, err = c.Devices(ctx); err != nil {
			return err
		}
	}
	if len(serials) == 0 {
		return fmt.Errorf("no devices found, is the emulator running")
	}

	c.serial = serials[0]
	c.log.Infof("connected to device %s", c.serial)
	return nil
}

// Connected reports whether a device serial has been established.
func (c *Client) Connected() bool {
	return c.serial != ""
}

// Shell runs a shell command on the device.
func (c *Client) Shell(ctx context.Context, command string) (string, error) {
	return c.run(ctx, "shell", command)
}

// ShellSu runs a shell command as root.
func (c *Client) ShellSu(ctx context.Context, command string) (string, error) {
	return c.Shell(ctx, fmt.Sprintf("su -c '%s'", command))
}

// Push copies a local file onto the device.
func (c *Client) Push(ctx context.Context, local, remote string) error {
	_, err := c.run(ctx, "push", local, remote)
	return err
}

// Pull copies a device file to the local filesystem.
func (c *Client) Pull(ctx context.Context, remote, local string) error {
	_, err := c.run(ctx, "pull", remote, local)
	return err
}

// Screenshot captures the screen to a local PNG file.
func (c *Client) Screenshot(ctx context.Context, local string) error {
	const devicePath = "/sdcard/screenshot.png"
	if _, err := c.Shell(ctx, "screencap -p "+devicePath); err != nil {
		return err
	}
	if err := c.Pull(ctx, devicePath, local); err != nil {
		return err
	}
	_, _ = c.Shell(ctx, "rm "+devicePath)
	return nil
}

// WaitContext sleeps for the duration unless the context ends first.
func WaitContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
