// Package service manages the logsourced systemd user service unit.
package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/modoterra/logsource/pkg/providers/systemd"
)

// UnitName is the name of the installed user unit.
const UnitName = "logsourced.service"

// BinaryName is the daemon executable looked up on PATH.
const BinaryName = "logsourced"

// UnitContents returns the unit file for binaryPath. A non-empty manifest is
// passed to the daemon with --manifest.
func UnitContents(binaryPath, manifestPath string) string {
	cmdline := binaryPath
	if manifestPath != "" {
		cmdline += " --manifest " + manifestPath
	}
	return fmt.Sprintf(`[Unit]
Description=logsource daemon, forwards application log streams
Documentation=https://github.com/modoterra/logsource

[Service]
Type=notify
ExecStart=%s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`, cmdline)
}

// UnitPath returns the path to the systemd user unit file.
func UnitPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "systemd", "user", UnitName), nil
}

// Install writes the unit file, reloads systemd, and enables and starts the service.
func Install(manifestPath string) error {
	binaryPath, err := exec.LookPath(BinaryName)
	if err != nil {
		return fmt.Errorf("%s not found in PATH: %w", BinaryName, err)
	}
	binaryPath, err = filepath.Abs(binaryPath)
	if err != nil {
		return fmt.Errorf("cannot resolve %s path: %w", BinaryName, err)
	}
	if manifestPath != "" {
		if manifestPath, err = filepath.Abs(manifestPath); err != nil {
			return fmt.Errorf("cannot resolve manifest path: %w", err)
		}
	}

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	if err := os.WriteFile(unitPath, []byte(UnitContents(binaryPath, manifestPath)), 0o644); err != nil {
		return fmt.Errorf("cannot write unit file: %w", err)
	}

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", UnitName)
}

// Uninstall stops and disables the service, removes the unit file, and reloads systemd.
func Uninstall() error {
	// Not running is fine.
	_ = systemctl("stop", UnitName)
	_ = systemctl("disable", UnitName)

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}
	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove unit file: %w", err)
	}
	return systemctl("daemon-reload")
}

// Status returns a human-readable status report. The unit state is read over
// the user D-Bus connection, falling back to systemctl when dial fails.
func Status(ctx context.Context, socketPath string, dial systemd.Dialer) string {
	var lines []string

	if _, err := os.Stat(socketPath); err == nil {
		lines = append(lines, "socket: active ("+socketPath+")")
	} else {
		lines = append(lines, "socket: inactive ("+socketPath+")")
	}

	unitPath, err := UnitPath()
	if err != nil {
		return strings.Join(lines, "\n")
	}
	if _, err := os.Stat(unitPath); err != nil {
		lines = append(lines, "systemd user service: not installed")
		return strings.Join(lines, "\n")
	}
	lines = append(lines, "systemd user service: "+unitState(ctx, dial))
	return strings.Join(lines, "\n")
}

func unitState(ctx context.Context, dial systemd.Dialer) string {
	if dial != nil {
		states, err := systemd.UnitStates(ctx, dial, []string{UnitName})
		if err == nil {
			if st, ok := states[UnitName]; ok {
				if st.MainPID > 0 {
					return fmt.Sprintf("%s (%s, pid %d)", st.ActiveState, st.SubState, st.MainPID)
				}
				return fmt.Sprintf("%s (%s)", st.ActiveState, st.SubState)
			}
		}
	}
	out, runErr := exec.CommandContext(ctx, "systemctl", "--user", "is-active", UnitName).Output()
	state := strings.TrimSpace(string(out))
	if runErr != nil && state == "" {
		state = "unknown"
	}
	return state
}

func systemctl(args ...string) error {
	cmd := exec.Command("systemctl", append([]string{"--user"}, args...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl --user %s: %w", strings.Join(args, " "), err)
	}
	return nil
}
