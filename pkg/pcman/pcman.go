// Package pcman controls the managed machine: system metrics, process
// listing, shell execution, screenshots and power scheduling. Two
// implementations exist: local (pcwarden runs on the machine itself)
// and ssh (pcwarden reaches the machine over the network).
package pcman

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pcwarden/pcwarden/pkg/config"
	"github.com/sirupsen/logrus"
)

// SafeCommands may be executed by non-admin users via /cmd.
var SafeCommands = []string{
	"ls", "pwd", "whoami", "hostname", "uname",
	"df", "free", "uptime", "date", "ps",
	"ip", "cat", "echo", "lsblk", "lscpu",
}

// SystemInfo is a snapshot of machine-level metrics.
type SystemInfo struct {
	Hostname    string
	CPUPercent  float64
	MemUsed     uint64
	MemTotal    uint64
	MemPercent  float64
	DiskUsed    uint64
	DiskTotal   uint64
	DiskPercent float64
	Uptime      time.Duration
}

// ProcessInfo describes one running process.
type ProcessInfo struct {
	Name       string
	CPUPercent float64
	MemPercent float64
}

// ExecResult is the outcome of a shell command execution.
type ExecResult struct {
	Success  bool
	Output   string
	Error    string
	Refused  bool // command not in the allowlist; nothing was executed
	TimedOut bool
}

// Controller is the machine-control contract consumed by the bot.
type Controller interface {
	// CheckOnline reports whether the machine is reachable.
	CheckOnline(ctx context.Context) bool

	SystemInfo(ctx context.Context) (*SystemInfo, error)
	Processes(ctx context.Context, limit int) ([]ProcessInfo, error)

	// Execute runs a shell command. A non-nil allowlist restricts
	// execution to commands whose first token is in SafeCommands or
	// the allowlist; admins pass nil.
	Execute(ctx context.Context, command string, allowlist []string) *ExecResult

	// Screenshot captures the desktop as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	ScheduleReboot(ctx context.Context, delay time.Duration) error
	ScheduleShutdown(ctx context.Context, delay time.Duration) error
	CancelShutdown(ctx context.Context) error
}

// NewController selects the implementation based on configuration.
func NewController(
	log logrus.FieldLogger,
	cfg *config.PCConfig,
) (Controller, error) {
	if cfg.SSH != nil && cfg.SSH.Enabled {
		return newSSHController(log, cfg)
	}

	return newLocalController(log, cfg), nil
}

// commandAllowed checks the command's first token against the safe
// list and any extra allowlist entries.
func commandAllowed(command string, extra []string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}

	base := fields[0]

	for _, allowed := range SafeCommands {
		if base == allowed {
			return true
		}
	}

	for _, allowed := range extra {
		if base == allowed {
			return true
		}
	}

	return false
}

// refusedResult builds the outcome for a disallowed command.
func refusedResult(command string) *ExecResult {
	base := ""
	if fields := strings.Fields(command); len(fields) > 0 {
		base = fields[0]
	}

	return &ExecResult{
		Refused: true,
		Error:   fmt.Sprintf("command %q is not in the allowed list", base),
	}
}

// FormatUptime renders an uptime as "2d 3h 4m".
func FormatUptime(d time.Duration) string {
	total := int(d.Seconds())
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60

	var parts []string

	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}

	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}

	parts = append(parts, fmt.Sprintf("%dm", minutes))

	return strings.Join(parts, " ")
}

// shutdownArgs builds the argument list for the shutdown command.
// delay is rounded up to whole minutes; the minimum is one minute so
// the cancel window always exists.
func shutdownArgs(mode string, delay time.Duration) []string {
	minutes := int(delay.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	return []string{
		mode,
		fmt.Sprintf("+%d", minutes),
		"scheduled via pcwarden",
	}
}
