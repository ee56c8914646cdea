package pcman

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/pcwarden/pcwarden/pkg/config"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
)

// screenshotTools is tried in order until one produces an image.
// Each entry appends the output path as its last argument.
var screenshotTools = [][]string{
	{"scrot", "-o"},
	{"import", "-window", "root"},
	{"gnome-screenshot", "-f"},
	{"spectacle", "-b", "-n", "-o"},
}

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

type localController struct {
	log     logrus.FieldLogger
	timeout time.Duration
	probe   string // host:port probed by CheckOnline, empty means always online
}

var _ Controller = (*localController)(nil)

func newLocalController(
	log logrus.FieldLogger,
	cfg *config.PCConfig,
) *localController {
	probe := ""
	if cfg.IPAddress != "" {
		probe = net.JoinHostPort(cfg.IPAddress, "22")
	}

	return &localController{
		log:     log.WithField("component", "pcman_local"),
		timeout: cfg.Timeout(),
		probe:   probe,
	}
}

// CheckOnline probes the configured address. With no address
// configured the machine is the one we run on, so it is online.
func (l *localController) CheckOnline(ctx context.Context) bool {
	if l.probe == "" {
		return true
	}

	d := net.Dialer{Timeout: 3 * time.Second}

	conn, err := d.DialContext(ctx, "tcp", l.probe)
	if err != nil {
		return false
	}

	_ = conn.Close()

	return true
}

func (l *localController) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	info := &SystemInfo{}

	hostInfo, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading host info: %w", err)
	}

	info.Hostname = hostInfo.Hostname
	info.Uptime = time.Duration(hostInfo.Uptime) * time.Second

	cpuPercents, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return nil, fmt.Errorf("sampling cpu usage: %w", err)
	}

	if len(cpuPercents) > 0 {
		info.CPUPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading memory usage: %w", err)
	}

	info.MemUsed = vm.Used
	info.MemTotal = vm.Total
	info.MemPercent = vm.UsedPercent

	du, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return nil, fmt.Errorf("reading disk usage: %w", err)
	}

	info.DiskUsed = du.Used
	info.DiskTotal = du.Total
	info.DiskPercent = du.UsedPercent

	return info, nil
}

func (l *localController) Processes(
	ctx context.Context,
	limit int,
) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	infos := make([]ProcessInfo, 0, len(procs))

	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // the process may have exited mid-scan
		}

		cpuPct, _ := p.CPUPercentWithContext(ctx)
		memPct, _ := p.MemoryPercentWithContext(ctx)

		infos = append(infos, ProcessInfo{
			Name:       name,
			CPUPercent: cpuPct,
			MemPercent: float64(memPct),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].MemPercent > infos[j].MemPercent
	})

	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}

	return infos, nil
}

func (l *localController) Execute(
	ctx context.Context,
	command string,
	allowlist []string,
) *ExecResult {
	if allowlist != nil && !commandAllowed(command, allowlist) {
		l.log.WithField("command", command).Warn("Command refused by allowlist")

		return refusedResult(command)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	var out bytes.Buffer

	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	result := &ExecResult{
		Success: err == nil,
		Output:  out.String(),
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.TimedOut = true
			result.Error = fmt.Sprintf(
				"command timed out after %s", l.timeout,
			)
		} else {
			result.Error = err.Error()
		}

		l.log.WithError(err).
			WithField("command", command).
			Warn("Command execution failed")
	}

	return result
}

func (l *localController) Screenshot(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	path := filepath.Join(
		os.TempDir(),
		fmt.Sprintf("pcwarden-%d.png", time.Now().UnixNano()),
	)
	defer os.Remove(path)

	var lastErr error

	for _, tool := range screenshotTools {
		args := append(append([]string{}, tool[1:]...), path)
		cmd := exec.CommandContext(ctx, tool[0], args...)
		cmd.Env = append(os.Environ(), "DISPLAY=:0")

		if err := cmd.Run(); err != nil {
			lastErr = fmt.Errorf("%s: %w", tool[0], err)

			continue
		}

		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			lastErr = fmt.Errorf("%s produced no image", tool[0])

			continue
		}

		l.log.WithFields(logrus.Fields{
			"tool": tool[0],
			"size": len(data),
		}).Info("Screenshot captured")

		return data, nil
	}

	return nil, fmt.Errorf("no screenshot tool succeeded: %w", lastErr)
}

func (l *localController) ScheduleReboot(
	ctx context.Context,
	delay time.Duration,
) error {
	return l.schedule(ctx, "-r", delay)
}

func (l *localController) ScheduleShutdown(
	ctx context.Context,
	delay time.Duration,
) error {
	return l.schedule(ctx, "-h", delay)
}

func (l *localController) CancelShutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if out, err := exec.CommandContext(ctx, "shutdown", "-c").CombinedOutput(); err != nil {
		return fmt.Errorf("cancelling shutdown: %w: %s", err, out)
	}

	l.log.Info("Scheduled power action cancelled")

	return nil
}

func (l *localController) schedule(
	ctx context.Context,
	mode string,
	delay time.Duration,
) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	args := shutdownArgs(mode, delay)

	if out, err := exec.CommandContext(ctx, "shutdown", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("scheduling shutdown %s: %w: %s", mode, err, out)
	}

	l.log.WithFields(logrus.Fields{
		"mode":  mode,
		"delay": delay.String(),
	}).Info("Power action scheduled")

	return nil
}

// hostPortString formats a probe target.
func hostPortString(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
