package pcman

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pcwarden/pcwarden/pkg/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// sshDialTimeout bounds connection establishment.
const sshDialTimeout = 5 * time.Second

// systemInfoScript emits prefixed lines that parseRemoteSystemInfo
// consumes. The remote shell does the field extraction so the values
// arrive pre-digested.
const systemInfoScript = `echo "HOST $(hostname)"
echo "UPTIME $(awk '{print int($1)}' /proc/uptime)"
echo "MEM $(free -b | awk 'NR==2{print $2, $3}')"
echo "DISK $(df -B1 / | awk 'NR==2{print $2, $3}')"
echo "CPU $(top -bn1 | sed -n 's/.*, *\([0-9.]*\)[ %]*id.*/\1/p' | head -1)"`

// screenshotScript captures the desktop with whichever tool is
// installed and streams the PNG to stdout.
const screenshotScript = `export DISPLAY="${DISPLAY:-:0}"
f=$(mktemp --suffix=.png)
trap 'rm -f "$f"' EXIT
scrot -o "$f" 2>/dev/null ||
	import -window root "$f" 2>/dev/null ||
	gnome-screenshot -f "$f" 2>/dev/null ||
	spectacle -b -n -o "$f" 2>/dev/null
cat "$f"`

type sshController struct {
	log     logrus.FieldLogger
	addr    string
	cc      *ssh.ClientConfig
	timeout time.Duration
}

var _ Controller = (*sshController)(nil)

func newSSHController(
	log logrus.FieldLogger,
	cfg *config.PCConfig,
) (*sshController, error) {
	var methods []ssh.AuthMethod

	if cfg.SSH.KeyFile != "" {
		key, err := os.ReadFile(cfg.SSH.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading ssh key file: %w", err)
		}

		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parsing ssh key file: %w", err)
		}

		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.SSH.Password != "" {
		methods = append(methods, ssh.Password(cfg.SSH.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("ssh requires a password or key file")
	}

	return &sshController{
		log:  log.WithField("component", "pcman_ssh"),
		addr: hostPortString(cfg.IPAddress, cfg.SSH.Port),
		cc: &ssh.ClientConfig{
			User: cfg.SSH.User,
			Auth: methods,
			// The target is a single machine on the operator's own
			// network, identified by configured IP.
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         sshDialTimeout,
		},
		timeout: cfg.Timeout(),
	}, nil
}

func (s *sshController) CheckOnline(ctx context.Context) bool {
	d := net.Dialer{Timeout: sshDialTimeout}

	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return false
	}

	_ = conn.Close()

	return true
}

func (s *sshController) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	out, err := s.run(ctx, systemInfoScript)
	if err != nil {
		return nil, fmt.Errorf("collecting system info: %w", err)
	}

	return parseRemoteSystemInfo(out)
}

func (s *sshController) Processes(
	ctx context.Context,
	limit int,
) ([]ProcessInfo, error) {
	count := limit
	if count <= 0 {
		count = 10
	}

	out, err := s.run(ctx, fmt.Sprintf(
		"ps axo comm:32,pcpu,pmem --sort=-pmem | head -n %d", count+1,
	))
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	return parseRemoteProcesses(out), nil
}

func (s *sshController) Execute(
	ctx context.Context,
	command string,
	allowlist []string,
) *ExecResult {
	if allowlist != nil && !commandAllowed(command, allowlist) {
		s.log.WithField("command", command).Warn("Command refused by allowlist")

		return refusedResult(command)
	}

	out, err := s.run(ctx, command)
	result := &ExecResult{
		Success: err == nil,
		Output:  out,
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			result.TimedOut = true
			result.Error = fmt.Sprintf(
				"command timed out after %s", s.timeout,
			)
		} else {
			result.Error = err.Error()
		}

		s.log.WithError(err).
			WithField("command", command).
			Warn("Remote command failed")
	}

	return result
}

func (s *sshController) Screenshot(ctx context.Context) ([]byte, error) {
	out, err := s.run(ctx, screenshotScript)
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}

	data := []byte(out)
	if !bytes.HasPrefix(data, pngMagic) {
		return nil, fmt.Errorf("no screenshot tool produced an image")
	}

	s.log.WithField("size", len(data)).Info("Screenshot captured")

	return data, nil
}

func (s *sshController) ScheduleReboot(
	ctx context.Context,
	delay time.Duration,
) error {
	return s.schedule(ctx, "-r", delay)
}

func (s *sshController) ScheduleShutdown(
	ctx context.Context,
	delay time.Duration,
) error {
	return s.schedule(ctx, "-h", delay)
}

func (s *sshController) CancelShutdown(ctx context.Context) error {
	if out, err := s.run(ctx, "shutdown -c"); err != nil {
		return fmt.Errorf("cancelling shutdown: %w: %s", err, out)
	}

	s.log.Info("Scheduled power action cancelled")

	return nil
}

func (s *sshController) schedule(
	ctx context.Context,
	mode string,
	delay time.Duration,
) error {
	args := shutdownArgs(mode, delay)
	command := fmt.Sprintf(
		"shutdown %s %s '%s'", args[0], args[1], args[2],
	)

	if out, err := s.run(ctx, command); err != nil {
		return fmt.Errorf("scheduling shutdown %s: %w: %s", mode, err, out)
	}

	s.log.WithFields(logrus.Fields{
		"mode":  mode,
		"delay": delay.String(),
	}).Info("Power action scheduled")

	return nil
}

// run dials, executes one command and returns combined output. A
// fresh connection per call keeps the controller stateless across the
// machine's own reboots.
func (s *sshController) run(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	d := net.Dialer{Timeout: sshDialTimeout}

	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("dialing %s: %w", s.addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, s.addr, s.cc)
	if err != nil {
		_ = conn.Close()

		return "", fmt.Errorf("ssh handshake: %w", err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("opening ssh session: %w", err)
	}
	defer session.Close()

	var out bytes.Buffer

	session.Stdout = &out
	session.Stderr = &out

	done := make(chan error, 1)

	go func() { done <- session.Run(command) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)

		return out.String(), ctx.Err()
	}

	if err != nil {
		return out.String(), fmt.Errorf("running %q: %w", command, err)
	}

	return out.String(), nil
}

// parseRemoteSystemInfo decodes the prefixed lines emitted by
// systemInfoScript.
func parseRemoteSystemInfo(out string) (*SystemInfo, error) {
	info := &SystemInfo{}

	for _, line := range strings.Split(out, "\n") {
		prefix, rest, found := strings.Cut(strings.TrimSpace(line), " ")
		if !found {
			continue
		}

		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}

		switch prefix {
		case "HOST":
			info.Hostname = rest
		case "UPTIME":
			secs, err := strconv.ParseInt(fields[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing uptime %q: %w", rest, err)
			}

			info.Uptime = time.Duration(secs) * time.Second
		case "MEM":
			if len(fields) < 2 {
				return nil, fmt.Errorf("malformed memory line: %q", line)
			}

			info.MemTotal, _ = strconv.ParseUint(fields[0], 10, 64)
			info.MemUsed, _ = strconv.ParseUint(fields[1], 10, 64)

			if info.MemTotal > 0 {
				info.MemPercent = 100 * float64(info.MemUsed) / float64(info.MemTotal)
			}
		case "DISK":
			if len(fields) < 2 {
				return nil, fmt.Errorf("malformed disk line: %q", line)
			}

			info.DiskTotal, _ = strconv.ParseUint(fields[0], 10, 64)
			info.DiskUsed, _ = strconv.ParseUint(fields[1], 10, 64)

			if info.DiskTotal > 0 {
				info.DiskPercent = 100 * float64(info.DiskUsed) / float64(info.DiskTotal)
			}
		case "CPU":
			idle, err := strconv.ParseFloat(fields[0], 64)
			if err == nil {
				info.CPUPercent = 100 - idle
			}
		}
	}

	if info.Hostname == "" {
		return nil, fmt.Errorf("system info output had no hostname")
	}

	return info, nil
}

// parseRemoteProcesses decodes `ps axo comm,pcpu,pmem` output,
// skipping the header line.
func parseRemoteProcesses(out string) []ProcessInfo {
	var infos []ProcessInfo

	for i, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if i == 0 {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}

		cpuPct, err := strconv.ParseFloat(fields[len(fields)-2], 64)
		if err != nil {
			continue
		}

		memPct, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		if err != nil {
			continue
		}

		infos = append(infos, ProcessInfo{
			Name:       strings.Join(fields[:len(fields)-2], " "),
			CPUPercent: cpuPct,
			MemPercent: memPct,
		})
	}

	return infos
}
