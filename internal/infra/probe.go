package infra

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/focusforge/forged/internal/domain"
)

// probeTimeout bounds one foreground-window query so a wedged helper tool
// cannot stall the sampling tick indefinitely.
const probeTimeout = 800 * time.Millisecond

// NewForegroundProbe returns the foreground-application probe for the
// current platform. Platforms without a probe get one that reports
// ErrProbeUnavailable; the aggregator degrades instead of crashing.
func NewForegroundProbe() domain.ForegroundProbe {
	switch runtime.GOOS {
	case "darwin":
		return &darwinProbe{}
	case "linux":
		return newLinuxProbe()
	default:
		return unavailableProbe{}
	}
}

// darwinProbe asks the window server via osascript.
type darwinProbe struct{}

func (p *darwinProbe) Active(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "osascript",
		"-e", `tell application "System Events" to get name of first application process whose frontmost is true`,
	).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// linuxProbe asks the X server via xdotool; Wayland sessions without it
// report unavailable.
type linuxProbe struct {
	tool string
}

func newLinuxProbe() domain.ForegroundProbe {
	tool, err := exec.LookPath("xdotool")
	if err != nil {
		return unavailableProbe{}
	}
	return &linuxProbe{tool: tool}
}

func (p *linuxProbe) Active(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	// Window PID -> /proc comm gives the process name the enforcer and
	// blocklist also use, keeping identities consistent.
	out, err := exec.CommandContext(ctx, p.tool, "getactivewindow", "getwindowpid").Output()
	if err != nil {
		return "", err
	}
	pid := strings.TrimSpace(string(out))
	if pid == "" {
		return "", domain.ErrProbeUnavailable
	}

	comm, err := exec.CommandContext(ctx, "cat", filepath.Join("/proc", pid, "comm")).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(comm)), nil
}

type unavailableProbe struct{}

func (unavailableProbe) Active(context.Context) (string, error) {
	return "", domain.ErrProbeUnavailable
}
