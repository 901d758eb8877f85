// Package probe reads the foreground window and turns changes into focus
// events.
package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/user/activitytracker/internal/types"
)

// ErrUnsupported is returned by New on platforms without a probe.
var ErrUnsupported = errors.New("foreground probe not supported on this platform")

// ErrNoWindow means nothing is focused (a locked screen, an empty desktop).
var ErrNoWindow = errors.New("no foreground window")

// Probe reads the currently focused window.
type Probe interface {
	ReadForeground(ctx context.Context) (types.WindowInfo, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) (types.WindowInfo, error)

func (f ProbeFunc) ReadForeground(ctx context.Context) (types.WindowInfo, error) { return f(ctx) }

// ProcessLookup resolves a pid to its process name and executable path.
type ProcessLookup func(ctx context.Context, pid int32) (name, exe string, err error)

// LookupProcess queries the OS process table.
func LookupProcess(ctx context.Context, pid int32) (string, string, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", "", fmt.Errorf("process %d: %w", pid, err)
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return "", "", fmt.Errorf("process %d name: %w", pid, err)
	}
	// Exe can be unreadable for other users' processes; the name suffices.
	exe, _ := p.ExeWithContext(ctx)
	return name, exe, nil
}
