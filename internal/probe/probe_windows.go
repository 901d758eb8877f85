package probe

import (
	"context"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/user/activitytracker/internal/types"
)

var (
	user32             = windows.NewLazySystemDLL("user32.dll")
	procGetWindowTextW = user32.NewProc("GetWindowTextW")
)

// Win32 reads the foreground window through user32.
type Win32 struct {
	Lookup ProcessLookup
}

func New() (Probe, error) { return &Win32{Lookup: LookupProcess}, nil }

func (p *Win32) ReadForeground(ctx context.Context) (types.WindowInfo, error) {
	hwnd := windows.GetForegroundWindow()
	if hwnd == 0 {
		return types.WindowInfo{}, ErrNoWindow
	}
	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err != nil {
		return types.WindowInfo{}, fmt.Errorf("window process: %w", err)
	}
	buf := make([]uint16, 512)
	n, _, _ := procGetWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))

	w := types.WindowInfo{
		OS:          "windows",
		PID:         int(pid),
		WindowTitle: types.Truncate(windows.UTF16ToString(buf[:n])),
	}
	name, exe, err := p.Lookup(ctx, int32(pid))
	if err != nil {
		return types.WindowInfo{}, err
	}
	w.ProcessName, w.ExePath = name, exe
	return w, nil
}
