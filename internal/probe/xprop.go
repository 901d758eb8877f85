package probe

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/coder/quartz"

	"github.com/user/activitytracker/internal/types"
)

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// X11 reads the active window through xprop.
type X11 struct {
	Run    Runner
	Lookup ProcessLookup
	Clock  quartz.Clock
}

func NewX11() *X11 {
	return &X11{Run: execRunner, Lookup: LookupProcess, Clock: quartz.NewReal()}
}

func (x *X11) ReadForeground(ctx context.Context) (types.WindowInfo, error) {
	out, err := x.Run(ctx, "xprop", "-root", "_NET_ACTIVE_WINDOW")
	if err != nil {
		return types.WindowInfo{}, fmt.Errorf("xprop active window: %w", err)
	}
	id, err := parseActiveWindow(out)
	if err != nil {
		return types.WindowInfo{}, err
	}
	out, err = x.Run(ctx, "xprop", "-id", id, "_NET_WM_PID", "_NET_WM_NAME", "WM_NAME")
	if err != nil {
		return types.WindowInfo{}, fmt.Errorf("xprop window %s: %w", id, err)
	}
	props := parseProps(out)

	w := types.WindowInfo{OS: "linux", ObservedAt: x.Clock.Now().UTC()}
	w.WindowTitle = props["_NET_WM_NAME"]
	if w.WindowTitle == "" {
		w.WindowTitle = props["WM_NAME"]
	}
	if pid, err := strconv.ParseInt(props["_NET_WM_PID"], 10, 32); err == nil {
		w.PID = int(pid)
		name, exe, err := x.Lookup(ctx, int32(pid))
		if err != nil {
			return types.WindowInfo{}, err
		}
		w.ProcessName, w.ExePath = name, exe
	}
	w.WindowTitle = types.Truncate(w.WindowTitle)
	return w, nil
}

// parseActiveWindow extracts the id from
// "_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3a00007".
func parseActiveWindow(out []byte) (string, error) {
	line := strings.TrimSpace(string(out))
	i := strings.LastIndex(line, "#")
	if i < 0 {
		return "", fmt.Errorf("unexpected xprop output %q", line)
	}
	id := strings.TrimSpace(line[i+1:])
	if id == "" || id == "0x0" {
		return "", ErrNoWindow
	}
	// Some window managers list several ids separated by commas.
	if j := strings.IndexByte(id, ','); j >= 0 {
		id = id[:j]
	}
	return id, nil
}

// parseProps reads "NAME(TYPE) = value" lines. String values are unquoted.
func parseProps(out []byte) map[string]string {
	props := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		eq := strings.Index(line, " = ")
		paren := strings.IndexByte(line, '(')
		if eq < 0 || paren < 0 || paren > eq {
			continue
		}
		name := line[:paren]
		value := strings.TrimSpace(line[eq+3:])
		if unq, err := strconv.Unquote(value); err == nil {
			value = unq
		}
		props[name] = value
	}
	return props
}
