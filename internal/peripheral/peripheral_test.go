package peripheral

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/user/activitytracker/internal/types"
)

type collector[T any] struct {
	mu  sync.Mutex
	got []T
}

func (c *collector[T]) Push(_ context.Context, v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, v)
	return nil
}

type stream struct {
	buf bytes.Buffer
	sec int64
}

func (s *stream) add(typ, code uint16, value int32) {
	s.sec++
	ev := inputEvent{Sec: 1700000000 + s.sec, Usec: 500, Type: typ, Code: code, Value: value}
	if err := binary.Write(&s.buf, binary.LittleEndian, ev); err != nil {
		panic(err)
	}
}

func TestEventSize(t *testing.T) {
	require.Equal(t, eventSize, binary.Size(inputEvent{}))
}

func TestKeyboardReader(t *testing.T) {
	s := &stream{}
	s.add(evKey, 30, valuePress)  // a
	s.add(0, 0, 0)                // SYN_REPORT
	s.add(evKey, 30, valueRepeat) // a held
	s.add(evKey, 30, valueRelease)
	s.add(evKey, keyQ, valuePress) // q without alt
	s.add(evKey, keyQ, valueRelease)
	s.add(evKey, keyRightAlt, valuePress)
	s.add(evKey, keyQ, valuePress) // Alt+Q
	s.add(evKey, keyQ, valueRelease)
	s.add(evKey, keyRightAlt, valueRelease)

	out := &collector[types.KeyEvent]{}
	hotkeys := 0
	r := NewKeyboardReader(&s.buf, out, quartz.NewMock(t), nil)
	r.Hotkey = func() { hotkeys++ }

	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, 1, hotkeys)
	// press, repeat, q, alt, q
	require.Len(t, out.got, 5)
	require.True(t, out.got[0].At.Equal(time.Unix(1700000001, 500000).UTC()))
	require.Equal(t, time.UTC, out.got[0].At.Location())
}

func TestKeyboardReaderLeftAltReleased(t *testing.T) {
	s := &stream{}
	s.add(evKey, keyLeftAlt, valuePress)
	s.add(evKey, keyLeftAlt, valueRelease)
	s.add(evKey, keyQ, valuePress)

	hotkeys := 0
	r := NewKeyboardReader(&s.buf, &collector[types.KeyEvent]{}, nil, nil)
	r.Hotkey = func() { hotkeys++ }
	require.NoError(t, r.Run(context.Background()))
	require.Zero(t, hotkeys)
}

func TestKeyboardReaderShortRead(t *testing.T) {
	r := NewKeyboardReader(bytes.NewReader(make([]byte, 10)), &collector[types.KeyEvent]{}, nil, nil)
	require.Error(t, r.Run(context.Background()))
}

func TestMouseReader(t *testing.T) {
	s := &stream{}
	s.add(evRel, 0, 5)        // REL_X
	s.add(evRel, 1, -3)       // REL_Y
	s.add(evRel, relWheel, 1) // scroll
	s.add(evKey, btnMouse, valuePress)
	s.add(evKey, btnMouse, valueRelease)
	s.add(evKey, 30, valuePress) // not a mouse button

	out := &collector[types.MouseEvent]{}
	require.NoError(t, NewMouseReader(&s.buf, out, nil, nil).Run(context.Background()))

	kinds := make([]types.MouseEventKind, 0, len(out.got))
	for _, ev := range out.got {
		kinds = append(kinds, ev.Kind)
	}
	require.Equal(t, []types.MouseEventKind{types.MouseMove, types.MouseMove, types.MouseScroll, types.MouseClick}, kinds)
}

func TestZeroTimestampUsesClock(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, inputEvent{Type: evRel}))
	mClock := quartz.NewMock(t)
	out := &collector[types.MouseEvent]{}
	require.NoError(t, NewMouseReader(&buf, out, mClock, nil).Run(context.Background()))
	require.True(t, out.got[0].At.Equal(mClock.Now()))
}

func TestDiscover(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dev/input/by-path/platform-i8042-serio-0-event-kbd", nil, 0o600))
	require.NoError(t, afero.WriteFile(fs, "/dev/input/by-path/pci-0000:00:14.0-usb-0:2:1.0-event-mouse", nil, 0o600))

	kbd, err := Discover(fs, "-event-kbd")
	require.NoError(t, err)
	require.Equal(t, "/dev/input/by-path/platform-i8042-serio-0-event-kbd", kbd)

	_, err = Discover(fs, "-event-joystick")
	require.Error(t, err)
}
