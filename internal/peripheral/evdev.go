// Package peripheral reads Linux evdev input devices. Only timestamps leave
// this package: key codes are inspected for the shutdown chord and dropped.
package peripheral

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"
)

// Linux input event constants (linux/input-event-codes.h).
const (
	evKey = 0x01
	evRel = 0x02

	keyQ        = 16
	keyLeftAlt  = 56
	keyRightAlt = 100

	btnMouse = 0x110
	btnTask  = 0x117

	relHWheel = 0x06
	relWheel  = 0x08

	valueRelease = 0
	valuePress   = 1
	valueRepeat  = 2
)

// inputEvent mirrors struct input_event on 64-bit Linux.
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

const eventSize = 24

func (e inputEvent) time() time.Time {
	if e.Sec == 0 && e.Usec == 0 {
		return time.Time{}
	}
	return time.Unix(e.Sec, e.Usec*1000).UTC()
}

func readEvent(r io.Reader) (inputEvent, error) {
	var ev inputEvent
	if err := binary.Read(r, binary.LittleEndian, &ev); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return ev, fmt.Errorf("short input event: %w", err)
		}
		return ev, err
	}
	return ev, nil
}

// Discover returns the first evdev node under /dev/input/by-path whose name
// ends in suffix ("-event-kbd", "-event-mouse").
func Discover(fs afero.Fs, suffix string) (string, error) {
	matches, err := afero.Glob(fs, "/dev/input/by-path/*"+suffix)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no input device matching *%s", suffix)
	}
	return matches[0], nil
}
