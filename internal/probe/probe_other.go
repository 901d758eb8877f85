//go:build !linux && !windows

package probe

func New() (Probe, error) { return nil, ErrUnsupported }
