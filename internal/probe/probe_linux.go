package probe

// New returns the X11 probe.
func New() (Probe, error) { return NewX11(), nil }
