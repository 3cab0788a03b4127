package rtc

import "sync"

// MediaGate serializes microphone ownership. A 1:1 call and a voice room can
// never capture at the same time; whichever claims first holds the device
// until it releases.
type MediaGate struct {
	device MediaDevice

	mu     sync.Mutex
	owner  string
	source MediaSource
}

func NewMediaGate(device MediaDevice) *MediaGate {
	return &MediaGate{device: device}
}

// Claim opens the microphone for the named owner. A second claim by the same
// owner returns the already-open source; any other owner gets ErrMediaBusy.
func (g *MediaGate) Claim(owner string) (MediaSource, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owner == owner && g.source != nil {
		return g.source, nil
	}
	if g.owner != "" {
		return nil, ErrMediaBusy
	}
	source, err := g.device.OpenMicrophone()
	if err != nil {
		return nil, err
	}
	g.owner = owner
	g.source = source
	return source, nil
}

// Release closes the capture handle if the named owner holds it. Releasing
// without holding is a no-op, so terminal state transitions can always call
// it unconditionally.
func (g *MediaGate) Release(owner string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owner != owner {
		return
	}
	if g.source != nil {
		g.source.Close()
	}
	g.owner = ""
	g.source = nil
}

// Owner names the current holder, empty when the microphone is free.
func (g *MediaGate) Owner() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner
}
