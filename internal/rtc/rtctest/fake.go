// Package rtctest provides in-memory fakes for the rtc ports, letting the
// signaling state machines run without a media engine.
package rtctest

import (
	"fmt"
	"sync"

	"humanity-chat/client-core/internal/rtc"
)

// Device is a MediaDevice whose microphone can be scripted to fail.
type Device struct {
	mu      sync.Mutex
	denied  bool
	opens   int
	sources []*Source
}

func NewDevice() *Device { return &Device{} }

// Deny makes every subsequent OpenMicrophone fail with ErrMediaDenied.
func (d *Device) Deny() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.denied = true
}

func (d *Device) OpenMicrophone() (rtc.MediaSource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.denied {
		return nil, rtc.ErrMediaDenied
	}
	d.opens++
	s := &Source{}
	d.sources = append(d.sources, s)
	return s, nil
}

// Opens counts successful microphone opens.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// OpenSources counts sources that have not been closed yet.
func (d *Device) OpenSources() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.sources {
		if !s.Closed() {
			n++
		}
	}
	return n
}

type Source struct {
	mu     sync.Mutex
	closed bool
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Factory hands out fake peer connections and keeps them for inspection.
type Factory struct {
	mu    sync.Mutex
	peers []*Peer
}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) NewPeerConnection(source rtc.MediaSource) (rtc.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &Peer{}
	f.peers = append(f.peers, p)
	return p, nil
}

// Peers returns every connection the factory created, in order.
func (f *Factory) Peers() []*Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Peer(nil), f.peers...)
}

// Peer records every call made against it.
type Peer struct {
	mu sync.Mutex

	offers     int
	answers    int
	localDesc  *rtc.SessionDescription
	remoteDesc *rtc.SessionDescription
	candidates []rtc.Candidate
	closed     bool

	onCandidate func(rtc.Candidate)
	onState     func(rtc.ConnState)
}

func (p *Peer) CreateOffer() (rtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers++
	return rtc.SessionDescription{Type: "offer", SDP: fmt.Sprintf("fake-offer-%d", p.offers)}, nil
}

func (p *Peer) CreateAnswer() (rtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteDesc == nil {
		return rtc.SessionDescription{}, fmt.Errorf("rtctest: answer without remote description")
	}
	p.answers++
	return rtc.SessionDescription{Type: "answer", SDP: fmt.Sprintf("fake-answer-%d", p.answers)}, nil
}

func (p *Peer) SetLocalDescription(d rtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localDesc = &d
	return nil
}

func (p *Peer) SetRemoteDescription(d rtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteDesc = &d
	return nil
}

func (p *Peer) HasRemoteDescription() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteDesc != nil
}

func (p *Peer) AddICECandidate(c rtc.Candidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteDesc == nil {
		return fmt.Errorf("rtctest: candidate before remote description")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *Peer) OnICECandidate(fn func(rtc.Candidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = fn
}

func (p *Peer) OnConnectionStateChange(fn func(rtc.ConnState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// EmitCandidate drives the trickle callback as the engine would.
func (p *Peer) EmitCandidate(c rtc.Candidate) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// EmitState drives the connection state callback as the engine would.
func (p *Peer) EmitState(s rtc.ConnState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peer) RemoteDescription() *rtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteDesc
}

// Candidates returns the applied remote candidates in arrival order.
func (p *Peer) Candidates() []rtc.Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]rtc.Candidate(nil), p.candidates...)
}
