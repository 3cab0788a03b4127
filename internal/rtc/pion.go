package rtc

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// PionFactory builds peer connections on the pion engine.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewPionFactory wires the engine with the configured STUN servers.
func NewPionFactory(stunServers []string) *PionFactory {
	var servers []webrtc.ICEServer
	if len(stunServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stunServers})
	}
	m := &webrtc.MediaEngine{}
	_ = m.RegisterDefaultCodecs()
	return &PionFactory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		config: webrtc.Configuration{ICEServers: servers},
	}
}

func (f *PionFactory) NewPeerConnection(source MediaSource) (PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("rtc: new peer connection: %w", err)
	}
	if src, ok := source.(*pionSource); ok && src != nil {
		if _, err := pc.AddTrack(src.track); err != nil {
			pc.Close()
			return nil, fmt.Errorf("rtc: attach audio track: %w", err)
		}
	}
	return &pionPeer{pc: pc}, nil
}

// PionDevice produces the local Opus audio track fed by the platform capture
// layer. The track is the sample sink the capture callback writes into.
type PionDevice struct{}

func (PionDevice) OpenMicrophone() (MediaSource, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "humanity-voice",
	)
	if err != nil {
		return nil, ErrMediaDenied
	}
	return &pionSource{track: track}, nil
}

type pionSource struct {
	track *webrtc.TrackLocalStaticSample
}

// Track exposes the sample sink for the capture pipeline.
func (s *pionSource) Track() *webrtc.TrackLocalStaticSample { return s.track }

func (s *pionSource) Close() error { return nil }

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) CreateOffer() (SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return SessionDescription{}, err
	}
	return SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (p *pionPeer) CreateAnswer() (SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, err
	}
	return SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (p *pionPeer) SetLocalDescription(desc SessionDescription) error {
	return p.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (p *pionPeer) SetRemoteDescription(desc SessionDescription) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (p *pionPeer) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

func (p *pionPeer) AddICECandidate(c Candidate) error {
	mid := c.SDPMid
	mline := c.SDPMLineIndex
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &mline,
	})
}

func (p *pionPeer) OnICECandidate(fn func(Candidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		out := Candidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			out.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			out.SDPMLineIndex = *init.SDPMLineIndex
		}
		fn(out)
	})
}

func (p *pionPeer) OnConnectionStateChange(fn func(ConnState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(mapConnState(s))
	})
}

func (p *pionPeer) Close() error { return p.pc.Close() }

func mapConnState(s webrtc.PeerConnectionState) ConnState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return ConnNew
	case webrtc.PeerConnectionStateConnecting:
		return ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnFailed
	default:
		return ConnClosed
	}
}
