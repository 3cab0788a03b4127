// Package rtc abstracts the WebRTC engine behind small ports so the call and
// room state machines can be driven in tests without media hardware. The
// production implementation is the pion adapter in this package.
package rtc

import "errors"

var (
	// ErrMediaDenied means the platform refused microphone access.
	ErrMediaDenied = errors.New("rtc: microphone access denied")
	// ErrMediaBusy means another voice session already owns the microphone.
	ErrMediaBusy = errors.New("rtc: media already in use")
)

// SessionDescription is an SDP offer or answer in wire-portable form.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is a trickled ICE candidate in wire-portable form.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// ConnState mirrors the peer connection lifecycle.
type ConnState int

const (
	ConnNew ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnNew:
		return "new"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PeerConnection is one negotiated media link. Implementations must tolerate
// Close being called more than once.
type PeerConnection interface {
	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(SessionDescription) error
	SetRemoteDescription(SessionDescription) error
	// HasRemoteDescription reports whether a remote description was applied;
	// candidates arriving before that must be buffered by the caller.
	HasRemoteDescription() bool
	AddICECandidate(Candidate) error
	OnICECandidate(func(Candidate))
	OnConnectionStateChange(func(ConnState))
	Close() error
}

// MediaSource is an open capture handle, released via Close.
type MediaSource interface {
	Close() error
}

// MediaDevice opens local capture hardware.
type MediaDevice interface {
	OpenMicrophone() (MediaSource, error)
}

// Factory builds peer connections with the local audio source attached.
type Factory interface {
	NewPeerConnection(source MediaSource) (PeerConnection, error)
}
