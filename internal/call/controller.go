// Package call implements the one-to-one voice call state machine: ring,
// accept, reject, hangup, and the offer/answer/candidate relay for the
// resulting peer connection. The controller is confined to the session loop;
// engine callbacks re-enter through the injected Post function.
package call

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"humanity-chat/client-core/internal/metrics"
	"humanity-chat/client-core/internal/rtc"
	"humanity-chat/client-core/internal/wire"
)

// State is the call lifecycle position.
type State int

const (
	Idle State = iota
	RingingOut
	RingingIn
	InCall
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RingingOut:
		return "ringing_out"
	case RingingIn:
		return "ringing_in"
	case InCall:
		return "in_call"
	default:
		return "unknown"
	}
}

// Event surfaces call activity to the UI layer.
type Event struct {
	Kind   EventKind
	PeerID string
	Reason string
}

type EventKind int

const (
	EventIncoming EventKind = iota
	EventStarted
	EventEnded
)

var (
	// ErrBusy means a call is already ringing or active.
	ErrBusy = errors.New("call: another call is active")
	// ErrNotRinging means the accept/reject had no incoming call to act on.
	ErrNotRinging = errors.New("call: no incoming call")
)

// DefaultRingTimeout bounds how long an unanswered outgoing ring waits.
const DefaultRingTimeout = 30 * time.Second

// mediaOwner is this controller's claim name on the shared microphone.
const mediaOwner = "call"

type Config struct {
	SelfID  string
	Send    func(wire.Message) error
	Gate    *rtc.MediaGate
	Factory rtc.Factory
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	RingTimeout time.Duration
	// After schedules fn on the session loop; the return cancels the timer.
	After func(d time.Duration, fn func()) func()
	// Post marshals engine callbacks onto the session loop.
	Post    func(fn func())
	OnEvent func(Event)
}

// Controller holds the single call session. All methods must be invoked on
// the session loop.
type Controller struct {
	cfg Config
	log *slog.Logger

	state   State
	peerID  string
	source  rtc.MediaSource
	pc      rtc.PeerConnection
	pending []rtc.Candidate

	ringGen    int
	cancelRing func()
}

func New(cfg Config) *Controller {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}
	if cfg.Post == nil {
		cfg.Post = func(fn func()) { fn() }
	}
	if cfg.After == nil {
		cfg.After = func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{cfg: cfg, log: log.With("component", "call")}
}

// State returns the current call state.
func (c *Controller) State() State { return c.state }

// PeerID names the remote party of the current session, empty when Idle.
func (c *Controller) PeerID() string { return c.peerID }

// Initiate rings a peer. The microphone is claimed up front so a denied
// permission surfaces before the remote ever rings.
func (c *Controller) Initiate(peerID string) error {
	if c.state != Idle {
		return ErrBusy
	}
	source, err := c.cfg.Gate.Claim(mediaOwner)
	if err != nil {
		return err
	}
	if err := c.cfg.Send(wire.VoiceCall{From: c.cfg.SelfID, To: peerID, Action: wire.CallActionRing}); err != nil {
		c.cfg.Gate.Release(mediaOwner)
		return err
	}
	c.source = source
	c.peerID = peerID
	c.state = RingingOut
	c.armRingTimeout()
	c.log.Info("outgoing call ringing", "peer", peerID)
	return nil
}

// Cancel withdraws an unanswered outgoing ring.
func (c *Controller) Cancel() {
	if c.state != RingingOut {
		return
	}
	c.sendAction(wire.CallActionHangup)
	c.end("cancelled")
}

// Accept answers the incoming ring. Media acquisition failure rejects the
// call on the caller's side and returns the controller to Idle.
func (c *Controller) Accept() error {
	if c.state != RingingIn {
		return ErrNotRinging
	}
	source, err := c.cfg.Gate.Claim(mediaOwner)
	if err != nil {
		c.sendAction(wire.CallActionReject)
		c.end("media unavailable")
		return err
	}
	c.source = source
	pc, err := c.newPeer()
	if err != nil {
		c.sendAction(wire.CallActionReject)
		c.end("media unavailable")
		return err
	}
	c.pc = pc
	c.sendAction(wire.CallActionAccept)
	// The caller produces the offer; the callee waits for it.
	c.state = InCall
	c.cfg.Metrics.SetActiveCalls(1)
	c.emit(Event{Kind: EventStarted, PeerID: c.peerID})
	return nil
}

// Reject declines the incoming ring.
func (c *Controller) Reject() {
	if c.state != RingingIn {
		return
	}
	c.sendAction(wire.CallActionReject)
	c.end("rejected locally")
}

// Hangup ends the active call or withdraws any ringing state.
func (c *Controller) Hangup() {
	if c.state == Idle {
		return
	}
	c.sendAction(wire.CallActionHangup)
	c.end("hung up")
}

// TransportClosed tears the session down when the relay connection drops;
// signaling is impossible without it.
func (c *Controller) TransportClosed() {
	if c.state == Idle {
		return
	}
	c.end("connection lost")
}

// HandleVoiceCall processes a ring/accept/reject/hangup control envelope.
func (c *Controller) HandleVoiceCall(msg wire.VoiceCall) {
	switch msg.Action {
	case wire.CallActionRing:
		c.handleRing(msg.From)
	case wire.CallActionAccept:
		c.handleAccept(msg.From)
	case wire.CallActionReject:
		if c.state == RingingOut && msg.From == c.peerID {
			c.end("rejected")
			return
		}
		c.dropSignal(msg.From, "reject")
	case wire.CallActionHangup:
		if c.state != Idle && msg.From == c.peerID {
			c.end("remote hung up")
			return
		}
		c.dropSignal(msg.From, "hangup")
	default:
		c.dropSignal(msg.From, msg.Action)
	}
}

func (c *Controller) handleRing(from string) {
	if c.state != Idle {
		// Busy: decline without surfacing anything to the user.
		c.log.Info("auto-rejecting ring while busy", "state", c.state.String())
		_ = c.cfg.Send(wire.VoiceCall{From: c.cfg.SelfID, To: from, Action: wire.CallActionReject})
		return
	}
	c.peerID = from
	c.state = RingingIn
	c.emit(Event{Kind: EventIncoming, PeerID: from})
}

func (c *Controller) handleAccept(from string) {
	if c.state != RingingOut || from != c.peerID {
		c.dropSignal(from, "accept")
		return
	}
	c.disarmRingTimeout()
	pc, err := c.newPeer()
	if err != nil {
		c.sendAction(wire.CallActionHangup)
		c.end("media failure")
		return
	}
	c.pc = pc
	c.state = InCall
	c.cfg.Metrics.SetActiveCalls(1)

	offer, err := pc.CreateOffer()
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err != nil {
		c.sendAction(wire.CallActionHangup)
		c.end("media failure")
		return
	}
	c.sendSignal(wire.SignalOffer, offer)
	c.emit(Event{Kind: EventStarted, PeerID: c.peerID})
}

// HandleSignal processes an offer/answer/candidate envelope for the current
// session. Signals from anyone but the session peer are dropped.
func (c *Controller) HandleSignal(msg wire.WebRTCSignal) {
	if c.state != InCall || msg.From != c.peerID || c.pc == nil {
		c.dropSignal(msg.From, msg.SignalType)
		return
	}
	switch msg.SignalType {
	case wire.SignalOffer:
		var desc rtc.SessionDescription
		if json.Unmarshal([]byte(msg.Data), &desc) != nil {
			c.dropSignal(msg.From, msg.SignalType)
			return
		}
		if err := c.pc.SetRemoteDescription(desc); err != nil {
			c.log.Warn("applying remote offer failed", "err", err)
			return
		}
		c.flushPending()
		answer, err := c.pc.CreateAnswer()
		if err == nil {
			err = c.pc.SetLocalDescription(answer)
		}
		if err != nil {
			c.log.Warn("building answer failed", "err", err)
			return
		}
		c.sendSignal(wire.SignalAnswer, answer)
	case wire.SignalAnswer:
		var desc rtc.SessionDescription
		if json.Unmarshal([]byte(msg.Data), &desc) != nil {
			c.dropSignal(msg.From, msg.SignalType)
			return
		}
		if err := c.pc.SetRemoteDescription(desc); err != nil {
			c.log.Warn("applying remote answer failed", "err", err)
			return
		}
		c.flushPending()
	case wire.SignalICE:
		var cand rtc.Candidate
		if json.Unmarshal([]byte(msg.Data), &cand) != nil {
			c.dropSignal(msg.From, msg.SignalType)
			return
		}
		if !c.pc.HasRemoteDescription() {
			c.pending = append(c.pending, cand)
			return
		}
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.log.Warn("applying candidate failed", "err", err)
		}
	default:
		c.dropSignal(msg.From, msg.SignalType)
	}
}

// flushPending applies buffered candidates in arrival order. The buffer is
// cleared so a second description never replays them.
func (c *Controller) flushPending() {
	for _, cand := range c.pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.log.Warn("applying buffered candidate failed", "err", err)
		}
	}
	c.pending = nil
}

func (c *Controller) newPeer() (rtc.PeerConnection, error) {
	pc, err := c.cfg.Factory.NewPeerConnection(c.source)
	if err != nil {
		return nil, err
	}
	peer := c.peerID
	pc.OnICECandidate(func(cand rtc.Candidate) {
		c.cfg.Post(func() {
			if c.state != InCall || c.peerID != peer {
				return
			}
			c.sendSignal(wire.SignalICE, cand)
		})
	})
	pc.OnConnectionStateChange(func(s rtc.ConnState) {
		c.cfg.Post(func() {
			if c.state != InCall || c.peerID != peer {
				return
			}
			if s == rtc.ConnFailed {
				c.sendAction(wire.CallActionHangup)
				c.end("media failure")
			}
		})
	})
	return pc, nil
}

func (c *Controller) sendAction(action string) {
	if err := c.cfg.Send(wire.VoiceCall{From: c.cfg.SelfID, To: c.peerID, Action: action}); err != nil {
		c.log.Warn("sending call action failed", "action", action, "err", err)
	}
}

func (c *Controller) sendSignal(signalType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn("encoding signal failed", "signal", signalType, "err", err)
		return
	}
	msg := wire.WebRTCSignal{From: c.cfg.SelfID, To: c.peerID, SignalType: signalType, Data: string(data)}
	if err := c.cfg.Send(msg); err != nil {
		c.log.Warn("sending signal failed", "signal", signalType, "err", err)
	}
}

func (c *Controller) armRingTimeout() {
	c.ringGen++
	gen := c.ringGen
	c.cancelRing = c.cfg.After(c.cfg.RingTimeout, func() {
		if gen != c.ringGen || c.state != RingingOut {
			return
		}
		c.sendAction(wire.CallActionHangup)
		c.end("no answer")
	})
}

func (c *Controller) disarmRingTimeout() {
	c.ringGen++
	if c.cancelRing != nil {
		c.cancelRing()
		c.cancelRing = nil
	}
}

// end performs the terminal transition: peer connection closed, microphone
// released, buffers cleared, all within the calling handler.
func (c *Controller) end(reason string) {
	peer := c.peerID
	c.disarmRingTimeout()
	if c.pc != nil {
		c.pc.Close()
		c.pc = nil
	}
	c.cfg.Gate.Release(mediaOwner)
	c.source = nil
	c.pending = nil
	c.peerID = ""
	prev := c.state
	c.state = Idle
	c.cfg.Metrics.SetActiveCalls(0)
	if prev != Idle {
		c.log.Info("call ended", "peer", peer, "reason", reason)
		c.emit(Event{Kind: EventEnded, PeerID: peer, Reason: reason})
	}
}

func (c *Controller) dropSignal(from, kind string) {
	c.cfg.Metrics.IncSignalDropped()
	c.log.Debug("dropping stale call signal", "from", from, "kind", kind, "state", c.state.String())
}

func (c *Controller) emit(ev Event) {
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(ev)
	}
}
