// Package room implements the N-way mesh voice room: one peer connection per
// remote participant, the existing-member-offers convention, per-participant
// candidate buffering, and a grace period before a flapping connection is
// torn down. The controller is confined to the session loop; engine callbacks
// re-enter through the injected Post function.
package room

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"humanity-chat/client-core/internal/metrics"
	"humanity-chat/client-core/internal/rtc"
	"humanity-chat/client-core/internal/wire"
)

// ErrMediaUnavailable wraps a failed microphone claim on join.
var ErrMediaUnavailable = errors.New("room: cannot acquire microphone")

// DefaultDisconnectGrace is how long a disconnected participant link may
// self-recover before it is torn down.
const DefaultDisconnectGrace = 3 * time.Second

// mediaOwner is this controller's claim name on the shared microphone.
const mediaOwner = "room"

type Config struct {
	SelfID  string
	Send    func(wire.Message) error
	Gate    *rtc.MediaGate
	Factory rtc.Factory
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	DisconnectGrace time.Duration
	// After schedules fn on the session loop; the return cancels the timer.
	After func(d time.Duration, fn func()) func()
	// Post marshals engine callbacks onto the session loop.
	Post func(fn func())
	// OnParticipantGone tells the UI a participant's media was removed.
	OnParticipantGone func(peerID string)
}

// participant is one remote member of the joined room.
type participant struct {
	pc       rtc.PeerConnection
	pending  []rtc.Candidate
	graceGen int
}

// Controller holds at most one room membership. All methods must be invoked
// on the session loop.
type Controller struct {
	cfg Config
	log *slog.Logger

	roomID       string
	source       rtc.MediaSource
	participants map[string]*participant
}

func New(cfg Config) *Controller {
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = DefaultDisconnectGrace
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
	return &Controller{cfg: cfg, log: log.With("component", "room")}
}

// RoomID names the joined room, empty when not a member.
func (c *Controller) RoomID() string { return c.roomID }

// Participants returns the remote members this device holds connections for.
func (c *Controller) Participants() []string {
	out := make([]string, 0, len(c.participants))
	for id := range c.participants {
		out = append(out, id)
	}
	return out
}

// Join acquires media and announces this device to the room. Existing members
// respond with offers; this side answers. Joining while a membership is
// active leaves the old room first.
func (c *Controller) Join(roomID string) error {
	if c.roomID == roomID {
		return nil
	}
	if c.roomID != "" {
		c.Leave()
	}
	source, err := c.cfg.Gate.Claim(mediaOwner)
	if err != nil {
		return errors.Join(ErrMediaUnavailable, err)
	}
	c.source = source
	c.roomID = roomID
	c.participants = make(map[string]*participant)
	c.send(wire.VoiceRoomSignal{
		From:       c.cfg.SelfID,
		RoomID:     roomID,
		SignalType: wire.SignalNewParticipant,
	})
	c.log.Info("joined voice room", "room", roomID)
	return nil
}

// Leave releases media and closes every per-participant connection within
// the calling handler.
func (c *Controller) Leave() {
	if c.roomID == "" {
		return
	}
	room := c.roomID
	for id, p := range c.participants {
		p.graceGen++
		p.pc.Close()
		delete(c.participants, id)
	}
	c.participants = nil
	c.cfg.Gate.Release(mediaOwner)
	c.source = nil
	c.roomID = ""
	c.cfg.Metrics.SetRoomPeers(0)
	c.log.Info("left voice room", "room", room)
}

// TransportClosed tears the membership down when the relay connection drops.
func (c *Controller) TransportClosed() {
	c.Leave()
}

// HandleSignal processes one room signaling envelope.
func (c *Controller) HandleSignal(msg wire.VoiceRoomSignal) {
	if c.roomID == "" || msg.RoomID != c.roomID || msg.From == c.cfg.SelfID {
		c.dropSignal(msg.From, msg.SignalType)
		return
	}
	switch msg.SignalType {
	case wire.SignalNewParticipant:
		c.handleNewParticipant(msg.From)
	case wire.SignalOffer:
		c.handleOffer(msg.From, msg.Data)
	case wire.SignalAnswer:
		c.handleAnswer(msg.From, msg.Data)
	case wire.SignalICE:
		c.handleICE(msg.From, msg.Data)
	default:
		c.dropSignal(msg.From, msg.SignalType)
	}
}

// handleNewParticipant runs on existing members: the established side always
// offers toward the new arrival.
func (c *Controller) handleNewParticipant(from string) {
	if p, ok := c.participants[from]; ok && p.pc != nil {
		return
	}
	p, err := c.newParticipant(from)
	if err != nil {
		c.log.Warn("creating participant connection failed", "peer", from, "err", err)
		return
	}
	offer, err := p.pc.CreateOffer()
	if err == nil {
		err = p.pc.SetLocalDescription(offer)
	}
	if err != nil {
		c.log.Warn("building room offer failed", "peer", from, "err", err)
		c.removeParticipant(from, "offer failure")
		return
	}
	c.sendSignal(from, wire.SignalOffer, offer)
}

// handleOffer runs on the newcomer: an unknown offerer gets a fresh
// connection and an answer.
func (c *Controller) handleOffer(from, data string) {
	var desc rtc.SessionDescription
	if json.Unmarshal([]byte(data), &desc) != nil {
		c.dropSignal(from, wire.SignalOffer)
		return
	}
	p, ok := c.participants[from]
	if !ok || p.pc == nil {
		var err error
		p, err = c.newParticipant(from)
		if err != nil {
			c.log.Warn("creating participant connection failed", "peer", from, "err", err)
			return
		}
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		c.log.Warn("applying room offer failed", "peer", from, "err", err)
		return
	}
	c.flushPending(from, p)
	answer, err := p.pc.CreateAnswer()
	if err == nil {
		err = p.pc.SetLocalDescription(answer)
	}
	if err != nil {
		c.log.Warn("building room answer failed", "peer", from, "err", err)
		return
	}
	c.sendSignal(from, wire.SignalAnswer, answer)
}

func (c *Controller) handleAnswer(from, data string) {
	p, ok := c.participants[from]
	if !ok || p.pc == nil {
		c.dropSignal(from, wire.SignalAnswer)
		return
	}
	var desc rtc.SessionDescription
	if json.Unmarshal([]byte(data), &desc) != nil {
		c.dropSignal(from, wire.SignalAnswer)
		return
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		c.log.Warn("applying room answer failed", "peer", from, "err", err)
		return
	}
	c.flushPending(from, p)
}

// handleICE buffers candidates for participants whose remote description has
// not been applied yet, including participants with no connection at all.
func (c *Controller) handleICE(from, data string) {
	var cand rtc.Candidate
	if json.Unmarshal([]byte(data), &cand) != nil {
		c.dropSignal(from, wire.SignalICE)
		return
	}
	p, ok := c.participants[from]
	if !ok {
		p = &participant{}
		c.participants[from] = p
		p.pending = append(p.pending, cand)
		return
	}
	if p.pc == nil || !p.pc.HasRemoteDescription() {
		p.pending = append(p.pending, cand)
		return
	}
	if err := p.pc.AddICECandidate(cand); err != nil {
		c.log.Warn("applying room candidate failed", "peer", from, "err", err)
	}
}

// HandleChannelList applies the server roster: participants no longer listed
// are removed, and an emptied room self-cleans without an explicit leave.
func (c *Controller) HandleChannelList(msg wire.VoiceChannelList) {
	if c.roomID == "" {
		return
	}
	var current *wire.VoiceRoomInfo
	for i := range msg.Rooms {
		if msg.Rooms[i].ID == c.roomID {
			current = &msg.Rooms[i]
			break
		}
	}
	if current == nil {
		c.log.Info("room vanished from roster, leaving")
		c.Leave()
		return
	}
	listed := make(map[string]bool, len(current.Participants))
	for _, p := range current.Participants {
		listed[p.PublicKey] = true
	}
	for id := range c.participants {
		if !listed[id] {
			c.removeParticipant(id, "left roster")
		}
	}
	remote := 0
	for id := range listed {
		if id != c.cfg.SelfID {
			remote++
		}
	}
	if remote == 0 && len(c.participants) == 0 {
		c.log.Info("room is empty, self-cleaning")
		c.Leave()
	}
}

func (c *Controller) newParticipant(from string) (*participant, error) {
	p, existed := c.participants[from]
	if !existed {
		p = &participant{}
	}
	pc, err := c.cfg.Factory.NewPeerConnection(c.source)
	if err != nil {
		return nil, err
	}
	p.pc = pc
	c.participants[from] = p
	c.cfg.Metrics.SetRoomPeers(float64(len(c.participants)))

	room := c.roomID
	pc.OnICECandidate(func(cand rtc.Candidate) {
		c.cfg.Post(func() {
			if c.roomID != room {
				return
			}
			if _, ok := c.participants[from]; !ok {
				return
			}
			c.sendSignal(from, wire.SignalICE, cand)
		})
	})
	pc.OnConnectionStateChange(func(s rtc.ConnState) {
		c.cfg.Post(func() { c.participantStateChanged(room, from, s) })
	})
	return p, nil
}

// participantStateChanged gives a disconnected link a grace period before
// tearing it down; a recovery inside the window cancels the teardown.
func (c *Controller) participantStateChanged(room, from string, s rtc.ConnState) {
	if c.roomID != room {
		return
	}
	p, ok := c.participants[from]
	if !ok {
		return
	}
	switch s {
	case rtc.ConnDisconnected:
		p.graceGen++
		gen := p.graceGen
		c.log.Info("participant link disconnected, starting grace period", "peer", from)
		c.cfg.After(c.cfg.DisconnectGrace, func() {
			cur, ok := c.participants[from]
			if !ok || cur.graceGen != gen || c.roomID != room {
				return
			}
			c.removeParticipant(from, "grace period expired")
		})
	case rtc.ConnConnected:
		p.graceGen++
	case rtc.ConnFailed, rtc.ConnClosed:
		c.removeParticipant(from, "link "+s.String())
	}
}

func (c *Controller) removeParticipant(from, reason string) {
	p, ok := c.participants[from]
	if !ok {
		return
	}
	p.graceGen++
	if p.pc != nil {
		p.pc.Close()
	}
	delete(c.participants, from)
	c.cfg.Metrics.SetRoomPeers(float64(len(c.participants)))
	c.log.Info("participant removed", "peer", from, "reason", reason)
	if c.cfg.OnParticipantGone != nil {
		c.cfg.OnParticipantGone(from)
	}
}

func (c *Controller) flushPending(from string, p *participant) {
	for _, cand := range p.pending {
		if err := p.pc.AddICECandidate(cand); err != nil {
			c.log.Warn("applying buffered room candidate failed", "peer", from, "err", err)
		}
	}
	p.pending = nil
}

func (c *Controller) send(msg wire.VoiceRoomSignal) {
	if err := c.cfg.Send(msg); err != nil {
		c.log.Warn("sending room signal failed", "signal", msg.SignalType, "err", err)
	}
}

func (c *Controller) sendSignal(to, signalType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn("encoding room signal failed", "signal", signalType, "err", err)
		return
	}
	c.send(wire.VoiceRoomSignal{
		From:       c.cfg.SelfID,
		To:         to,
		RoomID:     c.roomID,
		SignalType: signalType,
		Data:       string(data),
	})
}

func (c *Controller) dropSignal(from, kind string) {
	c.cfg.Metrics.IncSignalDropped()
	c.log.Debug("dropping room signal", "from", from, "kind", kind)
}
