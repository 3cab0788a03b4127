// Package core composes the client: identity, crypto channel, roster,
// session, settings sync, calls and rooms, and the notification fan-out the
// UI consumes. The session loop owns all controller state; public methods
// that touch controllers hop onto that loop first.
package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"humanity-chat/client-core/internal/call"
	"humanity-chat/client-core/internal/clientconfig"
	"humanity-chat/client-core/internal/e2ee"
	"humanity-chat/client-core/internal/identity"
	"humanity-chat/client-core/internal/metrics"
	"humanity-chat/client-core/internal/notify"
	"humanity-chat/client-core/internal/platform/ratelimiter"
	"humanity-chat/client-core/internal/room"
	"humanity-chat/client-core/internal/roster"
	"humanity-chat/client-core/internal/rtc"
	"humanity-chat/client-core/internal/session"
	"humanity-chat/client-core/internal/syncstate"
	"humanity-chat/client-core/internal/wire"
)

// ErrClosed means the session terminated permanently (relay rejection).
var ErrClosed = errors.New("core: session closed")

// notifyBacklog bounds the UI replay buffer.
const notifyBacklog = 256

// ChatMessage is the rendered form of an inbound channel message.
type ChatMessage struct {
	From      string
	FromName  string
	Content   string
	Timestamp int64
	Channel   string
	Verified  bool
}

// DirectMessage is the rendered form of an inbound DM.
type DirectMessage struct {
	From      string
	FromName  string
	Content   string
	Timestamp int64
	Encrypted bool
}

type Config struct {
	Conf     clientconfig.Config
	Identity *identity.Provider
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	// Dialer, Factory and Device default to the production implementations;
	// tests inject fakes.
	Dialer  session.Dialer
	Factory rtc.Factory
	Device  rtc.MediaDevice
}

type Core struct {
	log *slog.Logger

	identity *identity.Provider
	channel  *e2ee.Channel
	roster   *roster.Store
	session  *session.Manager
	dedup    *session.DedupLedger
	sync     *syncstate.Reconciler
	call     *call.Controller
	room     *room.Controller
	hub      *notify.Hub
	typing   *ratelimiter.MapLimiter
	metrics  *metrics.Metrics
}

func New(cfg Config) (*Core, error) {
	if cfg.Identity == nil {
		return nil, identity.ErrNoKeys
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	channel, err := e2ee.NewChannel(cfg.Identity.AgreementPrivateKey(), cfg.Identity.SigningSeed())
	if err != nil {
		return nil, err
	}

	c := &Core{
		log:      log,
		identity: cfg.Identity,
		channel:  channel,
		roster:   roster.NewStore(),
		dedup:    session.NewDedupLedger(),
		hub:      notify.NewHub(notifyBacklog),
		typing:   ratelimiter.New(cfg.Conf.TypingRPS, cfg.Conf.TypingBurst, 10*time.Minute),
		metrics:  cfg.Metrics,
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &session.WebsocketDialer{}
	}
	c.session = session.New(session.Config{
		RelayURL:        cfg.Conf.RelayURL,
		PublicID:        cfg.Identity.PublicID(),
		DisplayName:     cfg.Conf.DisplayName,
		AgreementPublic: cfg.Identity.AgreementPublicHex(),
		InviteCode:      cfg.Conf.InviteCode,
		Dialer:          dialer,
		Logger:          log,
		Metrics:         cfg.Metrics,
		OnState: func(s session.State, retryIn time.Duration) {
			c.hub.Publish(notify.TopicSessionState, map[string]any{
				"state":    s.String(),
				"retry_in": retryIn.String(),
			})
		},
	})

	device := cfg.Device
	if device == nil {
		device = rtc.PionDevice{}
	}
	factory := cfg.Factory
	if factory == nil {
		factory = rtc.NewPionFactory(cfg.Conf.STUNServers)
	}
	gate := rtc.NewMediaGate(device)

	c.call = call.New(call.Config{
		SelfID:      cfg.Identity.PublicID(),
		Send:        c.session.Send,
		Gate:        gate,
		Factory:     factory,
		Logger:      log,
		Metrics:     cfg.Metrics,
		RingTimeout: cfg.Conf.RingTimeout,
		After:       c.session.After,
		Post:        c.session.Post,
		OnEvent:     c.publishCallEvent,
	})
	c.room = room.New(room.Config{
		SelfID:          cfg.Identity.PublicID(),
		Send:            c.session.Send,
		Gate:            gate,
		Factory:         factory,
		Logger:          log,
		Metrics:         cfg.Metrics,
		DisconnectGrace: cfg.Conf.DisconnectGrace,
		After:           c.session.After,
		Post:            c.session.Post,
		OnParticipantGone: func(peerID string) {
			c.hub.Publish(notify.TopicParticipantGone, peerID)
		},
	})
	c.sync = syncstate.New(syncstate.Config{
		Channel:        channel,
		Send:           c.session.Send,
		Logger:         log,
		Metrics:        cfg.Metrics,
		CoalesceWindow: cfg.Conf.CoalesceWindow,
		After:          c.session.After,
	})

	c.registerHandlers()
	return c, nil
}

// Run drives the session until the context ends or the relay rejects the
// identity.
func (c *Core) Run(ctx context.Context) error {
	return c.session.Run(ctx)
}

// Subscribe attaches a UI consumer to the event stream.
func (c *Core) Subscribe(fromSeq int64) ([]notify.Event, <-chan notify.Event, func()) {
	return c.hub.Subscribe(fromSeq)
}

// Roster exposes the peer directory for UI queries.
func (c *Core) Roster() *roster.Store { return c.roster }

// SessionState reports the connection lifecycle position.
func (c *Core) SessionState() session.State { return c.session.State() }

func (c *Core) registerHandlers() {
	c.session.Handle(wire.TypeChat, c.handleChat)
	c.session.Handle(wire.TypeSystem, c.handleSystem)
	c.session.Handle(wire.TypePrivate, func(msg wire.Message) {
		c.hub.Publish(notify.TopicSystem, msg.(wire.Private).Message)
	})

	c.session.Handle(wire.TypePeerList, func(msg wire.Message) {
		c.roster.ApplyPeerList(msg.(wire.PeerList).Peers)
		c.hub.Publish(notify.TopicRoster, c.roster.Peers())
	})
	c.session.Handle(wire.TypeFullUserList, func(msg wire.Message) {
		c.roster.ApplyFullUserList(msg.(wire.FullUserList).Users)
		c.hub.Publish(notify.TopicRoster, c.roster.Peers())
	})
	c.session.Handle(wire.TypePeerJoined, func(msg wire.Message) {
		c.roster.ApplyJoined(msg.(wire.PeerJoined))
		c.hub.Publish(notify.TopicRoster, c.roster.Peers())
	})
	c.session.Handle(wire.TypePeerLeft, func(msg wire.Message) {
		c.roster.ApplyLeft(msg.(wire.PeerLeft).PublicKey)
		c.hub.Publish(notify.TopicRoster, c.roster.Peers())
	})

	c.session.Handle(wire.TypeTyping, func(msg wire.Message) {
		c.hub.Publish(notify.TopicTyping, msg)
	})
	c.session.Handle(wire.TypeEdit, func(msg wire.Message) {
		c.hub.Publish(notify.TopicEdit, msg)
	})
	c.session.Handle(wire.TypeDelete, func(msg wire.Message) {
		c.hub.Publish(notify.TopicDelete, msg)
	})
	c.session.Handle(wire.TypeReaction, func(msg wire.Message) {
		c.hub.Publish(notify.TopicReaction, msg)
	})
	c.session.Handle(wire.TypeReactionsSync, func(msg wire.Message) {
		c.hub.Publish(notify.TopicReactionsSync, msg)
	})
	c.session.Handle(wire.TypePinsSync, func(msg wire.Message) {
		c.hub.Publish(notify.TopicPins, msg)
	})
	c.session.Handle(wire.TypePinAdded, func(msg wire.Message) {
		c.hub.Publish(notify.TopicPins, msg)
	})
	c.session.Handle(wire.TypePinRemoved, func(msg wire.Message) {
		c.hub.Publish(notify.TopicPins, msg)
	})
	c.session.Handle(wire.TypeChannelList, func(msg wire.Message) {
		c.hub.Publish(notify.TopicChannelList, msg)
	})
	c.session.Handle(wire.TypeProfileData, func(msg wire.Message) {
		c.hub.Publish(notify.TopicProfile, msg)
	})

	c.session.Handle(wire.TypeDM, c.handleDM)
	c.session.Handle(wire.TypeDMHistory, c.handleDMHistory)
	c.session.Handle(wire.TypeDMList, func(msg wire.Message) {
		c.hub.Publish(notify.TopicDMList, msg)
	})

	c.session.Handle(wire.TypeVoiceCall, func(msg wire.Message) {
		c.call.HandleVoiceCall(msg.(wire.VoiceCall))
	})
	c.session.Handle(wire.TypeWebRTCSignal, func(msg wire.Message) {
		c.call.HandleSignal(msg.(wire.WebRTCSignal))
	})
	c.session.Handle(wire.TypeVoiceRoomSignal, func(msg wire.Message) {
		c.room.HandleSignal(msg.(wire.VoiceRoomSignal))
	})
	c.session.Handle(wire.TypeVoiceChannelList, func(msg wire.Message) {
		c.room.HandleChannelList(msg.(wire.VoiceChannelList))
		c.hub.Publish(notify.TopicVoiceRooms, msg)
	})

	c.session.OnActive(c.sync.OnActive)
	c.session.OnDisconnect(c.call.TransportClosed)
	c.session.OnDisconnect(c.room.TransportClosed)
}

func (c *Core) handleChat(msg wire.Message) {
	m := msg.(wire.Chat)
	if !c.dedup.ShouldAccept(m.From, m.Timestamp) {
		c.metrics.IncDedupDropped()
		return
	}
	// Signature verification is advisory: a bad signature is flagged, not
	// suppressed, because the relay accepts unsigned traffic from older
	// builds.
	verified := identity.VerifyChat(m.From, m.Content, m.Timestamp, m.Signature) == nil
	if !verified && m.Signature != "" {
		c.log.Warn("chat signature mismatch", "from", m.From)
	}
	c.hub.Publish(notify.TopicChatMessage, ChatMessage{
		From:      m.From,
		FromName:  m.FromName,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		Channel:   m.Channel,
		Verified:  verified,
	})
}

func (c *Core) handleSystem(msg wire.Message) {
	m := msg.(wire.System)
	if c.sync.HandleSystem(m) {
		return
	}
	c.hub.Publish(notify.TopicSystem, m.Message)
}

func (c *Core) handleDM(msg wire.Message) {
	m := msg.(wire.DM)
	if !c.dedup.ShouldAccept(m.From, m.Timestamp) {
		c.metrics.IncDedupDropped()
		return
	}
	c.publishDM(wire.DMData{
		From: m.From, FromName: m.FromName, To: m.To,
		Content: m.Content, Timestamp: m.Timestamp,
		Nonce: m.Nonce, Encrypted: m.Encrypted,
	}, notify.TopicDirectMessage)
}

func (c *Core) handleDMHistory(msg wire.Message) {
	m := msg.(wire.DMHistory)
	out := make([]DirectMessage, 0, len(m.Messages))
	for _, entry := range m.Messages {
		// History shares the ledger with live delivery, so a pair already
		// rendered live is not rendered again from the replay (and the live
		// re-broadcast of a replayed pair is suppressed in handleDM).
		if !c.dedup.ShouldAccept(entry.From, entry.Timestamp) {
			c.metrics.IncDedupDropped()
			continue
		}
		if dm, ok := c.decryptDM(entry); ok {
			out = append(out, dm)
		}
	}
	c.hub.Publish(notify.TopicDMHistory, out)
}

func (c *Core) publishDM(entry wire.DMData, topic string) {
	dm, ok := c.decryptDM(entry)
	if !ok {
		return
	}
	c.hub.Publish(topic, dm)
	if !dm.Encrypted {
		c.hub.Publish(notify.TopicDMUnencrypted, dm.From)
	}
}

// decryptDM resolves an inbound DM to plaintext. Undecryptable ciphertext is
// surfaced as a placeholder rather than dropped, so the conversation shows a
// gap instead of silently losing a message.
func (c *Core) decryptDM(entry wire.DMData) (DirectMessage, bool) {
	dm := DirectMessage{
		From:      entry.From,
		FromName:  entry.FromName,
		Timestamp: entry.Timestamp,
		Encrypted: entry.Encrypted,
	}
	if !entry.Encrypted {
		dm.Content = entry.Content
		return dm, true
	}
	peer := entry.From
	if peer == c.identity.PublicID() {
		// Own message echoed back in history: decrypt against the partner.
		peer = entry.To
	}
	content, err := c.channel.OpenDM(c.roster.AgreementKey(peer), entry.Content, entry.Nonce)
	if err != nil {
		c.log.Warn("cannot decrypt dm", "from", entry.From, "err", err)
		dm.Content = "[undecryptable message]"
		return dm, true
	}
	dm.Content = content
	return dm, true
}

func (c *Core) publishCallEvent(ev call.Event) {
	switch ev.Kind {
	case call.EventIncoming:
		c.hub.Publish(notify.TopicIncomingCall, ev.PeerID)
	case call.EventEnded:
		c.hub.Publish(notify.TopicCallEnded, map[string]string{
			"peer":   ev.PeerID,
			"reason": ev.Reason,
		})
	}
}

// SendChat signs and sends a channel message.
func (c *Core) SendChat(content, channelName string) error {
	ts := time.Now().UnixMilli()
	return c.session.Send(wire.Chat{
		From:      c.identity.PublicID(),
		Content:   content,
		Timestamp: ts,
		Signature: c.identity.SignChat(content, ts),
		Channel:   channelName,
	})
}

// SendDM encrypts a direct message for the peer. A peer that never published
// an agreement key gets the message in plaintext, and the UI is warned.
func (c *Core) SendDM(to, content string) error {
	ts := time.Now().UnixMilli()
	msg := wire.DM{From: c.identity.PublicID(), To: to, Timestamp: ts}

	cipherHex, nonceHex, err := c.channel.SealDM(c.roster.AgreementKey(to), content)
	switch {
	case err == nil:
		msg.Content = cipherHex
		msg.Nonce = nonceHex
		msg.Encrypted = true
	case errors.Is(err, e2ee.ErrNoPeerKey):
		msg.Content = content
		c.hub.Publish(notify.TopicDMUnencrypted, to)
		c.log.Warn("sending dm in plaintext, peer has no agreement key", "to", to)
	default:
		return err
	}
	return c.session.Send(msg)
}

// SendTyping emits a typing indicator, throttled per the configured rate.
func (c *Core) SendTyping() error {
	if !c.typing.Allow(string(wire.TypeTyping), time.Now()) {
		return nil
	}
	return c.session.Send(wire.Typing{From: c.identity.PublicID()})
}

// OpenDMConversation asks the relay for the DM history with a partner.
// Opening a conversation is a scope change, so the dedup ledger is cleared
// and the requested history renders in full.
func (c *Core) OpenDMConversation(partner string) error {
	c.dedup.Clear()
	return c.session.Send(wire.DMOpen{Partner: partner})
}

// SetActiveChannel records a switch of the displayed channel. Dedup pairs
// are only meaningful within one scope, so the ledger starts over.
func (c *Core) SetActiveChannel(name string) {
	c.dedup.Clear()
}

// MarkDMRead clears the unread counter for a partner on the relay.
func (c *Core) MarkDMRead(partner string) error {
	return c.session.Send(wire.DMRead{Partner: partner})
}

// RequestPin asks the relay to pin a channel message.
func (c *Core) RequestPin(fromKey, fromName, content string, timestamp int64, channelName string) error {
	return c.session.Send(wire.PinRequest{
		FromKey:   fromKey,
		FromName:  fromName,
		Content:   content,
		Timestamp: timestamp,
		Channel:   channelName,
	})
}

// UpdateProfile publishes the local bio and socials.
func (c *Core) UpdateProfile(bio, socials string) error {
	return c.session.Send(wire.ProfileUpdate{Bio: bio, Socials: socials})
}

// RequestProfile fetches another member's profile by display name.
func (c *Core) RequestProfile(name string) error {
	return c.session.Send(wire.ProfileRequest{Name: name})
}

// UpdateSettings records a local settings change for coalesced sync push.
func (c *Core) UpdateSettings(payload []byte) {
	c.sync.LocalMutated(payload)
}

// InitiateCall rings a peer.
func (c *Core) InitiateCall(peerID string) error {
	return c.runOnLoop(func() error { return c.call.Initiate(peerID) })
}

// AcceptCall answers the ringing call.
func (c *Core) AcceptCall() error {
	return c.runOnLoop(func() error { return c.call.Accept() })
}

// RejectCall declines the ringing call.
func (c *Core) RejectCall() error {
	return c.runOnLoop(func() error { c.call.Reject(); return nil })
}

// HangupCall ends the current call.
func (c *Core) HangupCall() error {
	return c.runOnLoop(func() error { c.call.Hangup(); return nil })
}

// JoinRoom joins a voice room, leaving any current one first.
func (c *Core) JoinRoom(roomID string) error {
	return c.runOnLoop(func() error { return c.room.Join(roomID) })
}

// LeaveRoom leaves the current voice room.
func (c *Core) LeaveRoom() error {
	return c.runOnLoop(func() error { c.room.Leave(); return nil })
}

// runOnLoop executes fn on the session loop and waits for its result. Once
// the session has shut down the loop no longer drains posted work, so the
// wait gives up instead of blocking forever.
func (c *Core) runOnLoop(fn func() error) error {
	if c.session.State() == session.StateClosed {
		return ErrClosed
	}
	res := make(chan error, 1)
	c.session.Post(func() { res <- fn() })
	select {
	case err := <-res:
		return err
	case <-c.session.Done():
		select {
		case err := <-res:
			return err
		default:
			return ErrClosed
		}
	}
}
