// Package notify fans client events out to UI subscribers: session state
// changes, incoming calls, unencrypted-DM warnings, participant removals. A
// bounded replay buffer lets a UI that reattaches after a pause catch up.
package notify

import (
	"sync"
	"time"
)

// Topics published by the core.
const (
	TopicSessionState    = "session.state"
	TopicIncomingCall    = "call.incoming"
	TopicCallEnded       = "call.ended"
	TopicChatMessage     = "chat.message"
	TopicTyping          = "chat.typing"
	TopicEdit            = "chat.edit"
	TopicDelete          = "chat.delete"
	TopicReaction        = "chat.reaction"
	TopicReactionsSync   = "chat.reactions"
	TopicPins            = "chat.pins"
	TopicRoster          = "roster.update"
	TopicChannelList     = "channel.list"
	TopicVoiceRooms      = "voice.rooms"
	TopicDirectMessage   = "dm.message"
	TopicDMHistory       = "dm.history"
	TopicDMList          = "dm.list"
	TopicDMUnencrypted   = "dm.unencrypted"
	TopicProfile         = "profile.data"
	TopicParticipantGone = "room.participant_gone"
	TopicSystem          = "system.message"
)

type Event struct {
	Seq     int64
	Topic   string
	Payload any
	At      time.Time
}

// Hub is a sequence-numbered publish/subscribe fan-out with bounded replay.
type Hub struct {
	mu      sync.Mutex
	nextSeq int64
	limit   int
	history []Event
	subs    map[int]chan Event
	nextSub int
}

func NewHub(limit int) *Hub {
	if limit < 1 {
		limit = 1
	}
	return &Hub{
		limit: limit,
		subs:  make(map[int]chan Event),
	}
}

// Publish appends the event to the replay buffer and delivers it to every
// live subscriber. A subscriber that cannot keep up is dropped; it can
// resubscribe from its last seq.
func (h *Hub) Publish(topic string, payload any) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	event := Event{
		Seq:     h.nextSeq,
		Topic:   topic,
		Payload: payload,
		At:      time.Now().UTC(),
	}
	h.history = append(h.history, event)
	if len(h.history) > h.limit {
		h.history = append([]Event(nil), h.history[len(h.history)-h.limit:]...)
	}

	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			close(ch)
			delete(h.subs, id)
		}
	}
	return event
}

// Subscribe returns the buffered events after fromSeq plus a live channel.
// The cancel func detaches and closes the channel.
func (h *Hub) Subscribe(fromSeq int64) ([]Event, <-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	replay := make([]Event, 0)
	for _, event := range h.history {
		if event.Seq > fromSeq {
			replay = append(replay, event)
		}
	}

	id := h.nextSub
	h.nextSub++
	ch := make(chan Event, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			close(sub)
			delete(h.subs, id)
		}
	}
	return replay, ch, cancel
}

// BacklogSize counts the retained replay events.
func (h *Hub) BacklogSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.history)
}
