package call

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"humanity-chat/client-core/internal/rtc"
	"humanity-chat/client-core/internal/rtc/rtctest"
	"humanity-chat/client-core/internal/wire"
)

type harness struct {
	ctrl    *Controller
	device  *rtctest.Device
	factory *rtctest.Factory

	sent   []wire.Message
	events []Event
	timers []func()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		device:  rtctest.NewDevice(),
		factory: rtctest.NewFactory(),
	}
	h.ctrl = New(Config{
		SelfID:  "self",
		Send:    func(msg wire.Message) error { h.sent = append(h.sent, msg); return nil },
		Gate:    rtc.NewMediaGate(h.device),
		Factory: h.factory,
		After: func(d time.Duration, fn func()) func() {
			h.timers = append(h.timers, fn)
			return func() {}
		},
		OnEvent: func(ev Event) { h.events = append(h.events, ev) },
	})
	return h
}

func (h *harness) voiceActions() []string {
	var out []string
	for _, msg := range h.sent {
		if vc, ok := msg.(wire.VoiceCall); ok {
			out = append(out, vc.Action+">"+vc.To)
		}
	}
	return out
}

func (h *harness) signals() []wire.WebRTCSignal {
	var out []wire.WebRTCSignal
	for _, msg := range h.sent {
		if s, ok := msg.(wire.WebRTCSignal); ok {
			out = append(out, s)
		}
	}
	return out
}

func (h *harness) fireRingTimeout() {
	for _, fn := range h.timers {
		fn()
	}
	h.timers = nil
}

func marshalSignal(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestOutgoingCallFlow(t *testing.T) {
	h := newHarness(t)

	if err := h.ctrl.Initiate("peer-b"); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if h.ctrl.State() != RingingOut {
		t.Fatalf("state %v, want RingingOut", h.ctrl.State())
	}
	if got := h.voiceActions(); len(got) != 1 || got[0] != "ring>peer-b" {
		t.Fatalf("ring not sent: %v", got)
	}
	if h.device.Opens() != 1 {
		t.Fatal("microphone must be claimed before ringing")
	}

	// Remote accept: the caller produces the offer.
	h.ctrl.HandleVoiceCall(wire.VoiceCall{From: "peer-b", To: "self", Action: wire.CallActionAccept})
	if h.ctrl.State() != InCall {
		t.Fatalf("state %v, want InCall", h.ctrl.State())
	}
	sigs := h.signals()
	if len(sigs) != 1 || sigs[0].SignalType != wire.SignalOffer || sigs[0].To != "peer-b" {
		t.Fatalf("caller must send the offer after accept: %+v", sigs)
	}

	// Remote answer completes negotiation.
	answer := marshalSignal(t, rtc.SessionDescription{Type: "answer", SDP: "remote-sdp"})
	h.ctrl.HandleSignal(wire.WebRTCSignal{From: "peer-b", To: "self", SignalType: wire.SignalAnswer, Data: answer})
	peers := h.factory.Peers()
	if len(peers) != 1 || peers[0].RemoteDescription() == nil {
		t.Fatal("remote answer must be applied to the peer connection")
	}

	h.ctrl.Hangup()
	if h.ctrl.State() != Idle || !peers[0].Closed() || h.device.OpenSources() != 0 {
		t.Fatal("hangup must close the connection and release media")
	}
	if got := h.voiceActions(); got[len(got)-1] != "hangup>peer-b" {
		t.Fatalf("hangup not sent: %v", got)
	}
}

func TestIncomingCallAcceptAwaitsOffer(t *testing.T) {
	h := newHarness(t)

	h.ctrl.HandleVoiceCall(wire.VoiceCall{From: "peer-a", To: "self", Action: wire.CallActionRing})
	if h.ctrl.State() != RingingIn {
		t.Fatalf("state %v, want RingingIn", h.ctrl.State())
	}
	if len(h.events) != 1 || h.events[0].Kind != EventIncoming || h.events[0].PeerID != "peer-a" {
		t.Fatalf("incoming ring must be surfaced: %+v", h.events)
	}

	if err := h.ctrl.Accept(); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if h.ctrl.State() != InCall {
		t.Fatalf("state %v, want InCall", h.ctrl.State())
	}
	if got := h.voiceActions(); got[len(got)-1] != "accept>peer-a" {
		t.Fatalf("accept not sent: %v", got)
	}
	// The callee never produces an offer.
	if sigs := h.signals(); len(sigs) != 0 {
		t.Fatalf("callee must await the caller's offer: %+v", sigs)
	}

	// The caller's offer triggers the answer.
	offer := marshalSignal(t, rtc.SessionDescription{Type: "offer", SDP: "caller-sdp"})
	h.ctrl.HandleSignal(wire.WebRTCSignal{From: "peer-a", To: "self", SignalType: wire.SignalOffer, Data: offer})
	sigs := h.signals()
	if len(sigs) != 1 || sigs[0].SignalType != wire.SignalAnswer {
		t.Fatalf("callee must answer the offer: %+v", sigs)
	}
}

func TestBusyRingAutoRejected(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Initiate("peer-c")
	h.ctrl.HandleVoiceCall(wire.VoiceCall{From: "peer-c", To: "self", Action: wire.CallActionAccept})
	if h.ctrl.State() != InCall {
		t.Fatalf("setup failed, state %v", h.ctrl.State())
	}
	eventsBefore := len(h.events)

	h.ctrl.HandleVoiceCall(wire.VoiceCall{From: "peer-b", To: "self", Action: wire.CallActionRing})
	if h.ctrl.State() != InCall || h.ctrl.PeerID() != "peer-c" {
		t.Fatal("a busy ring must not disturb the active call")
	}
	if got := h.voiceActions(); got[len(got)-1] != "reject>peer-b" {
		t.Fatalf("busy ring must be auto-rejected: %v", got)
	}
	for _, ev := range h.events[eventsBefore:] {
		if ev.Kind == EventIncoming {
			t.Fatal("busy ring must not surface an incoming-call prompt")
		}
	}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	h := newHarness(t)

	h.ctrl.HandleVoiceCall(wire.VoiceCall{From: "peer-a", To: "self", Action: wire.CallActionRing})
	if err := h.ctrl.Accept(); err != nil {
		t.Fatalf("accept: %v", err)
	}
	peer := h.factory.Peers()[0]

	// Candidates outrun the offer.
	for i, c := range []string{"cand-1", "cand-2", "cand-3"} {
		data := marshalSignal(t, rtc.Candidate{Candidate: c, SDPMLineIndex: uint16(i)})
		h.ctrl.HandleSignal(wire.WebRTCSignal{From: "peer-a", To: "self", SignalType: wire.SignalICE, Data: data})
	}
	if got := peer.Candidates(); len(got) != 0 {
		t.Fatalf("candidates must not be applied before the description: %+v", got)
	}

	offer := marshalSignal(t, rtc.SessionDescription{Type: "offer", SDP: "caller-sdp"})
	h.ctrl.HandleSignal(wire.WebRTCSignal{From: "peer-a", To: "self", SignalType: wire.SignalOffer, Data: offer})

	got := peer.Candidates()
	if len(got) != 3 || got[0].Candidate != "cand-1" || got[1].Candidate != "cand-2" || got[2].Candidate != "cand-3" {
		t.Fatalf("buffered candidates must flush in arrival order: %+v", got)
	}

	// A candidate after the description applies directly, and the buffer
	// never replays.
	data := marshalSignal(t, rtc.Candidate{Candidate: "cand-4"})
	h.ctrl.HandleSignal(wire.WebRTCSignal{From: "peer-a", To: "self", SignalType: wire.SignalICE, Data: data})
	if got := peer.Candidates(); len(got) != 4 || got[3].Candidate != "cand-4" {
		t.Fatalf("late candidate must apply once, total %d", len(got))
	}
}

func TestOutgoingRingTimeout(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Initiate("peer-b")
	h.fireRingTimeout()
	if h.ctrl.State() != Idle {
		t.Fatalf("unanswered ring must time out to Idle, state %v", h.ctrl.State())
	}
	if got := h.voiceActions(); got[len(got)-1] != "hangup>peer-b" {
		t.Fatalf("timeout must notify the remote: %v", got)
	}
	if h.device.OpenSources() != 0 {
		t.Fatal("timeout must release the microphone")
	}

	last := h.events[len(h.events)-1]
	if last.Kind != EventEnded || last.Reason != "no answer" {
		t.Fatalf("unexpected end event: %+v", last)
	}
}

func TestRingTimerIgnoredAfterAccept(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Initiate("peer-b")
	h.ctrl.HandleVoiceCall(wire.VoiceCall{From: "peer-b", To: "self", Action: wire.CallActionAccept})
	h.fireRingTimeout()
	if h.ctrl.State() != InCall {
		t.Fatalf("stale timer must be a no-op, state %v", h.ctrl.State())
	}
}

func TestRemoteRejectEndsOutgoing(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Initiate("peer-b")
	h.ctrl.HandleVoiceCall(wire.VoiceCall{From: "peer-b", To: "self", Action: wire.CallActionReject})
	if h.ctrl.State() != Idle || h.device.OpenSources() != 0 {
		t.Fatal("remote reject must end the call and release media")
	}
}

func TestMediaDeniedOnInitiate(t *testing.T) {
	h := newHarness(t)
	h.device.Deny()

	if err := h.ctrl.Initiate("peer-b"); !errors.Is(err, rtc.ErrMediaDenied) {
		t.Fatalf("expected ErrMediaDenied, got %v", err)
	}
	if h.ctrl.State() != Idle || len(h.voiceActions()) != 0 {
		t.Fatal("a denied microphone must not ring the remote")
	}
}

func TestMediaDeniedOnAcceptRejectsCall(t *testing.T) {
	h := newHarness(t)

	h.ctrl.HandleVoiceCall(wire.VoiceCall{From: "peer-a", To: "self", Action: wire.CallActionRing})
	h.device.Deny()
	if err := h.ctrl.Accept(); !errors.Is(err, rtc.ErrMediaDenied) {
		t.Fatalf("expected ErrMediaDenied, got %v", err)
	}
	if h.ctrl.State() != Idle {
		t.Fatalf("failed accept must return to Idle, state %v", h.ctrl.State())
	}
	if got := h.voiceActions(); got[len(got)-1] != "reject>peer-a" {
		t.Fatalf("failed accept must reject toward the caller: %v", got)
	}
}

func TestTransportClosedTearsDown(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Initiate("peer-b")
	h.ctrl.HandleVoiceCall(wire.VoiceCall{From: "peer-b", To: "self", Action: wire.CallActionAccept})
	h.ctrl.TransportClosed()
	if h.ctrl.State() != Idle || h.device.OpenSources() != 0 {
		t.Fatal("transport loss must tear the call down")
	}
	if !h.factory.Peers()[0].Closed() {
		t.Fatal("peer connection must be closed")
	}
}

func TestSignalsFromStrangerDropped(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Initiate("peer-b")
	h.ctrl.HandleVoiceCall(wire.VoiceCall{From: "peer-b", To: "self", Action: wire.CallActionAccept})
	sigsBefore := len(h.signals())

	answer := marshalSignal(t, rtc.SessionDescription{Type: "answer", SDP: "intruder"})
	h.ctrl.HandleSignal(wire.WebRTCSignal{From: "peer-x", To: "self", SignalType: wire.SignalAnswer, Data: answer})
	if h.factory.Peers()[0].RemoteDescription() != nil {
		t.Fatal("stranger description must not be applied")
	}
	h.ctrl.HandleVoiceCall(wire.VoiceCall{From: "peer-x", To: "self", Action: wire.CallActionHangup})
	if h.ctrl.State() != InCall {
		t.Fatal("stranger hangup must not end the call")
	}
	if len(h.signals()) != sigsBefore {
		t.Fatal("stranger signals must produce no outbound traffic")
	}
}
