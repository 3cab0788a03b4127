package syncstate

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"humanity-chat/client-core/internal/e2ee"
	"humanity-chat/client-core/internal/identity"
	"humanity-chat/client-core/internal/wire"
)

// fakeClock drives the injected Now and After seams by hand.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at        time.Time
	fn        func()
	cancelled bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration, fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		t.cancelled = true
	}
}

// advance moves the clock and fires every due timer.
func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	var rest []*fakeTimer
	for _, t := range c.timers {
		if !t.cancelled && !t.at.After(c.now) {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

type sentSync struct {
	msgs []wire.SyncSave
}

func (s *sentSync) send(msg wire.Message) error {
	if save, ok := msg.(wire.SyncSave); ok {
		s.msgs = append(s.msgs, save)
	}
	return nil
}

func newTestReconciler(t *testing.T) (*Reconciler, *fakeClock, *sentSync, *e2ee.Channel, *e2ee.Channel) {
	t.Helper()
	self, _, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate self: %v", err)
	}
	other, _, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate other: %v", err)
	}
	ch, err := e2ee.NewChannel(self.AgreementPrivateKey(), self.SigningSeed())
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	foreign, err := e2ee.NewChannel(other.AgreementPrivateKey(), other.SigningSeed())
	if err != nil {
		t.Fatalf("foreign channel: %v", err)
	}
	clock := newFakeClock()
	sent := &sentSync{}
	r := New(Config{
		Channel: ch,
		Send:    sent.send,
		Now:     clock.Now,
		After:   clock.After,
	})
	return r, clock, sent, ch, foreign
}

func TestNewerRemoteWinsAndTimestampAdopted(t *testing.T) {
	r, _, sent, ch, _ := newTestReconciler(t)
	r.SetLocal([]byte(`{"theme":"light"}`), 100)

	blob, err := ch.SealSyncBlob([]byte(`{"theme":"dark"}`))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	var applied []byte
	r.cfg.OnApply = func(payload []byte, updatedAt int64) { applied = payload }

	r.Reconcile(blob, 200)
	if string(applied) != `{"theme":"dark"}` {
		t.Fatalf("remote blob not applied: %s", applied)
	}
	if r.UpdatedAt() != 200 {
		t.Fatalf("timestamp must be adopted, got %d", r.UpdatedAt())
	}
	if len(sent.msgs) != 0 {
		t.Fatalf("a newer remote must not trigger a push, sent %d", len(sent.msgs))
	}
}

func TestOlderRemoteRepushesLocal(t *testing.T) {
	r, _, sent, ch, _ := newTestReconciler(t)
	r.SetLocal([]byte(`{"theme":"light"}`), 300)

	blob, err := ch.SealSyncBlob([]byte(`{"theme":"dark"}`))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	r.Reconcile(blob, 200)
	if r.UpdatedAt() != 300 {
		t.Fatalf("older remote must not win, got %d", r.UpdatedAt())
	}
	if len(sent.msgs) != 1 || sent.msgs[0].UpdatedAt != 300 {
		t.Fatalf("local blob must be re-pushed: %+v", sent.msgs)
	}
	out, err := ch.OpenSyncBlob(sent.msgs[0].Blob)
	if err != nil || string(out) != `{"theme":"light"}` {
		t.Fatalf("pushed blob mismatch: %s, %v", out, err)
	}
}

func TestEqualTimestampKeepsLocal(t *testing.T) {
	r, _, _, ch, _ := newTestReconciler(t)
	r.SetLocal([]byte(`{"a":1}`), 500)

	applied := false
	r.cfg.OnApply = func([]byte, int64) { applied = true }
	blob, _ := ch.SealSyncBlob([]byte(`{"a":2}`))
	r.Reconcile(blob, 500)
	if applied {
		t.Fatal("equal timestamps must not apply the remote blob")
	}
}

func TestForeignBlobPreservedAndOverwritten(t *testing.T) {
	r, _, sent, _, foreign := newTestReconciler(t)
	r.SetLocal([]byte(`{"mine":true}`), 100)

	applied := false
	r.cfg.OnApply = func([]byte, int64) { applied = true }
	blob, err := foreign.SealSyncBlob([]byte(`{"theirs":true}`))
	if err != nil {
		t.Fatalf("seal foreign: %v", err)
	}
	// A blob written under another identity never overwrites local state,
	// even with a newer timestamp.
	r.Reconcile(blob, 999)
	if applied {
		t.Fatal("foreign blob must never be applied")
	}
	if r.UpdatedAt() != 100 {
		t.Fatalf("local timestamp must survive, got %d", r.UpdatedAt())
	}
	if len(sent.msgs) != 1 {
		t.Fatalf("a push must be scheduled to replace the foreign blob, sent %d", len(sent.msgs))
	}
}

func TestLocalMutationsCoalesceIntoOnePush(t *testing.T) {
	r, clock, sent, _, _ := newTestReconciler(t)

	r.LocalMutated([]byte(`{"v":1}`))
	clock.advance(500 * time.Millisecond)
	r.LocalMutated([]byte(`{"v":2}`))
	clock.advance(500 * time.Millisecond)
	r.LocalMutated([]byte(`{"v":3}`))

	if len(sent.msgs) != 0 {
		t.Fatalf("no push before the window closes, sent %d", len(sent.msgs))
	}
	clock.advance(DefaultCoalesceWindow)
	if len(sent.msgs) != 1 {
		t.Fatalf("three mutations must coalesce into one push, sent %d", len(sent.msgs))
	}

	wantTS := clock.Now().Add(-DefaultCoalesceWindow).UnixMilli()
	if sent.msgs[0].UpdatedAt != wantTS {
		t.Fatalf("push must carry the last mutation's timestamp: got %d, want %d", sent.msgs[0].UpdatedAt, wantTS)
	}
}

func TestOnActivePushesWhenNoRemoteBlobArrives(t *testing.T) {
	r, clock, sent, _, _ := newTestReconciler(t)
	r.SetLocal([]byte(`{"fresh":true}`), 100)

	r.OnActive()
	clock.advance(DefaultPullGrace)
	if len(sent.msgs) != 1 {
		t.Fatalf("local state must be pushed when the relay holds nothing, sent %d", len(sent.msgs))
	}
}

func TestSystemMessageCarryingSyncDataIsConsumed(t *testing.T) {
	r, clock, sent, ch, _ := newTestReconciler(t)
	r.SetLocal([]byte(`{"old":true}`), 100)
	r.OnActive()

	blob, _ := ch.SealSyncBlob([]byte(`{"new":true}`))
	payload, _ := json.Marshal(syncPayload{Blob: blob, UpdatedAt: 200})
	msg := wire.System{Message: wire.SyncDataPrefix + string(payload)}

	if !r.HandleSystem(msg) {
		t.Fatal("sync payload must be consumed")
	}
	if r.UpdatedAt() != 200 {
		t.Fatalf("remote state must be adopted, got %d", r.UpdatedAt())
	}

	// The arrival cancels the no-remote fallback push.
	clock.advance(DefaultPullGrace)
	if len(sent.msgs) != 0 {
		t.Fatalf("pull fallback must be cancelled, sent %d", len(sent.msgs))
	}

	if r.HandleSystem(wire.System{Message: "server restarting soon"}) {
		t.Fatal("plain operator messages must pass through")
	}
}
