// Package syncstate reconciles the device's settings blob with the copy the
// relay holds. The rule is whole-blob last-writer-wins over the updated_at
// logical timestamp; there is no field-level merge, so concurrent edits from
// two devices lose one side's unrelated changes.
package syncstate

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"humanity-chat/client-core/internal/e2ee"
	"humanity-chat/client-core/internal/metrics"
	"humanity-chat/client-core/internal/wire"
)

// DefaultCoalesceWindow bounds outbound traffic: rapid local mutations inside
// the window collapse into one push carrying the latest timestamp.
const DefaultCoalesceWindow = 2 * time.Second

// DefaultPullGrace is how long after Active we wait for the relay's sync
// payload before concluding no remote blob exists and pushing ours.
const DefaultPullGrace = 3 * time.Second

// syncPayload is the JSON carried after the __sync_data__: prefix and in the
// sync_save envelope's blob field.
type syncPayload struct {
	Blob      string `json:"blob"`
	UpdatedAt int64  `json:"updated_at"`
}

type Config struct {
	Channel *e2ee.Channel
	Send    func(wire.Message) error
	// OnApply installs a remote blob's plaintext settings locally.
	OnApply func(payload []byte, updatedAt int64)
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	CoalesceWindow time.Duration
	PullGrace      time.Duration
	Now            func() time.Time
	// After schedules fn on the session loop; the return cancels the timer.
	After func(d time.Duration, fn func()) func()
}

// Reconciler owns the local settings blob and its reconciliation against the
// relay-held copy.
type Reconciler struct {
	cfg Config
	log *slog.Logger

	mu          sync.Mutex
	payload     []byte
	updatedAt   int64
	flushGen    int
	cancelFlush func()
	pullGen     int
	cancelPull  func()
	remoteSeen  bool
}

func New(cfg Config) *Reconciler {
	if cfg.CoalesceWindow <= 0 {
		cfg.CoalesceWindow = DefaultCoalesceWindow
	}
	if cfg.PullGrace <= 0 {
		cfg.PullGrace = DefaultPullGrace
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
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
	return &Reconciler{cfg: cfg, log: log.With("component", "sync")}
}

// SetLocal installs the blob loaded from disk at startup.
func (r *Reconciler) SetLocal(payload []byte, updatedAt int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payload = append([]byte(nil), payload...)
	r.updatedAt = updatedAt
}

// UpdatedAt returns the logical timestamp of the local blob.
func (r *Reconciler) UpdatedAt() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updatedAt
}

// LocalMutated records a local settings change. Pushes are coalesced: the
// first mutation arms the flush timer, later ones inside the window just
// replace the payload and bump the timestamp.
func (r *Reconciler) LocalMutated(payload []byte) {
	r.mu.Lock()
	r.payload = append([]byte(nil), payload...)
	r.updatedAt = r.cfg.Now().UnixMilli()
	armed := r.cancelFlush != nil
	var gen int
	if !armed {
		r.flushGen++
		gen = r.flushGen
	}
	r.mu.Unlock()

	if armed {
		return
	}
	cancel := r.cfg.After(r.cfg.CoalesceWindow, func() { r.flushTimerFired(gen) })
	r.mu.Lock()
	r.cancelFlush = cancel
	r.mu.Unlock()
}

func (r *Reconciler) flushTimerFired(gen int) {
	r.mu.Lock()
	if gen != r.flushGen {
		r.mu.Unlock()
		return
	}
	r.cancelFlush = nil
	r.mu.Unlock()
	r.Push()
}

// Push seals the local blob under the device key and sends it immediately.
func (r *Reconciler) Push() {
	r.mu.Lock()
	payload := append([]byte(nil), r.payload...)
	updatedAt := r.updatedAt
	if r.cancelFlush != nil {
		r.cancelFlush()
		r.cancelFlush = nil
		r.flushGen++
	}
	r.mu.Unlock()

	if len(payload) == 0 {
		return
	}
	blob, err := r.cfg.Channel.SealSyncBlob(payload)
	if err != nil {
		r.log.Warn("sealing sync blob failed", "err", err)
		return
	}
	if err := r.cfg.Send(wire.SyncSave{Blob: blob, UpdatedAt: updatedAt}); err != nil {
		r.log.Warn("sync push failed", "err", err)
		return
	}
	r.cfg.Metrics.IncSyncPush()
}

// OnActive runs on every Active transition: wait briefly for the relay's
// sync payload; if none shows up, the local blob is authoritative.
func (r *Reconciler) OnActive() {
	r.mu.Lock()
	r.remoteSeen = false
	r.pullGen++
	gen := r.pullGen
	if r.cancelPull != nil {
		r.cancelPull()
	}
	r.mu.Unlock()

	cancel := r.cfg.After(r.cfg.PullGrace, func() { r.pullTimerFired(gen) })
	r.mu.Lock()
	r.cancelPull = cancel
	r.mu.Unlock()
}

func (r *Reconciler) pullTimerFired(gen int) {
	r.mu.Lock()
	stale := gen != r.pullGen || r.remoteSeen
	if !stale {
		r.cancelPull = nil
	}
	r.mu.Unlock()
	if stale {
		return
	}
	r.log.Debug("no remote sync blob, pushing local state")
	r.Push()
}

// HandleSystem consumes a system envelope when it carries sync data. Returns
// false for ordinary operator messages so they keep flowing to the UI.
func (r *Reconciler) HandleSystem(msg wire.System) bool {
	if !strings.HasPrefix(msg.Message, wire.SyncDataPrefix) {
		return false
	}
	var payload syncPayload
	raw := msg.Message[len(wire.SyncDataPrefix):]
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		r.log.Warn("malformed sync payload, keeping local state", "err", err)
		return true
	}
	r.mu.Lock()
	r.remoteSeen = true
	if r.cancelPull != nil {
		r.cancelPull()
		r.cancelPull = nil
	}
	r.mu.Unlock()
	r.Reconcile(payload.Blob, payload.UpdatedAt)
	return true
}

// Reconcile applies the last-writer-wins rule against the remote blob:
//
//   - undecryptable remote (cross-identity): local wins unconditionally and a
//     push is scheduled to overwrite the unreadable copy;
//   - strictly newer remote: applied locally, its timestamp adopted;
//   - otherwise: local is newer-or-equal and is re-pushed.
func (r *Reconciler) Reconcile(remoteBlob string, remoteUpdatedAt int64) {
	plaintext, err := r.cfg.Channel.OpenSyncBlob(remoteBlob)
	if err != nil {
		r.log.Warn("remote sync blob is foreign or corrupt, scheduling overwrite")
		r.Push()
		return
	}

	r.mu.Lock()
	localUpdatedAt := r.updatedAt
	r.mu.Unlock()

	if remoteUpdatedAt > localUpdatedAt {
		r.mu.Lock()
		r.payload = append([]byte(nil), plaintext...)
		r.updatedAt = remoteUpdatedAt
		r.mu.Unlock()
		if r.cfg.OnApply != nil {
			r.cfg.OnApply(plaintext, remoteUpdatedAt)
		}
		return
	}
	r.Push()
}
