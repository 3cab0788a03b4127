// Package session owns the relay connection: the identify handshake, the
// reconnect schedule, and dispatch of every inbound envelope to its
// registered handlers. All handlers run on the session loop goroutine, one at
// a time, so downstream state machines never see interleaved events.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"humanity-chat/client-core/internal/metrics"
	"humanity-chat/client-core/internal/wire"
)

// State is the connection lifecycle position.
type State int

const (
	StateConnecting State = iota
	StateAwaitingConfirmation
	StateActive
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrRejected is a server-issued permanent rejection (name in use).
	// Terminal: the session closes and never reconnects.
	ErrRejected = errors.New("session: relay rejected identity")
	// ErrNotConnected is returned by Send while no connection is up.
	ErrNotConnected = errors.New("session: not connected")
)

// HandlerFunc consumes one inbound envelope on the session loop.
type HandlerFunc func(wire.Message)

type Config struct {
	RelayURL        string
	PublicID        string
	DisplayName     string
	AgreementPublic string // hex X25519 key advertised in identify; may be empty
	LinkCode        string
	InviteCode      string

	Dialer  Dialer
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// OnState observes every lifecycle transition; retryIn is non-zero only
	// for Reconnecting and feeds the "reconnecting in Ns" indicator.
	OnState func(state State, retryIn time.Duration)
}

// Manager drives the connection lifecycle and fans inbound envelopes out to
// the dispatch table. One instance per process lifetime.
type Manager struct {
	cfg Config
	log *slog.Logger

	handlers     map[wire.Type][]HandlerFunc
	onActive     []func()
	onDisconnect []func()

	mu    sync.Mutex
	state State
	conn  Conn

	schedule *backoff.ExponentialBackOff
	funcs    chan func()
	done     chan struct{}
	doneOnce sync.Once

	// timerFn is a seam for tests; production uses time.After.
	timerFn func(time.Duration) <-chan time.Time
}

func New(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		log:      log.With("component", "session"),
		handlers: make(map[wire.Type][]HandlerFunc),
		state:    StateConnecting,
		schedule: newReconnectSchedule(),
		funcs:    make(chan func(), 64),
		done:     make(chan struct{}),
		timerFn:  func(d time.Duration) <-chan time.Time { return time.After(d) },
	}
}

// Handle appends a handler for one wire type. The registration order is the
// processing order. Must be called before Run.
func (m *Manager) Handle(t wire.Type, h HandlerFunc) {
	m.handlers[t] = append(m.handlers[t], h)
}

// OnActive registers a hook run on every transition into Active, after the
// confirming roster envelope has been dispatched.
func (m *Manager) OnActive(fn func()) {
	m.onActive = append(m.onActive, fn)
}

// OnDisconnect registers a hook run when an established connection drops
// (not on a terminal rejection).
func (m *Manager) OnDisconnect(fn func()) {
	m.onDisconnect = append(m.onDisconnect, fn)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Post schedules fn on the session loop. It blocks while the loop is backed
// up; fn never runs on the caller's goroutine. After Run has returned the
// work is discarded, since nothing drains the loop anymore.
func (m *Manager) Post(fn func()) {
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.funcs <- fn:
	case <-m.done:
	}
}

// Done is closed once Run has returned. Posted work is no longer serviced
// after that point; callers waiting on a posted result select on this.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// After runs fn on the session loop after d. The returned cancel is a no-op
// once the timer fired; owners guard stale fires with generation counters.
func (m *Manager) After(d time.Duration, fn func()) (cancel func()) {
	t := time.AfterFunc(d, func() { m.Post(fn) })
	return func() { t.Stop() }
}

// Send marshals one envelope onto the single outbound path.
func (m *Manager) Send(msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("session send: %w", err)
	}
	m.cfg.Metrics.IncOut(string(msg.WireType()))
	return nil
}

// Run connects and keeps the session alive until the context is cancelled or
// the relay issues a terminal rejection. It owns the loop goroutine.
func (m *Manager) Run(ctx context.Context) error {
	defer m.doneOnce.Do(func() { close(m.done) })
	attempt := 0
	for {
		if attempt > 0 {
			m.cfg.Metrics.IncReconnect()
		}
		attempt++
		m.setState(StateConnecting, 0)

		conn, err := m.cfg.Dialer.DialContext(ctx, m.cfg.RelayURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Warn("relay dial failed", "err", err)
			if !m.backoffWait(ctx) {
				return ctx.Err()
			}
			continue
		}

		err = m.serve(ctx, conn)
		if errors.Is(err, ErrRejected) {
			m.setState(StateClosed, 0)
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.log.Warn("relay connection lost", "err", err)
		for _, fn := range m.onDisconnect {
			fn()
		}
		if !m.backoffWait(ctx) {
			return ctx.Err()
		}
	}
}

// backoffWait sleeps for the next scheduled delay while still servicing
// posted work, so timers owned by controllers keep firing during an outage.
func (m *Manager) backoffWait(ctx context.Context) bool {
	delay := m.schedule.NextBackOff()
	m.setState(StateReconnecting, delay)
	timer := m.timerFn(delay)
	for {
		select {
		case <-ctx.Done():
			return false
		case fn := <-m.funcs:
			fn()
		case <-timer:
			return true
		}
	}
}

func (m *Manager) serve(ctx context.Context, conn Conn) error {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	defer func() {
		conn.Close()
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
	}()

	if err := m.Send(wire.Identify{
		PublicKey:   m.cfg.PublicID,
		DisplayName: m.cfg.DisplayName,
		ECDHPublic:  m.cfg.AgreementPublic,
		LinkCode:    m.cfg.LinkCode,
		InviteCode:  m.cfg.InviteCode,
	}); err != nil {
		return err
	}
	m.setState(StateAwaitingConfirmation, 0)

	frames := make(chan []byte, 32)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-m.funcs:
			fn()
		case err := <-readErr:
			return err
		case frame := <-frames:
			if err := m.dispatch(frame); err != nil {
				return err
			}
		}
	}
}

// dispatch decodes one frame and routes it. Unknown and malformed envelopes
// are dropped without error; only a terminal rejection propagates.
func (m *Manager) dispatch(frame []byte) error {
	msg, err := wire.Decode(frame)
	if err != nil {
		if errors.Is(err, wire.ErrUnknownType) {
			m.cfg.Metrics.IncDropped("unknown_type")
			m.log.Debug("dropping unknown envelope type")
			return nil
		}
		m.cfg.Metrics.IncDropped("malformed")
		m.log.Debug("dropping malformed envelope", "err", err)
		return nil
	}
	m.cfg.Metrics.IncIn(string(msg.WireType()))

	if rejection, ok := msg.(wire.NameTaken); ok {
		return fmt.Errorf("%w: %s", ErrRejected, rejection.Message)
	}

	// The relay's first roster broadcast confirms the identify handshake.
	if m.State() == StateAwaitingConfirmation && isConfirmation(msg) {
		m.schedule.Reset()
		m.setState(StateActive, 0)
		defer func() {
			for _, fn := range m.onActive {
				fn()
			}
		}()
	}

	for _, h := range m.handlers[msg.WireType()] {
		h(msg)
	}
	return nil
}

func isConfirmation(msg wire.Message) bool {
	switch msg.WireType() {
	case wire.TypePeerList, wire.TypeFullUserList:
		return true
	}
	return false
}

func (m *Manager) setState(s State, retryIn time.Duration) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		if s == StateReconnecting && m.cfg.OnState != nil {
			m.cfg.OnState(s, retryIn)
		}
		return
	}
	m.state = s
	m.mu.Unlock()

	if retryIn > 0 {
		m.log.Info("session state", "state", s.String(), "retry_in", retryIn)
	} else {
		m.log.Info("session state", "state", s.String())
	}
	if m.cfg.OnState != nil {
		m.cfg.OnState(s, retryIn)
	}
}
