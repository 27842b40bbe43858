// Package press implements the concurrent press-tracking and repeat-dispatch
// engine: a registry of per-(client, key) held sessions, each running its own
// repeat loop that re-sends at a fixed interval, stops on an explicit release
// signal, and force-releases once the max-hold safety timeout elapses.
package press

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"
	"pkt.systems/pslog"

	"github.com/irkeyd/irkeyd/internal/clock"
	"github.com/irkeyd/irkeyd/internal/svcfields"
)

// Sender issues one whole-key hardware send. Satisfied by *irsend.Sender.
type Sender interface {
	Send(ctx context.Context, keyName string) error
}

type sessionKey struct {
	clientID string
	key      string
}

// Registry owns the map of active press sessions. It enforces at-most-one
// session per (client, key) pair and spawns one worker goroutine per session.
// The registry mutex covers only the map check-then-act sequences; workers
// never hold it while waiting or sending.
type Registry struct {
	sender   Sender
	clk      clock.Clock
	logger   pslog.Logger
	interval time.Duration
	maxHold  time.Duration

	mu       sync.Mutex
	sessions map[sessionKey]*Session
	closed   bool
	wg       sync.WaitGroup
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) RegistryOption {
	return func(r *Registry) { r.clk = c }
}

// WithLogger supplies the logger used for session lifecycle and send
// failure reports.
func WithLogger(l pslog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry constructs a Registry that repeats sends every interval and
// force-releases sessions after maxHold.
func NewRegistry(sender Sender, interval, maxHold time.Duration, opts ...RegistryOption) *Registry {
	r := &Registry{
		sender:   sender,
		clk:      clock.Real{},
		logger:   pslog.NoopLogger(),
		interval: interval,
		maxHold:  maxHold,
		sessions: make(map[sessionKey]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = svcfields.WithSubsystem(r.logger, "press")
	return r
}

// Start registers a new session for (clientID, key) and spawns its repeat
// loop. It reports false without side effects when a session for the pair is
// already held (a duplicate down under network retries) or when the registry
// is shutting down.
func (r *Registry) Start(clientID, key string) bool {
	k := sessionKey{clientID: clientID, key: key}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if _, exists := r.sessions[k]; exists {
		r.mu.Unlock()
		return false
	}
	s := newSession(xid.New().String(), clientID, key, r.clk.Now())
	r.sessions[k] = s
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(s)
	return true
}

// Stop signals cancellation of the session for (clientID, key) and reports
// whether one was found. Termination and deregistration happen asynchronously
// inside the session's own loop; an up with nothing held is a no-op.
func (r *Registry) Stop(clientID, key string) bool {
	r.mu.Lock()
	s, ok := r.sessions[sessionKey{clientID: clientID, key: key}]
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.signalStop()
	return true
}

// Active returns the number of registered sessions (active or stopping).
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown broadcasts cancellation to every live session and waits for all
// workers to terminate, bounded by ctx. No new sessions start afterwards.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, s := range r.sessions {
		s.signalStop()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) deregister(s *Session) {
	r.mu.Lock()
	delete(r.sessions, sessionKey{clientID: s.ClientID, key: s.Key})
	r.mu.Unlock()
}

// run is the repeat scheduler. The interval wait doubles as rate limiter and
// cancellation checkpoint: stop latency is bounded by one interval, and at
// most one send is ever in flight per session. Send failures are reported
// and the loop keeps ticking so a transient hardware fault cannot kill a
// held session; only the release signal or the max-hold deadline ends it.
func (r *Registry) run(s *Session) {
	logger := r.logger.With("session", s.ID, "client_id", s.ClientID, "key", s.Key)
	defer r.wg.Done()
	defer func() {
		s.advance(StatusTerminated)
		r.deregister(s)
		logger.Debug("session terminated", "held_for", r.clk.Now().Sub(s.startedAt).String())
	}()

	// The first press must be felt instantly, so the initial send is not
	// gated by the interval.
	r.send(s, logger, "initial")

	for {
		if elapsed := r.clk.Now().Sub(s.startedAt); elapsed >= r.maxHold {
			s.advance(StatusStopping)
			logger.Info("max hold reached, auto releasing", "elapsed", elapsed.String(), "max_hold", r.maxHold.String())
			return
		}
		select {
		case <-s.cancel:
			s.advance(StatusStopping)
			return
		case <-r.clk.After(r.interval):
			// A release that raced the tick still wins: never send after
			// the signal is observable.
			select {
			case <-s.cancel:
				s.advance(StatusStopping)
				return
			default:
			}
			// Re-check the deadline so the wait that crosses it releases
			// the key instead of squeezing in one more send.
			if elapsed := r.clk.Now().Sub(s.startedAt); elapsed >= r.maxHold {
				s.advance(StatusStopping)
				logger.Info("max hold reached, auto releasing", "elapsed", elapsed.String(), "max_hold", r.maxHold.String())
				return
			}
			r.send(s, logger, "repeat")
		}
	}
}

// send performs one blocking whole-key send. Hardware transmits are never
// interrupted mid-flight; cancellation and timeouts are observed between
// sends only.
func (r *Registry) send(s *Session, logger pslog.Logger, kind string) {
	if err := r.sender.Send(context.Background(), s.Key); err != nil {
		logger.Warn("send failed", "kind", kind, "error", err)
		return
	}
	logger.Trace("send ok", "kind", kind)
}
