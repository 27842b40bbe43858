package press

import (
	"sync"
	"sync/atomic"
	"time"
)

// Status tracks a session's position on its single forward path.
type Status int32

const (
	// StatusActive means the repeat loop is running.
	StatusActive Status = iota
	// StatusStopping means the session has observed its stop condition and
	// will not send again.
	StatusStopping
	// StatusTerminated means the loop has exited and the session is
	// deregistered.
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusStopping:
		return "stopping"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session is the live tracking unit for one held key by one client. It owns
// its cancellation channel; the registry only ever closes the channel, never
// touches the loop.
type Session struct {
	ID       string
	ClientID string
	Key      string

	startedAt time.Time
	status    atomic.Int32
	cancel    chan struct{}
	once      sync.Once
}

func newSession(id, clientID, key string, startedAt time.Time) *Session {
	return &Session{
		ID:        id,
		ClientID:  clientID,
		Key:       key,
		startedAt: startedAt,
		cancel:    make(chan struct{}),
	}
}

// Status returns the session's current lifecycle status.
func (s *Session) Status() Status {
	return Status(s.status.Load())
}

// StartedAt returns the time the session was registered.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// signalStop requests cooperative cancellation. Safe to call any number of
// times from any goroutine; the loop observes it at its next wait.
func (s *Session) signalStop() {
	s.once.Do(func() { close(s.cancel) })
}

// advance moves the status forward to at least target. The path is strictly
// forward, so a late advance to an earlier state is a no-op.
func (s *Session) advance(target Status) {
	for {
		cur := s.status.Load()
		if cur >= int32(target) {
			return
		}
		if s.status.CompareAndSwap(cur, int32(target)) {
			return
		}
	}
}
