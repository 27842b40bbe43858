// Package irsend issues hardware transmit calls for logical keys. One Send
// call transmits every scancode in the key's definition sequentially and
// reports the first failure; nothing is retried or undone.
package irsend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/irkeyd/irkeyd/internal/keymap"
)

// Sentinel errors for key-table lookups.
var (
	ErrUnknownKey     = errors.New("unknown key")
	ErrEmptyScancodes = errors.New("key has no scancodes")
)

// Sender resolves key names against the immutable key table and transmits
// each scancode in order.
type Sender struct {
	table *keymap.Table
	tx    Transmitter

	// mu is non-nil only when cross-session transmit serialization is
	// enabled; it then covers one whole-key send so overlapping sessions
	// cannot interleave scancodes.
	mu *sync.Mutex
}

// New constructs a Sender. With serialize set, whole-key sends are mutually
// exclusive across all sessions.
func New(table *keymap.Table, tx Transmitter, serialize bool) *Sender {
	s := &Sender{table: table, tx: tx}
	if serialize {
		s.mu = &sync.Mutex{}
	}
	return s
}

// Send transmits every scancode of keyName in order. It makes a single
// attempt per scancode and aborts the remainder of this call on the first
// failure; prior transmissions are not undone.
func (s *Sender) Send(ctx context.Context, keyName string) error {
	codes, ok := s.table.Get(keyName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, keyName)
	}
	if len(codes) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyScancodes, keyName)
	}
	if s.mu != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	for _, code := range codes {
		if err := s.tx.Transmit(ctx, code); err != nil {
			return err
		}
	}
	return nil
}
