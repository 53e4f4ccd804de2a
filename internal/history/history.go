// Package history holds the process-wide conversation log.
//
// The log is append-only. [Log.Append] takes several turns at once so that a
// user question and the avatar's reply land next to each other even when
// requests race.
//
// All methods are safe for concurrent use.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/talkinghead/pkg/types"
)

// Log is an in-memory, ordered conversation log.
type Log struct {
	now func() time.Time

	mu    sync.RWMutex
	turns []types.Turn
}

// Option configures a [Log].
type Option func(*Log)

// WithClock overrides the clock used to stamp turns.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New returns an empty [Log].
func New(opts ...Option) *Log {
	l := &Log{now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append adds turns to the end of the log in the given order. No other
// append interleaves with them. Turns without an ID get a random UUID and
// turns without a timestamp are stamped with the current time. The log keeps
// its own copy of each turn.
func (l *Log) Append(turns ...types.Turn) {
	if len(turns) == 0 {
		return
	}
	at := l.now()
	stored := make([]types.Turn, len(turns))
	for i, t := range turns {
		c := t.Clone()
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.At.IsZero() {
			c.At = at
		}
		stored[i] = c
	}

	l.mu.Lock()
	l.turns = append(l.turns, stored...)
	l.mu.Unlock()
}

// Snapshot returns a deep copy of the log in insertion order. Mutating the
// result does not affect the log.
func (l *Log) Snapshot() []types.Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return types.CloneTurns(l.turns)
}

// Len returns the number of turns in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}
