// Package ledger is the append-only, hash-chained store of credential history.
//
// Every state change of a token is recorded as an Entry whose digest covers the
// digest of its predecessor. Appends are serialized for the whole store and
// become visible to readers only after the backing Log has durably accepted
// them. Readers are not blocked while a write is in flight.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/Mindburn-Labs/credledger/pkg/canonicalize"
	"github.com/Mindburn-Labs/credledger/pkg/credential"
)

// ErrAppendFailed wraps storage failures during Append. The ledger tail is
// unchanged when it is returned, so the append may be retried.
var ErrAppendFailed = errors.New("append failed")

// ErrStaleState is returned by AppendIf when the token's latest recorded
// state differs from the one the snapshot was derived from.
var ErrStaleState = errors.New("token state changed since it was read")

// Log is the durable backend of a Ledger. Write must not return before the
// entry is persisted.
type Log interface {
	Load(ctx context.Context) ([]Entry, error)
	Write(ctx context.Context, e Entry) error
	Close() error
}

// Ledger is the canonical history for all users.
type Ledger struct {
	// appendMu serializes writers across the durable write. mu guards the
	// published state and is held for writing only while publishing.
	appendMu sync.Mutex
	mu       sync.RWMutex
	log      Log
	entries  []Entry
	head     canonicalize.Digest
	next     uint64
	byUser   map[string][]int
	byToken  map[string][]int
	logger   *slog.Logger
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) { l.logger = logger }
}

// New returns an empty in-memory ledger.
func New() *Ledger {
	l, _ := Open(context.Background(), NewMemoryLog())
	return l
}

// Open loads the persisted history from log. Entries are taken as stored; use
// the integrity package to check them.
func Open(ctx context.Context, log Log, opts ...LedgerOption) (*Ledger, error) {
	l := &Ledger{
		log:     log,
		byUser:  make(map[string][]int),
		byToken: make(map[string][]int),
		logger:  slog.Default().With("component", "ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}

	entries, err := log.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: load: %w", err)
	}
	for _, e := range entries {
		l.publish(e)
	}
	l.logger.Info("ledger: opened", "entries", len(entries), "head", l.head.String())
	return l, nil
}

// publish makes e visible to readers. Callers hold mu for writing.
func (l *Ledger) publish(e Entry) {
	idx := len(l.entries)
	l.entries = append(l.entries, e)
	l.byUser[e.Token.UserID()] = append(l.byUser[e.Token.UserID()], idx)
	l.byToken[e.Token.ID()] = append(l.byToken[e.Token.ID()], idx)
	l.head = e.BlockDigest
	l.next = e.Sequence + 1
}

// Append links snapshot to the current tail and durably records it.
func (l *Ledger) Append(ctx context.Context, action Action, snapshot credential.Token) (Entry, error) {
	return l.append(ctx, action, snapshot, nil)
}

// AppendIf is Append conditioned on the token's current state: it records
// snapshot only if the latest entry for the token carries state digest prev,
// or, when prev is Genesis, if the token has no entries yet. Otherwise it
// returns ErrStaleState and the ledger is unchanged.
func (l *Ledger) AppendIf(ctx context.Context, action Action, snapshot credential.Token, prev canonicalize.Digest) (Entry, error) {
	return l.append(ctx, action, snapshot, &prev)
}

func (l *Ledger) append(ctx context.Context, action Action, snapshot credential.Token, prev *canonicalize.Digest) (Entry, error) {
	if err := checkSnapshot(action, snapshot); err != nil {
		return Entry{}, err
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	// Only appenders write the tail, so it cannot move while appendMu is held.
	l.mu.RLock()
	seq, head := l.next, l.head
	current := l.latestStateLocked(snapshot.ID())
	l.mu.RUnlock()

	if prev != nil && current != *prev {
		return Entry{}, fmt.Errorf("%w: %s", ErrStaleState, snapshot.ID())
	}

	e := Entry{
		Sequence:       seq,
		Action:         action,
		Token:          snapshot.Clone(),
		PreviousDigest: head,
	}
	digest, err := e.Digest()
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}
	e.BlockDigest = digest
	e.BlockID = BlockIDFor(digest)

	if err := l.log.Write(ctx, e); err != nil {
		l.logger.Error("ledger: durable write failed", "sequence", e.Sequence, "token_id", snapshot.ID(), "error", err)
		return Entry{}, fmt.Errorf("%w: sequence %d: %v", ErrAppendFailed, e.Sequence, err)
	}

	l.mu.Lock()
	l.publish(e)
	l.mu.Unlock()

	l.logger.Debug("ledger: appended", "sequence", e.Sequence, "action", action, "token_id", snapshot.ID())
	return e.clone(), nil
}

// latestStateLocked returns the state digest of the token's latest entry, or
// Genesis. Callers hold mu.
func (l *Ledger) latestStateLocked(tokenID string) canonicalize.Digest {
	idxs := l.byToken[tokenID]
	if len(idxs) == 0 {
		return canonicalize.Genesis
	}
	return l.entries[idxs[len(idxs)-1]].Token.StateDigest()
}

func checkSnapshot(action Action, t credential.Token) error {
	if !action.Valid() {
		return fmt.Errorf("%w: unknown action %q", credential.ErrInvalidInput, action)
	}
	if !credential.Verify(t) {
		return fmt.Errorf("%w: token snapshot fails verification", credential.ErrInvalidInput)
	}
	switch action {
	case ActionIssue:
		if t.Status() != credential.StatusActive {
			return fmt.Errorf("%w: issue requires an active snapshot", credential.ErrInvalidInput)
		}
	case ActionRevoke:
		if t.Status() != credential.StatusRevoked {
			return fmt.Errorf("%w: revoke requires a revoked snapshot", credential.ErrInvalidInput)
		}
	case ActionDispute:
		if t.Metadata().DisputedAt == nil {
			return fmt.Errorf("%w: dispute requires a disputed snapshot", credential.ErrInvalidInput)
		}
	}
	return nil
}

// History returns a user's entries in sequence order. A non-empty tokenID
// narrows the result to that token.
func (l *Ledger) History(userID, tokenID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, len(l.byUser[userID]))
	for _, idx := range l.byUser[userID] {
		e := l.entries[idx]
		if tokenID != "" && e.Token.ID() != tokenID {
			continue
		}
		out = append(out, e.clone())
	}
	return out
}

// TokenHistory returns every entry referencing tokenID.
func (l *Ledger) TokenHistory(tokenID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, len(l.byToken[tokenID]))
	for _, idx := range l.byToken[tokenID] {
		out = append(out, l.entries[idx].clone())
	}
	return out
}

// Latest returns the most recent entry for tokenID.
func (l *Ledger) Latest(tokenID string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idxs := l.byToken[tokenID]
	if len(idxs) == 0 {
		return Entry{}, false
	}
	return l.entries[idxs[len(idxs)-1]].clone(), true
}

// Find returns the first entry recording action for tokenID. The issuance
// service uses it to make appends idempotent.
func (l *Ledger) Find(tokenID string, action Action) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, idx := range l.byToken[tokenID] {
		if l.entries[idx].Action == action {
			return l.entries[idx].clone(), true
		}
	}
	return Entry{}, false
}

// Entries returns a snapshot of the whole chain.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneEntries(l.entries)
}

// Range returns entries with from <= sequence < to.
func (l *Ledger) Range(from, to uint64) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0)
	for _, e := range l.entries {
		if e.Sequence >= from && e.Sequence < to {
			out = append(out, e.clone())
		}
	}
	return out
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Head returns the block digest of the tail, or Genesis when empty.
func (l *Ledger) Head() canonicalize.Digest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head
}

// Users lists every user with at least one entry, sorted.
func (l *Ledger) Users() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return slices.Sorted(maps.Keys(l.byUser))
}

// Close releases the backing log after any in-flight append.
func (l *Ledger) Close() error {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.log.Close()
}
