// Package txn wraps multi-step, multi-collection writes in an explicit
// begin / ordered steps / commit state machine. No step's effects are
// visible outside the session until Commit succeeds; every non-commit exit
// path rolls the session back.
package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"dmarcview.org/internal/model"
	"dmarcview.org/internal/obs"
)

// State is the session lifecycle:
// Idle -> Open -> {Committed | Aborted}.
type State int

const (
	Idle State = iota
	Open
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Open:
		return "open"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ErrNotOpen is returned when a step or commit is attempted outside an
// open session.
var ErrNotOpen = errors.New("txn: session is not open")

// Session is one orchestration run. Steps execute sequentially; step N's
// effects are visible to step N+1 within the same transaction.
type Session struct {
	tx          *sql.Tx
	state       State
	collections []string
	failedStep  string
}

// Begin opens a session scoped to the named collections. The collection
// list is declarative: it tags diagnostics so operators can see which
// tables an aborted session touched.
func Begin(ctx context.Context, db *sql.DB, collections ...string) (*Session, error) {
	if len(collections) == 0 {
		return nil, errors.New("txn: at least one collection must be declared")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		obs.LogError("txn.begin", err, map[string]any{
			"collections": strings.Join(collections, ","),
		})
		return nil, fmt.Errorf("%w: begin: %v", model.ErrStoreFailure, err)
	}
	return &Session{tx: tx, state: Open, collections: collections}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// FailedStep names the step that aborted the session, or "commit" when
// the commit itself failed. Empty while no failure occurred.
func (s *Session) FailedStep() string { return s.failedStep }

// Step executes one named unit of work inside the open session. The first
// failing step aborts the session; later steps are rejected with ErrNotOpen.
func (s *Session) Step(ctx context.Context, name string, fn func(context.Context, *sql.Tx) error) error {
	if s.state != Open {
		return ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		s.abort(name)
		return fmt.Errorf("%w: step %s: %v", model.ErrTransactionAborted, name, err)
	}
	if err := fn(ctx, s.tx); err != nil {
		s.abort(name)
		obs.LogError("txn.step", err, map[string]any{
			"step":        name,
			"collections": strings.Join(s.collections, ","),
		})
		// The cause stays in the chain so callers can classify it, e.g.
		// unique-violation detection.
		return fmt.Errorf("%w: step %s: %w", model.ErrTransactionAborted, name, err)
	}
	return nil
}

// Commit finalizes all steps atomically. A commit failure transitions the
// session to Aborted and is logged distinctly from a step failure.
func (s *Session) Commit() error {
	if s.state != Open {
		return ErrNotOpen
	}
	if err := s.tx.Commit(); err != nil {
		s.state = Aborted
		s.failedStep = "commit"
		obs.LogError("txn.commit", err, map[string]any{
			"collections": strings.Join(s.collections, ","),
		})
		return fmt.Errorf("%w: commit: %w", model.ErrTransactionAborted, err)
	}
	s.state = Committed
	return nil
}

// Abort rolls back the session. Safe to call on any state, so callers can
// unconditionally defer it; after Commit it is a no-op.
func (s *Session) Abort() {
	if s.state != Open {
		return
	}
	s.abort("")
}

func (s *Session) abort(step string) {
	_ = s.tx.Rollback()
	s.state = Aborted
	if step != "" && s.failedStep == "" {
		s.failedStep = step
	}
}

// Run opens a session, passes it to fn and commits when fn returns nil.
// Any error, panic or cancellation leaves the store untouched.
func Run(ctx context.Context, db *sql.DB, collections []string, fn func(*Session) error) error {
	sess, err := Begin(ctx, db, collections...)
	if err != nil {
		return err
	}
	defer sess.Abort()

	if err := fn(sess); err != nil {
		return err
	}
	return sess.Commit()
}
