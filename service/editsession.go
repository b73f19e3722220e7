package service

import (
	"context"
	"sync"

	"github.com/Relchzen/kopcus-dashboard/model"
)

// EditSession enforces that at most one deal's edit form is open at a time.
// It is a two-state machine, Closed or Open(dealID), layered on top of the
// pipeline store: it drives the store's active-deal focus so the two views
// always agree, and it stages field edits locally so nothing reaches the
// store until an explicit save.
type EditSession struct {
	mu     sync.Mutex
	store  *PipelineStore
	dealID string
	staged model.DealPatch
}

func NewEditSession(store *PipelineStore) *EditSession {
	return &EditSession{store: store}
}

// Open starts an edit session for the given deal. Opening an unknown deal is
// rejected and the session stays as it was. Re-opening the current deal is
// idempotent and keeps staged edits. Opening a different deal while one is
// open first closes the current session, discarding its staged edits; the
// surrounding form layer is responsible for warning about that loss.
func (e *EditSession) Open(dealID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dealID == dealID && dealID != "" {
		return nil
	}

	if e.store.GetClientForDeal(dealID) == "" {
		return ErrUnknownDeal
	}

	e.dealID = dealID
	e.staged = model.DealPatch{}
	e.store.OpenDealDetail(dealID)
	return nil
}

// Close ends the session and discards staged edits. Closing an already-closed
// session is a no-op.
func (e *EditSession) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset()
}

// Cancel discards staged edits and closes, with no store interaction beyond
// clearing the focus pointer.
func (e *EditSession) Cancel() {
	e.Close()
}

// Stage merges field edits into the session's pending patch. Staged edits are
// invisible to the store until Save.
func (e *EditSession) Stage(patch model.DealPatch) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dealID == "" {
		return ErrNoOpenSession
	}
	if patch.Title != nil {
		e.staged.Title = patch.Title
	}
	if patch.Description != nil {
		e.staged.Description = patch.Description
	}
	if patch.Value != nil {
		e.staged.Value = patch.Value
	}
	if patch.Stage != nil {
		e.staged.Stage = patch.Stage
	}
	return nil
}

// Save pushes staged edits through the store's pessimistic update and closes
// the session on success. On failure the session stays open with its staged
// edits intact so the user can retry.
func (e *EditSession) Save(ctx context.Context) (*model.Deal, error) {
	e.mu.Lock()
	dealID := e.dealID
	staged := e.staged
	e.mu.Unlock()

	if dealID == "" {
		return nil, ErrNoOpenSession
	}

	deal, err := e.store.UpdateDeal(ctx, dealID, staged)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.dealID == dealID {
		e.reset()
	}
	e.mu.Unlock()
	return deal, nil
}

// Delete removes the open deal through the store's pessimistic delete and
// closes the session on success.
func (e *EditSession) Delete(ctx context.Context) error {
	e.mu.Lock()
	dealID := e.dealID
	e.mu.Unlock()

	if dealID == "" {
		return ErrNoOpenSession
	}

	if err := e.store.DeleteDeal(ctx, dealID); err != nil {
		return err
	}

	e.mu.Lock()
	if e.dealID == dealID {
		e.reset()
	}
	e.mu.Unlock()
	return nil
}

// Current returns the open deal's id, or "" when closed.
func (e *EditSession) Current() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dealID
}

// Staged returns a copy of the pending patch.
func (e *EditSession) Staged() model.DealPatch {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.staged
}

// reset must be called with the lock held.
func (e *EditSession) reset() {
	e.dealID = ""
	e.staged = model.DealPatch{}
	e.store.CloseDealDetail()
}
