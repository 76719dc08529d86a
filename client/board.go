package client

import (
	"context"
	"sync"

	"urclec/internal/movement"
	"urclec/internal/workflow"
)

type RequestAPI interface {
	ListRequests(ctx context.Context, filter RequestFilter) (Page[Request], error)
	SubmitDecision(ctx context.Context, id string, outcome workflow.Outcome, comment string) (Request, error)
}

type MovementAPI interface {
	ListMovements(ctx context.Context, filter MovementFilter) (Page[Movement], error)
	ConfirmReceipt(ctx context.Context, movementID string) (Movement, error)
	InitiateReturn(ctx context.Context, repairID string, final movement.Condition, comment string) (Movement, error)
}

// inflight tracks which entities have a mutation awaiting its response.
type inflight struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func (f *inflight) acquire(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ids == nil {
		f.ids = make(map[string]struct{})
	}
	if _, busy := f.ids[id]; busy {
		return false
	}
	f.ids[id] = struct{}{}
	return true
}

func (f *inflight) release(id string) {
	f.mu.Lock()
	delete(f.ids, id)
	f.mu.Unlock()
}

func (f *inflight) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, busy := f.ids[id]
	return busy
}

// RequestBoard holds one filtered page of requests. Its snapshot only ever
// comes from a full list fetch: every decision, successful or not, is
// followed by a refetch.
type RequestBoard struct {
	api    RequestAPI
	filter RequestFilter

	mu       sync.RWMutex
	snapshot Page[Request]
	pending  inflight
}

func NewRequestBoard(api RequestAPI, filter RequestFilter) *RequestBoard {
	return &RequestBoard{api: api, filter: filter}
}

func (b *RequestBoard) Refresh(ctx context.Context) error {
	page, err := b.api.ListRequests(ctx, b.filter)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.snapshot = page
	b.mu.Unlock()
	return nil
}

func (b *RequestBoard) Items() []Request {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Request(nil), b.snapshot.Items...)
}

func (b *RequestBoard) Total() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshot.Total
}

func (b *RequestBoard) Find(id string) (Request, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, r := range b.snapshot.Items {
		if r.ID == id {
			return r, true
		}
	}
	return Request{}, false
}

// Busy reports whether a decision on id is awaiting its response; the
// triggering control should stay disabled meanwhile.
func (b *RequestBoard) Busy(id string) bool {
	return b.pending.has(id)
}

// Decide submits a decision unless one is already in flight for id or the
// snapshot says the caller may not decide. The returned request is the
// server's answer; a failed refetch afterwards is returned alongside it.
func (b *RequestBoard) Decide(ctx context.Context, id string, outcome workflow.Outcome, comment string) (Request, error) {
	if current, ok := b.Find(id); ok && !current.CanDecide {
		return Request{}, &AuthorizationError{Code: "not_eligible", Message: "you may not decide on this request now"}
	}
	if !b.pending.acquire(id) {
		return Request{}, ErrInFlight
	}
	defer b.pending.release(id)

	updated, err := b.api.SubmitDecision(ctx, id, outcome, comment)
	refreshErr := b.Refresh(ctx)
	if err != nil {
		return Request{}, err
	}
	return updated, refreshErr
}

// MovementBoard is the movement counterpart of RequestBoard.
type MovementBoard struct {
	api    MovementAPI
	filter MovementFilter

	mu       sync.RWMutex
	snapshot Page[Movement]
	pending  inflight
}

func NewMovementBoard(api MovementAPI, filter MovementFilter) *MovementBoard {
	return &MovementBoard{api: api, filter: filter}
}

func (b *MovementBoard) Refresh(ctx context.Context) error {
	page, err := b.api.ListMovements(ctx, b.filter)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.snapshot = page
	b.mu.Unlock()
	return nil
}

func (b *MovementBoard) Items() []Movement {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Movement(nil), b.snapshot.Items...)
}

func (b *MovementBoard) Find(id string) (Movement, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, m := range b.snapshot.Items {
		if m.ID == id {
			return m, true
		}
	}
	return Movement{}, false
}

func (b *MovementBoard) Busy(id string) bool {
	return b.pending.has(id)
}

func (b *MovementBoard) Confirm(ctx context.Context, id string) (Movement, error) {
	return b.mutate(ctx, id, movement.ActionConfirm, func() (Movement, error) {
		return b.api.ConfirmReceipt(ctx, id)
	})
}

func (b *MovementBoard) InitiateReturn(ctx context.Context, repairID string, final movement.Condition, comment string) (Movement, error) {
	return b.mutate(ctx, repairID, movement.ActionInitiateReturn, func() (Movement, error) {
		return b.api.InitiateReturn(ctx, repairID, final, comment)
	})
}

func (b *MovementBoard) mutate(ctx context.Context, id string, action movement.Action, call func() (Movement, error)) (Movement, error) {
	if current, ok := b.Find(id); ok && !current.Allows(action) {
		return Movement{}, &AuthorizationError{Code: "not_responsible", Message: "action " + string(action) + " is not available on this movement"}
	}
	if !b.pending.acquire(id) {
		return Movement{}, ErrInFlight
	}
	defer b.pending.release(id)

	out, err := call()
	refreshErr := b.Refresh(ctx)
	if err != nil {
		return Movement{}, err
	}
	return out, refreshErr
}
