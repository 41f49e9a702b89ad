package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"edit-hooks/internal/dispatch"
	"edit-hooks/internal/event"
	"edit-hooks/internal/strategy"
)

type resolution struct {
	id          dispatch.RequestID
	edited      bool
	newOrderID  string
	applied     event.OrderParams
	reason      event.FailureReason
	recoverable bool
}

type mockResolver struct {
	mu          sync.Mutex
	next        dispatch.RequestID
	requests    []dispatch.EditRequest
	resolutions []resolution
	requestErr  error
}

func (m *mockResolver) RequestEdit(req dispatch.EditRequest) (dispatch.RequestID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.requestErr != nil {
		return 0, m.requestErr
	}
	m.next++
	m.requests = append(m.requests, req)
	return m.next, nil
}

func (m *mockResolver) ResolveEdited(id dispatch.RequestID, newOrderID string, applied event.OrderParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolutions = append(m.resolutions, resolution{id: id, edited: true, newOrderID: newOrderID, applied: applied})
	return nil
}

func (m *mockResolver) ResolveEditFailed(id dispatch.RequestID, reason event.FailureReason, recoverable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolutions = append(m.resolutions, resolution{id: id, reason: reason, recoverable: recoverable})
	return nil
}

func (m *mockResolver) only(t *testing.T) resolution {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.resolutions) != 1 {
		t.Fatalf("expected exactly one resolution, got %d", len(m.resolutions))
	}
	return m.resolutions[0]
}

type mockVenue struct {
	calls  int
	result EditResult
	err    error
}

func (v *mockVenue) EditOrder(_ context.Context, spec EditSpec) (EditResult, error) {
	v.calls++
	if v.err != nil {
		return EditResult{}, v.err
	}
	return v.result, nil
}

func x1Spec() EditSpec {
	return EditSpec{
		OrderID:     "o-1",
		TradingPair: "BTC/USDT",
		Side:        OrderSideBuy,
		Previous:    event.NewOrderParams(10.0, 5),
		Next:        event.NewOrderParams(10.5, 5),
	}
}

func TestEngineEditOrder_ResolvesSuccess(t *testing.T) {
	resolver := &mockResolver{}
	venue := &mockVenue{}
	engine := NewEngine(venue, resolver, nil)

	id, err := engine.EditOrder(context.Background(), "s1", x1Spec())
	if err != nil {
		t.Fatalf("EditOrder returned error: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected request id 1, got %s", id)
	}

	got := resolver.only(t)
	if !got.edited {
		t.Fatalf("expected edited resolution, got %+v", got)
	}
	if !got.applied.Equal(event.NewOrderParams(10.5, 5)) {
		t.Errorf("expected applied params to default to requested ones, got %+v", got.applied)
	}
	if resolver.requests[0].StrategyID != "s1" || !resolver.requests[0].Attempted.Equal(x1Spec().Next) {
		t.Errorf("unexpected registered request %+v", resolver.requests[0])
	}
}

func TestEngineEditOrder_ForwardsReplacementID(t *testing.T) {
	resolver := &mockResolver{}
	applied := event.NewOrderParams(10.4, 5)
	engine := NewEngine(&mockVenue{result: EditResult{NewOrderID: "o-2", Applied: applied}}, resolver, nil)

	if _, err := engine.EditOrder(context.Background(), "s1", x1Spec()); err != nil {
		t.Fatalf("EditOrder returned error: %v", err)
	}

	got := resolver.only(t)
	if got.newOrderID != "o-2" || !got.applied.Equal(applied) {
		t.Errorf("unexpected resolution %+v", got)
	}
}

func TestEngineEditOrder_RejectionIsNotAnError(t *testing.T) {
	resolver := &mockResolver{}
	venue := &mockVenue{err: Reject(event.FailureInsufficientMargin, "margin", true)}
	engine := NewEngine(venue, resolver, nil)

	if _, err := engine.EditOrder(context.Background(), "s1", x1Spec()); err != nil {
		t.Fatalf("expected rejection to be reported as event, got error %v", err)
	}

	got := resolver.only(t)
	if got.edited || got.reason.Code != event.FailureInsufficientMargin || !got.recoverable {
		t.Errorf("unexpected resolution %+v", got)
	}
}

func TestEngineEditOrder_ClassifiesUnknownErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want event.FailureCode
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: event.FailureVenueUnavailable},
		{name: "opaque", err: errors.New("boom"), want: event.FailureUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resolver := &mockResolver{}
			engine := NewEngine(&mockVenue{err: tc.err}, resolver, nil)
			if _, err := engine.EditOrder(context.Background(), "s1", x1Spec()); err != nil {
				t.Fatalf("EditOrder returned error: %v", err)
			}
			if got := resolver.only(t); got.reason.Code != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got.reason.Code)
			}
		})
	}
}

func TestEngineEditOrder_InvalidParamsSkipVenue(t *testing.T) {
	resolver := &mockResolver{}
	venue := &mockVenue{}
	engine := NewEngine(venue, resolver, nil)

	spec := x1Spec()
	spec.Next = event.NewOrderParams(0, 5)
	if _, err := engine.EditOrder(context.Background(), "s1", spec); err != nil {
		t.Fatalf("EditOrder returned error: %v", err)
	}

	if venue.calls != 0 {
		t.Errorf("expected venue not to be called, got %d calls", venue.calls)
	}
	if got := resolver.only(t); got.reason.Code != event.FailureInvalidOrder {
		t.Errorf("unexpected resolution %+v", got)
	}
}

func TestEngineEditOrder_RegisterError(t *testing.T) {
	resolver := &mockResolver{requestErr: dispatch.ErrNotOwner}
	venue := &mockVenue{}
	engine := NewEngine(venue, resolver, nil)

	_, err := engine.EditOrder(context.Background(), "s1", x1Spec())
	if !errors.Is(err, dispatch.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if venue.calls != 0 {
		t.Errorf("expected venue not to be called")
	}
}

func TestEngineEditOrderAsync_ResolvesInBackground(t *testing.T) {
	resolver := &mockResolver{}
	engine := NewEngine(&mockVenue{}, resolver, nil)

	id, err := engine.EditOrderAsync(context.Background(), "s1", x1Spec())
	if err != nil {
		t.Fatalf("EditOrderAsync returned error: %v", err)
	}
	engine.Wait()

	if got := resolver.only(t); got.id != id || !got.edited {
		t.Errorf("unexpected resolution %+v", got)
	}
}

func TestEngine_TrackerFollowsOutcome(t *testing.T) {
	cases := []struct {
		name      string
		venueErr  error
		wantPrice float64
	}{
		{name: "success", wantPrice: 10.5},
		{name: "insufficient margin", venueErr: Reject(event.FailureInsufficientMargin, "", true), wantPrice: 10.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := dispatch.New(dispatch.Options{}, nil)
			tracker := strategy.NewEditTracker(nil)
			delivered := make(chan struct{}, 1)
			hooks := strategy.Funcs{
				Edited: func(ev event.OrderEditedEvent) {
					tracker.OnOrderEdited(ev)
					delivered <- struct{}{}
				},
				EditFailed: func(ev event.OrderEditFailedEvent) {
					tracker.OnOrderEditFailed(ev)
					delivered <- struct{}{}
				},
			}
			if err := d.Register("s1", hooks); err != nil {
				t.Fatalf("Register returned error: %v", err)
			}
			if err := d.Track("s1", "o-1"); err != nil {
				t.Fatalf("Track returned error: %v", err)
			}
			tracker.Track("o-1", event.NewOrderParams(10.0, 5))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() { _ = d.Run(ctx) }()

			engine := NewEngine(&mockVenue{err: tc.venueErr}, d, nil)
			spec := x1Spec()
			tracker.BeginEdit("o-1", spec.Next)
			if _, err := engine.EditOrder(ctx, "s1", spec); err != nil {
				t.Fatalf("EditOrder returned error: %v", err)
			}

			select {
			case <-delivered:
			case <-time.After(2 * time.Second):
				t.Fatalf("timed out waiting for hook")
			}

			params, ok := tracker.Params("o-1")
			if !ok {
				t.Fatalf("expected order to remain tracked")
			}
			if !params.Price.Equal(event.NewOrderParams(tc.wantPrice, 5).Price) {
				t.Errorf("expected tracked price %v, got %s", tc.wantPrice, params.Price)
			}
		})
	}
}
