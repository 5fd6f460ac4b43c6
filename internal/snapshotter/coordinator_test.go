package snapshotter

import (
	"context"
	"errors"
	"testing"
	"time"

	"snapwatch/internal/metrics"

	"github.com/benbjohnson/clock"
)

type providerCall struct {
	name    SnapshotName
	ctx     context.Context
	resolve chan error
}

// scriptedProvider hands each Create call to the test and blocks until
// the test resolves it. honorCancel controls whether the provider
// reacts to context cancellation the way a well-behaved backend would.
type scriptedProvider struct {
	honorCancel bool
	calls       chan providerCall
}

func newScriptedProvider(honorCancel bool) *scriptedProvider {
	return &scriptedProvider{
		honorCancel: honorCancel,
		calls:       make(chan providerCall, 16),
	}
}

func (p *scriptedProvider) Create(ctx context.Context, name SnapshotName) error {
	call := providerCall{name: name, ctx: ctx, resolve: make(chan error, 1)}
	p.calls <- call
	if !p.honorCancel {
		return <-call.resolve
	}
	select {
	case err := <-call.resolve:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *scriptedProvider) next(t *testing.T) providerCall {
	t.Helper()
	select {
	case call := <-p.calls:
		return call
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for provider call")
		return providerCall{}
	}
}

func (p *scriptedProvider) expectNoCall(t *testing.T) {
	t.Helper()
	select {
	case call := <-p.calls:
		t.Fatalf("unexpected provider call for %s", call.name)
	case <-time.After(50 * time.Millisecond):
	}
}

type coordinatorFixture struct {
	coordinator *Coordinator
	provider    *scriptedProvider
	mock        *clock.Mock
	registry    *metrics.Registry
	events      chan Event
}

func newFixture(t *testing.T, honorCancel bool, minInterval time.Duration) *coordinatorFixture {
	t.Helper()

	provider := newScriptedProvider(honorCancel)
	mock := clock.NewMock()
	registry := &metrics.Registry{}
	events := make(chan Event, 64)

	coordinator, err := NewCoordinator(Options{
		Node:               "node1",
		Provider:           provider,
		Clock:              mock,
		AttemptDeadline:    10 * time.Second,
		MinAttemptInterval: minInterval,
		Registry:           registry,
		Observer:           func(event Event) { events <- event },
	})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	t.Cleanup(func() { _ = coordinator.Close() })

	return &coordinatorFixture{
		coordinator: coordinator,
		provider:    provider,
		mock:        mock,
		registry:    registry,
		events:      events,
	}
}

func (f *coordinatorFixture) awaitEvent(t *testing.T, eventType string) Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case event := <-f.events:
			if event.Type == eventType {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", eventType)
		}
	}
}

func TestNewCoordinatorValidatesOptions(t *testing.T) {
	noop := ProviderFunc(func(context.Context, SnapshotName) error { return nil })
	if _, err := NewCoordinator(Options{Provider: noop}); !errors.Is(err, ErrNodeRequired) {
		t.Fatalf("expected ErrNodeRequired, got %v", err)
	}
	if _, err := NewCoordinator(Options{Node: "node1"}); !errors.Is(err, ErrProviderRequired) {
		t.Fatalf("expected ErrProviderRequired, got %v", err)
	}
}

func TestChangeStartsAttempt(t *testing.T) {
	f := newFixture(t, true, 0)
	startedAt := f.mock.Now()

	f.coordinator.NotifyChanged()

	call := f.provider.next(t)
	if call.name.Node != "node1" {
		t.Fatalf("node = %q, want node1", call.name.Node)
	}
	if !call.name.CreatedAt.Equal(startedAt) {
		t.Fatalf("timestamp = %v, want %v", call.name.CreatedAt, startedAt)
	}
	if got := f.coordinator.State(); got != StateAttempting {
		t.Fatalf("state = %v, want %v", got, StateAttempting)
	}
	if got := f.registry.SnapshotsStarted(); got != 1 {
		t.Fatalf("SnapshotsStarted = %d, want 1", got)
	}
}

func TestChangesWhileAttemptingCoalesce(t *testing.T) {
	f := newFixture(t, true, 0)

	f.coordinator.NotifyChanged()
	first := f.provider.next(t)

	// A burst of notifications during the attempt collapses into a
	// single pending follow-up.
	f.coordinator.NotifyChanged()
	f.coordinator.NotifyChanged()
	f.coordinator.NotifyChanged()
	if got := f.coordinator.State(); got != StateAttemptingWithPending {
		t.Fatalf("state = %v, want %v", got, StateAttemptingWithPending)
	}
	f.provider.expectNoCall(t)

	first.resolve <- nil
	f.awaitEvent(t, EventTypeAttemptSucceeded)

	second := f.provider.next(t)
	if second.name.String() == first.name.String() {
		t.Fatalf("follow-up attempt reused the snapshot name %s", first.name)
	}
	if got := f.coordinator.State(); got != StateAttempting {
		t.Fatalf("state = %v, want %v", got, StateAttempting)
	}
	f.provider.expectNoCall(t)
}

func TestSuccessWithoutPendingReturnsToIdle(t *testing.T) {
	f := newFixture(t, true, 0)

	f.coordinator.NotifyChanged()
	call := f.provider.next(t)

	call.resolve <- nil
	f.awaitEvent(t, EventTypeAttemptSucceeded)

	if got := f.coordinator.State(); got != StateIdle {
		t.Fatalf("state = %v, want %v", got, StateIdle)
	}
	f.provider.expectNoCall(t)
}

func TestFailureRetriesImmediately(t *testing.T) {
	f := newFixture(t, true, 0)

	f.coordinator.NotifyChanged()
	first := f.provider.next(t)

	first.resolve <- errors.New("zfs: out of space")
	f.awaitEvent(t, EventTypeAttemptFailed)

	second := f.provider.next(t)
	if got := f.coordinator.State(); got != StateAttempting {
		t.Fatalf("state = %v, want %v", got, StateAttempting)
	}

	// Retries are unbounded: a second failure retries again.
	second.resolve <- errors.New("zfs: out of space")
	f.awaitEvent(t, EventTypeAttemptFailed)
	third := f.provider.next(t)
	if third.name.String() == second.name.String() {
		t.Fatalf("retry reused the snapshot name %s", second.name)
	}
	if got := f.registry.SnapshotsFailed(); got != 2 {
		t.Fatalf("SnapshotsFailed = %d, want 2", got)
	}
}

func TestRetryAtSameInstantGetsFreshName(t *testing.T) {
	f := newFixture(t, true, 0)

	f.coordinator.NotifyChanged()
	first := f.provider.next(t)

	// The retry starts in the same dispatch instant as the failure, so
	// both attempts share a clock reading; the names must still differ.
	first.resolve <- errors.New("zfs: dataset is busy")
	f.awaitEvent(t, EventTypeAttemptFailed)
	second := f.provider.next(t)

	if !second.name.CreatedAt.Equal(first.name.CreatedAt) {
		t.Fatalf("expected both attempts at one clock reading, got %v and %v",
			first.name.CreatedAt, second.name.CreatedAt)
	}
	if second.name.String() == first.name.String() {
		t.Fatalf("retry reused the snapshot identity %q", first.name)
	}
}

func TestDeadlineTimeoutCancelsAndRetries(t *testing.T) {
	f := newFixture(t, true, 0)

	f.coordinator.NotifyChanged()
	first := f.provider.next(t)

	f.mock.Add(10 * time.Second)
	f.awaitEvent(t, EventTypeAttemptTimedOut)

	second := f.provider.next(t)
	if second.name.String() == first.name.String() {
		t.Fatalf("post-timeout attempt reused the snapshot name %s", first.name)
	}
	if got := f.coordinator.State(); got != StateAttempting {
		t.Fatalf("state = %v, want %v", got, StateAttempting)
	}

	// The canceled first call resolves late with a context error and is
	// discarded by the stale guard.
	select {
	case <-first.ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("deadline did not cancel the attempt context")
	}
	f.awaitEvent(t, EventTypeStaleDropped)
	f.provider.expectNoCall(t)
}

func TestLateResultAfterTimeoutHasNoEffect(t *testing.T) {
	// A provider that cannot cancel runs to completion; its result must
	// be discarded rather than applied to the superseding attempt.
	f := newFixture(t, false, 0)

	f.coordinator.NotifyChanged()
	first := f.provider.next(t)

	f.mock.Add(10 * time.Second)
	f.awaitEvent(t, EventTypeAttemptTimedOut)
	second := f.provider.next(t)

	first.resolve <- nil
	f.awaitEvent(t, EventTypeStaleDropped)

	if got := f.coordinator.State(); got != StateAttempting {
		t.Fatalf("stale success moved state to %v", got)
	}
	f.provider.expectNoCall(t)

	second.resolve <- nil
	f.awaitEvent(t, EventTypeAttemptSucceeded)
	if got := f.coordinator.State(); got != StateIdle {
		t.Fatalf("state = %v, want %v", got, StateIdle)
	}
}

func TestThrottleDefersRetry(t *testing.T) {
	f := newFixture(t, true, time.Second)
	t0 := f.mock.Now()

	f.coordinator.NotifyChanged()
	first := f.provider.next(t)

	first.resolve <- errors.New("zfs: dataset is busy")
	f.awaitEvent(t, EventTypeAttemptFailed)

	// The retry is owed but deferred; logical state is unchanged.
	if got := f.coordinator.State(); got != StateAttempting {
		t.Fatalf("state = %v, want %v", got, StateAttempting)
	}
	f.provider.expectNoCall(t)

	f.mock.Add(time.Second)
	second := f.provider.next(t)
	if !second.name.CreatedAt.Equal(t0.Add(time.Second)) {
		t.Fatalf("deferred attempt named at %v, want %v", second.name.CreatedAt, t0.Add(time.Second))
	}
}

func TestChangeDuringDeferralIsCapturedByDeferredAttempt(t *testing.T) {
	f := newFixture(t, true, time.Second)

	f.coordinator.NotifyChanged()
	first := f.provider.next(t)
	first.resolve <- errors.New("zfs: dataset is busy")
	f.awaitEvent(t, EventTypeAttemptFailed)

	f.coordinator.NotifyChanged()
	if got := f.coordinator.State(); got != StateAttemptingWithPending {
		t.Fatalf("state = %v, want %v", got, StateAttemptingWithPending)
	}

	f.mock.Add(time.Second)
	f.provider.next(t)

	// The deferred attempt starts after the change arrived, so the
	// change is captured by it and no extra follow-up is owed.
	if got := f.coordinator.State(); got != StateAttempting {
		t.Fatalf("state = %v, want %v", got, StateAttempting)
	}
	f.provider.expectNoCall(t)
}

func TestCloseStopsDispatch(t *testing.T) {
	f := newFixture(t, true, 0)

	f.coordinator.NotifyChanged()
	call := f.provider.next(t)

	if err := f.coordinator.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-call.ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("close did not cancel the in-flight attempt")
	}

	f.coordinator.NotifyChanged()
	f.provider.expectNoCall(t)
}
