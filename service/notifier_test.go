package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"live-ingest/dto"
)

type recordingSink struct {
	name    string
	fail    error
	panics  bool
	mu      sync.Mutex
	started []dto.StreamStartedEvent
	ended   []dto.StreamEndedEvent
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) StreamStarted(_ context.Context, event dto.StreamStartedEvent) error {
	if s.panics {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, event)
	return s.fail
}

func (s *recordingSink) StreamEnded(_ context.Context, event dto.StreamEndedEvent) error {
	if s.panics {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, event)
	return s.fail
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.started), len(s.ended)
}

func TestNotifierDeliversToEverySink(t *testing.T) {
	ctx := context.Background()
	first := &recordingSink{name: "first"}
	second := &recordingSink{name: "second"}
	n := NewNotifier(8, 2, first, second)
	n.Start(ctx)

	n.NotifyStarted(ctx, dto.StreamStartedEvent{SessionID: "s1", OwnerID: "o1"})
	n.NotifyEnded(ctx, dto.StreamEndedEvent{SessionID: "s1", OwnerID: "o1", DurationSeconds: 12})
	n.Close()

	for _, sink := range []*recordingSink{first, second} {
		started, ended := sink.counts()
		require.Equal(t, 1, started, sink.name)
		require.Equal(t, 1, ended, sink.name)
	}
	require.Equal(t, "s1", first.started[0].SessionID)
	require.Equal(t, float64(12), second.ended[0].DurationSeconds)
}

func TestNotifierIsolatesFailingSinks(t *testing.T) {
	ctx := context.Background()
	failing := &recordingSink{name: "failing", fail: errors.New("bus down")}
	panicking := &recordingSink{name: "panicking", panics: true}
	healthy := &recordingSink{name: "healthy"}
	n := NewNotifier(8, 1, failing, panicking, healthy)
	n.Start(ctx)

	n.NotifyStarted(ctx, dto.StreamStartedEvent{SessionID: "s1"})
	n.NotifyEnded(ctx, dto.StreamEndedEvent{SessionID: "s1"})
	n.Close()

	started, ended := healthy.counts()
	require.Equal(t, 1, started)
	require.Equal(t, 1, ended)
}

func TestNotifierDropsWhenFull(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{name: "sink"}
	n := NewNotifier(1, 1, sink)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			n.NotifyStarted(ctx, dto.StreamStartedEvent{SessionID: "s"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notify blocked on a full queue")
	}

	n.Start(ctx)
	n.Close()

	started, _ := sink.counts()
	require.Equal(t, 1, started)
}

func TestNotifierAfterCloseDrops(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{name: "sink"}
	n := NewNotifier(4, 1, sink)
	n.Start(ctx)
	n.Close()

	require.NotPanics(t, func() {
		n.NotifyEnded(ctx, dto.StreamEndedEvent{SessionID: "late"})
	})
	n.Close()

	_, ended := sink.counts()
	require.Zero(t, ended)
}

// orderSink records deliveries in arrival order and is slow on started events.
type orderSink struct {
	delay time.Duration
	mu    sync.Mutex
	log   map[string][]string
}

func (s *orderSink) Name() string { return "order" }

func (s *orderSink) record(sessionID, event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log[sessionID] = append(s.log[sessionID], event)
}

func (s *orderSink) StreamStarted(_ context.Context, event dto.StreamStartedEvent) error {
	time.Sleep(s.delay)
	s.record(event.SessionID, "started")
	return nil
}

func (s *orderSink) StreamEnded(_ context.Context, event dto.StreamEndedEvent) error {
	s.record(event.SessionID, "ended")
	return nil
}

func TestNotifierKeepsPerSessionOrder(t *testing.T) {
	ctx := context.Background()
	sink := &orderSink{delay: 20 * time.Millisecond, log: map[string][]string{}}
	n := NewNotifier(64, 4, sink)
	n.Start(ctx)

	sessions := []string{"s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8"}
	for _, id := range sessions {
		n.NotifyStarted(ctx, dto.StreamStartedEvent{SessionID: id})
		n.NotifyEnded(ctx, dto.StreamEndedEvent{SessionID: id})
	}
	n.Close()

	for _, id := range sessions {
		require.Equal(t, []string{"started", "ended"}, sink.log[id], id)
	}
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func TestEventBusSinkRoutingKeys(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewEventBusSink(pub)

	require.NoError(t, sink.StreamStarted(context.Background(), dto.StreamStartedEvent{}))
	require.NoError(t, sink.StreamEnded(context.Background(), dto.StreamEndedEvent{}))
	require.Equal(t, []string{"stream.started", "stream.ended"}, pub.keys)
}
