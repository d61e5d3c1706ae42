package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"live-ingest/constant"
	"live-ingest/dto"
)

// Sink receives stream lifecycle events. Implementations may block; the notifier runs them
// off the hook path.
type Sink interface {
	Name() string
	StreamStarted(ctx context.Context, event dto.StreamStartedEvent) error
	StreamEnded(ctx context.Context, event dto.StreamEndedEvent) error
}

// Notifier queues lifecycle events for asynchronous delivery. Notify never blocks, and
// events for one session reach each sink in the order they were queued.
type Notifier interface {
	NotifyStarted(ctx context.Context, event dto.StreamStartedEvent)
	NotifyEnded(ctx context.Context, event dto.StreamEndedEvent)
	Start(ctx context.Context)
	Close()
}

type notification struct {
	eventType constant.EventType
	started   dto.StreamStartedEvent
	ended     dto.StreamEndedEvent
}

func (n notification) sessionID() string {
	if n.eventType == constant.EventStreamStarted {
		return n.started.SessionID
	}
	return n.ended.SessionID
}

type notifier struct {
	sinks           []Sink
	deliveryTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	// One queue per worker. A session always lands on the same queue, so its
	// started and ended facts are delivered in order.
	queues []chan notification
	wg     sync.WaitGroup
}

func NewNotifier(bufferSize, numWorkers int, sinks ...Sink) Notifier {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if bufferSize < 1 {
		bufferSize = 1
	}
	queues := make([]chan notification, numWorkers)
	for i := range queues {
		queues[i] = make(chan notification, bufferSize)
	}
	return &notifier{
		sinks:           sinks,
		deliveryTimeout: 10 * time.Second,
		queues:          queues,
	}
}

func (n *notifier) queueFor(sessionID string) chan notification {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return n.queues[h.Sum32()%uint32(len(n.queues))]
}

func (n *notifier) NotifyStarted(ctx context.Context, event dto.StreamStartedEvent) {
	n.enqueue(ctx, notification{eventType: constant.EventStreamStarted, started: event})
}

func (n *notifier) NotifyEnded(ctx context.Context, event dto.StreamEndedEvent) {
	n.enqueue(ctx, notification{eventType: constant.EventStreamEnded, ended: event})
}

func (n *notifier) enqueue(ctx context.Context, msg notification) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		zerolog.Ctx(ctx).Warn().Str("event", string(msg.eventType)).Msg("notifier closed, dropping event")
		return
	}
	select {
	case n.queueFor(msg.sessionID()) <- msg:
	default:
		zerolog.Ctx(ctx).Warn().Str("event", string(msg.eventType)).Msg("notification queue full, dropping event")
	}
}

// Start launches the delivery workers. Close drains what is queued and waits for them.
func (n *notifier) Start(ctx context.Context) {
	for i, queue := range n.queues {
		n.wg.Add(1)
		go func(workerId int, queue <-chan notification) {
			defer n.wg.Done()
			logger := zerolog.Ctx(ctx).With().Int("worker", workerId).Logger()
			workerCtx := logger.WithContext(context.WithoutCancel(ctx))
			for msg := range queue {
				n.deliver(workerCtx, msg)
			}
		}(i+1, queue)
	}
}

func (n *notifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		for _, queue := range n.queues {
			close(queue)
		}
	}
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *notifier) deliver(ctx context.Context, msg notification) {
	for _, sink := range n.sinks {
		if err := n.deliverTo(ctx, sink, msg); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("sink", sink.Name()).Str("event", string(msg.eventType)).Msg("failed to deliver event")
		}
	}
}

func (n *notifier) deliverTo(ctx context.Context, sink Sink, msg notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, n.deliveryTimeout)
	defer cancel()

	switch msg.eventType {
	case constant.EventStreamStarted:
		return sink.StreamStarted(ctx, msg.started)
	case constant.EventStreamEnded:
		return sink.StreamEnded(ctx, msg.ended)
	}
	return fmt.Errorf("unknown event type %q", msg.eventType)
}
