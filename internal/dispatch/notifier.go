// Package dispatch delivers engine events to drivers and riders. Each event
// goes to the recipient's socket if one is connected, else to its callback
// URL, and is always mirrored to the configured bus transports. A recipient
// with neither a socket nor a callback picks the same payload up by polling.
package dispatch

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Transport is a fan-out sink that receives every event.
type Transport interface {
	Name() string
	Send(ctx context.Context, ev models.Event) error
}

// Notifier delivers events on a fixed set of workers. Each recipient is
// pinned to one worker, so its events arrive in the order they were
// published.
type Notifier struct {
	queues []chan models.Event
	ws     *WSRegistry
	push   *CallbackPusher
	buses  []Transport
	logger *slog.Logger
}

type Option func(*Notifier)

func WithWS(ws *WSRegistry) Option { return func(n *Notifier) { n.ws = ws } }

func WithCallbacks(p *CallbackPusher) Option { return func(n *Notifier) { n.push = p } }

func WithTransport(t Transport) Option {
	return func(n *Notifier) { n.buses = append(n.buses, t) }
}

func WithLogger(l *slog.Logger) Option { return func(n *Notifier) { n.logger = l } }

// NewNotifier splits queueSize evenly across workers; every worker gets at
// least one slot.
func NewNotifier(queueSize, workers int, opts ...Option) *Notifier {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 1
	}
	per := (queueSize + workers - 1) / workers
	n := &Notifier{queues: make([]chan models.Event, workers), logger: slog.Default()}
	for i := range n.queues {
		n.queues[i] = make(chan models.Event, per)
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

func (n *Notifier) shard(ev models.Event) chan models.Event {
	h := fnv.New32a()
	_, _ = h.Write([]byte(string(ev.Role) + ":" + ev.RecipientID))
	return n.queues[h.Sum32()%uint32(len(n.queues))]
}

// Publish enqueues ev without blocking. A full queue drops the event; the
// recipient still sees the current state by polling.
func (n *Notifier) Publish(ctx context.Context, ev models.Event) {
	select {
	case n.shard(ev) <- ev:
	default:
		observability.NotifyDeliveries.WithLabelValues("queue", "dropped").Inc()
		n.logger.Warn("notify queue full, event dropped", "kind", ev.Kind, "recipient_id", ev.RecipientID, "ride_id", ev.RideID)
	}
}

// Run delivers queued events until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, q := range n.queues {
		q := q
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-q:
					n.Deliver(ctx, ev)
				}
			}
		})
	}
	return g.Wait()
}

// Deliver sends ev synchronously over every applicable transport.
func (n *Notifier) Deliver(ctx context.Context, ev models.Event) {
	n.direct(ctx, ev)
	for _, t := range n.buses {
		if err := t.Send(ctx, ev); err != nil {
			observability.NotifyDeliveries.WithLabelValues(t.Name(), "error").Inc()
			n.logger.Warn("event publish failed", "transport", t.Name(), "kind", ev.Kind, "ride_id", ev.RideID, "error", err)
			continue
		}
		observability.NotifyDeliveries.WithLabelValues(t.Name(), "ok").Inc()
	}
}

func (n *Notifier) direct(ctx context.Context, ev models.Event) {
	if n.ws != nil {
		err := n.ws.Send(ev.Role, ev.RecipientID, ev)
		if err == nil {
			observability.NotifyDeliveries.WithLabelValues("ws", "ok").Inc()
			return
		}
		if !errors.Is(err, ErrNoSession) {
			observability.NotifyDeliveries.WithLabelValues("ws", "error").Inc()
			n.logger.Debug("ws send failed", "recipient_id", ev.RecipientID, "error", err)
		}
	}
	if n.push != nil && ev.CallbackURL != "" {
		if err := n.push.Push(ctx, ev.CallbackURL, ev); err != nil {
			observability.NotifyDeliveries.WithLabelValues("callback", "error").Inc()
			n.logger.Warn("callback push failed", "recipient_id", ev.RecipientID, "kind", ev.Kind, "error", err)
			return
		}
		observability.NotifyDeliveries.WithLabelValues("callback", "ok").Inc()
		return
	}
	observability.NotifyDeliveries.WithLabelValues("none", "poll").Inc()
}
