package procurement

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RequestApprovedEvent is emitted after a request passes approval.
type RequestApprovedEvent struct {
	RequestID    int64
	MaterialName string
	Quantity     int64
	Fulfillment  FulfillmentMode
	ApprovedAt   time.Time
}

// OrderGeneratedEvent captures an order emission with its consumed requests.
type OrderGeneratedEvent struct {
	OrderID     int64
	SupplierID  int64
	RequestIDs  []int64
	ReturnedIDs []int64
	Items       []OrderItem
	GeneratedAt time.Time
}

// OrderCancelledEvent is emitted when an order is reversed.
type OrderCancelledEvent struct {
	OrderID     int64
	RequestIDs  []int64
	CancelledAt time.Time
}

// RequestReceivedEvent captures a receipt with its stock effect.
type RequestReceivedEvent struct {
	RequestID        int64
	MaterialID       int64
	MaterialName     string
	ReceivedQuantity int64
	MaterialCreated  bool
	ReceivedAt       time.Time
}

// IntegrationHandler receives procurement domain events. Consumers subscribe
// through the Bus instead of holding live collection snapshots.
type IntegrationHandler interface {
	HandleRequestApproved(ctx context.Context, evt RequestApprovedEvent) error
	HandleOrderGenerated(ctx context.Context, evt OrderGeneratedEvent) error
	HandleOrderCancelled(ctx context.Context, evt OrderCancelledEvent) error
	HandleRequestReceived(ctx context.Context, evt RequestReceivedEvent) error
}

// Bus is a channel-based fan-out of procurement events. Subscribers get a
// buffered channel; slow subscribers drop events rather than block writers.
type Bus struct {
	mu   sync.RWMutex
	subs []chan any
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a listener channel.
func (b *Bus) Subscribe(buffer int) <-chan any {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan any, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Bus) publish(evt any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// HandleRequestApproved implements IntegrationHandler.
func (b *Bus) HandleRequestApproved(ctx context.Context, evt RequestApprovedEvent) error {
	b.publish(evt)
	return nil
}

// HandleOrderGenerated implements IntegrationHandler.
func (b *Bus) HandleOrderGenerated(ctx context.Context, evt OrderGeneratedEvent) error {
	b.publish(evt)
	return nil
}

// HandleOrderCancelled implements IntegrationHandler.
func (b *Bus) HandleOrderCancelled(ctx context.Context, evt OrderCancelledEvent) error {
	b.publish(evt)
	return nil
}

// HandleRequestReceived implements IntegrationHandler.
func (b *Bus) HandleRequestReceived(ctx context.Context, evt RequestReceivedEvent) error {
	b.publish(evt)
	return nil
}

// TransitionCounter records lifecycle transitions for observability.
type TransitionCounter interface {
	CountTransition(to string)
}

// BusSubscription is the default event consumer: it logs each event and
// feeds the transition counter.
type BusSubscription struct {
	events  <-chan any
	logger  *slog.Logger
	counter TransitionCounter
}

// NewBusSubscription subscribes to the bus.
func NewBusSubscription(bus *Bus, logger *slog.Logger, counter TransitionCounter) *BusSubscription {
	return &BusSubscription{events: bus.Subscribe(64), logger: logger, counter: counter}
}

// Start consumes events until the context is cancelled.
func (s *BusSubscription) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-s.events:
				s.consume(evt)
			}
		}
	}()
}

func (s *BusSubscription) consume(evt any) {
	switch e := evt.(type) {
	case RequestApprovedEvent:
		s.count(StatusApproved)
		s.logger.Info("request approved", slog.Int64("request_id", e.RequestID), slog.Int64("qty", e.Quantity))
	case OrderGeneratedEvent:
		s.count(StatusOrdered)
		s.logger.Info("order generated", slog.Int64("order_id", e.OrderID), slog.Int("requests", len(e.RequestIDs)))
	case OrderCancelledEvent:
		s.logger.Info("order cancelled", slog.Int64("order_id", e.OrderID))
	case RequestReceivedEvent:
		s.count(StatusReceived)
		s.logger.Info("request received", slog.Int64("request_id", e.RequestID), slog.Bool("material_created", e.MaterialCreated))
	}
}

func (s *BusSubscription) count(to RequestStatus) {
	if s.counter == nil {
		return
	}
	s.counter.CountTransition(string(to))
}
