package procurement

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	first := bus.Subscribe(4)
	second := bus.Subscribe(4)

	require.NoError(t, bus.HandleRequestApproved(ctx, RequestApprovedEvent{RequestID: 1, Quantity: 5}))

	for _, ch := range []<-chan any{first, second} {
		evt := <-ch
		approved, ok := evt.(RequestApprovedEvent)
		require.True(t, ok)
		require.Equal(t, int64(1), approved.RequestID)
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	ch := bus.Subscribe(1)
	require.NoError(t, bus.HandleOrderGenerated(ctx, OrderGeneratedEvent{OrderID: 1}))
	// buffer full, must not block
	require.NoError(t, bus.HandleOrderGenerated(ctx, OrderGeneratedEvent{OrderID: 2}))

	evt := <-ch
	require.Equal(t, int64(1), evt.(OrderGeneratedEvent).OrderID)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event %v", extra)
	default:
	}
}

type recordingCounter struct {
	transitions []string
}

func (c *recordingCounter) CountTransition(to string) {
	c.transitions = append(c.transitions, to)
}

func TestBusSubscriptionCountsTransitions(t *testing.T) {
	bus := NewBus()
	counter := &recordingCounter{}
	sub := NewBusSubscription(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), counter)

	sub.consume(RequestApprovedEvent{RequestID: 1})
	sub.consume(OrderGeneratedEvent{OrderID: 2})
	sub.consume(OrderCancelledEvent{OrderID: 2})
	sub.consume(RequestReceivedEvent{RequestID: 1})

	require.Equal(t, []string{"approved", "ordered", "received"}, counter.transitions)
}

func TestDomainTransitions(t *testing.T) {
	require.True(t, CanTransition(StatusPending, StatusApproved))
	require.True(t, CanTransition(StatusPending, StatusRejected))
	require.True(t, CanTransition(StatusApproved, StatusBatched))
	require.True(t, CanTransition(StatusBatched, StatusOrdered))
	require.True(t, CanTransition(StatusOrdered, StatusReceived))

	require.False(t, CanTransition(StatusPending, StatusOrdered))
	require.False(t, CanTransition(StatusRejected, StatusApproved))
	require.False(t, CanTransition(StatusReceived, StatusApproved))

	require.True(t, StatusRejected.Terminal())
	require.True(t, StatusReceived.Terminal())
	require.False(t, StatusBatched.Terminal())
}
