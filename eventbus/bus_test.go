package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amelia-run/amelia/workflow"
)

type recordingSubscriber struct {
	received []workflow.Event
	err      error
}

func (r *recordingSubscriber) HandleEvent(_ context.Context, event workflow.Event) error {
	r.received = append(r.received, event)
	return r.err
}

func TestBusFansOutToAllSubscribers(t *testing.T) {
	b := NewBus()
	a, err := b.Register(&recordingSubscriber{})
	require.NoError(t, err)
	defer a.Close()

	subA := &recordingSubscriber{}
	subB := &recordingSubscriber{}
	_, err = b.Register(subA)
	require.NoError(t, err)
	_, err = b.Register(subB)
	require.NoError(t, err)

	ev := workflow.Event{WorkflowID: "wf-1", Sequence: 1}
	require.NoError(t, b.Publish(context.Background(), ev))

	require.Equal(t, []workflow.Event{ev}, subA.received)
	require.Equal(t, []workflow.Event{ev}, subB.received)
}

func TestBusRegisterRejectsNilSubscriber(t *testing.T) {
	b := NewBus()
	_, err := b.Register(nil)
	require.Error(t, err)
}

func TestBusPublishContinuesPastAFailingSubscriberAndAggregatesErrors(t *testing.T) {
	b := NewBus()
	boom := errors.New("boom")
	failing := &recordingSubscriber{err: boom}
	after := &recordingSubscriber{}
	_, err := b.Register(failing)
	require.NoError(t, err)
	_, err = b.Register(after)
	require.NoError(t, err)

	ev := workflow.Event{WorkflowID: "wf-1"}
	err = b.Publish(context.Background(), ev)
	require.ErrorIs(t, err, boom)
	require.Equal(t, []workflow.Event{ev}, after.received)
}

func TestBusPublishDeliversInRegistrationOrder(t *testing.T) {
	b := NewBus()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		_, err := b.Register(SubscriberFunc(func(_ context.Context, _ workflow.Event) error {
			order = append(order, i)
			return nil
		}))
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(context.Background(), workflow.Event{WorkflowID: "wf-1"}))
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSubscriptionCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	b := NewBus()
	sub := &recordingSubscriber{}
	reg, err := b.Register(sub)
	require.NoError(t, err)

	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close())

	require.NoError(t, b.Publish(context.Background(), workflow.Event{WorkflowID: "wf-1"}))
	require.Empty(t, sub.received)
}

func TestSubscriberFuncAdapts(t *testing.T) {
	var called bool
	f := SubscriberFunc(func(_ context.Context, _ workflow.Event) error {
		called = true
		return nil
	})
	require.NoError(t, f.HandleEvent(context.Background(), workflow.Event{}))
	require.True(t, called)
}
