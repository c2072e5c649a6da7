package event

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorscout/searchjobs/pkg/types"
)

func TestBusDeliversToSubscribersInOrder(t *testing.T) {
	bus := NewBus()
	var got []string

	bus.Subscribe(EventJobFinished, func(ctx context.Context, e Event) error {
		got = append(got, "first:"+e.Payload.(JobEvent).JobID)
		return nil
	})
	bus.Subscribe(EventJobFinished, func(ctx context.Context, e Event) error {
		got = append(got, "second")
		return errors.New("ignored")
	})
	bus.Subscribe(EventJobCreated, func(ctx context.Context, e Event) error {
		got = append(got, "wrong type")
		return nil
	})

	job := &types.Job{ID: "j1", Status: types.StatusCompleted}
	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventJobFinished, Payload: NewJobEvent(job)}))
	assert.Equal(t, []string{"first:j1", "second"}, got)
}

func TestBusRecoversHandlerPanic(t *testing.T) {
	bus := NewBus()
	called := false
	bus.Subscribe(EventJobFinished, func(ctx context.Context, e Event) error { panic("boom") })
	bus.Subscribe(EventJobFinished, func(ctx context.Context, e Event) error {
		called = true
		return nil
	})

	assert.NotPanics(t, func() {
		_ = bus.Publish(context.Background(), Event{Type: EventJobFinished})
	})
	assert.True(t, called)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	count := 0
	unsubscribe := bus.Subscribe(EventJobProgress, func(ctx context.Context, e Event) error {
		count++
		return nil
	})

	_ = bus.Publish(context.Background(), Event{Type: EventJobProgress})
	unsubscribe()
	unsubscribe()
	_ = bus.Publish(context.Background(), Event{Type: EventJobProgress})

	assert.Equal(t, 1, count)
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	bus := NewBus()
	var got []string
	var off func()
	off = bus.Subscribe(EventJobFinished, func(ctx context.Context, e Event) error {
		got = append(got, "first")
		off()
		return nil
	})
	bus.Subscribe(EventJobFinished, func(ctx context.Context, e Event) error {
		got = append(got, "second")
		return nil
	})

	_ = bus.Publish(context.Background(), Event{Type: EventJobFinished})
	_ = bus.Publish(context.Background(), Event{Type: EventJobFinished})
	assert.Equal(t, []string{"first", "second", "second"}, got)
}
