package server

import (
	"context"
	"testing"
	"time"

	"github.com/moyamoya-lab/moyamoya/backend/internal/draft"
)

func TestDispatcherDeliversEventsToSubscribers(t *testing.T) {
	dispatcher := NewDraftDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := dispatcher.Subscribe(ctx)
	defer unsubscribe()

	dispatcher.PublishDraftChanged(draft.OperationTypeRefine, 2)

	select {
	case event := <-events:
		if event.Operation != draft.OperationTypeRefine || event.Version != 2 {
			t.Fatalf("unexpected event: %+v", event)
		}
		if event.Timestamp.IsZero() {
			t.Fatalf("event must carry a timestamp")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event never arrived")
	}
}

func TestDispatcherDropsEventsForUnsubscribedListeners(t *testing.T) {
	dispatcher := NewDraftDispatcher()

	events, unsubscribe := dispatcher.Subscribe(context.Background())
	unsubscribe()

	dispatcher.PublishDraftChanged(draft.OperationTypeInput, 1)

	select {
	case event := <-events:
		t.Fatalf("unsubscribed listener received %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcherNeverBlocksOnSlowSubscriber(t *testing.T) {
	dispatcher := NewDraftDispatcher()
	dispatcher.bufferSize = 1

	_, unsubscribe := dispatcher.Subscribe(context.Background())
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			dispatcher.PublishDraftChanged(draft.OperationTypeInput, int64(i))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
}
