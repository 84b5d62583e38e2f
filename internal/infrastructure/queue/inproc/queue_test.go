package inproc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/equity-lens/internal/core/domain"
)

func TestQueueDeliversTriggers(t *testing.T) {
	q := NewQueue(4, 2, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var handled atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- q.SubscribeFileUploaded(ctx, func(context.Context, domain.FileUploaded) error {
			handled.Add(1)
			return nil
		})
	}()

	for _, id := range []string{"f1", "f2", "f3"} {
		if err := q.PublishFileUploaded(context.Background(), domain.FileUploaded{ProjectID: "p1", FileID: id}); err != nil {
			t.Fatalf("PublishFileUploaded() error = %v", err)
		}
	}

	deadline := time.After(time.Second)
	for handled.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected 3 handled triggers, got %d", handled.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("subscribe returned %v", err)
	}
}

func TestQueueReportsFullBufferAsTemporary(t *testing.T) {
	q := NewQueue(1, 1, nil)
	if err := q.PublishFileUploaded(context.Background(), domain.FileUploaded{FileID: "f1"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	err := q.PublishFileUploaded(context.Background(), domain.FileUploaded{FileID: "f2"})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestEventBusScopesByProject(t *testing.T) {
	bus := NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan domain.Event, 4)
	done := make(chan struct{})
	go func() {
		_ = bus.SubscribeProject(ctx, "p1", func(e domain.Event) { got <- e })
		close(done)
	}()
	for bus.Subscribers("p1") == 0 {
		time.Sleep(time.Millisecond)
	}

	_ = bus.Publish(context.Background(), domain.Event{Type: domain.EventInsightReviewed, ProjectID: "p2"})
	_ = bus.Publish(context.Background(), domain.Event{Type: domain.EventInsightsCreated, ProjectID: "p1", Count: 3})

	event := <-got
	if event.ProjectID != "p1" || event.Count != 3 {
		t.Fatalf("unexpected event %+v", event)
	}
	select {
	case extra := <-got:
		t.Fatalf("unexpected cross-project event %+v", extra)
	default:
	}

	cancel()
	<-done
	if bus.Subscribers("p1") != 0 {
		t.Fatalf("expected subscription to be removed")
	}
}
