// Package inproc provides process-local trigger and event transport for the
// memory store driver, where api and worker run in one process.
package inproc

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/equity-lens/internal/core/domain"
)

type Queue struct {
	triggers    chan domain.FileUploaded
	concurrency int
	logger      *slog.Logger
}

func NewQueue(buffer, concurrency int, logger *slog.Logger) *Queue {
	if buffer <= 0 {
		buffer = 256
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		triggers:    make(chan domain.FileUploaded, buffer),
		concurrency: concurrency,
		logger:      logger,
	}
}

func (q *Queue) PublishFileUploaded(ctx context.Context, msg domain.FileUploaded) error {
	select {
	case q.triggers <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return domain.WrapError(domain.ErrTemporary, "publish trigger", errors.New("trigger queue is full"))
	}
}

func (q *Queue) SubscribeFileUploaded(ctx context.Context, handler func(context.Context, domain.FileUploaded) error) error {
	var group errgroup.Group
	group.SetLimit(q.concurrency)
	runCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return group.Wait()
		case msg := <-q.triggers:
			group.Go(func() error {
				if err := handler(runCtx, msg); err != nil {
					q.logger.Error("pipeline_handler_failed", "file_id", msg.FileID, "error", err)
				}
				return nil
			})
		}
	}
}

type EventBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(domain.Event)
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[string]map[int]func(domain.Event))}
}

// Publish delivers synchronously; handlers must not block.
func (b *EventBus) Publish(_ context.Context, event domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, handler := range b.subs[event.ProjectID] {
		handler(event)
	}
	return nil
}

func (b *EventBus) SubscribeProject(ctx context.Context, projectID string, handler func(domain.Event)) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[projectID] == nil {
		b.subs[projectID] = make(map[int]func(domain.Event))
	}
	b.subs[projectID][id] = handler
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.subs[projectID], id)
	if len(b.subs[projectID]) == 0 {
		delete(b.subs, projectID)
	}
	b.mu.Unlock()
	return nil
}

// Subscribers reports live subscriptions for a project.
func (b *EventBus) Subscribers(projectID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[projectID])
}
