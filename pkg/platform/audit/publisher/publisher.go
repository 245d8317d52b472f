// Package publisher fans audit events into a store, synchronously or through
// a bounded buffer drained by a background goroutine.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	audit "quotaguard/pkg/platform/audit"
)

// ErrBufferFull is returned by Emit in async mode when the buffer is saturated.
var ErrBufferFull = errors.New("audit buffer full")

// Store is the sink a publisher writes to.
type Store interface {
	Append(ctx context.Context, event audit.Event) error
}

type Publisher struct {
	store  Store
	logger *slog.Logger
	buffer chan audit.Event
	wg     sync.WaitGroup
	once   sync.Once

	mu     sync.RWMutex
	closed bool
}

type Option func(*Publisher)

// WithAsyncBuffer switches to async mode with a buffer of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.buffer = make(chan audit.Event, n)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit stamps the event and hands it to the store. In async mode it never
// blocks: a full buffer returns ErrBufferFull.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if p.buffer == nil {
		return p.store.Append(ctx, event)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrBufferFull
	}
	select {
	case p.buffer <- event:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close drains pending events in async mode. Safe to call more than once.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.buffer == nil {
			return
		}
		p.mu.Lock()
		p.closed = true
		close(p.buffer)
		p.mu.Unlock()
		p.wg.Wait()
	})
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.buffer {
		// Detached from the emitting request so shutdown drains still persist.
		if err := p.store.Append(context.Background(), event); err != nil {
			p.logger.Warn("failed to persist audit event", "action", event.Action, "error", err)
		}
	}
}
