// Package publisher fans recorded sync events out to other consumers.
package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"unified-ai/backend/internal/logging"
	"unified-ai/backend/internal/platform/metrics"
	"unified-ai/backend/internal/sync/domain"
)

// publishTimeout bounds a single asynchronous publish.
const publishTimeout = 5 * time.Second

// Publisher emits sync events. Callers treat it as best-effort.
type Publisher interface {
	Publish(ctx context.Context, e *domain.Event) error
	Close() error
}

// Noop discards events. It is used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, *domain.Event) error { return nil }
func (Noop) Close() error                                 { return nil }

// Async publishes in the background so recording never waits on the broker.
// Failures are logged and counted.
type Async struct {
	next    Publisher
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewAsync wraps next. log and m may be nil.
func NewAsync(next Publisher, log logrus.FieldLogger, m *metrics.Metrics) *Async {
	if next == nil {
		next = Noop{}
	}
	return &Async{next: next, log: logging.OrDiscard(log), metrics: m}
}

// Publish schedules e and returns immediately. The request context is not
// used so cancellation of the caller does not abort the send.
func (a *Async) Publish(_ context.Context, e *domain.Event) error {
	if e == nil {
		return nil
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := a.next.Publish(ctx, e); err != nil {
			a.metrics.PublishFailed()
			a.log.WithError(err).WithFields(logrus.Fields{
				"event_id": e.ID,
				"entity":   e.Key().String(),
			}).Warn("sync: publish failed")
		}
	}()
	return nil
}

// Wait blocks until in-flight publishes finish or ctx is done.
func (a *Async) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains in-flight publishes for up to publishTimeout, then closes the
// wrapped publisher.
func (a *Async) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	_ = a.Wait(ctx)
	return a.next.Close()
}
