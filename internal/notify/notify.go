// Package notify is the fire-and-forget event sink for job lifecycle
// messages. Messages are queued and delivered by a single worker under a
// rate limit; a full queue drops, it never blocks a pass.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"stashd/pkg/logx"
)

// Sender delivers one message. Injected so tests run without a live bot.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type Config struct {
	QueueSize  int
	RatePerSec int
}

type Queue struct {
	log     logx.Logger
	sender  Sender
	limiter *rate.Limiter

	queue   chan string
	wg      sync.WaitGroup
	dropped atomic.Uint64

	startOnce sync.Once
}

func New(cfg Config, sender Sender, log logx.Logger) *Queue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{
		log:     log,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   make(chan string, cfg.QueueSize),
	}
}

// Start runs the delivery worker until ctx is cancelled. Idempotent.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		q.wg.Add(1)
		go q.worker(ctx)
	})
}

// Wait blocks until the worker exited. Call after cancelling the Start ctx.
func (q *Queue) Wait() { q.wg.Wait() }

// Notify enqueues a message without blocking. When the queue is full the
// message is dropped and counted.
func (q *Queue) Notify(ctx context.Context, text string) {
	select {
	case q.queue <- text:
	default:
		n := q.dropped.Add(1)
		q.log.Warn("notification dropped, queue full",
			logx.Uint64("dropped_total", n),
			logx.Int("queue_cap", cap(q.queue)))
	}
	_ = ctx
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-q.queue:
			if err := q.limiter.Wait(ctx); err != nil {
				return
			}
			sctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := q.sender.Send(sctx, text)
			cancel()
			if err != nil {
				// Best effort only; a lost message is acceptable, a stuck
				// worker is not.
				q.log.Warn("notification send failed", logx.Err(err))
			}
		}
	}
}
