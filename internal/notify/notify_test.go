package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stashd/pkg/logx"
)

type captureSender struct {
	mu    sync.Mutex
	sent  []string
	err   error
	gotCh chan struct{}
}

func (s *captureSender) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	s.sent = append(s.sent, text)
	s.mu.Unlock()
	select {
	case s.gotCh <- struct{}{}:
	default:
	}
	return s.err
}

func (s *captureSender) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func TestQueueDelivers(t *testing.T) {
	t.Parallel()
	sender := &captureSender{gotCh: make(chan struct{}, 8)}
	q := New(Config{QueueSize: 8, RatePerSec: 100}, sender, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Notify(ctx, "backup job x completed")
	q.Notify(ctx, "pruned 2 artifacts")

	for i := 0; i < 2; i++ {
		select {
		case <-sender.gotCh:
		case <-time.After(5 * time.Second):
			t.Fatalf("message %d not delivered", i)
		}
	}
	got := sender.messages()
	if len(got) != 2 || got[0] != "backup job x completed" {
		t.Fatalf("messages: %v", got)
	}

	cancel()
	q.Wait()
}

func TestQueueFullDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()
	// Worker never started, so the queue fills up.
	q := New(Config{QueueSize: 2}, &captureSender{}, logx.Nop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			q.Notify(context.Background(), "msg")
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Notify blocked on a full queue")
	}
	if got := q.dropped.Load(); got != 8 {
		t.Fatalf("dropped: got %d, want 8", got)
	}
}

func TestSendFailureDoesNotStopWorker(t *testing.T) {
	t.Parallel()
	sender := &captureSender{gotCh: make(chan struct{}, 8), err: errors.New("api down")}
	q := New(Config{QueueSize: 8, RatePerSec: 100}, sender, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Notify(ctx, "one")
	q.Notify(ctx, "two")
	for i := 0; i < 2; i++ {
		select {
		case <-sender.gotCh:
		case <-time.After(5 * time.Second):
			t.Fatalf("worker stopped after send failure")
		}
	}
}
