package delivery

import (
	"context"
	"sync"
	"time"

	"animecast/internal/transport"
	"animecast/pkg/logx"
)

// ExpiryScheduler deletes delivered batches after the retention window.
//
// Timers are keyed by batch id so a future cancel-on-request hook has
// something to grab; today Cancel is only used on shutdown. Deletion is
// best-effort hygiene: the chat or the messages may already be gone, and
// pending timers are simply dropped when the process exits.
type ExpiryScheduler struct {
	client transport.Client
	log    logx.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewExpiryScheduler(client transport.Client, log logx.Logger) *ExpiryScheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ExpiryScheduler{
		client: client,
		log:    log,
		timers: make(map[string]*time.Timer),
	}
}

// Schedule arms deletion of the given messages after the window elapses.
func (s *ExpiryScheduler) Schedule(batchID string, chatID int64, ids []int, after time.Duration) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timers == nil {
		return // stopped
	}
	s.timers[batchID] = time.AfterFunc(after, func() {
		s.expire(batchID, chatID, ids)
	})
	s.log.Debug("expiry scheduled",
		logx.String("batch", batchID),
		logx.Int("messages", len(ids)),
		logx.Duration("after", after),
	)
}

func (s *ExpiryScheduler) expire(batchID string, chatID int64, ids []int) {
	s.mu.Lock()
	delete(s.timers, batchID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.client.Delete(ctx, chatID, ids); err != nil {
		// Swallowed: the chat may be gone already.
		s.log.Debug("expiry delete incomplete", logx.String("batch", batchID), logx.Err(err))
		return
	}
	s.log.Info("delivered batch expired", logx.String("batch", batchID), logx.Int("messages", len(ids)))
}

// Cancel disarms one batch. It reports whether the batch was still pending.
func (s *ExpiryScheduler) Cancel(batchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[batchID]
	if !ok {
		return false
	}
	delete(s.timers, batchID)
	return t.Stop()
}

// Stop disarms every pending timer. Messages already delivered simply
// outlive their window; acceptable, since deletion is not a guarantee.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.timers = nil
}

// Pending reports the number of armed batches.
func (s *ExpiryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
