// Package delivery resolves incoming deep links back into archive files and
// hands them to the requester for a bounded retention window.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"animecast/internal/deeplink"
	"animecast/internal/ranges"
	"animecast/internal/transport"
	"animecast/pkg/logx"
)

type Config struct {
	// Retention is how long delivered copies live before deletion.
	Retention time.Duration
	// CopyRatePerSec paces outbound copies across all requesters.
	CopyRatePerSec int
}

// Resolver is the slice of ranges.Resolver the service needs.
type Resolver interface {
	Resolve(ctx context.Context, ids []int) ([]transport.Message, error)
}

type Service struct {
	client transport.Client
	res    Resolver
	expiry *ExpiryScheduler
	log    logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	// wg tracks in-flight deliveries so Stop can drain them.
	wg sync.WaitGroup

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, client transport.Client, res Resolver, expiry *ExpiryScheduler, log logx.Logger) *Service {
	if cfg.Retention <= 0 {
		cfg.Retention = 15 * time.Minute
	}
	if cfg.CopyRatePerSec <= 0 {
		cfg.CopyRatePerSec = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		client:  client,
		res:     res,
		expiry:  expiry,
		log:     log,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.CopyRatePerSec), cfg.CopyRatePerSec),
		sleep:   sleepCtx,
	}
}

// Apply updates retention/pacing at runtime (config hot reload).
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Retention > 0 {
		s.cfg.Retention = cfg.Retention
	}
	if cfg.CopyRatePerSec > 0 {
		s.cfg.CopyRatePerSec = cfg.CopyRatePerSec
		s.limiter = rate.NewLimiter(rate.Limit(cfg.CopyRatePerSec), cfg.CopyRatePerSec)
	}
}

func (s *Service) snapshot() (time.Duration, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Retention, s.limiter
}

// Run consumes adapter updates until ctx is done. Each /start request is
// served on its own goroutine so one requester's rate-limit backoff never
// stalls another's delivery.
func (s *Service) Run(ctx context.Context, updates <-chan transport.Update) error {
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case up := <-updates:
			m := up.Message
			if m == nil || !strings.HasPrefix(m.Text, "/start") {
				continue
			}
			msg := *m
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleStart(ctx, msg)
			}()
		}
	}
}

func (s *Service) handleStart(ctx context.Context, m transport.IncomingMessage) {
	to := transport.ChatTarget{ChatID: m.ChatID}
	log := s.log.With(logx.Int64("chat", m.ChatID))

	if strings.TrimSpace(m.Payload) == "" {
		s.reply(ctx, to, "Bot online.")
		return
	}

	ids, err := decodeRequest(m.Payload)
	if err != nil {
		// User-facing: never leak internal detail, never crash the process.
		log.Debug("bad start payload", logx.Err(err))
		s.reply(ctx, to, "❌ Files removed or link invalid.")
		return
	}

	statusRef, _ := s.client.SendText(ctx, to, "📂 <b>Fetching files...</b>", nil)

	msgs, err := s.res.Resolve(ctx, ids)
	if err != nil {
		log.Warn("resolve failed", logx.Err(err), logx.Int("ids", len(ids)))
		s.dropStatus(ctx, statusRef)
		s.reply(ctx, to, "❌ Files unavailable right now. Try again later.")
		return
	}
	s.dropStatus(ctx, statusRef)
	if len(msgs) == 0 {
		s.reply(ctx, to, "❌ Files removed.")
		return
	}

	retention, limiter := s.snapshot()
	delivered, skipped := s.copyAll(ctx, to, msgs, limiter)
	if len(delivered) == 0 {
		log.Warn("nothing delivered", logx.Int("requested", len(ids)), logx.Int("skipped", skipped))
		s.reply(ctx, to, "❌ Files removed.")
		return
	}

	notice := fmt.Sprintf("⚠️ These files will be deleted in %s. Save them somewhere safe.", formatWindow(retention))
	noticeRef, err := s.client.SendText(ctx, to, notice, nil)
	if err == nil {
		delivered = append(delivered, noticeRef.MessageID)
	}

	batchID := uuid.NewString()
	s.expiry.Schedule(batchID, m.ChatID, delivered, retention)
	log.Info("delivery complete",
		logx.String("batch", batchID),
		logx.Int("delivered", len(delivered)),
		logx.Int("skipped", skipped),
	)
}

// copyAll copies every resolved message to the requester. Per-item failures
// are skipped and counted, never aborting the batch; a rate-limit signal
// waits the carried duration and retries that copy once.
func (s *Service) copyAll(ctx context.Context, to transport.ChatTarget, msgs []transport.Message, limiter *rate.Limiter) (delivered []int, skipped int) {
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return delivered, skipped
		}
		if err := limiter.Wait(ctx); err != nil {
			return delivered, skipped
		}

		ref, err := s.client.Copy(ctx, to, msg.Ref)
		if wait, ok := transport.RetryAfter(err); ok {
			if s.sleep(ctx, wait) != nil {
				return delivered, skipped
			}
			ref, err = s.client.Copy(ctx, to, msg.Ref)
		}
		if err != nil {
			if !errors.Is(err, transport.ErrMessageMissing) {
				s.log.Debug("copy skipped", logx.Int("message_id", msg.Ref.MessageID), logx.Err(err))
			}
			skipped++
			continue
		}
		delivered = append(delivered, ref.MessageID)
	}
	return delivered, skipped
}

// Stop waits for in-flight deliveries and disarms pending expiries.
func (s *Service) Stop() {
	s.wg.Wait()
	s.expiry.Stop()
}

func (s *Service) reply(ctx context.Context, to transport.ChatTarget, text string) {
	if _, err := s.client.SendText(ctx, to, text, nil); err != nil {
		s.log.Debug("reply failed", logx.Int64("chat", to.ChatID), logx.Err(err))
	}
}

func (s *Service) dropStatus(ctx context.Context, ref transport.MessageRef) {
	if ref.MessageID == 0 {
		return
	}
	_ = s.client.Delete(ctx, ref.ChatID, []int{ref.MessageID})
}

// decodeRequest unwraps payload -> token -> id sequence.
func decodeRequest(payload string) ([]int, error) {
	token, err := deeplink.ResolvePayload(payload)
	if err != nil {
		return nil, err
	}
	return ranges.Decode(token)
}

func formatWindow(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}
	return d.Round(time.Minute).String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
