package ranges

import (
	"context"
	"time"

	"animecast/internal/transport"
	"animecast/pkg/logx"
)

// MessageFetcher is the slice of transport.Client the resolver needs.
type MessageFetcher interface {
	Messages(ctx context.Context, chatID int64, ids []int) ([]transport.Message, error)
}

// Resolver expands decoded id sequences into archive messages, honoring the
// platform batch cap and its rate-limit signal.
type Resolver struct {
	fetcher   MessageFetcher
	archiveID int64
	log       logx.Logger

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewResolver(fetcher MessageFetcher, archiveID int64, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{
		fetcher:   fetcher,
		archiveID: archiveID,
		log:       log,
		sleep:     sleepCtx,
	}
}

// Resolve fetches the messages behind ids in batches of at most
// transport.MessageBatchLimit. Deleted messages are dropped from the result
// (a removed file shrinks the answer, it does not fail it). A rate-limit
// signal suspends for the carried duration and retries that batch exactly
// once before the failure propagates.
func (r *Resolver) Resolve(ctx context.Context, ids []int) ([]transport.Message, error) {
	out := make([]transport.Message, 0, len(ids))
	for start := 0; start < len(ids); start += transport.MessageBatchLimit {
		end := start + transport.MessageBatchLimit
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		msgs, err := r.fetcher.Messages(ctx, r.archiveID, batch)
		if wait, ok := transport.RetryAfter(err); ok {
			r.log.Warn("archive fetch rate limited", logx.Duration("wait", wait), logx.Int("batch", len(batch)))
			if err = r.sleep(ctx, wait); err != nil {
				return nil, err
			}
			msgs, err = r.fetcher.Messages(ctx, r.archiveID, batch)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
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
