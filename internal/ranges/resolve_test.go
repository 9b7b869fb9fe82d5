package ranges

import (
	"context"
	"errors"
	"testing"
	"time"

	"animecast/internal/transport"
	"animecast/pkg/logx"
)

type fakeFetcher struct {
	batches [][]int
	// fail maps call index -> error returned for that call.
	fail map[int]error
	// drop holds ids that resolve to holes.
	drop map[int]bool
	call int
}

func (f *fakeFetcher) Messages(_ context.Context, chatID int64, ids []int) ([]transport.Message, error) {
	idx := f.call
	f.call++
	if err := f.fail[idx]; err != nil {
		return nil, err
	}
	f.batches = append(f.batches, append([]int(nil), ids...))
	out := make([]transport.Message, 0, len(ids))
	for _, id := range ids {
		if f.drop[id] {
			continue
		}
		out = append(out, transport.Message{Ref: transport.MessageRef{ChatID: chatID, MessageID: id}})
	}
	return out, nil
}

func newTestResolver(f *fakeFetcher) *Resolver {
	r := NewResolver(f, -100, logx.Nop())
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return r
}

func seq(n int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i + 1
	}
	return ids
}

func TestResolveBatchBoundaries(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{}
	r := newTestResolver(f)

	msgs, err := r.Resolve(context.Background(), seq(450))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(msgs) != 450 {
		t.Fatalf("resolved %d messages, want 450", len(msgs))
	}
	if len(f.batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(f.batches))
	}
	for i, want := range []int{200, 200, 50} {
		if len(f.batches[i]) != want {
			t.Fatalf("batch %d has %d ids, want %d", i, len(f.batches[i]), want)
		}
	}
}

func TestResolveFiltersHoles(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{drop: map[int]bool{2: true, 3: true}}
	r := newTestResolver(f)

	msgs, err := r.Resolve(context.Background(), []int{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("resolved %d messages, want 2 (holes dropped, not errors)", len(msgs))
	}
}

func TestResolveRateLimitRetriesOnce(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{fail: map[int]error{
		0: &transport.RateLimitedError{RetryAfter: time.Second},
	}}
	r := newTestResolver(f)

	var slept time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	msgs, err := r.Resolve(context.Background(), seq(5))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("resolved %d messages, want 5", len(msgs))
	}
	if slept != time.Second {
		t.Fatalf("slept %v, want the platform-provided 1s", slept)
	}
}

func TestResolveRateLimitTwicePropagates(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{fail: map[int]error{
		0: &transport.RateLimitedError{RetryAfter: time.Second},
		1: &transport.RateLimitedError{RetryAfter: time.Second},
	}}
	r := newTestResolver(f)

	_, err := r.Resolve(context.Background(), seq(5))
	var rl *transport.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected rate-limit failure after one retry, got %v", err)
	}
}

func TestResolveOtherErrorPropagates(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	f := &fakeFetcher{fail: map[int]error{0: boom}}
	r := newTestResolver(f)

	if _, err := r.Resolve(context.Background(), seq(5)); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
