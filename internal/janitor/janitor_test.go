package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animecast/internal/storage"
	"animecast/pkg/logx"
)

type pruneStore struct {
	storage.Store

	cutoffs []time.Time
	removed int64
}

func (s *pruneStore) PruneJobs(_ context.Context, olderThan time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, olderThan)
	return s.removed, nil
}

func TestPruneUsesMaxAgeCutoff(t *testing.T) {
	store := &pruneStore{removed: 3}
	svc := New(Config{Enabled: true, MaxAge: 48 * time.Hour}, store, logx.Nop())

	svc.prune()

	require.Len(t, store.cutoffs, 1)
	want := time.Now().Add(-48 * time.Hour)
	assert.WithinDuration(t, want, store.cutoffs[0], time.Minute)
}

func TestStartDisabledIsNoop(t *testing.T) {
	svc := New(Config{Enabled: false}, &pruneStore{}, logx.Nop())
	require.NoError(t, svc.Start())
	assert.Nil(t, svc.cron)
	svc.Stop()
}

func TestStartRejectsBadSchedule(t *testing.T) {
	svc := New(Config{Enabled: true, Schedule: "not a cron spec"}, &pruneStore{}, logx.Nop())
	assert.Error(t, svc.Start())
}

func TestStartStop(t *testing.T) {
	svc := New(Config{Enabled: true}, &pruneStore{}, logx.Nop())
	require.NoError(t, svc.Start())
	require.NotNil(t, svc.cron)
	svc.Stop()
}
