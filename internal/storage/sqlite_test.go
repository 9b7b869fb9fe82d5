package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animecast/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testJob(anime string) Job {
	return Job{
		Anime:      anime,
		Resolution: 720,
		FileIDs:    []int{101, 102, 103},
		Genres:     "Action",
		Score:      "8.2",
		MediaType:  "TV",
		Synopsis:   "A story.",
	}
}

func TestJobQueueRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.EnqueueJob(ctx, testJob("X"))
	require.NoError(t, err)
	require.Positive(t, id)

	n, err := st.CountPendingJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := st.NextPendingJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, "X", job.Anime)
	assert.Equal(t, 720, job.Resolution)
	assert.Equal(t, []int{101, 102, 103}, job.FileIDs)
	assert.Equal(t, JobPending, job.Status)
	assert.False(t, job.CreatedAt.IsZero())
}

func TestNextPendingJobEmptyQueue(t *testing.T) {
	st := openTestStore(t)

	job, err := st.NextPendingJob(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job, "empty queue yields nil, nil")
}

func TestJobsClaimedOldestFirst(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	first, err := st.EnqueueJob(ctx, testJob("A"))
	require.NoError(t, err)
	_, err = st.EnqueueJob(ctx, testJob("B"))
	require.NoError(t, err)

	job, err := st.NextPendingJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, job.ID)
}

func TestMarkJobDoneIsOneWay(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.EnqueueJob(ctx, testJob("X"))
	require.NoError(t, err)
	require.NoError(t, st.MarkJobDone(ctx, id))

	// A late error writer cannot flip the terminal status back.
	require.NoError(t, st.MarkJobError(ctx, id, "too late"))

	job, err := st.NextPendingJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "finished jobs never reappear")

	n, err := st.CountPendingJobs(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMarkJobErrorRecordsCause(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.EnqueueJob(ctx, testJob("X"))
	require.NoError(t, err)
	require.NoError(t, st.MarkJobError(ctx, id, "channel unreachable"))

	job, err := st.NextPendingJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "errored jobs are not retried")
}

func TestEnqueueJobValidation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Job)
	}{
		{name: "missing anime", mutate: func(j *Job) { j.Anime = "  " }},
		{name: "zero resolution", mutate: func(j *Job) { j.Resolution = 0 }},
		{name: "no file ids", mutate: func(j *Job) { j.FileIDs = nil }},
		{name: "non-positive file id", mutate: func(j *Job) { j.FileIDs = []int{5, 0} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := testJob("X")
			tt.mutate(&j)
			_, err := st.EnqueueJob(ctx, j)
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestPruneJobsKeepsPending(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	doneID, err := st.EnqueueJob(ctx, testJob("A"))
	require.NoError(t, err)
	require.NoError(t, st.MarkJobDone(ctx, doneID))
	_, err = st.EnqueueJob(ctx, testJob("B"))
	require.NoError(t, err)

	pruned, err := st.PruneJobs(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	n, err := st.CountPendingJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "pending jobs survive pruning")
}

func TestPostRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rows := [][]Button{{
		{Label: "720p", URL: "https://t.me/bot?start=abc"},
	}}
	id, err := st.InsertPost(ctx, Post{Anime: "X", MessageID: 42, Buttons: rows})
	require.NoError(t, err)

	post, err := st.PostByAnime(ctx, "X")
	require.NoError(t, err)
	require.NotNil(t, post)
	assert.Equal(t, id, post.ID)
	assert.Equal(t, 42, post.MessageID)
	assert.Equal(t, rows, post.Buttons)

	missing, err := st.PostByAnime(ctx, "Y")
	require.NoError(t, err)
	assert.Nil(t, missing, "unknown anime yields nil, nil")
}

func TestUpdatePostButtons(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.InsertPost(ctx, Post{Anime: "X", MessageID: 42, Buttons: [][]Button{{{Label: "720p"}}}})
	require.NoError(t, err)

	next := [][]Button{{{Label: "720p"}, {Label: "1080p"}}}
	require.NoError(t, st.UpdatePostButtons(ctx, id, next))

	post, err := st.PostByAnime(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, next, post.Buttons)
}

func TestDeletePost(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.InsertPost(ctx, Post{Anime: "X", MessageID: 42})
	require.NoError(t, err)
	require.NoError(t, st.DeletePost(ctx, id))

	post, err := st.PostByAnime(ctx, "X")
	require.NoError(t, err)
	assert.Nil(t, post)
}

func TestInsertPostValidation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.InsertPost(ctx, Post{Anime: "", MessageID: 42})
	assert.ErrorIs(t, err, ErrInvalidRecord)
	_, err = st.InsertPost(ctx, Post{Anime: "X", MessageID: 0})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestInsertPostDuplicateAnimeRejected(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.InsertPost(ctx, Post{Anime: "X", MessageID: 1})
	require.NoError(t, err)
	_, err = st.InsertPost(ctx, Post{Anime: "X", MessageID: 2})
	assert.Error(t, err, "one post per anime")
}
