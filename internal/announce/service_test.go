package announce

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animecast/internal/deeplink"
	"animecast/internal/ranges"
	"animecast/internal/storage"
	"animecast/internal/transport"
	"animecast/pkg/logx"
)

// fakeStore keeps posts in memory. Only the methods the state machine uses
// are implemented; the embedded interface panics on anything else.
type fakeStore struct {
	storage.Store

	posts  map[string]*storage.Post
	nextID int64

	deleteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{posts: map[string]*storage.Post{}}
}

func (s *fakeStore) PostByAnime(_ context.Context, anime string) (*storage.Post, error) {
	p, ok := s.posts[anime]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) InsertPost(_ context.Context, post storage.Post) (int64, error) {
	s.nextID++
	post.ID = s.nextID
	s.posts[post.Anime] = &post
	return post.ID, nil
}

func (s *fakeStore) UpdatePostButtons(_ context.Context, id int64, rows [][]storage.Button) error {
	for _, p := range s.posts {
		if p.ID == id {
			p.Buttons = rows
			return nil
		}
	}
	return errors.New("post not found")
}

func (s *fakeStore) DeletePost(_ context.Context, id int64) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	for anime, p := range s.posts {
		if p.ID == id {
			delete(s.posts, anime)
			return nil
		}
	}
	return nil
}

// fakeClient records sends/edits against an in-memory channel.
type fakeClient struct {
	transport.Client

	nextMsgID int
	// live tracks message ids that still exist in the channel.
	live map[int]bool

	sends   int
	photos  int
	edits   int
	editErr error
	sendErr error

	lastCaption string
	lastRows    [][]transport.Button
}

func newFakeClient() *fakeClient {
	return &fakeClient{live: map[int]bool{}}
}

func (c *fakeClient) Username() string { return "animecast_bot" }

func (c *fakeClient) send(caption string, rows [][]transport.Button) (transport.MessageRef, error) {
	if c.sendErr != nil {
		return transport.MessageRef{}, c.sendErr
	}
	c.nextMsgID++
	c.live[c.nextMsgID] = true
	c.lastCaption = caption
	c.lastRows = rows
	return transport.MessageRef{ChatID: -100, MessageID: c.nextMsgID}, nil
}

func (c *fakeClient) SendText(_ context.Context, _ transport.ChatTarget, text string, rows [][]transport.Button) (transport.MessageRef, error) {
	c.sends++
	return c.send(text, rows)
}

func (c *fakeClient) SendPhoto(_ context.Context, _ transport.ChatTarget, _, caption string, rows [][]transport.Button) (transport.MessageRef, error) {
	c.photos++
	return c.send(caption, rows)
}

func (c *fakeClient) EditButtons(_ context.Context, ref transport.MessageRef, rows [][]transport.Button) error {
	c.edits++
	if c.editErr != nil {
		return c.editErr
	}
	if !c.live[ref.MessageID] {
		return transport.ErrMessageMissing
	}
	c.lastRows = rows
	return nil
}

func newService(store *fakeStore, client *fakeClient) *Service {
	return New(Config{ChannelID: -100, RowWidth: 4}, store, client, logx.Nop())
}

func job(anime string, res int, ids ...int) *storage.Job {
	return &storage.Job{
		ID:         1,
		Anime:      anime,
		Resolution: res,
		FileIDs:    ids,
		Genres:     "Action",
		Score:      "8.2",
		MediaType:  "TV",
		Synopsis:   "A story.",
		Status:     storage.JobPending,
	}
}

func rowLabels(rows [][]transport.Button) []string {
	var out []string
	for _, row := range rows {
		for _, b := range row {
			out = append(out, b.Label)
		}
	}
	return out
}

func TestCreateFreshTextPost(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	svc := newService(store, client)

	require.NoError(t, svc.Process(context.Background(), job("X", 720, 101, 102, 103)))

	assert.Equal(t, 1, client.sends)
	assert.Equal(t, 0, client.photos)
	require.Len(t, client.lastRows, 1)
	require.Len(t, client.lastRows[0], 1)

	btn := client.lastRows[0][0]
	assert.Equal(t, "720p", btn.Label)

	// The button link must decode back to the job's file set.
	payload := strings.TrimPrefix(btn.URL, "https://t.me/animecast_bot?start=")
	token, err := deeplink.ResolvePayload(payload)
	require.NoError(t, err)
	ids, err := ranges.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, []int{101, 102, 103}, ids)

	post := store.posts["X"]
	require.NotNil(t, post)
	assert.Equal(t, client.nextMsgID, post.MessageID)
}

func TestCreateUsesPhotoWhenPosterPresent(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	svc := newService(store, client)

	j := job("X", 720, 101)
	j.Poster = "AgACAgQAAx"
	require.NoError(t, svc.Process(context.Background(), j))
	assert.Equal(t, 1, client.photos)
	assert.Equal(t, 0, client.sends)
	assert.Contains(t, client.lastCaption, "<b>X</b>")
}

func TestReprocessingIsIdempotent(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	svc := newService(store, client)

	require.NoError(t, svc.Process(context.Background(), job("X", 720, 101)))
	require.NoError(t, svc.Process(context.Background(), job("X", 720, 101)))

	assert.Equal(t, 1, client.sends, "no duplicate post")
	assert.Equal(t, 0, client.edits, "no edit for an advertised variant")
	assert.Equal(t, []string{"720p"}, rowLabels(fromStored(store.posts["X"].Buttons)))
}

func TestButtonsSortedByResolution(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	svc := newService(store, client)

	ctx := context.Background()
	require.NoError(t, svc.Process(ctx, job("X", 1080, 1)))
	require.NoError(t, svc.Process(ctx, job("X", 360, 2)))
	require.NoError(t, svc.Process(ctx, job("X", 720, 3)))

	assert.Equal(t, []string{"360p", "720p", "1080p"}, rowLabels(fromStored(store.posts["X"].Buttons)))
}

func TestEndToEndTwoJobs(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	svc := newService(store, client)
	ctx := context.Background()

	require.NoError(t, svc.Process(ctx, job("X", 720, 101, 102, 103)))
	require.NoError(t, svc.Process(ctx, job("X", 1080, 104)))

	assert.Equal(t, 1, client.sends)
	assert.Equal(t, 1, client.edits)
	assert.Equal(t, []string{"720p", "1080p"}, rowLabels(fromStored(store.posts["X"].Buttons)))
}

func TestSelfHealRecreatesStalePost(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	svc := newService(store, client)
	ctx := context.Background()

	require.NoError(t, svc.Process(ctx, job("X", 720, 101)))
	staleID := store.posts["X"].MessageID

	// The channel message vanishes out-of-band.
	delete(client.live, staleID)

	require.NoError(t, svc.Process(ctx, job("X", 1080, 104)))

	require.Len(t, store.posts, 1, "exactly one live record per anime")
	fresh := store.posts["X"]
	assert.NotEqual(t, staleID, fresh.MessageID)
	assert.Equal(t, 2, client.sends, "stale post recreated")
	// The fresh post advertises the healing job's variant.
	assert.Equal(t, []string{"1080p"}, rowLabels(fromStored(fresh.Buttons)))
}

func TestOtherEditErrorLeavesStateUnchanged(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	svc := newService(store, client)
	ctx := context.Background()

	require.NoError(t, svc.Process(ctx, job("X", 720, 101)))
	client.editErr = errors.New("chat write forbidden")

	err := svc.Process(ctx, job("X", 1080, 104))
	require.Error(t, err)
	assert.Equal(t, []string{"720p"}, rowLabels(fromStored(store.posts["X"].Buttons)))
	assert.Equal(t, 1, client.sends, "no recreate on unexpected errors")
}

func TestSendFailureSurfaces(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	client.sendErr = errors.New("no permission")
	svc := newService(store, client)

	err := svc.Process(context.Background(), job("X", 720, 101))
	require.Error(t, err)
	assert.Empty(t, store.posts)
}

func TestRowWrapAtConfiguredWidth(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	svc := New(Config{ChannelID: -100, RowWidth: 2}, store, client, logx.Nop())
	ctx := context.Background()

	for i, res := range []int{360, 480, 720} {
		require.NoError(t, svc.Process(ctx, job("X", res, 100+i)))
	}

	rows := fromStored(store.posts["X"].Buttons)
	require.Len(t, rows, 2)
	assert.Len(t, rows[0], 2)
	assert.Len(t, rows[1], 1)
}
