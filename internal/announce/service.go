// Package announce decides, per job, whether a channel announcement post is
// created or edited, and reconciles the cached post record against platform
// state when the two have drifted apart.
package announce

import (
	"context"
	"errors"
	"fmt"

	"animecast/internal/deeplink"
	"animecast/internal/ranges"
	"animecast/internal/storage"
	"animecast/internal/transport"
	"animecast/pkg/logx"
)

const defaultRowWidth = 4

type Config struct {
	// ChannelID is the public announcement channel.
	ChannelID int64
	// RowWidth caps buttons per keyboard row before wrapping.
	RowWidth int
	// Footer is an optional plug appended to every caption.
	Footer string
}

type Service struct {
	cfg    Config
	store  storage.Store
	client transport.Client
	log    logx.Logger
}

func New(cfg Config, store storage.Store, client transport.Client, log logx.Logger) *Service {
	if cfg.RowWidth <= 0 {
		cfg.RowWidth = defaultRowWidth
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, store: store, client: client, log: log}
}

// Process runs one job to completion: create a fresh post, extend an
// existing one, or self-heal a stale record. A nil return means the channel
// and the post store agree on the job's variant being advertised; the caller
// records the terminal job status either way.
//
// Re-processing an already-advertised variant is a no-op, so replayed jobs
// are safe.
func (s *Service) Process(ctx context.Context, job *storage.Job) error {
	token := ranges.Encode(job.FileIDs)
	link := deeplink.MakeLink(s.client.Username(), token)
	button := transport.Button{Label: fmt.Sprintf("%dp", job.Resolution), URL: link}

	post, err := s.store.PostByAnime(ctx, job.Anime)
	if err != nil {
		return fmt.Errorf("lookup post for %q: %w", job.Anime, err)
	}
	if post == nil {
		return s.create(ctx, job, button)
	}
	return s.extend(ctx, job, post, button)
}

func (s *Service) create(ctx context.Context, job *storage.Job, button transport.Button) error {
	rows := chunkRows([]transport.Button{button}, s.cfg.RowWidth)
	body := caption(job, s.cfg.Footer)
	target := transport.ChatTarget{ChatID: s.cfg.ChannelID}

	var (
		ref transport.MessageRef
		err error
	)
	if job.Poster != "" {
		ref, err = s.client.SendPhoto(ctx, target, job.Poster, body, rows)
	} else {
		ref, err = s.client.SendText(ctx, target, body, rows)
	}
	if err != nil {
		return fmt.Errorf("send post for %q: %w", job.Anime, err)
	}

	if _, err := s.store.InsertPost(ctx, storage.Post{
		Anime:     job.Anime,
		MessageID: ref.MessageID,
		Buttons:   toStored(rows),
	}); err != nil {
		return fmt.Errorf("persist post for %q: %w", job.Anime, err)
	}
	s.log.Info("announcement created",
		logx.String("anime", job.Anime),
		logx.Int("resolution", job.Resolution),
		logx.Int("message_id", ref.MessageID),
	)
	return nil
}

func (s *Service) extend(ctx context.Context, job *storage.Job, post *storage.Post, button transport.Button) error {
	flat := flatten(fromStored(post.Buttons))
	if hasLabel(flat, button.Label) {
		s.log.Debug("variant already advertised",
			logx.String("anime", job.Anime),
			logx.String("label", button.Label),
		)
		return nil
	}

	flat = append(flat, button)
	sortButtons(flat)
	rows := chunkRows(flat, s.cfg.RowWidth)

	ref := transport.MessageRef{ChatID: s.cfg.ChannelID, MessageID: post.MessageID}
	err := s.client.EditButtons(ctx, ref, rows)
	if errors.Is(err, transport.ErrMessageMissing) {
		// The channel message is gone or unchanged under us: the record is a
		// stale projection. Drop it and build the post fresh from this job.
		s.log.Warn("cached post is stale; recreating",
			logx.String("anime", job.Anime),
			logx.Int("message_id", post.MessageID),
		)
		if derr := s.store.DeletePost(ctx, post.ID); derr != nil {
			return fmt.Errorf("drop stale post for %q: %w", job.Anime, derr)
		}
		return s.create(ctx, job, button)
	}
	if err != nil {
		return fmt.Errorf("edit post for %q: %w", job.Anime, err)
	}

	if err := s.store.UpdatePostButtons(ctx, post.ID, toStored(rows)); err != nil {
		return fmt.Errorf("persist buttons for %q: %w", job.Anime, err)
	}
	s.log.Info("announcement extended",
		logx.String("anime", job.Anime),
		logx.String("label", button.Label),
		logx.Int("buttons", len(flat)),
	)
	return nil
}

func toStored(rows [][]transport.Button) [][]storage.Button {
	out := make([][]storage.Button, len(rows))
	for i, row := range rows {
		out[i] = make([]storage.Button, len(row))
		for j, b := range row {
			out[i][j] = storage.Button{Label: b.Label, URL: b.URL}
		}
	}
	return out
}

func fromStored(rows [][]storage.Button) [][]transport.Button {
	out := make([][]transport.Button, len(rows))
	for i, row := range rows {
		out[i] = make([]transport.Button, len(row))
		for j, b := range row {
			out[i][j] = transport.Button{Label: b.Label, URL: b.URL}
		}
	}
	return out
}
