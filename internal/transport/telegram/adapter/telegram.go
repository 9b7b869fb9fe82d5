// Package adapter implements transport.Client on top of telebot.v4.
package adapter

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "animecast/internal/runtime/supervisor"
	"animecast/internal/transport"
	"animecast/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- transport.Update)
	runMu   sync.Mutex
	running bool

	// sup owns adapter internal goroutines (poll loop, stop watcher).
	// It is created on Start() and cancelled on Stop().
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the Telegram poll loop. Logged on stop to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	forward := func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		up := transport.Update{
			Message: &transport.IncomingMessage{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
				Payload:      m.Payload,
			},
		}
		a.sendUpdate(up)
		return nil
	}
	a.bot.Handle("/start", forward)
	a.bot.Handle(tele.OnText, forward)
}

func (a *Adapter) sendUpdate(up transport.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
	})

	// Telebot's Start() is a long-running loop. In some failure modes it can
	// exit unexpectedly; run it under a restart loop so the adapter self-heals.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started", logx.String("bot", a.Username()))
		if a.bot != nil {
			a.bot.Start()
		}
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if dropped := atomic.LoadUint64(&a.droppedUpdates); dropped > 0 {
		a.log.Warn("incoming updates were dropped (consumer slow)", logx.Any("count", dropped))
	}
	if !wasRunning {
		return nil
	}

	if sup != nil {
		sup.Cancel()
	}
	// telebot Stop is expected to be fast; run it async just in case.
	if a.bot != nil {
		go a.bot.Stop()
	}
	if sup == nil {
		return nil
	}

	// Grace window: keep shutdown snappy even if getUpdates long-poll is still waiting.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) Username() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, rows [][]transport.Button) (transport.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return transport.MessageRef{}, err
	}
	msg, err := a.bot.Send(tele.ChatID(to.ChatID), text, sendOptions(rows))
	if err != nil {
		return transport.MessageRef{}, mapErr(err)
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) SendPhoto(ctx context.Context, to transport.ChatTarget, photo, caption string, rows [][]transport.Button) (transport.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return transport.MessageRef{}, err
	}
	p := &tele.Photo{File: photoFile(photo), Caption: caption}
	msg, err := a.bot.Send(tele.ChatID(to.ChatID), p, sendOptions(rows))
	if err != nil {
		return transport.MessageRef{}, mapErr(err)
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) EditButtons(ctx context.Context, ref transport.MessageRef, rows [][]transport.Button) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	_, err := a.bot.EditReplyMarkup(storedMessage(ref), inlineMarkup(rows))
	return mapErr(err)
}

// Messages returns optimistic refs for the given ids.
//
// The Bot API has no side-effect-free bulk message lookup (unlike MTProto's
// getMessages), so existence cannot be checked here. Ids that are gone
// surface as ErrMessageMissing when the caller copies them, which the
// delivery path skips. The transport contract (batch cap, hole dropping)
// still holds: a hole is simply detected one step later.
func (a *Adapter) Messages(ctx context.Context, chatID int64, ids []int) ([]transport.Message, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if len(ids) > transport.MessageBatchLimit {
		return nil, errors.New("message batch exceeds platform limit")
	}
	out := make([]transport.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, transport.Message{Ref: transport.MessageRef{ChatID: chatID, MessageID: id}})
	}
	return out, nil
}

func (a *Adapter) Copy(ctx context.Context, to transport.ChatTarget, from transport.MessageRef) (transport.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return transport.MessageRef{}, err
	}
	msg, err := a.bot.Copy(tele.ChatID(to.ChatID), storedMessage(from))
	if err != nil {
		return transport.MessageRef{}, mapErr(err)
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) Delete(ctx context.Context, chatID int64, ids []int) error {
	var firstErr error
	for _, id := range ids {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		err := mapErr(a.bot.Delete(storedMessage(transport.MessageRef{ChatID: chatID, MessageID: id})))
		if err == nil || errors.Is(err, transport.ErrMessageMissing) {
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// storedMessage satisfies tele.Editable for messages we only know by id.
type storedMessage transport.MessageRef

func (m storedMessage) MessageSig() (string, int64) {
	return strconv.Itoa(m.MessageID), m.ChatID
}

func sendOptions(rows [][]transport.Button) *tele.SendOptions {
	return &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ReplyMarkup:           inlineMarkup(rows),
	}
}

func inlineMarkup(rows [][]transport.Button) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	kb := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		r := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			r = append(r, tele.InlineButton{Text: b.Label, URL: b.URL})
		}
		kb = append(kb, r)
	}
	return &tele.ReplyMarkup{InlineKeyboard: kb}
}

func photoFile(ref string) tele.File {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return tele.FromURL(ref)
	}
	return tele.File{FileID: ref}
}

// mapErr translates telebot failures into the transport taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var fp *tele.FloodError
	if errors.As(err, &fp) {
		return &transport.RateLimitedError{RetryAfter: time.Duration(fp.RetryAfter) * time.Second}
	}
	if fv, ok := err.(tele.FloodError); ok {
		return &transport.RateLimitedError{RetryAfter: time.Duration(fv.RetryAfter) * time.Second}
	}
	if isMissing(err) {
		return transport.ErrMessageMissing
	}
	return err
}

// isMissing matches the Bot API descriptions for stale/no-op message targets.
// Telegram has no stable error codes for these, only description strings.
func isMissing(err error) bool {
	s := strings.ToLower(err.Error())
	for _, marker := range []string{
		"message is not modified",
		"message to edit not found",
		"message to copy not found",
		"message to delete not found",
		"message_id_invalid",
		"message can't be found",
	} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
