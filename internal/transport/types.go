// Package transport defines the chat-platform client surface the rest of the
// system is written against, plus the two distinguished failure signals the
// core logic reacts to: rate limiting and missing/unchanged messages.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Message is an archive-channel message handle as seen by the resolver and
// the delivery path. Implementations are free to leave Caption empty when the
// platform offers no cheap way to look it up.
type Message struct {
	Ref     MessageRef
	Caption string
}

// Button is a single inline URL button.
type Button struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type Update struct {
	Message *IncomingMessage
}

type IncomingMessage struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	// Payload is the argument of a /command message ("" if none).
	Payload string
}

// ErrMessageMissing is returned when the platform reports the target message
// as gone or the edit as a no-op ("message is not modified"). Callers treat
// it as a staleness signal, not a failure.
var ErrMessageMissing = errors.New("target message missing or unchanged")

// RateLimitedError carries the platform-provided wait duration.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// RetryAfter reports whether err is a rate-limit signal and, if so, how long
// the caller should wait before retrying.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// Client is the injected platform capability (no global bot handle).
//
// The batch size of a single Messages call is capped at MessageBatchLimit
// ids; callers own the chunking. Implementations map platform failures onto
// ErrMessageMissing / RateLimitedError where applicable and pass everything
// else through untouched.
type Client interface {
	// Username returns the bot's own resolved username (deep-link host).
	Username() string

	SendText(ctx context.Context, to ChatTarget, text string, rows [][]Button) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, photo, caption string, rows [][]Button) (MessageRef, error)
	EditButtons(ctx context.Context, ref MessageRef, rows [][]Button) error

	// Messages resolves up to MessageBatchLimit archive message ids.
	// Ids that no longer exist are dropped from the result, not errors.
	Messages(ctx context.Context, chatID int64, ids []int) ([]Message, error)

	// Copy re-posts an archive message into another chat and returns the copy.
	Copy(ctx context.Context, to ChatTarget, from MessageRef) (MessageRef, error)

	// Delete removes messages from a chat; missing messages are not an error.
	Delete(ctx context.Context, chatID int64, ids []int) error
}

// MessageBatchLimit is the platform cap on ids per Messages call.
const MessageBatchLimit = 200
