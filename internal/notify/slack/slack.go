// Package slack posts operator notices to a Slack channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	slackapi "github.com/slack-go/slack"

	"github.com/zulandar/switchyard/internal/notify"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// NotifierOpts holds parameters for creating a Slack Notifier.
type NotifierOpts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// Notifier implements notify.Notifier for Slack.
type Notifier struct {
	client    slackClient
	channelID string
}

// New creates a Slack Notifier.
func New(opts NotifierOpts) (*Notifier, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &Notifier{client: client, channelID: opts.ChannelID}, nil
}

// Notify implements notify.Notifier.
func (n *Notifier) Notify(ctx context.Context, notice notify.Notice) error {
	options := []slackapi.MsgOption{
		slackapi.MsgOptionAttachments(noticeToAttachment(notice)),
		slackapi.MsgOptionText(notice.Title, false),
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := n.client.PostMessageContext(ctx, n.channelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// noticeToAttachment converts a Notice to a Slack Attachment.
func noticeToAttachment(notice notify.Notice) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    notice.Title,
		Text:     notice.Body,
		Color:    notice.Color,
		Fallback: notice.Title,
	}
	for _, f := range notice.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		log.Warn().Int("attempt", attempt+1).Dur("wait", wait).Msg("slack: rate limited")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
