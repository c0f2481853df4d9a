// Package notify relays processing milestones to Slack. It subscribes to the
// event hub and posts a short message for every event it considers a
// milestone; everything else is ignored.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/priorauth/priorauth/internal/platform/eventhub"
)

// Poster is the part of the Slack API the notifier uses.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts hub milestones to one Slack channel.
type SlackNotifier struct {
	poster  Poster
	channel string
	logger  zerolog.Logger
}

// NewSlackNotifier creates a notifier using a real Slack client.
func NewSlackNotifier(token, channel string, logger zerolog.Logger) *SlackNotifier {
	return &SlackNotifier{
		poster:  slack.New(token),
		channel: channel,
		logger:  logger,
	}
}

// NewWithPoster creates a notifier with a custom Poster. Used by tests.
func NewWithPoster(poster Poster, channel string, logger zerolog.Logger) *SlackNotifier {
	return &SlackNotifier{poster: poster, channel: channel, logger: logger}
}

// Run consumes hub events until the subscription closes or the context is
// cancelled. It is meant to be started as a goroutine.
func (n *SlackNotifier) Run(ctx context.Context, sub *eventhub.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			n.handle(ctx, event)
		}
	}
}

func (n *SlackNotifier) handle(ctx context.Context, event eventhub.Event) {
	text, milestone := format(event)
	if !milestone {
		return
	}
	if _, _, err := n.poster.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false)); err != nil {
		n.logger.Warn().Err(err).Str("event_type", event.Type).Msg("slack post failed")
	}
}

// format renders a milestone event as a Slack line. The second return is
// false for event types that should not be posted.
func format(event eventhub.Event) (string, bool) {
	switch event.Type {
	case eventhub.TypeReady:
		return fmt.Sprintf(":white_check_mark: PA request for encounter %s is ready for review (%s)",
			event.EncounterID, event.TransactionID), true
	case eventhub.TypeProcessingError:
		return fmt.Sprintf(":warning: PA processing failed for encounter %s: %s",
			event.EncounterID, event.Message), true
	default:
		return "", false
	}
}
