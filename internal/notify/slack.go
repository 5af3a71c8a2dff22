package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/statuswatch/statuswatch/internal/observations"
	"github.com/statuswatch/statuswatch/internal/status"
)

const (
	slackMaxBlocks = 50
	// slackReservedBlocks accounts for the header block in each message
	slackReservedBlocks = 1
	slackMaxIncidents   = slackMaxBlocks - slackReservedBlocks
)

// SlackNotifier posts incident summaries to a Slack incoming webhook.
type SlackNotifier struct {
	logger     zerolog.Logger
	webhookURL string
	timing     timingConfig
	poster     *httpPoster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides timing parameters (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the
// webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; incident notifications disabled")
	}

	notifier := &SlackNotifier{
		logger:     logger,
		webhookURL: webhookURL,
		timing:     defaultTiming,
	}

	for _, opt := range opts {
		opt(notifier)
	}

	notifier.poster = newHTTPPoster(logger, "slack", webhookURL, "application/json", notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, incidents []observations.Incident) error {
	if len(incidents) == 0 {
		return nil
	}
	if err := n.poster.waitForRateLimit(ctx); err != nil {
		return err
	}

	messages := buildSlackMessages(incidents)
	for _, message := range messages {
		payload, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		if err := n.poster.postWithRetry(ctx, payload); err != nil {
			return err
		}
	}

	n.logger.Debug().
		Int("incidents", len(incidents)).
		Int("messages", len(messages)).
		Msg("slack notification sent")

	return nil
}

func buildSlackMessages(incidents []observations.Incident) []slack.WebhookMessage {
	if len(incidents) == 0 {
		return nil
	}

	total := len(incidents)
	chunkTotal := (total + slackMaxIncidents - 1) / slackMaxIncidents
	messages := make([]slack.WebhookMessage, 0, chunkTotal)

	for i := 0; i < total; i += slackMaxIncidents {
		end := i + slackMaxIncidents
		if end > total {
			end = total
		}
		partIndex := (i / slackMaxIncidents) + 1
		messages = append(messages, buildSlackMessage(incidents[i:end], total, partIndex, chunkTotal))
	}
	return messages
}

func buildSlackMessage(incidents []observations.Incident, total int, partIndex int, partTotal int) slack.WebhookMessage {
	summary := fmt.Sprintf("%d service status change(s)", total)
	if partTotal > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, partIndex, partTotal)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))

	blocks := []slack.Block{header}
	for _, incident := range incidents {
		blocks = append(blocks, buildIncidentBlock(incident))
	}

	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func buildIncidentBlock(incident observations.Incident) slack.Block {
	title := fmt.Sprintf("%s *%s*: `%s` → `%s`",
		statusEmoji(incident.To), incident.ServiceID, incident.From, incident.To)
	text := slack.NewTextBlockObject("mrkdwn", title, false, false)

	when := slack.NewTextBlockObject("mrkdwn",
		fmt.Sprintf("*At:*\n%s", incident.At.UTC().Format(time.RFC3339)), false, false)

	return slack.NewSectionBlock(text, []*slack.TextBlockObject{when}, nil)
}

func statusEmoji(st status.Status) string {
	switch st {
	case status.StatusHealthy:
		return ":large_green_circle:"
	case status.StatusDegraded:
		return ":large_yellow_circle:"
	case status.StatusDown:
		return ":red_circle:"
	default:
		return ":white_circle:"
	}
}
