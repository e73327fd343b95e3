package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// SlackConfig configures operator alerts over the Slack Web API.
type SlackConfig struct {
	BotToken string
	Channel  string
	// APIURL overrides https://slack.com/api/ and must end with a slash.
	APIURL string
	Logger logger.Logger
}

// SlackSink posts disconnect and auth failure alerts to one channel.
type SlackSink struct {
	client  *slack.Client
	channel string
	log     logger.Logger
}

var _ Sink = (*SlackSink)(nil)

// NewSlackSink creates the sink without contacting Slack.
func NewSlackSink(cfg SlackConfig) (*SlackSink, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("slack bot token is required")
	}
	if cfg.Channel == "" {
		return nil, errors.New("slack channel is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return &SlackSink{
		client:  slack.New(cfg.BotToken, opts...),
		channel: cfg.Channel,
		log:     cfg.Logger,
	}, nil
}

// Publish posts an alert for operator-relevant events and ignores the rest.
func (s *SlackSink) Publish(ctx context.Context, ev Event) error {
	if !operatorAlert(ev) {
		return nil
	}
	_, ts, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(alertText(ev), false))
	if err != nil {
		return fmt.Errorf("slack alert: %w", err)
	}
	s.log.Debug("Slack alert sent",
		logger.SessionIDField(ev.SessionID),
		logger.StringField("ts", ts))
	return nil
}
