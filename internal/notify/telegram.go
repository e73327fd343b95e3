package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"

	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// TelegramConfig configures operator alerts over a Telegram bot.
type TelegramConfig struct {
	BotToken string
	// ChatID is a numeric chat id or an @channel username.
	ChatID string
	// ServerURL overrides the Bot API endpoint.
	ServerURL string
	Debug     bool
	Logger    logger.Logger
}

// TelegramSink posts disconnect and auth failure alerts to one chat.
type TelegramSink struct {
	bot    *bot.Bot
	chatID any
	log    logger.Logger
}

var _ Sink = (*TelegramSink)(nil)

// NewTelegramSink creates the sink without contacting Telegram.
func NewTelegramSink(cfg TelegramConfig) (*TelegramSink, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if cfg.ChatID == "" {
		return nil, errors.New("telegram chat id is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	opts := []bot.Option{bot.WithSkipGetMe()}
	if cfg.ServerURL != "" {
		opts = append(opts, bot.WithServerURL(cfg.ServerURL))
	}
	if cfg.Debug {
		opts = append(opts, bot.WithDebug())
	}
	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	var chatID any = cfg.ChatID
	if id, err := strconv.ParseInt(cfg.ChatID, 10, 64); err == nil {
		chatID = id
	}
	return &TelegramSink{bot: b, chatID: chatID, log: cfg.Logger}, nil
}

// Publish sends an alert for operator-relevant events and ignores the rest.
func (s *TelegramSink) Publish(ctx context.Context, ev Event) error {
	if !operatorAlert(ev) {
		return nil
	}
	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: s.chatID,
		Text:   alertText(ev),
	})
	if err != nil {
		return fmt.Errorf("telegram alert: %w", err)
	}
	s.log.Debug("Telegram alert sent",
		logger.SessionIDField(ev.SessionID),
		logger.StringField("event", string(ev.Type)))
	return nil
}
