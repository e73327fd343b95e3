package config

// TelegramConfig holds Telegram operator alert configuration
type TelegramConfig struct {
	BotToken string `env:"TELEGRAM_BOT_TOKEN" yaml:"-"`
	ChatID   string `env:"TELEGRAM_ALERT_CHAT_ID" yaml:"alert_chat_id"`
	Debug    bool   `env:"TELEGRAM_DEBUG" yaml:"debug"`
}

// Enabled returns true if Telegram alerts are configured
func (c *TelegramConfig) Enabled() bool {
	return c.BotToken != ""
}
