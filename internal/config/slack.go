package config

// SlackConfig holds Slack operator alert configuration
type SlackConfig struct {
	BotToken string `env:"SLACK_BOT_TOKEN" yaml:"-"`
	Channel  string `env:"SLACK_ALERT_CHANNEL" yaml:"alert_channel"`
}

// Enabled returns true if Slack alerts are configured
func (c *SlackConfig) Enabled() bool {
	return c.BotToken != ""
}
