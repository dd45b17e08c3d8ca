package alerting

import (
	"github.com/rs/zerolog"

	"farewatch/internal/config"
)

// FromConfig builds the fan-out of every enabled channel. Email joins the
// fan-out whenever its credentials are present.
func FromConfig(cfg config.AlertingConfig, logger zerolog.Logger) Fanout {
	var channels Fanout
	if cfg.Desktop.Enabled {
		channels = append(channels, NewDesktopNotifier(cfg.Desktop.AppName, logger))
	}
	if cfg.Email.Configured() {
		channels = append(channels, NewEmailNotifier(cfg.Email, cfg.Timeout, logger))
	}
	if cfg.Telegram.Enabled {
		channels = append(channels, NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Timeout, logger))
	}
	if cfg.Webhook.Enabled {
		channels = append(channels, NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Timeout, logger))
	}
	return channels
}
