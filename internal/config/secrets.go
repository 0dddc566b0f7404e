package config

import "slices"

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log: secrets are
// masked and slices are cloned so the copy cannot alias the original.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Assets = slices.Clone(cfg.Assets)
	out.Chain.Markets = slices.Clone(cfg.Chain.Markets)
	out.Chain.Accounts = slices.Clone(cfg.Chain.Accounts)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
