package config

import "maps"

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Authority
	redact(&out.Authority.PrivateKey)
	redact(&out.Authority.KeyPassword)

	// Registry
	redact(&out.Registry.APIKey)

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// AMQP and RPC URLs commonly embed credentials.
	redact(&out.AMQP.URL)
	redact(&out.Payout.RPCURL)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}
	if cfg.Registry.Milestones != nil {
		out.Registry.Milestones = make([]MilestoneSeed, len(cfg.Registry.Milestones))
		copy(out.Registry.Milestones, cfg.Registry.Milestones)
	}

	// Copy maps so mutations to the redacted copy do not affect the original.
	if cfg.Registry.Owners != nil {
		out.Registry.Owners = maps.Clone(cfg.Registry.Owners)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
