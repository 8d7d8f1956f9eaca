package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Copy the alias map so mutations to the redacted copy do not affect the
	// original.
	if cfg.Catalog.Aliases != nil {
		out.Catalog.Aliases = make(map[string]string, len(cfg.Catalog.Aliases))
		for k, v := range cfg.Catalog.Aliases {
			out.Catalog.Aliases[k] = v
		}
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
