package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/agency")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, cfg.QuoteTTL)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "@every 10s", cfg.Outbox.Schedule)
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
	assert.False(t, cfg.Email.MailgunEnabled())
	assert.False(t, cfg.IsProduction())
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/agency")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("QUOTE_TTL", "72h")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("MAILGUN_DOMAIN", "mg.example")
	t.Setenv("MAILGUN_API_KEY", "key")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, cfg.QuoteTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.Email.MailgunEnabled())
	assert.True(t, cfg.IsProduction())
}

func TestParseRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	_, err := Parse()
	require.Error(t, err)
}

func TestParseRejectsNonPositiveTTL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/agency")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("QUOTE_TTL", "0s")

	_, err := Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUOTE_TTL")
}
