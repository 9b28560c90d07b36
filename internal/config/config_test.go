package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestValidate_Defaults(t *testing.T) {
	var c Config
	validate(&c)

	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "memory", c.Storage.Backend)
	assert.Equal(t, 5432, c.Postgres.Port)
	assert.Equal(t, "aem:", c.Redis.KeyPrefix)
	assert.Equal(t, 24*time.Hour, c.RefreshCooldown())
	assert.Equal(t, 24*time.Hour, c.RetentionWindow())
	assert.Equal(t, 1, c.Reporter.RetainedConfigsPerMode)
	assert.Equal(t, time.Hour, c.ReportInterval())
	assert.Equal(t, 10*time.Second, c.GraphTimeout())
	assert.Equal(t, "local", c.Graph.AppID)
	assert.Equal(t, "aem_config_change", c.Listener.Channel)
	assert.Equal(t, 5*time.Second, c.Backoff())
}

func TestValidate_KeepsExplicitValues(t *testing.T) {
	var c Config
	c.Storage.Backend = "redis"
	c.Reporter.RetainedConfigsPerMode = 2
	c.Reporter.RetentionWindowHours = 48
	validate(&c)

	assert.Equal(t, "redis", c.Storage.Backend)
	assert.Equal(t, 2, c.Reporter.RetainedConfigsPerMode)
	assert.Equal(t, 48*time.Hour, c.RetentionWindow())
}

func TestDSN(t *testing.T) {
	var c Config
	c.Postgres.User, c.Postgres.Password = "aem", "secret"
	c.Postgres.Host, c.Postgres.DBName = "db", "attribution"
	validate(&c)
	assert.Equal(t, "postgres://aem:secret@db:5432/attribution?sslmode=disable", c.DSN())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
}
