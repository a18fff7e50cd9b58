package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := newTestConfig()
	cfg.port = 8080
	cfg.geminiModels = []string{"gemini-2.0-flash"}
	return cfg
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().validate())

	cfg := validConfig()
	cfg.port = 0
	assert.Error(t, cfg.validate())

	cfg = validConfig()
	cfg.tlsCert = "cert.pem"
	assert.Error(t, cfg.validate(), "tls cert without key")

	cfg = validConfig()
	cfg.roomCapacity = 1
	assert.Error(t, cfg.validate(), "a round needs two players")

	cfg = validConfig()
	cfg.countdown = 0
	assert.Error(t, cfg.validate())

	cfg = validConfig()
	cfg.geminiModels = nil
	assert.Error(t, cfg.validate())
}

func TestConfigScheme(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "http", cfg.scheme())

	cfg.tlsCert = "cert.pem"
	cfg.tlsKey = "key.pem"
	assert.Equal(t, "https", cfg.scheme())
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cmd := newCmd(cfg)
	require.NoError(t, cmd.ParseFlags(nil))

	assert.Equal(t, 8080, cfg.port)
	assert.Equal(t, 10*time.Second, cfg.countdown)
	assert.Equal(t, 2, cfg.roomCapacity)
	assert.NotEmpty(t, cfg.geminiModels)
}
