package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil, envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "EvoNFT", cfg.DomainName)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, time.Hour, cfg.ScanInterval)
	assert.Equal(t, 5*time.Second, cfg.ItemDelay)
	assert.Equal(t, ImagesSVG, cfg.ImageGenerator)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.False(t, cfg.S3.Enabled())
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestParse_EnvAndFlagPrecedence(t *testing.T) {
	env := envMap(map[string]string{
		"EVM_RPC_ENDPOINT":   "http://env:8545",
		"SIGNER_PRIVATE_KEY": "0xabc",
		"BATCH_SIZE":         "3",
		"SCAN_INTERVAL":      "15m",
		"KAFKA_BROKERS":      "k1:9092, k2:9092,",
		"USE_MEMORY":         "true",
	})

	cfg, err := Parse([]string{"--rpc-endpoint", "http://flag:8545", "--batch-size=7"}, env)
	require.NoError(t, err)

	assert.Equal(t, "http://flag:8545", cfg.RPCEndpoint)
	assert.Equal(t, 7, cfg.BatchSize)
	assert.Equal(t, 15*time.Minute, cfg.ScanInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.UseMemory)
	assert.Equal(t, "0xabc", cfg.SubmitterKey, "submitter defaults to signer")
}

func TestParse_MalformedEnv(t *testing.T) {
	_, err := Parse(nil, envMap(map[string]string{"BATCH_SIZE": "ten"}))
	assert.ErrorContains(t, err, "BATCH_SIZE")

	_, err = Parse(nil, envMap(map[string]string{"ITEM_DELAY": "5"}))
	assert.ErrorContains(t, err, "ITEM_DELAY")
}

func TestParse_UnknownFlag(t *testing.T) {
	_, err := Parse([]string{"--nope"}, envMap(nil))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Parse(nil, envMap(map[string]string{
			"EVM_RPC_ENDPOINT":   "http://localhost:8545",
			"EVOLUTION_CONTRACT": "0x0000000000000000000000000000000000000001",
			"SIGNER_PRIVATE_KEY": "0x01",
			"POSTGRES_DSN":       "postgres://localhost/evonft",
			"CLICKHOUSE_DSN":     "clickhouse://localhost:9000/evonft",
		}))
		require.NoError(t, err)
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing rpc", func(c *Config) { c.RPCEndpoint = "" }, "--rpc-endpoint"},
		{"missing contract", func(c *Config) { c.ContractAddress = "" }, "--contract"},
		{"missing signer", func(c *Config) { c.SignerKey = "" }, "--signer-key"},
		{"missing dsn", func(c *Config) { c.ClickhouseDSN = "" }, "--use-memory"},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, "--batch-size"},
		{"zero interval", func(c *Config) { c.ScanInterval = 0 }, "--scan-interval"},
		{"negative item delay", func(c *Config) { c.ItemDelay = -time.Second }, "--item-delay"},
		{"negative warmup delay", func(c *Config) { c.WarmupDelay = -time.Second }, "--warmup-delay"},
		{"unknown images", func(c *Config) { c.ImageGenerator = "dalle" }, "--images"},
		{"gemini without key", func(c *Config) { c.ImageGenerator = ImagesGemini }, "--gemini-api-key"},
		{"kafka without topic", func(c *Config) { c.KafkaBrokers = []string{"k"}; c.KafkaTopic = "" }, "--kafka-topic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestParse_ZeroDelaysKept(t *testing.T) {
	cfg, err := Parse([]string{"--use-memory", "--item-delay=0s"}, envMap(map[string]string{"WARMUP_DELAY": "0s"}))
	require.NoError(t, err)
	assert.Zero(t, cfg.ItemDelay)
	assert.Zero(t, cfg.WarmupDelay)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_MemoryModeNeedsNoBackends(t *testing.T) {
	cfg, err := Parse([]string{"--use-memory"}, envMap(nil))
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}
