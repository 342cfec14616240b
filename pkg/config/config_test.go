package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickrecipes/billing/pkg/config"
)

type testConfig struct {
	Addr    string `env:"TEST_BILLING_ADDR" envDefault:":8080"`
	Secret  string `env:"TEST_BILLING_SECRET,required"`
	Retries int    `env:"TEST_BILLING_RETRIES" envDefault:"3"`
}

func TestLoadAppliesDefaultsAndValues(t *testing.T) {
	t.Setenv("TEST_BILLING_SECRET", "whsec_test")
	t.Setenv("TEST_BILLING_RETRIES", "5")

	var cfg testConfig
	require.NoError(t, config.Load(&cfg))

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "whsec_test", cfg.Secret)
	assert.Equal(t, 5, cfg.Retries)
}

func TestLoadFailsOnMissingRequired(t *testing.T) {
	t.Setenv("TEST_BILLING_SECRET", "")

	var cfg struct {
		Secret string `env:"TEST_BILLING_MISSING_SECRET,required"`
	}
	err := config.Load(&cfg)
	assert.ErrorIs(t, err, config.ErrFailedToParseConfig)
}

func TestLoadRejectsNil(t *testing.T) {
	t.Parallel()

	var cfg *testConfig
	assert.ErrorIs(t, config.Load(cfg), config.ErrNilConfig)
}
