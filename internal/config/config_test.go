package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig() *Config {
	c := &Config{}
	setDefaults(c)
	return c
}

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, Validate(defaultConfig()))
}

func TestValidateRejectsOutOfRangeDrawdown(t *testing.T) {
	c := defaultConfig()
	c.Risk.MaxDrawdownPct = 1.5
	assert.Error(t, Validate(c))
}

func TestValidateRejectsZeroLeverage(t *testing.T) {
	c := defaultConfig()
	c.Risk.MaxLeverage = 0
	assert.Error(t, Validate(c))
}

func TestEntryTimeoutDuration(t *testing.T) {
	c := defaultConfig()
	assert.Equal(t, 30*60_000_000_000, int(c.EntryTimeoutDuration()))
}

func TestMaxHoldDuration(t *testing.T) {
	c := defaultConfig()
	assert.Equal(t, 6*3_600_000_000_000, int(c.MaxHoldDuration()))
}
