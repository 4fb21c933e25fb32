package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser/browsertest"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/config"
)

func TestNewDriverWithoutBackends(t *testing.T) {
	_, err := newDriver("", config.BrowserConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no browser backend")
}

func TestNewDriverSingleBackendIsDefault(t *testing.T) {
	registerDriver("fake", func(config.BrowserConfig) (browser.Driver, error) {
		return browsertest.NewDriver(), nil
	})
	defer delete(driverFactories, "fake")

	d, err := newDriver("", config.BrowserConfig{})
	require.NoError(t, err)
	assert.NotNil(t, d)

	_, err = newDriver("other", config.BrowserConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"other"`)
	assert.Contains(t, err.Error(), "fake")
}
