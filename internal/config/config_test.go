package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("ws-1")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ws-1", cfg.Workspace.ID)
	assert.Len(t, cfg.Categories, 6)
	assert.Equal(t, 180*time.Second, cfg.AwaitTimeout())
}

func TestDefaultCatalogPrices(t *testing.T) {
	cfg := Default("ws-1")
	prices := map[string]int{}
	explicit := map[string]bool{}
	for _, cat := range cfg.Categories {
		prices[cat.Key] = cat.DefaultPrice
		explicit[cat.Key] = cat.QuoteExplicitly
	}
	assert.Equal(t, 650, prices["custom-sticker"])
	assert.Equal(t, 550, prices["sub-badge"])
	assert.Equal(t, 550, prices["bit-emote"])
	assert.Equal(t, 700, prices["info-panel"])
	assert.True(t, explicit["stream-overlay"])
	assert.True(t, explicit["other"])
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	raw := GenerateDefault("ws-2")
	cfg, err := FromYAML([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "ws-2", cfg.Workspace.ID)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadCatalog(t *testing.T) {
	cfg := Default("ws-1")
	cfg.Categories[0].Key = ""
	assert.Error(t, cfg.Validate())

	cfg = Default("ws-1")
	cfg.Categories[1].DefaultPrice = -5
	assert.Error(t, cfg.Validate())

	cfg = Default("ws-1")
	cfg.Shortcuts.Status["weird"] = "nope"
	assert.Error(t, cfg.Validate())
}

func TestAwaitTimeoutOverride(t *testing.T) {
	cfg := Default("ws-1")
	cfg.Await.Seconds = 15
	assert.Equal(t, 15*time.Second, cfg.AwaitTimeout())
}
