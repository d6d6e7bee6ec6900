package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models the per-workspace quoteline.yml.
type Config struct {
	Workspace struct {
		ID string `yaml:"id"`
	} `yaml:"workspace"`
	Categories []Category `yaml:"categories"`
	Shortcuts  struct {
		Status map[string]string `yaml:"status"`
		Stage  map[string]string `yaml:"stage"`
	} `yaml:"shortcuts"`
	Await struct {
		Seconds int `yaml:"seconds"`
	} `yaml:"await"`
	Surface struct {
		Kind       string `yaml:"kind"`
		WebhookURL string `yaml:"webhook_url,omitempty"`
	} `yaml:"surface"`
}

// Category is one commission category slot. DefaultPrice 0 together with
// QuoteExplicitly means the price must always come from the input line.
type Category struct {
	Key             string `yaml:"key"`
	Label           string `yaml:"label"`
	DefaultPrice    int    `yaml:"default_price"`
	QuoteExplicitly bool   `yaml:"quote_explicitly"`
}

// AwaitTimeout is the bounded wait for a follow-up text block.
func (c *Config) AwaitTimeout() time.Duration {
	if c == nil || c.Await.Seconds <= 0 {
		return 180 * time.Second
	}
	return time.Duration(c.Await.Seconds) * time.Second
}

// CategoryByKey returns the catalog entry for a key.
func (c *Config) CategoryByKey(key string) (Category, bool) {
	for _, cat := range c.Categories {
		if cat.Key == key {
			return cat, true
		}
	}
	return Category{}, false
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.ID == "" {
		return fmt.Errorf("config.workspace.id is required")
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("config.categories is required")
	}
	seen := map[string]bool{}
	for _, cat := range c.Categories {
		if cat.Key == "" {
			return fmt.Errorf("config.categories contains empty key")
		}
		if seen[cat.Key] {
			return fmt.Errorf("category %s declared twice", cat.Key)
		}
		seen[cat.Key] = true
		if cat.DefaultPrice < 0 {
			return fmt.Errorf("category %s has negative default price", cat.Key)
		}
		if cat.QuoteExplicitly && cat.DefaultPrice != 0 {
			return fmt.Errorf("category %s is quote-explicitly but carries a default price", cat.Key)
		}
	}
	for word, status := range c.Shortcuts.Status {
		if word == "" {
			return fmt.Errorf("shortcuts.status contains empty keyword")
		}
		switch status {
		case "pending", "ongoing", "finished", "cancelled":
		default:
			return fmt.Errorf("shortcut %s maps to unknown status %s", word, status)
		}
	}
	for word, stage := range c.Shortcuts.Stage {
		if word == "" {
			return fmt.Errorf("shortcuts.stage contains empty keyword")
		}
		switch stage {
		case "none", "draft", "lineart", "colored", "complete":
		default:
			return fmt.Errorf("shortcut %s maps to unknown stage %s", word, stage)
		}
	}
	if c.Await.Seconds < 0 {
		return fmt.Errorf("config.await.seconds must not be negative")
	}
	switch c.Surface.Kind {
	case "", "dir":
	case "webhook":
		if c.Surface.WebhookURL == "" {
			return fmt.Errorf("surface.webhook_url is required for the webhook surface")
		}
	default:
		return fmt.Errorf("unknown surface kind %s", c.Surface.Kind)
	}
	return nil
}

// Default returns the default Config for a workspace.
func Default(workspaceID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, workspaceID)), &cfg)
	cfg.Workspace.ID = workspaceID
	return &cfg
}

// GenerateDefault returns the default config YAML for a workspace.
func GenerateDefault(workspaceID string) string {
	return fmt.Sprintf(defaultTemplate, workspaceID)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `workspace:
  id: %s

categories:
  - key: custom-sticker
    label: Custom sticker
    default_price: 650
  - key: sub-badge
    label: Subscriber badge
    default_price: 550
  - key: bit-emote
    label: Bit emote
    default_price: 550
  - key: info-panel
    label: Info panel
    default_price: 700
  - key: stream-overlay
    label: Stream overlay
    quote_explicitly: true
  - key: other
    label: Other commission
    quote_explicitly: true

shortcuts:
  status:
    start: ongoing
    ongoing: ongoing
    done: finished
    finished: finished
    cancel: cancelled
    cancelled: cancelled
    pending: pending
  stage:
    draft: draft
    lineart: lineart
    colored: colored
    complete: complete

await:
  seconds: 180

surface:
  kind: dir
`
