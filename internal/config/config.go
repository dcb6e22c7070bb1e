package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models sidekick.yml. The vocabulary is immutable once loaded; the
// classifier takes a copy at construction so alternate vocabularies can be
// injected in tests.
type Config struct {
	Vocabulary Vocabulary `yaml:"vocabulary"`
	Auth       struct {
		AllowDeviceHeader bool `yaml:"allow_device_header"`
	} `yaml:"auth"`
}

// Vocabulary holds the alias tables consumed by the classifier. Entries are
// ordered lists, not maps: the classifier scans them in declaration order and
// first match wins.
type Vocabulary struct {
	Apps        []AliasEntry `yaml:"apps"`
	Settings    []AliasEntry `yaml:"settings"`
	Adjustables []AliasEntry `yaml:"adjustables"`
}

// AliasEntry maps a canonical key to the phrasings that resolve to it.
type AliasEntry struct {
	Key     string   `yaml:"key"`
	Aliases []string `yaml:"aliases"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run sk vocab export to seed one", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
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

// Validate ensures the vocabulary meets required structure.
func (c *Config) Validate() error {
	tables := []struct {
		name    string
		entries []AliasEntry
	}{
		{"apps", c.Vocabulary.Apps},
		{"settings", c.Vocabulary.Settings},
		{"adjustables", c.Vocabulary.Adjustables},
	}
	for _, t := range tables {
		if len(t.entries) == 0 {
			return fmt.Errorf("vocabulary.%s must not be empty", t.name)
		}
		seen := map[string]bool{}
		for _, e := range t.entries {
			if e.Key == "" {
				return fmt.Errorf("vocabulary.%s contains an entry without a key", t.name)
			}
			if seen[e.Key] {
				return fmt.Errorf("vocabulary.%s has duplicate key %s", t.name, e.Key)
			}
			seen[e.Key] = true
			if len(e.Aliases) == 0 {
				return fmt.Errorf("vocabulary.%s.%s has no aliases", t.name, e.Key)
			}
			for _, a := range e.Aliases {
				if a == "" {
					return fmt.Errorf("vocabulary.%s.%s has an empty alias", t.name, e.Key)
				}
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "sidekick.yml")
}

// Default returns the built-in config with the stock vocabulary.
func Default() *Config {
	var cfg Config
	// The template is validated by tests; a parse failure here is a bug.
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// DefaultYAML returns the default config template for sk vocab export.
func DefaultYAML() string {
	return defaultTemplate
}

const defaultTemplate = `vocabulary:
  apps:
    - key: whatsapp
      aliases: [whatsapp, whats app]
    - key: instagram
      aliases: [instagram, insta]
    - key: youtube
      aliases: [youtube, yt]
    - key: twitter
      aliases: [twitter, x]
    - key: facebook
      aliases: [facebook, fb]
    - key: camera
      aliases: [camera]
    - key: settings
      aliases: [settings]
    - key: chrome
      aliases: [chrome, browser]
    - key: gmail
      aliases: [gmail, mail]

  settings:
    - key: wifi
      aliases: [wi-fi, wifi]
    - key: bluetooth
      aliases: [bluetooth]
    - key: data
      aliases: [mobile data, data, cellular]
    - key: flashlight
      aliases: [flashlight, torch]
    - key: airplane
      aliases: [airplane, flight mode]
    - key: dnd
      aliases: [do not disturb, dnd]
    - key: location
      aliases: [location, gps]
    - key: hotspot
      aliases: [hotspot, tethering]

  adjustables:
    - key: volume
      aliases: [volume, sound]
    - key: brightness
      aliases: [brightness, display]

auth:
  allow_device_header: true
`
