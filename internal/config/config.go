// Package config loads the lists configuration file. The file is JSON with
// comments and trailing commas allowed; a missing file means defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

const (
	// EnvConfigPath overrides the config file location
	EnvConfigPath = "NOSTR_LISTS_CONFIG"
	// EnvSecret supplies the local secret without a flag
	EnvSecret = "NOSTR_SECRET"

	DefaultPath = "config/lists.jsonc"
)

// Config holds relay and timeout settings. Secrets are never read from here.
type Config struct {
	Relays              []string `json:"relays"`
	HandshakeTimeout    Duration `json:"handshakeTimeout"`
	SubscriptionTimeout Duration `json:"subscriptionTimeout"`
	PublishTimeout      Duration `json:"publishTimeout"`
	BunkerTimeout       Duration `json:"bunkerTimeout"`
	Encryption          string   `json:"encryption"` // nip04 or nip44
	Bunker              string   `json:"bunker"`     // bunker:// URL
	NpubQR              bool     `json:"npubQR"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Relays: []string{
			"wss://relay.nostr.band",
			"wss://nos.lol",
		},
		HandshakeTimeout:    Duration(10 * time.Second),
		SubscriptionTimeout: Duration(8 * time.Second),
		PublishTimeout:      Duration(5 * time.Second),
		BunkerTimeout:       Duration(30 * time.Second),
		Encryption:          "nip04",
	}
}

// Path resolves the config file location: explicit path, then
// $NOSTR_LISTS_CONFIG, then DefaultPath.
func Path(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return DefaultPath
}

// Load reads the file at path over the defaults. A missing file is not an
// error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("config file not found, using defaults", "path", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	slog.Debug("loaded config", "path", path, "relays", len(cfg.Relays))
	return cfg, nil
}

// Parse strips comments from data and merges it into cfg. Fields absent
// from data keep their current value.
func Parse(data []byte, cfg *Config) error {
	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	relays, rejected := NormalizeRelays(cfg.Relays)
	for _, r := range rejected {
		slog.Warn("ignoring invalid relay in config", "relay", r)
	}
	if len(relays) == 0 {
		return errors.New("no valid relays configured")
	}
	cfg.Relays = relays

	cfg.Encryption = strings.ToLower(strings.TrimSpace(cfg.Encryption))
	switch cfg.Encryption {
	case "":
		cfg.Encryption = "nip04"
	case "nip04", "nip44":
	default:
		return fmt.Errorf("unknown encryption scheme %q", cfg.Encryption)
	}
	return nil
}

// Duration accepts "10s"-style strings or a number of seconds
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(value * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	if *d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", string(data))
	}
	return nil
}
