package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"wasock/internal/services/session"
	"wasock/internal/watchdog"
)

// Store drivers for Conn persistence.
const (
	StoreDriverFile   = "file"
	StoreDriverSQLite = "sqlite"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home string // state directory, e.g. $HOME/.wasock

	Endpoint      string
	Origin        string
	ClientName    string
	ClientVersion [3]int

	WatchdogInterval  time.Duration
	WatchdogThreshold time.Duration
	QRDefaultTTL      time.Duration
	QRRetryInterval   time.Duration

	StoreDriver string
	LogLevel    string
}

// DefaultConfig returns the built-in configuration rooted at home.
func DefaultConfig(home string) Config {
	def := session.DefaultConfig()
	return Config{
		Home:              home,
		Endpoint:          def.Endpoint,
		Origin:            def.Origin,
		ClientName:        def.ClientName,
		ClientVersion:     def.Version,
		WatchdogInterval:  def.Watchdog.Interval,
		WatchdogThreshold: def.Watchdog.Threshold,
		QRDefaultTTL:      def.QRTTL,
		QRRetryInterval:   def.QRRetryInterval,
		StoreDriver:       StoreDriverFile,
		LogLevel:          "info",
	}
}

type fileConfig struct {
	Endpoint          string `toml:"endpoint"`
	Origin            string `toml:"origin"`
	ClientName        string `toml:"client_name"`
	ClientVersion     string `toml:"client_version"`
	WatchdogInterval  string `toml:"watchdog_interval"`
	WatchdogThreshold string `toml:"watchdog_threshold"`
	QRDefaultTTL      string `toml:"qr_default_ttl"`
	QRRetryInterval   string `toml:"qr_retry_interval"`
	StoreDriver       string `toml:"store_driver"`
	LogLevel          string `toml:"log_level"`
}

// LoadConfig overlays the TOML file at path onto base. Keys absent from the
// file keep their base values. A missing file returns base unchanged.
func LoadConfig(path string, base Config) (Config, error) {
	cfg := base

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("endpoint") {
		cfg.Endpoint = strings.TrimSpace(raw.Endpoint)
	}
	if meta.IsDefined("origin") {
		cfg.Origin = strings.TrimSpace(raw.Origin)
	}
	if meta.IsDefined("client_name") {
		cfg.ClientName = strings.TrimSpace(raw.ClientName)
	}
	if meta.IsDefined("client_version") {
		v, err := ParseVersion(raw.ClientVersion)
		if err != nil {
			return Config{}, err
		}
		cfg.ClientVersion = v
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"watchdog_interval", raw.WatchdogInterval, &cfg.WatchdogInterval},
		{"watchdog_threshold", raw.WatchdogThreshold, &cfg.WatchdogThreshold},
		{"qr_default_ttl", raw.QRDefaultTTL, &cfg.QRDefaultTTL},
		{"qr_retry_interval", raw.QRRetryInterval, &cfg.QRRetryInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("store_driver") {
		cfg.StoreDriver = strings.ToLower(strings.TrimSpace(raw.StoreDriver))
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverFile, StoreDriverSQLite:
	default:
		return fmt.Errorf("unknown store_driver %q", c.StoreDriver)
	}
	if c.WatchdogInterval <= 0 || c.WatchdogThreshold <= 0 {
		return errors.New("watchdog durations must be positive")
	}
	if c.QRDefaultTTL <= 0 || c.QRRetryInterval <= 0 {
		return errors.New("qr durations must be positive")
	}
	return nil
}

// ParseVersion parses a dotted three-part client version such as "2.2121.6".
func ParseVersion(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != len(v) {
		return v, fmt.Errorf("client_version %q: want major.minor.patch", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return [3]int{}, fmt.Errorf("client_version %q: bad component %q", s, p)
		}
		v[i] = n
	}
	return v, nil
}

// SessionConfig maps c onto the session client parameters.
func (c Config) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Endpoint = c.Endpoint
	cfg.Origin = c.Origin
	cfg.ClientName = c.ClientName
	cfg.Version = c.ClientVersion
	cfg.Watchdog = watchdog.Config{Interval: c.WatchdogInterval, Threshold: c.WatchdogThreshold}
	cfg.QRTTL = c.QRDefaultTTL
	cfg.QRRetryInterval = c.QRRetryInterval
	return cfg
}
