package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasock/internal/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_MissingFileKeepsDefaults(t *testing.T) {
	base := DefaultConfig("/tmp/home")
	got, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"), base)
	require.NoError(t, err)
	assert.Equal(t, base, got)
}

func TestLoadConfig_Overlay(t *testing.T) {
	path := writeConfig(t, `
endpoint = "ws://127.0.0.1:8080/ws"
client_version = "2.2200.1"
watchdog_interval = "2s"
qr_default_ttl = "45s"
store_driver = "SQLite"
log_level = "debug"
`)
	base := DefaultConfig("/tmp/home")
	got, err := LoadConfig(path, base)
	require.NoError(t, err)

	assert.Equal(t, "ws://127.0.0.1:8080/ws", got.Endpoint)
	assert.Equal(t, [3]int{2, 2200, 1}, got.ClientVersion)
	assert.Equal(t, 2*time.Second, got.WatchdogInterval)
	assert.Equal(t, 45*time.Second, got.QRDefaultTTL)
	assert.Equal(t, StoreDriverSQLite, got.StoreDriver)
	assert.Equal(t, "debug", got.LogLevel)

	assert.Equal(t, base.Origin, got.Origin, "undefined keys keep defaults")
	assert.Equal(t, base.WatchdogThreshold, got.WatchdogThreshold)
	assert.Equal(t, base.QRRetryInterval, got.QRRetryInterval)
}

func TestLoadConfig_Errors(t *testing.T) {
	cases := map[string]string{
		"bad duration":  `watchdog_threshold = "soon"`,
		"bad version":   `client_version = "2.x.6"`,
		"short version": `client_version = "2.2121"`,
		"bad driver":    `store_driver = "redis"`,
		"zero ttl":      `qr_default_ttl = "0s"`,
		"bad toml":      `endpoint = `,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body), DefaultConfig("/tmp/home"))
			assert.Error(t, err)
		})
	}
}

func TestConfig_SessionConfig(t *testing.T) {
	cfg := DefaultConfig("/tmp/home")
	cfg.Endpoint = "ws://x/ws"
	cfg.WatchdogThreshold = time.Minute

	sc := cfg.SessionConfig()
	assert.Equal(t, "ws://x/ws", sc.Endpoint)
	assert.Equal(t, time.Minute, sc.Watchdog.Threshold)
	assert.Equal(t, cfg.ClientVersion, sc.Version)
	assert.Equal(t, cfg.QRDefaultTTL, sc.QRTTL)
}

func TestNewWire_Drivers(t *testing.T) {
	for _, driver := range []string{StoreDriverFile, StoreDriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			cfg := DefaultConfig(filepath.Join(t.TempDir(), "home"))
			cfg.StoreDriver = driver

			w, err := NewWire(cfg, zerolog.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = w.Close() })

			if driver == StoreDriverSQLite {
				assert.IsType(t, &store.ConnSQLiteStore{}, w.Conns)
			} else {
				assert.IsType(t, &store.ConnFileStore{}, w.Conns)
			}

			sess, err := w.Identity.NewSessionConfig()
			require.NoError(t, err)
			c := w.NewClient(sess)
			assert.Equal(t, sess.ClientID, c.Session().ClientID)
		})
	}
}
