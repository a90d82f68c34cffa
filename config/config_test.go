package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  address: ":9090"
storage:
  driver: memory
booking:
  poll_interval_millis: 500
  poll_attempts: 3
telr:
  store_id: "1234"
  auth_key: "from-file"
`), 0o600))

	t.Setenv("TELR_AUTH_KEY", "from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Address)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 500*time.Millisecond, cfg.Booking.PollInterval())
	assert.Equal(t, 3, cfg.Booking.PollAttempts)
	assert.Equal(t, "AED", cfg.Booking.Currency, "unset keys keep defaults")
	assert.Equal(t, "from-env", cfg.Telr.AuthKey)
	assert.Equal(t, "1234", cfg.Telr.StoreID)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())
}
