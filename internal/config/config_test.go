package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 10*time.Millisecond, cfg.Engine.ScanInterval)
	assert.Equal(t, 5*time.Second, cfg.Engine.DefaultWatchdog)
	assert.Equal(t, 10*time.Millisecond, cfg.Engine.MinWatchdog)
	assert.Equal(t, time.Minute, cfg.Engine.MaxWatchdog)
	assert.Equal(t, 64<<10, cfg.Engine.MaxProgramSize)
	assert.Equal(t, RetentiveFile, cfg.Retentive.Backend)
	assert.Equal(t, time.Second, cfg.Events.CheckInterval)
	assert.False(t, cfg.Auth.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  scan_interval: 20ms
  watchdog_stop_after: 3
  autorun: [mixer, conveyor]
modbus:
  devices:
    - name: tank
      location: plant
      address: 10.0.0.5:502
      unit_id: 1
      registers:
        - name: level
          address: 100
          datatype: int
        - name: valve
          address: 200
          datatype: bool
          writable: true
`), 0o644))

	t.Setenv("OSP_SERVER_HTTP_PORT", "9090")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, 20*time.Millisecond, cfg.Engine.ScanInterval)
	assert.Equal(t, 3, cfg.Engine.WatchdogStopAfter)
	assert.Equal(t, []string{"mixer", "conveyor"}, cfg.Engine.Autorun)

	require.Len(t, cfg.Modbus.Devices, 1)
	dev := cfg.Modbus.Devices[0]
	assert.Equal(t, "10.0.0.5:502", dev.Address)
	assert.Equal(t, uint8(1), dev.UnitID)
	require.Len(t, dev.Registers, 2)
	assert.True(t, dev.Registers[1].Writable)
	assert.Equal(t, uint16(200), dev.Registers[1].Address)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"postgres without database", func(c *Config) { c.Retentive.Backend = RetentivePostgres }},
		{"file without dir", func(c *Config) { c.Retentive.Dir = "" }},
		{"unknown backend", func(c *Config) { c.Retentive.Backend = "etcd" }},
		{"persist without database", func(c *Config) { c.Events.Persist = true }},
		{"zero scan interval", func(c *Config) { c.Engine.ScanInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestJWTSecret(t *testing.T) {
	a := AuthConfig{JWTSecretEnv: "OSP_TEST_SECRET"}
	assert.False(t, a.IsProductionReady())

	t.Setenv("OSP_TEST_SECRET", "0123456789abcdef0123456789abcdef")
	assert.True(t, a.IsProductionReady())
}
