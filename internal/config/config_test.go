package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		setup    func()
		cleanup  func()
		wantErr  bool
		validate func(*testing.T, *Config)
	}{
		{
			name: "load default config",
			setup: func() {
				viper.Reset()
				SetDefaults()
			},
			cleanup: viper.Reset,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "CS-001", cfg.Station.ID)
				assert.Equal(t, 1, cfg.Station.SecurityProfile)
				assert.Len(t, cfg.Station.EVSEs, 2)
				assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
				assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
				assert.Equal(t, 60*time.Second, cfg.OCPP.MessageTimeout)
				assert.Equal(t, 3, cfg.OCPP.TransactionMessageAttempts)
				assert.Equal(t, 10*time.Second, cfg.OCPP.TransactionMessageRetryInterval)
				assert.Equal(t, "none", cfg.Events.Sink)
			},
		},
		{
			name: "load config with environment variables",
			setup: func() {
				viper.Reset()
				os.Setenv("STATION_STATION_ID", "CS-ENV")
				os.Setenv("STATION_REDIS_ADDR", "redis:6379")
				require.NoError(t, Init(""))
			},
			cleanup: func() {
				os.Unsetenv("STATION_STATION_ID")
				os.Unsetenv("STATION_REDIS_ADDR")
				viper.Reset()
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "CS-ENV", cfg.Station.ID)
				assert.Equal(t, "redis:6379", cfg.Redis.Addr)
			},
		},
		{
			name: "load config with custom values",
			setup: func() {
				viper.Reset()
				SetDefaults()
				viper.Set("ocpp.queue_all_messages", true)
				viper.Set("ocpp.discard_for_queueing", []string{"MeterValues"})
				viper.Set("events.sink", "nats")
			},
			cleanup: viper.Reset,
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.OCPP.QueueAllMessages)
				assert.Equal(t, []string{"MeterValues"}, cfg.OCPP.DiscardForQueueing)
				assert.Equal(t, "nats", cfg.Events.Sink)
			},
		},
		{
			name: "unknown event sink rejected",
			setup: func() {
				viper.Reset()
				SetDefaults()
				viper.Set("events.sink", "carrier-pigeon")
			},
			cleanup: viper.Reset,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer tt.cleanup()

			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validate(t, cfg)
		})
	}
}

func TestInit_ConfigFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	path := filepath.Join(t.TempDir(), "station.yaml")
	content := []byte(`
station:
  id: CS-FILE
  csms_url: wss://csms.example.com/ocpp/
  security_profile: 3
  evses:
    - id: 1
      connectors: 2
device_model:
  - component: AuthCtrlr
    variable: LocalPreAuthorize
    value: "true"
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	require.NoError(t, Init(path))
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "CS-FILE", cfg.Station.ID)
	assert.Equal(t, 3, cfg.Station.SecurityProfile)
	assert.Equal(t, map[int]int{1: 2}, cfg.ConnectorsPerEVSE())
	assert.Equal(t, "wss://csms.example.com/ocpp/CS-FILE", cfg.GetCSMSEndpoint())
	require.Len(t, cfg.DeviceModel, 1)
	assert.Equal(t, VariableSetting{Component: "AuthCtrlr", Variable: "LocalPreAuthorize", Value: "true"}, cfg.DeviceModel[0])
}

func TestInit_MissingFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	assert.Error(t, Init(filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Station: StationConfig{
				ID:      "CS-1",
				CSMSURL: "ws://csms",
				EVSEs:   []EVSEConfig{{ID: 1, Connectors: 1}, {ID: 2, Connectors: 1}},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing id", mutate: func(c *Config) { c.Station.ID = "" }, wantErr: true},
		{name: "missing url", mutate: func(c *Config) { c.Station.CSMSURL = "" }, wantErr: true},
		{name: "no evses", mutate: func(c *Config) { c.Station.EVSEs = nil }, wantErr: true},
		{name: "gap in evse ids", mutate: func(c *Config) { c.Station.EVSEs[1].ID = 3 }, wantErr: true},
		{name: "evse without connector", mutate: func(c *Config) { c.Station.EVSEs[0].Connectors = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Profile(t *testing.T) {
	cfg := &Config{Profile: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Profile = "production"
	assert.True(t, cfg.IsProduction())
}
