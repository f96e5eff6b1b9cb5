package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/godice/pkg/bulk"
	"github.com/itohio/godice/pkg/link/ble"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "test_config_*.yaml")
	require.NoError(t, err)
	_, err = tmpfile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	return tmpfile.Name()
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, "COM3", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 100, cfg.Transfer.ChunkSize)
	assert.Equal(t, 300*time.Millisecond, cfg.Transfer.RetryInterval)
	assert.Equal(t, 3*time.Second, cfg.Transfer.Timeout)
	assert.Equal(t, 5, cfg.Transfer.MaxRetries)
	assert.False(t, cfg.Transfer.StrictOffsets)
	assert.Equal(t, ble.DefaultService, cfg.BLE.Service)
	assert.Equal(t, bulk.DefaultConfig(), cfg.Bulk())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "COM3", cfg.Serial.Port)
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeTemp(t, `
transfer:
  retry_interval: 200ms
  timeout: 2s
  max_retries: 8
  strict_offsets: true
  finish_timeout: 10s

flash:
  base_address: 0x30000
  size: 8192
  page_size: 1024
  image: die.bin

serial:
  port: "/dev/ttyACM0"
  baud_rate: 57600

ble:
  address: "dice-01"

log:
  level: debug
  json: true

journal:
  path: /tmp/diectl.db

mock:
  drop_rate: 0.1
  duplicate_rate: 0.05
  seed: 42
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 57600, cfg.Serial.BaudRate)
	assert.Equal(t, 200*time.Millisecond, cfg.Transfer.RetryInterval)
	assert.Equal(t, 2*time.Second, cfg.Transfer.Timeout)
	assert.Equal(t, 8, cfg.Transfer.MaxRetries)
	assert.True(t, cfg.Bulk().StrictOffsets)
	assert.Equal(t, 10*time.Second, cfg.Transfer.FinishTimeout)
	assert.Equal(t, uint32(0x30000), cfg.Flash.BaseAddress)
	assert.Equal(t, 1024, cfg.Flash.PageSize)
	assert.Equal(t, "die.bin", cfg.Flash.Image)
	assert.Equal(t, "dice-01", cfg.BLEDevice().Address)
	assert.Equal(t, ble.DefaultTX, cfg.BLEDevice().TX)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, "/tmp/diectl.db", cfg.Journal.Path)
	assert.Equal(t, 0.1, cfg.Mock.DropRate)
	assert.Equal(t, uint64(42), cfg.Mock.Seed)
}

func TestLoad_InvalidYAML(t *testing.T) {
	cfg, err := Load(writeTemp(t, "invalid: yaml: content: ["))
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	cfg, err := Load(writeTemp(t, `
serial:
  port: "/dev/ttyACM0"
`))
	require.NoError(t, err)

	// Should use defaults for missing fields
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, bulk.DefaultConfig(), cfg.Bulk())
	assert.Equal(t, 4096, cfg.Flash.PageSize)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"oversized chunk", "transfer:\n  chunk_size: 101\n"},
		{"unaligned chunk", "transfer:\n  chunk_size: 30\n"},
		{"timeout below retry", "transfer:\n  retry_interval: 1s\n  timeout: 500ms\n"},
		{"unaligned flash base", "flash:\n  base_address: 0x26100\n"},
		{"flash size", "flash:\n  size: 5000\n"},
		{"lossy beyond reason", "mock:\n  drop_rate: 0.7\n  duplicate_rate: 0.4\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeTemp(t, tt.yaml))
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Transfer.StrictOffsets = true
	cfg.Flash.Image = "die.bin"

	path := writeTemp(t, "")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
