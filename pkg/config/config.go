package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itohio/godice/pkg/bulk"
	"github.com/itohio/godice/pkg/link/ble"
	"github.com/itohio/godice/pkg/link/serialport"
	"github.com/itohio/godice/pkg/programmer"
)

// Config represents the diectl configuration.
type Config struct {
	Transfer TransferConfig `yaml:"transfer"`
	Flash    FlashConfig    `yaml:"flash"`
	Serial   SerialConfig   `yaml:"serial"`
	BLE      BLEConfig      `yaml:"ble"`
	Log      LogConfig      `yaml:"log"`
	Journal  JournalConfig  `yaml:"journal"`
	Mock     MockConfig     `yaml:"mock"`
}

// TransferConfig contains bulk transfer timing.
type TransferConfig struct {
	ChunkSize     int           `yaml:"chunk_size"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Timeout       time.Duration `yaml:"timeout"` // per protocol step
	MaxRetries    int           `yaml:"max_retries"`
	SendTick      time.Duration `yaml:"send_tick"` // re-attempt delay after a refused send
	StrictOffsets bool          `yaml:"strict_offsets"`
	FinishTimeout time.Duration `yaml:"finish_timeout"`
}

// FlashConfig describes the simulated die flash.
type FlashConfig struct {
	BaseAddress  uint32        `yaml:"base_address"`
	Size         int           `yaml:"size"`
	PageSize     int           `yaml:"page_size"`
	Image        string        `yaml:"image"` // persisted flash content, empty keeps it in memory
	EraseLatency time.Duration `yaml:"erase_latency"`
	WriteLatency time.Duration `yaml:"write_latency"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// BLEConfig selects the die and its GATT layout.
type BLEConfig struct {
	Address string `yaml:"address"`
	Service string `yaml:"service"`
	RX      string `yaml:"rx"`
	TX      string `yaml:"tx"`
}

// LogConfig overrides the runtime logging profile.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// JournalConfig locates the transfer history database.
type JournalConfig struct {
	Path string `yaml:"path"` // empty disables the journal
}

// MockConfig contains simulated link configuration.
type MockConfig struct {
	DropRate      float64 `yaml:"drop_rate"`
	DuplicateRate float64 `yaml:"duplicate_rate"`
	Seed          uint64  `yaml:"seed"`
	DieID         uint8   `yaml:"die_id"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Transfer: TransferConfig{
			ChunkSize:     bulk.ChunkSize,
			RetryInterval: bulk.RetryInterval,
			Timeout:       bulk.Timeout,
			MaxRetries:    bulk.MaxRetries,
			SendTick:      bulk.SendTick,
			FinishTimeout: programmer.DefaultFinishTimeout,
		},
		Flash: FlashConfig{
			BaseAddress:  0x26000,
			Size:         16 * 1024,
			PageSize:     4096, // nRF52 page
			EraseLatency: 85 * time.Millisecond,
			WriteLatency: 100 * time.Microsecond,
		},
		Serial: SerialConfig{
			Port:     "COM3", // Default for Windows, should be "/dev/ttyACM0" on Linux/Mac
			BaudRate: serialport.DefaultBaudRate,
		},
		BLE: BLEConfig{
			Service: ble.DefaultService,
			RX:      ble.DefaultRX,
			TX:      ble.DefaultTX,
		},
		Log: LogConfig{
			Level: "info",
		},
		Mock: MockConfig{
			Seed:  1,
			DieID: 1,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Bulk returns the transfer settings as protocol configuration.
func (c *Config) Bulk() bulk.Config {
	return bulk.Config{
		ChunkSize:     c.Transfer.ChunkSize,
		RetryInterval: c.Transfer.RetryInterval,
		Timeout:       c.Transfer.Timeout,
		MaxRetries:    c.Transfer.MaxRetries,
		SendTick:      c.Transfer.SendTick,
		StrictOffsets: c.Transfer.StrictOffsets,
	}
}

// BLEDevice returns the BLE connection settings.
func (c *Config) BLEDevice() ble.Config {
	return ble.Config{
		Address: c.BLE.Address,
		Service: c.BLE.Service,
		RX:      c.BLE.RX,
		TX:      c.BLE.TX,
	}
}

// Validate rejects settings the protocol or the simulated flash cannot use.
func (c *Config) Validate() error {
	if err := c.Bulk().Validate(); err != nil {
		return fmt.Errorf("invalid transfer config: %w", err)
	}
	if c.Transfer.FinishTimeout <= 0 {
		return fmt.Errorf("invalid transfer config: finish timeout must be positive")
	}
	if c.Flash.PageSize <= 0 || c.Flash.PageSize%4 != 0 {
		return fmt.Errorf("invalid flash config: page size %d", c.Flash.PageSize)
	}
	if c.Flash.Size < 2*c.Flash.PageSize || c.Flash.Size%c.Flash.PageSize != 0 {
		return fmt.Errorf("invalid flash config: size %d is not a multiple of %d pages", c.Flash.Size, c.Flash.PageSize)
	}
	if c.Flash.BaseAddress%uint32(c.Flash.PageSize) != 0 {
		return fmt.Errorf("invalid flash config: base 0x%x not page aligned", c.Flash.BaseAddress)
	}
	if c.Mock.DropRate < 0 || c.Mock.DuplicateRate < 0 || c.Mock.DropRate+c.Mock.DuplicateRate >= 1 {
		return fmt.Errorf("invalid mock config: drop %.2f duplicate %.2f", c.Mock.DropRate, c.Mock.DuplicateRate)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Transfer.ChunkSize == 0 {
		c.Transfer.ChunkSize = def.Transfer.ChunkSize
	}
	if c.Transfer.RetryInterval == 0 {
		c.Transfer.RetryInterval = def.Transfer.RetryInterval
	}
	if c.Transfer.Timeout == 0 {
		c.Transfer.Timeout = def.Transfer.Timeout
	}
	if c.Transfer.MaxRetries == 0 {
		c.Transfer.MaxRetries = def.Transfer.MaxRetries
	}
	if c.Transfer.SendTick == 0 {
		c.Transfer.SendTick = def.Transfer.SendTick
	}
	if c.Transfer.FinishTimeout == 0 {
		c.Transfer.FinishTimeout = def.Transfer.FinishTimeout
	}

	if c.Flash.Size == 0 {
		c.Flash.Size = def.Flash.Size
	}
	if c.Flash.PageSize == 0 {
		c.Flash.PageSize = def.Flash.PageSize
	}

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.BLE.Service == "" {
		c.BLE.Service = def.BLE.Service
	}
	if c.BLE.RX == "" {
		c.BLE.RX = def.BLE.RX
	}
	if c.BLE.TX == "" {
		c.BLE.TX = def.BLE.TX
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}
