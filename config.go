package daqsync

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/viper"
	"github.com/usnistgov/daqsync/driver"
)

// DevicePair names one value for each of the two devices.
type DevicePair struct {
	Master string `mapstructure:"master"`
	Slave  string `mapstructure:"slave"`
}

// DatabaseConfig says whether and where to log runs to ClickHouse.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Config is the complete configuration of one acquisition program. It is
// built once, from defaults and the config file, and passed explicitly to
// everything that needs it.
type Config struct {
	Devices               DevicePair     `mapstructure:"devices"`
	AnalogChannels        DevicePair     `mapstructure:"analogChannels"`
	DigitalLines          DevicePair     `mapstructure:"digitalLines"`
	SampleRate            float64        `mapstructure:"sampleRate"`
	BufferDurationSeconds float64        `mapstructure:"bufferDurationSeconds"`
	TimeoutSeconds        float64        `mapstructure:"timeoutSeconds"`
	VoltageRange          []float64      `mapstructure:"voltageRange"`
	ExportTarget          string         `mapstructure:"exportTarget"`
	TerminalConfig        string         `mapstructure:"terminalConfig"`
	FiniteSamples         int            `mapstructure:"finiteSamples"`
	StopOnSinkError       bool           `mapstructure:"stopOnSinkError"`
	Driver                string         `mapstructure:"driver"`
	PublishPort           int            `mapstructure:"publishPort"`
	StatusPort            int            `mapstructure:"statusPort"`
	RPCPort               int            `mapstructure:"rpcPort"`
	Database              DatabaseConfig `mapstructure:"database"`
}

// SetDefaults stores the default of every configuration key in v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("devices.master", "Dev1")
	v.SetDefault("devices.slave", "Dev2")
	v.SetDefault("analogChannels.master", "0:7,16:23")
	v.SetDefault("analogChannels.slave", "0:7,16:23,32:39,48:55,64:71")
	v.SetDefault("digitalLines.master", "0:31")
	v.SetDefault("digitalLines.slave", "0:7")
	v.SetDefault("sampleRate", 1000.0)
	v.SetDefault("bufferDurationSeconds", 0.1)
	v.SetDefault("timeoutSeconds", 10.0)
	v.SetDefault("voltageRange", []float64{-1, 1})
	v.SetDefault("exportTarget", "")
	v.SetDefault("terminalConfig", driver.Differential.String())
	v.SetDefault("finiteSamples", 0)
	v.SetDefault("stopOnSinkError", false)
	v.SetDefault("driver", "nohardware")
	v.SetDefault("publishPort", 0)
	v.SetDefault("statusPort", 0)
	v.SetDefault("rpcPort", 0)
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.addr", "localhost:9000")
}

// DefaultConfig returns the configuration with every key at its default.
func DefaultConfig() *Config {
	cfg, err := LoadConfig(viper.New())
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

// LoadConfig applies the defaults to v, then decodes and validates it.
func LoadConfig(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, configErrorf("decoding configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BufferSize returns the samples per channel per buffer:
// round(SampleRate × BufferDurationSeconds), which must be at least 1.
func (cfg *Config) BufferSize() (int, error) {
	if cfg.SampleRate <= 0 || math.IsNaN(cfg.SampleRate) || math.IsInf(cfg.SampleRate, 0) {
		return 0, configErrorf("sampleRate %v must be positive", cfg.SampleRate)
	}
	if cfg.BufferDurationSeconds <= 0 || math.IsNaN(cfg.BufferDurationSeconds) {
		return 0, configErrorf("bufferDurationSeconds %v must be positive", cfg.BufferDurationSeconds)
	}
	n := math.Round(cfg.SampleRate * cfg.BufferDurationSeconds)
	if n < 1 || n > math.MaxInt32 {
		return 0, configErrorf("sampleRate %v × bufferDurationSeconds %v gives a buffer of %v samples",
			cfg.SampleRate, cfg.BufferDurationSeconds, n)
	}
	return int(n), nil
}

// Timeout returns the bound on each blocking read.
func (cfg *Config) Timeout() time.Duration {
	return time.Duration(cfg.TimeoutSeconds * float64(time.Second))
}

// Validate checks the configuration without touching any hardware.
func (cfg *Config) Validate() error {
	_, err := cfg.TaskConfigs()
	return err
}

// TaskConfigs returns the configuration of each task: MasterAnalog always,
// the other roles when their device and channel spec are both non-empty.
func (cfg *Config) TaskConfigs() ([]TaskConfig, error) {
	bufsize, err := cfg.BufferSize()
	if err != nil {
		return nil, err
	}
	if !(cfg.TimeoutSeconds > 0) {
		return nil, configErrorf("timeoutSeconds %v must be positive", cfg.TimeoutSeconds)
	}
	if len(cfg.VoltageRange) != 2 {
		return nil, configErrorf("voltageRange %v must have 2 values", cfg.VoltageRange)
	}
	if cfg.FiniteSamples < 0 {
		return nil, configErrorf("finiteSamples %d is negative", cfg.FiniteSamples)
	}
	terminal, err := driver.ParseTerminalConfig(cfg.TerminalConfig)
	if err != nil {
		return nil, configErrorf("%v", err)
	}
	if cfg.Devices.Master == "" || cfg.AnalogChannels.Master == "" {
		return nil, configErrorf("the master device and its analog channels are required")
	}
	vmin, vmax := cfg.VoltageRange[0], cfg.VoltageRange[1]

	var tasks []TaskConfig
	add := func(role Role, spec ChannelSpec) {
		tasks = append(tasks, TaskConfig{
			Role:          role,
			Channels:      spec,
			Terminal:      terminal,
			SampleRate:    cfg.SampleRate,
			BufferSize:    bufsize,
			Timeout:       cfg.Timeout(),
			FiniteSamples: cfg.FiniteSamples,
		})
	}
	for _, role := range AllRoles {
		device, ranges := cfg.Devices.Master, cfg.AnalogChannels.Master
		switch role {
		case MasterDigital:
			ranges = cfg.DigitalLines.Master
		case SlaveAnalog:
			device, ranges = cfg.Devices.Slave, cfg.AnalogChannels.Slave
		case SlaveDigital:
			device, ranges = cfg.Devices.Slave, cfg.DigitalLines.Slave
		}
		if device == "" || ranges == "" {
			continue
		}
		var spec ChannelSpec
		if role.IsAnalog() {
			spec, err = NewAnalogSpec(device, ranges, vmin, vmax)
		} else {
			spec, err = NewDigitalSpec(device, ranges)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", role, err)
		}
		add(role, spec)
	}
	if cfg.Devices.Slave != "" && cfg.Devices.Slave == cfg.Devices.Master {
		return nil, configErrorf("master and slave are both device %s", cfg.Devices.Master)
	}
	return tasks, nil
}

// BuildGraph creates the tasks described by cfg on drv and joins them into
// a TaskGraph with its sample clocks configured.
func BuildGraph(cfg *Config, drv driver.Driver) (*TaskGraph, error) {
	configs, err := cfg.TaskConfigs()
	if err != nil {
		return nil, err
	}
	var tasks []*DeviceTask
	for _, tc := range configs {
		t, err := NewDeviceTask(drv, tc)
		if err != nil {
			releaseTasks(tasks)
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return NewTaskGraph(tasks...)
}
