package daqsync

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/usnistgov/daqsync/driver"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	bufsize, err := cfg.BufferSize()
	assert.NoError(t, err)
	assert.Equal(t, 100, bufsize, "1000 Hz × 0.1 s")
	assert.Equal(t, 10*time.Second, cfg.Timeout())
	assert.Equal(t, "nohardware", cfg.Driver)

	configs, err := cfg.TaskConfigs()
	assert.NoError(t, err)
	counts := make(map[Role]int)
	for _, tc := range configs {
		counts[tc.Role] = tc.Channels.Count()
		assert.Equal(t, 100, tc.BufferSize)
		assert.Equal(t, driver.Differential, tc.Terminal)
	}
	assert.Equal(t, map[Role]int{MasterAnalog: 16, SlaveAnalog: 40, MasterDigital: 32, SlaveDigital: 8}, counts)
}

func TestLoadConfigOverrides(t *testing.T) {
	v := viper.New()
	v.Set("sampleRate", 2000.0)
	v.Set("bufferDurationSeconds", 0.25)
	v.Set("digitalLines.slave", "")
	v.Set("terminalConfig", "rse")
	cfg, err := LoadConfig(v)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	bufsize, _ := cfg.BufferSize()
	assert.Equal(t, 500, bufsize)
	configs, err := cfg.TaskConfigs()
	assert.NoError(t, err)
	assert.Len(t, configs, 3, "an empty line spec drops the SlaveDigital task")
	for _, tc := range configs {
		assert.NotEqual(t, SlaveDigital, tc.Role)
		assert.Equal(t, driver.RSE, tc.Terminal)
	}
}

func TestBufferSizeRounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleRate = 999
	cfg.BufferDurationSeconds = 0.1
	bufsize, err := cfg.BufferSize()
	assert.NoError(t, err)
	assert.Equal(t, 100, bufsize, "99.9 rounds to 100")

	cfg.SampleRate = 1
	cfg.BufferDurationSeconds = 0.4
	_, err = cfg.BufferSize()
	assert.ErrorIs(t, err, ErrConfiguration, "a buffer of 0 samples")
}

func TestInvalidConfig(t *testing.T) {
	tests := map[string]func(*Config){
		"zero rate":         func(c *Config) { c.SampleRate = 0 },
		"negative duration": func(c *Config) { c.BufferDurationSeconds = -1 },
		"zero timeout":      func(c *Config) { c.TimeoutSeconds = 0 },
		"one voltage":       func(c *Config) { c.VoltageRange = []float64{1} },
		"inverted voltage":  func(c *Config) { c.VoltageRange = []float64{1, -1} },
		"bad terminal":      func(c *Config) { c.TerminalConfig = "floating" },
		"bad channels":      func(c *Config) { c.AnalogChannels.Master = "0:a" },
		"no master":         func(c *Config) { c.Devices.Master = "" },
		"same device":       func(c *Config) { c.Devices.Slave = c.Devices.Master },
		"negative finite":   func(c *Config) { c.FiniteSamples = -5 },
		"too many lines":    func(c *Config) { c.DigitalLines.Master = "0:40" },
	}
	for name, mutate := range tests {
		cfg := DefaultConfig()
		mutate(cfg)
		assert.ErrorIs(t, cfg.Validate(), ErrConfiguration, name)
	}

	v := viper.New()
	v.Set("sampleRate", -3.0)
	_, err := LoadConfig(v)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestBuildGraph(t *testing.T) {
	cfg := DefaultConfig()
	hw := driver.NewNoHardware()
	g, err := BuildGraph(cfg, hw)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	assert.Equal(t, []Role{MasterAnalog, SlaveAnalog, MasterDigital, SlaveDigital}, g.Roles())
	assert.Equal(t, 100, g.BufferSize())
	assert.Equal(t, 1000.0, g.SampleRate())
	assert.Equal(t, 8*100*(16+40)+4*100*(32+8), FrameBytes(g))
	assert.NoError(t, g.Shutdown())
	for _, s := range g.States() {
		assert.Equal(t, Cleared, s)
	}
}
