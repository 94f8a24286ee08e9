// Package config loads the controller configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bmpc/esp8266-sprinkler-controller/internal/cron"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/gpio"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/logic"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/mqtt"
)

// Config is the full controller configuration.
type Config struct {
	MQTT struct {
		Broker         string `yaml:"broker"`
		Username       string `yaml:"username"`
		Password       string `yaml:"password"`
		TopicPrefix    string `yaml:"topic_prefix"`
		ClientIDPrefix string `yaml:"client_id_prefix"`
		ConnectRetries int    `yaml:"connect_retries"`
		QueueSize      int    `yaml:"queue_size"`
	} `yaml:"mqtt"`

	Zones []Zone `yaml:"zones"`

	ShiftRegister struct {
		Enabled      bool   `yaml:"enabled"`
		Chip         string `yaml:"chip"`
		Serial       int    `yaml:"serial"`
		Clock        int    `yaml:"clock"`
		Latch        int    `yaml:"latch"`
		OutputEnable int    `yaml:"output_enable"`
		Power        int    `yaml:"power"`
	} `yaml:"shift_register"`

	Schedule struct {
		EarlyTolerance time.Duration `yaml:"early_tolerance"`
		LateTolerance  time.Duration `yaml:"late_tolerance"`
		TickInterval   time.Duration `yaml:"tick_interval"`
		MaxSleep       time.Duration `yaml:"max_sleep"`
		SettleWindow   time.Duration `yaml:"settle_window"`
		Timezone       string        `yaml:"timezone"`
	} `yaml:"schedule"`

	Store struct {
		Backend string `yaml:"backend"` // file | sqlite | memory
		Path    string `yaml:"path"`
	} `yaml:"store"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // console | json
	} `yaml:"logging"`
}

// Zone is one configured valve. Cron and duration are the defaults used when
// no snapshot has been persisted yet.
type Zone struct {
	ID              int    `yaml:"id"`
	Pin             int    `yaml:"pin"`
	Cron            string `yaml:"cron"`
	DurationSeconds int    `yaml:"duration_seconds"`
}

// Default returns the compiled defaults: three zones on a 74HC595-style register.
func Default() *Config {
	c := &Config{}
	c.MQTT.Broker = "tcp://localhost:1883"
	c.MQTT.TopicPrefix = mqtt.DefaultPrefix
	c.MQTT.ClientIDPrefix = "sprinkler"
	c.MQTT.ConnectRetries = 5
	c.MQTT.QueueSize = 64

	c.Zones = []Zone{
		{ID: 1, Pin: 17, DurationSeconds: 300},
		{ID: 2, Pin: 27, DurationSeconds: 300},
		{ID: 3, Pin: 22, DurationSeconds: 300},
	}

	c.ShiftRegister.Enabled = true
	c.ShiftRegister.Chip = "gpiochip0"
	c.ShiftRegister.Serial = 5
	c.ShiftRegister.Clock = 6
	c.ShiftRegister.Latch = 13
	c.ShiftRegister.OutputEnable = 19
	c.ShiftRegister.Power = 26

	c.Schedule.EarlyTolerance = logic.DefaultEarlyTolerance
	c.Schedule.LateTolerance = logic.DefaultLateTolerance
	c.Schedule.TickInterval = 30 * time.Second
	c.Schedule.MaxSleep = logic.DefaultMaxSleep
	c.Schedule.SettleWindow = time.Second
	c.Schedule.Timezone = "Local"

	c.Store.Backend = "file"
	c.Store.Path = "/var/lib/sprinkler/state.bin"

	c.HTTP.Addr = ":8080"

	c.Logging.Level = "info"
	c.Logging.Format = "console"
	return c
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML onto cfg and validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return cfg.Validate()
}

// Validate checks the configuration for values the controller cannot run with.
func (c *Config) Validate() error {
	if len(c.Zones) == 0 {
		return errors.New("at least one zone is required")
	}
	if c.ShiftRegister.Enabled && len(c.Zones) > gpio.MaxZones {
		return fmt.Errorf("shift register drives at most %d zones, %d configured", gpio.MaxZones, len(c.Zones))
	}
	if _, err := logic.NewRegistry(c.LogicZones()); err != nil {
		return err
	}
	for _, z := range c.Zones {
		if len(z.Cron) > logic.MaxCronLength {
			return fmt.Errorf("zone %d: cron expression longer than %d bytes", z.ID, logic.MaxCronLength)
		}
		if z.Cron != "" {
			if err := cron.Validate(z.Cron); err != nil {
				return fmt.Errorf("zone %d: %w", z.ID, err)
			}
		}
	}
	if c.Schedule.EarlyTolerance < 0 || c.Schedule.LateTolerance < 0 {
		return errors.New("schedule tolerances must not be negative")
	}
	if c.Schedule.TickInterval <= 0 {
		return errors.New("schedule.tick_interval must be positive")
	}
	if c.Schedule.MaxSleep <= 0 {
		return errors.New("schedule.max_sleep must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Store.Backend {
	case "file", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s backend", c.Store.Backend)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// LogicZones converts the configured zones, clamping durations.
func (c *Config) LogicZones() []logic.Zone {
	out := make([]logic.Zone, len(c.Zones))
	for i, z := range c.Zones {
		out[i] = logic.Zone{
			ID:       z.ID,
			Pin:      z.Pin,
			Cron:     z.Cron,
			Duration: logic.ClampDuration(time.Duration(z.DurationSeconds) * time.Second),
		}
	}
	return out
}

// Location resolves the schedule timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}

// Tolerance returns the scheduled-start window.
func (c *Config) Tolerance() logic.Tolerance {
	return logic.Tolerance{Early: c.Schedule.EarlyTolerance, Late: c.Schedule.LateTolerance}
}

// Pins returns the register wiring.
func (c *Config) Pins() gpio.Pins {
	sr := c.ShiftRegister
	return gpio.Pins{
		Chip:         sr.Chip,
		Serial:       sr.Serial,
		Clock:        sr.Clock,
		Latch:        sr.Latch,
		OutputEnable: sr.OutputEnable,
		Power:        sr.Power,
	}
}

// MQTTOptions returns the broker connection settings.
func (c *Config) MQTTOptions() mqtt.Options {
	m := c.MQTT
	return mqtt.Options{
		Broker:         m.Broker,
		Username:       m.Username,
		Password:       m.Password,
		Prefix:         m.TopicPrefix,
		ClientIDPrefix: m.ClientIDPrefix,
		ConnectRetries: m.ConnectRetries,
		QueueSize:      m.QueueSize,
	}
}
