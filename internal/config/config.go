// Package config loads the daemon configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"tickflow/internal/domain"
	"tickflow/internal/handlers"
	"tickflow/internal/scheduler"
)

// Ids of the built-in tasks. Configured tasks may not use them or the
// sampler id.
const (
	ParserTaskID  uint8 = 254
	MonitorTaskID uint8 = 253
)

type Config struct {
	Tick     time.Duration    `yaml:"tick"`
	Capacity int              `yaml:"capacity"`
	Log      Log              `yaml:"log"`
	Watchdog Watchdog         `yaml:"watchdog"`
	HTTP     HTTP             `yaml:"http"`
	Journal  Journal          `yaml:"journal"`
	Console  Console          `yaml:"console"`
	Faults   Faults           `yaml:"faults"`
	Tasks    []domain.TaskDef `yaml:"tasks"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Watchdog struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
	// Systemd forwards readiness and watchdog pings to the service manager.
	Systemd bool `yaml:"systemd"`
}

type HTTP struct {
	Addr  string `yaml:"addr"`
	Debug bool   `yaml:"debug"`
}

type Journal struct {
	Path   string `yaml:"path"` // empty disables the journal
	Buffer int    `yaml:"buffer"`
	Keep   int    `yaml:"keep"`
}

type Console struct {
	Enabled        bool   `yaml:"enabled"`
	SampleEvery    string `yaml:"sample_every"`
	SamplePriority uint8  `yaml:"sample_priority"`
	SampleID       uint8  `yaml:"sample_id"`
	BufferSize     int    `yaml:"buffer_size"`
	Echo           bool   `yaml:"echo"`
}

type Faults struct {
	NotifyEvery string `yaml:"notify_every"`
	RatePerSec  int    `yaml:"rate_per_sec"`
}

func Default() Config {
	return Config{
		Tick:     scheduler.DefaultTickPeriod,
		Capacity: scheduler.DefaultCapacity,
		Log:      Log{Level: "info"},
		Watchdog: Watchdog{Enabled: true, Timeout: 2 * time.Second, Systemd: true},
		HTTP:     HTTP{Addr: ":8080"},
		Journal:  Journal{Path: "tickflow.db", Buffer: 256, Keep: 10000},
		Console: Console{
			Enabled:        true,
			SampleEvery:    "3s",
			SamplePriority: 0,
			SampleID:       200,
			BufferSize:     64,
		},
		Faults: Faults{NotifyEvery: "1s", RatePerSec: 1},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("yaml unmarshal: %w", err)
	}
	for i := range c.Tasks {
		if p := c.Tasks[i].Payload; p != nil {
			c.Tasks[i].Payload = normalize(p).(map[string]any)
		}
	}
	return nil
}

// Validate rejects settings the scheduler cannot run with. Duplicate task ids
// and names are only logged: Delete removes the first match, and keeping ids
// unique is left to whoever writes the file.
func (c Config) Validate() error {
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be positive, got %s", c.Tick)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", c.Capacity)
	}
	if c.Watchdog.Enabled && c.Watchdog.Timeout <= c.Tick {
		return fmt.Errorf("watchdog timeout %s must exceed the tick %s", c.Watchdog.Timeout, c.Tick)
	}
	if c.Console.BufferSize <= 0 {
		return fmt.Errorf("console buffer_size must be positive, got %d", c.Console.BufferSize)
	}
	if _, err := scheduler.ParseEvery(c.Console.SampleEvery, c.Tick); err != nil {
		return fmt.Errorf("console sample_every: %w", err)
	}
	if _, err := scheduler.ParseEvery(c.Faults.NotifyEvery, c.Tick); err != nil {
		return fmt.Errorf("faults notify_every: %w", err)
	}

	fixed := 0
	if c.Console.Enabled {
		fixed++
	}
	if c.Faults.NotifyEvery != "" {
		fixed++
	}
	if n := len(c.Tasks) + fixed; n > c.Capacity {
		return fmt.Errorf("%d tasks do not fit capacity %d", n, c.Capacity)
	}

	ids := map[uint8]string{}
	names := map[string]bool{}
	for i, t := range c.Tasks {
		if t.Name == "" {
			return fmt.Errorf("tasks[%d]: name is required", i)
		}
		if t.Kind == "" {
			return fmt.Errorf("task %s: kind is required", t.Name)
		}
		if _, err := scheduler.ParseEvery(t.Every, c.Tick); err != nil {
			return fmt.Errorf("task %s every: %w", t.Name, err)
		}
		if _, err := scheduler.ParseEvery(t.Delay, c.Tick); err != nil {
			return fmt.Errorf("task %s delay: %w", t.Name, err)
		}
		if timeout := t.Timeout; c.Watchdog.Enabled {
			if timeout <= 0 {
				timeout = handlers.DefaultTimeout
			}
			// handlers run with the watchdog unrefreshed
			if timeout >= c.Watchdog.Timeout {
				return fmt.Errorf("task %s: timeout %s must be below the watchdog timeout %s", t.Name, timeout, c.Watchdog.Timeout)
			}
		}
		if t.ID == ParserTaskID || t.ID == MonitorTaskID || (c.Console.Enabled && t.ID == c.Console.SampleID) {
			return fmt.Errorf("task %s: id %d is reserved", t.Name, t.ID)
		}
		if prev, ok := ids[t.ID]; ok {
			log.Warn().Uint8("id", t.ID).Str("task", t.Name).Str("first", prev).Msg("duplicate task id")
		}
		if names[t.Name] {
			log.Warn().Str("task", t.Name).Msg("duplicate task name")
		}
		ids[t.ID] = t.Name
		names[t.Name] = true
	}
	return nil
}

// normalize turns non-string map keys into strings so payloads can be
// encoded as JSON.
func normalize(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalize(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalize(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	default:
		return in
	}
}
