package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Sources    SourcesConfig    `yaml:"sources"`
	Seats      map[int]int      `yaml:"seats"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

type DispatcherConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	QuantStep        float64       `yaml:"quant_step"`
	Tolerance        float64       `yaml:"tolerance"`
	CatchupTolerance float64       `yaml:"catchup_tolerance"`

	// DailyDiffSeconds shifts source timestamps and the fallback clock
	// when the replay runs on a different day-offset than the sheet.
	DailyDiffSeconds int `yaml:"daily_diff_seconds"`
	// SourceTimeOffsetSeconds corrects a constant skew in the sheet's
	// timestamps relative to the replay timecode.
	SourceTimeOffsetSeconds int `yaml:"source_time_offset_seconds"`

	BroadcastThrottle      time.Duration `yaml:"broadcast_throttle"`
	SnapshotInterval       time.Duration `yaml:"snapshot_interval"`
	HealthWarningThreshold int           `yaml:"health_warning_threshold"`
	TimecodeStaleAfter     time.Duration `yaml:"timecode_stale_after"`
}

type SourcesConfig struct {
	RowsURL      string        `yaml:"rows_url"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	TimecodeHost    string        `yaml:"timecode_host"`
	TimecodePort    int           `yaml:"timecode_port"`
	TimecodeTimeout time.Duration `yaml:"timecode_timeout"`

	SinkHost    string        `yaml:"sink_host"`
	SinkPort    int           `yaml:"sink_port"`
	SinkTimeout time.Duration `yaml:"sink_timeout"`
}

// Default returns a config populated with working defaults; Load layers
// the YAML file on top of it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Dispatcher: DispatcherConfig{
			PollInterval:           20 * time.Second,
			TickInterval:           200 * time.Millisecond,
			QuantStep:              0.2,
			Tolerance:              0.6,
			CatchupTolerance:       5.0,
			BroadcastThrottle:      100 * time.Millisecond,
			SnapshotInterval:       5 * time.Second,
			HealthWarningThreshold: 3,
			TimecodeStaleAfter:     3 * time.Second,
		},
		Sources: SourcesConfig{
			FetchTimeout:    10 * time.Second,
			TimecodePort:    8088,
			TimecodeTimeout: time.Second,
			SinkPort:        8000,
			SinkTimeout:     800 * time.Millisecond,
		},
	}
}

// Load reads the YAML config at path over the defaults, then overlays
// endpoint addresses from the environment. A missing file is not an
// error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays endpoint addresses from the environment so deployed
// hosts can point at their own devices without editing the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("TIMELINE_ROWS_URL"); v != "" {
		c.Sources.RowsURL = v
	}
	if v := os.Getenv("TIMELINE_TIMECODE_HOST"); v != "" {
		c.Sources.TimecodeHost = v
	}
	if v := os.Getenv("TIMELINE_TIMECODE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Sources.TimecodePort = p
		}
	}
	if v := os.Getenv("TIMELINE_SINK_HOST"); v != "" {
		c.Sources.SinkHost = v
	}
	if v := os.Getenv("TIMELINE_SINK_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Sources.SinkPort = p
		}
	}
}

// Validate checks everything the dispatcher depends on before it starts.
func (c *Config) Validate() error {
	d := c.Dispatcher
	switch {
	case d.PollInterval <= 0:
		return errors.New("dispatcher.poll_interval must be positive")
	case d.TickInterval <= 0:
		return errors.New("dispatcher.tick_interval must be positive")
	case d.QuantStep <= 0:
		return errors.New("dispatcher.quant_step must be positive")
	case d.Tolerance <= 0:
		return errors.New("dispatcher.tolerance must be positive")
	case d.CatchupTolerance < d.Tolerance:
		return fmt.Errorf("dispatcher.catchup_tolerance %.2f below tolerance %.2f", d.CatchupTolerance, d.Tolerance)
	}
	for idx, label := range c.Seats {
		if idx < 0 || idx > 9 || label < 1 || label > 10 {
			return fmt.Errorf("seats: invalid mapping %d -> %d", idx, label)
		}
	}
	return nil
}

// OffsetSec is the total correction applied to source timestamps and to
// the fallback clock.
func (c *Config) OffsetSec() int {
	return c.Dispatcher.DailyDiffSeconds + c.Dispatcher.SourceTimeOffsetSeconds
}
