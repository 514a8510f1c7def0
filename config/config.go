// Package config loads engine configuration: defaults, then yaml file,
// then LIVEFX_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/pipelined/livefx/artifact"
	"github.com/pipelined/livefx/fader"
	"github.com/pipelined/livefx/watcher"
)

// EnvPrefix of environment variables.
const EnvPrefix = "LIVEFX_"

// ErrInvalid is returned when configuration values cannot be used.
var ErrInvalid = errors.New("invalid config")

// Config of the engine.
type Config struct {
	Debug       bool          `yaml:"debug" env:"DEBUG"`
	HomeDir     string        `yaml:"home_dir" env:"HOME_DIR"`
	LibraryPath string        `yaml:"library_path" env:"LIBRARY_PATH"`
	SVGDir      string        `yaml:"svg_dir" env:"SVG_DIR"`
	IRCacheDir  string        `yaml:"ir_cache_dir" env:"IR_CACHE_DIR"`
	Compiler    string        `yaml:"compiler" env:"COMPILER"`
	Debounce    time.Duration `yaml:"debounce" env:"DEBOUNCE"`
	// Locality is either local or remote.
	Locality string            `yaml:"locality" env:"LOCALITY"`
	Remote   Remote            `yaml:"remote" envPrefix:"REMOTE_"`
	Fade     Fade              `yaml:"fade" envPrefix:"FADE_"`
	Audio    Audio             `yaml:"audio" envPrefix:"AUDIO_"`
	Net      fader.NetSettings `yaml:"net" envPrefix:"NET_"`
	// Effects are loaded into session at start.
	Effects []Effect `yaml:"effects"`
}

// Remote compiler endpoint.
type Remote struct {
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT"`
}

// Fade settings.
type Fade struct {
	Duration time.Duration `yaml:"duration" env:"DURATION"`
	Curve    string        `yaml:"curve" env:"CURVE"`
}

// Audio driver settings.
type Audio struct {
	SampleRate  int    `yaml:"sample_rate" env:"SAMPLE_RATE"`
	BufferSize  int    `yaml:"buffer_size" env:"BUFFER_SIZE"`
	NumChannels int    `yaml:"num_channels" env:"NUM_CHANNELS"`
	Cardinality string `yaml:"cardinality" env:"CARDINALITY"`
}

// Effect describes an effect of the session.
type Effect struct {
	Name     string `yaml:"name"`
	Source   string `yaml:"source"`
	Options  string `yaml:"options"`
	OptLevel int    `yaml:"opt_level"`
	Locality string `yaml:"locality"`
}

// Default returns configuration with default values.
func Default() Config {
	home := ".livefx"
	if dir, err := os.UserHomeDir(); err == nil {
		home = filepath.Join(dir, home)
	}
	return Config{
		HomeDir:    home,
		SVGDir:     filepath.Join(home, "svg"),
		IRCacheDir: filepath.Join(home, "ir"),
		Compiler:   "faust",
		Debounce:   watcher.DefaultWindow,
		Locality:   artifact.Local.String(),
		Remote: Remote{
			Host: "localhost",
		},
		Fade: Fade{
			Duration: fader.DefaultDuration,
			Curve:    "linear",
		},
		Audio: Audio{
			SampleRate:  44100,
			BufferSize:  512,
			NumChannels: 2,
			Cardinality: fader.Single.String(),
		},
		Net: fader.NetSettings{
			Address: "225.3.19.154",
			Port:    19000,
			MTU:     1500,
			Latency: 5,
		},
	}
}

// Load reads configuration from path and environment. Missing file
// results in default configuration.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		if err := loadFile(path, &c); err != nil {
			return c, err
		}
	}
	if err := env.ParseWithOptions(&c, env.Options{Prefix: EnvPrefix}); err != nil {
		return c, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func loadFile(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Validate checks that values can be used.
func (c Config) Validate() error {
	if c.Debounce <= 0 {
		return fmt.Errorf("%w: debounce %v", ErrInvalid, c.Debounce)
	}
	if c.Fade.Duration <= 0 {
		return fmt.Errorf("%w: fade duration %v", ErrInvalid, c.Fade.Duration)
	}
	if _, ok := fader.CurveByName(c.Fade.Curve); !ok {
		return fmt.Errorf("%w: fade curve %q", ErrInvalid, c.Fade.Curve)
	}
	if c.Audio.SampleRate <= 0 || c.Audio.BufferSize <= 0 || c.Audio.NumChannels <= 0 {
		return fmt.Errorf("%w: audio %+v", ErrInvalid, c.Audio)
	}
	if _, ok := ParseLocality(c.Locality); !ok {
		return fmt.Errorf("%w: locality %q", ErrInvalid, c.Locality)
	}
	for _, e := range c.Effects {
		if e.Name == "" || e.Source == "" {
			return fmt.Errorf("%w: effect %+v", ErrInvalid, e)
		}
		if _, ok := ParseLocality(e.Locality); e.Locality != "" && !ok {
			return fmt.Errorf("%w: effect %s locality %q", ErrInvalid, e.Name, e.Locality)
		}
	}
	switch c.Audio.Cardinality {
	case fader.Single.String():
	case fader.Dual.String():
		if err := c.Net.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: cardinality %q", ErrInvalid, c.Audio.Cardinality)
	}
	return nil
}

// Cardinality returns manager cardinality.
func (c Config) Cardinality() fader.Cardinality {
	if c.Audio.Cardinality == fader.Dual.String() {
		return fader.Dual
	}
	return fader.Single
}

// Curve returns fade curve.
func (c Config) Curve() fader.Curve {
	if curve, ok := fader.CurveByName(c.Fade.Curve); ok {
		return curve
	}
	return fader.Linear
}

// ParseLocality converts locality name.
func ParseLocality(s string) (artifact.Kind, bool) {
	switch s {
	case artifact.Local.String():
		return artifact.Local, true
	case artifact.Remote.String():
		return artifact.Remote, true
	}
	return artifact.Local, false
}

// EffectLocality returns locality of effect, falling back to default.
func (c Config) EffectLocality(e Effect) artifact.Kind {
	if k, ok := ParseLocality(e.Locality); ok {
		return k
	}
	k, _ := ParseLocality(c.Locality)
	return k
}
