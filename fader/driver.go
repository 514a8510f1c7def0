package fader

import (
	"errors"
	"fmt"
)

// NetSettings are shared by chains of a dual manager. Both chains must
// agree on them before a fade may start.
type NetSettings struct {
	// CV is the sample clock source.
	CV      int    `yaml:"cv" env:"CV"`
	Address string `yaml:"address" env:"ADDRESS"`
	Port    int    `yaml:"port" env:"PORT"`
	MTU     int    `yaml:"mtu" env:"MTU"`
	// Latency is the jitter buffer depth in cycles.
	Latency int `yaml:"latency" env:"LATENCY"`
}

// ErrInvalidSettings is returned when net settings cannot be used to open a chain.
var ErrInvalidSettings = errors.New("invalid net settings")

// Validate checks settings ranges.
func (s NetSettings) Validate() error {
	switch {
	case s.Address == "":
		return fmt.Errorf("%w: empty address", ErrInvalidSettings)
	case s.Port <= 0 || s.Port > 65535:
		return fmt.Errorf("%w: port %d", ErrInvalidSettings, s.Port)
	case s.MTU <= 0:
		return fmt.Errorf("%w: mtu %d", ErrInvalidSettings, s.MTU)
	case s.Latency < 0:
		return fmt.Errorf("%w: latency %d", ErrInvalidSettings, s.Latency)
	}
	return nil
}

// ChainConfig is passed to driver when a chain is opened.
type ChainConfig struct {
	Name     string
	Settings NetSettings
}

// Port is a set of driver outputs that renders attached voices. Detach
// and Sync return after the render cycle in progress is finished.
type Port interface {
	Attach(*Voice)
	Detach(*Voice)
	Sync()
	Start() error
	Stop() error
	// Close releases port in the driver. Closed port is not rendered.
	Close() error
	// Ports returns opaque names of driver ports.
	Ports() []string
}

// Driver opens ports of audio backend.
type Driver interface {
	Open(ChainConfig) (Port, error)
	SampleRate() int
	BufferSize() int
}

// ShutdownNotifier is implemented by drivers that can stop on their own.
type ShutdownNotifier interface {
	OnShutdown(func(error))
}
