// Package connections saves and restores wiring of audio ports.
//
// Wiring is stored per port position, so it applies to whichever chain
// currently owns the outputs. Port names are opaque.
package connections

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/pipelined/livefx/log"
)

// FileName of the wiring file in home directory.
const FileName = "connections.yaml"

// Router connects driver ports to their destinations.
type Router interface {
	Connect(port, destination string) error
	Connections(port string) ([]string, error)
}

// Wiring is the content of connections file.
type Wiring struct {
	// Ports holds destinations of ports by their position.
	Ports [][]string `yaml:"ports"`
}

// Service implements fader.Connections.
type Service struct {
	router Router
	log    log.Logger
}

// New returns service that wires ports with router.
func New(r Router) *Service {
	return &Service{
		router: r,
		log:    log.With("component", "connections"),
	}
}

// Path returns location of wiring file.
func Path(homeDir string) string {
	return filepath.Join(homeDir, FileName)
}

// Load reads wiring from home directory. Missing file is empty wiring.
func Load(homeDir string) (Wiring, error) {
	var w Wiring
	b, err := os.ReadFile(Path(homeDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return w, nil
		}
		return w, err
	}
	if err := yaml.Unmarshal(b, &w); err != nil {
		return w, fmt.Errorf("parse %s: %w", Path(homeDir), err)
	}
	return w, nil
}

// Connect restores saved wiring of ports. All ports are attempted, the
// last error is returned.
func (s *Service) Connect(homeDir string, ports []string) error {
	w, err := Load(homeDir)
	if err != nil {
		return err
	}
	var lastErr error
	for i, port := range ports {
		if i >= len(w.Ports) {
			break
		}
		for _, dest := range w.Ports[i] {
			if err := s.router.Connect(port, dest); err != nil {
				s.log.Warn(fmt.Sprintf("connect %s to %s: %v", port, dest, err))
				lastErr = err
			}
		}
	}
	return lastErr
}

// Save persists current wiring of ports.
func (s *Service) Save(homeDir string, ports []string) error {
	w := Wiring{Ports: make([][]string, len(ports))}
	for i, port := range ports {
		dests, err := s.router.Connections(port)
		if err != nil {
			return fmt.Errorf("connections of %s: %w", port, err)
		}
		w.Ports[i] = dests
	}
	b, err := yaml.Marshal(w)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(homeDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(Path(homeDir), b, 0644)
}
