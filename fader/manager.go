// Package fader drives audio chains bound to effect artifacts and swaps
// them with a crossfade.
package fader

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/pipelined/livefx/artifact"
	"github.com/pipelined/livefx/log"
	"github.com/pipelined/livefx/metric"
)

var (
	// ErrFadeInProgress is returned when fade is requested while not idle.
	ErrFadeInProgress = errors.New("fade in progress")
	// ErrNotBuilt is returned when effect has no current artifact.
	ErrNotBuilt = errors.New("effect not built")
	// ErrSettingsMismatch is returned when chains of dual manager don't agree on net settings.
	ErrSettingsMismatch = errors.New("net settings mismatch")
	// ErrNoAudio is returned when audio was not initialized.
	ErrNoAudio = errors.New("audio not initialized")
	// ErrNoFade is returned when fade is started without fade chain.
	ErrNoFade = errors.New("fade audio not initialized")
	// ErrAudioInitialized is returned when audio is initialized twice.
	ErrAudioInitialized = errors.New("audio already initialized")
)

// DefaultDuration of the crossfade.
const DefaultDuration = time.Second

// steps of the gain ramp.
const steps = 64

// Cardinality is the number of chains a manager can run at once.
type Cardinality int

const (
	// Single manager renders both voices of the fade in one port.
	Single Cardinality = 1
	// Dual manager opens a dedicated port per chain.
	Dual Cardinality = 2
)

func (c Cardinality) String() string {
	switch c {
	case Single:
		return "single"
	case Dual:
		return "dual"
	}
	return fmt.Sprintf("cardinality(%d)", int(c))
}

// State of the crossfade.
type State int

const (
	// Idle means only main chain is rendered.
	Idle State = iota
	// Fading means main and fade chains are rendered with gain ramp.
	Fading
	// Complete means ramp is done and fade chain is being promoted.
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fading:
		return "fading"
	case Complete:
		return "complete"
	}
	return "unknown"
}

// Effect provides artifacts for chains.
type Effect interface {
	Name() string
	Current() *artifact.Artifact
	// Old returns artifact replaced by the last rebuild until it's erased.
	Old() *artifact.Artifact
	EraseOldFactory() error
}

// Connections restores and saves wiring of driver ports.
type Connections interface {
	Connect(homeDir string, ports []string) error
	Save(homeDir string, ports []string) error
}

// Chain is one rendering path: a voice attached to a driver port.
type Chain struct {
	uid    string
	config ChainConfig
	port   Port
	voice  *Voice
	effect Effect
}

// Name returns chain name.
func (c *Chain) Name() string {
	return c.config.Name
}

// Voice returns rendered voice.
func (c *Chain) Voice() *Voice {
	return c.voice
}

// Port returns chain port.
func (c *Chain) Port() Port {
	return c.port
}

func (c *Chain) String() string {
	return fmt.Sprintf("%s %s", c.config.Name, c.uid)
}

// Manager owns main chain and, during a crossfade, fade chain.
type Manager struct {
	driver      Driver
	cardinality Cardinality
	duration    time.Duration
	curve       Curve
	connections Connections
	shutdown    func(error)
	log         log.Logger
	metric      *metric.Metric

	m        sync.Mutex
	settings NetSettings
	state    State
	main     *Chain
	fade     *Chain
	running  bool
	homeDir  string
	// done is closed when ramp of current fade is finished.
	done      chan struct{}
	startedAt time.Time
}

// Option provides a way to set functional parameters to manager.
type Option func(*Manager)

// WithDuration sets crossfade duration.
func WithDuration(d time.Duration) Option {
	return func(m *Manager) {
		m.duration = d
	}
}

// WithCurve sets crossfade curve.
func WithCurve(c Curve) Option {
	return func(m *Manager) {
		m.curve = c
	}
}

// WithSettings sets net settings of dual manager chains.
func WithSettings(s NetSettings) Option {
	return func(m *Manager) {
		m.settings = s
	}
}

// WithConnections sets connections service.
func WithConnections(c Connections) Option {
	return func(m *Manager) {
		m.connections = c
	}
}

// WithShutdown sets callback called when driver stops on its own.
func WithShutdown(fn func(error)) Option {
	return func(m *Manager) {
		m.shutdown = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithMetric sets metrics.
func WithMetric(mt *metric.Metric) Option {
	return func(m *Manager) {
		m.metric = mt
	}
}

// NewManager returns idle manager without chains.
func NewManager(d Driver, c Cardinality, options ...Option) *Manager {
	m := &Manager{
		driver:      d,
		cardinality: c,
		duration:    DefaultDuration,
		curve:       Linear,
	}
	for _, option := range options {
		option(m)
	}
	if m.log == nil {
		m.log = log.With("manager", c.String())
	}
	if n, ok := d.(ShutdownNotifier); ok {
		n.OnShutdown(m.driverShutdown)
	}
	return m
}

func (m *Manager) driverShutdown(err error) {
	m.log.Error(fmt.Sprintf("driver shutdown: %v", err))
	m.m.Lock()
	m.running = false
	m.m.Unlock()
	if m.shutdown != nil {
		m.shutdown(err)
	}
}

// open allocates a new chain. Single manager reuses port of main chain.
func (m *Manager) open(name string, a *artifact.Artifact, gain float64) (*Chain, error) {
	c := &Chain{
		uid:    xid.New().String(),
		config: ChainConfig{Name: name},
		voice:  NewVoice(a, gain),
	}
	if m.cardinality == Single && m.main != nil {
		c.config = m.main.config
		c.port = m.main.port
	} else {
		if m.cardinality == Dual {
			if err := m.settings.Validate(); err != nil {
				return nil, err
			}
			c.config.Settings = m.settings
		}
		p, err := m.driver.Open(c.config)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		c.port = p
	}
	c.port.Attach(c.voice)
	return c, nil
}

// InitAudio opens main chain. It renders silence until SetDSP is called.
func (m *Manager) InitAudio(name string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.main != nil {
		return ErrAudioInitialized
	}
	c, err := m.open(name, nil, 1)
	if err != nil {
		return err
	}
	m.main = c
	m.log.Debug(fmt.Sprintf("opened %v", c))
	return nil
}

// SetDSP binds main chain to effect's current artifact without fade.
func (m *Manager) SetDSP(e Effect) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.main == nil {
		return ErrNoAudio
	}
	if m.state != Idle || m.fade != nil {
		return ErrFadeInProgress
	}
	a := e.Current()
	if a == nil {
		return ErrNotBuilt
	}
	m.main.voice.Bind(a)
	m.main.voice.SetGain(1)
	m.main.effect = e
	m.main.port.Sync()
	return nil
}

// Start starts rendering of main chain.
func (m *Manager) Start() error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.main == nil {
		return ErrNoAudio
	}
	if m.running {
		return nil
	}
	if err := m.main.port.Start(); err != nil {
		return err
	}
	m.running = true
	return nil
}

// Stop stops rendering of all chains.
func (m *Manager) Stop() error {
	m.m.Lock()
	defer m.m.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	var err error
	if m.fade != nil && m.fade.port != m.main.port {
		err = m.fade.port.Stop()
	}
	if stopErr := m.main.port.Stop(); stopErr != nil {
		err = stopErr
	}
	return err
}

// InitFadeAudio opens fade chain bound to effect's current artifact. Fade
// chain is rendered in parallel with main chain at zero gain. Only legal
// when idle.
func (m *Manager) InitFadeAudio(name string, e Effect) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.state != Idle || m.fade != nil {
		return ErrFadeInProgress
	}
	if m.main == nil {
		return ErrNoAudio
	}
	a := e.Current()
	if a == nil {
		return ErrNotBuilt
	}
	if m.cardinality == Dual && m.settings != m.main.config.Settings {
		return ErrSettingsMismatch
	}
	c, err := m.open(name, a, 0)
	if err != nil {
		return err
	}
	c.effect = e
	if c.port != m.main.port {
		if m.running {
			if err := c.port.Start(); err != nil {
				c.port.Detach(c.voice)
				if closeErr := c.port.Close(); closeErr != nil {
					m.log.Warn(fmt.Sprintf("close %v: %v", c, closeErr))
				}
				return err
			}
		}
		m.connect(c)
	}
	m.fade = c
	m.log.Debug(fmt.Sprintf("fade audio %v bound to %v", c, a))
	return nil
}

// connect restores wiring of dual chain ports after ConnectAudio was called.
func (m *Manager) connect(c *Chain) {
	if m.connections == nil || m.homeDir == "" {
		return
	}
	if err := m.connections.Connect(m.homeDir, c.port.Ports()); err != nil {
		m.log.Warn(fmt.Sprintf("connect %v: %v", c, err))
	}
}

// StartFade starts the gain ramp from main to fade chain.
func (m *Manager) StartFade() error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.state != Idle {
		return ErrFadeInProgress
	}
	if m.fade == nil {
		return ErrNoFade
	}
	m.setState(Fading)
	m.done = make(chan struct{})
	m.startedAt = time.Now()
	go m.ramp(m.main.voice, m.fade.voice, m.done)
	return nil
}

// CancelFade drops fade chain that was initialized but not started.
func (m *Manager) CancelFade() error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.state != Idle {
		return ErrFadeInProgress
	}
	c := m.fade
	if c == nil {
		return nil
	}
	m.fade = nil
	c.port.Detach(c.voice)
	if c.port != m.main.port {
		return release(c.port)
	}
	return nil
}

// release stops port that isn't used by any chain and closes it.
func release(p Port) error {
	err := p.Stop()
	if closeErr := p.Close(); closeErr != nil {
		err = closeErr
	}
	return err
}

// ramp moves gains along the curve and closes done when finished.
func (m *Manager) ramp(out, in *Voice, done chan struct{}) {
	defer close(done)
	step := m.duration / steps
	if step <= 0 {
		step = time.Millisecond
	}
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	start := time.Now()
	for {
		t := float64(time.Since(start)) / float64(m.duration)
		if m.duration <= 0 || t >= 1 {
			break
		}
		o, i := m.curve(t)
		out.SetGain(o)
		in.SetGain(i)
		<-ticker.C
	}
	o, i := m.curve(1)
	out.SetGain(o)
	in.SetGain(i)
}

// WaitEndFade blocks until the ramp is finished. Then fade chain becomes
// main chain and displaced chain is stopped. If displaced chain rendered
// the old artifact of its effect, that artifact is erased once no render
// cycle uses it. Returns immediately if no fade is running.
func (m *Manager) WaitEndFade() error {
	m.m.Lock()
	if m.state != Fading {
		m.m.Unlock()
		return nil
	}
	done := m.done
	m.m.Unlock()

	<-done

	m.m.Lock()
	// another waiter completed this fade.
	if m.done != done {
		m.m.Unlock()
		return nil
	}
	m.done = nil
	m.setState(Complete)
	displaced, promoted := m.main, m.fade
	m.main, m.fade = promoted, nil
	d := time.Since(m.startedAt)
	m.m.Unlock()

	var err error
	rendered := displaced.voice.Artifact()
	displaced.port.Detach(displaced.voice)
	if displaced.port != promoted.port {
		err = release(displaced.port)
	}
	m.log.Debug(fmt.Sprintf("fade done in %v, %v displaced", d, displaced))
	// old of the effect can't be replaced until it's erased.
	if e := displaced.effect; e != nil && rendered != nil && e.Old() == rendered {
		if eraseErr := e.EraseOldFactory(); eraseErr != nil {
			err = eraseErr
		}
	}
	m.metric.Fade(d)

	m.m.Lock()
	m.setState(Idle)
	m.m.Unlock()
	return err
}

// setState must be called under lock.
func (m *Manager) setState(s State) {
	m.state = s
	m.metric.FadeState(int(s))
}

// State returns state of the crossfade.
func (m *Manager) State() State {
	m.m.Lock()
	defer m.m.Unlock()
	return m.state
}

// Main returns main chain.
func (m *Manager) Main() *Chain {
	m.m.Lock()
	defer m.m.Unlock()
	return m.main
}

// Fade returns fade chain if fade was initialized.
func (m *Manager) Fade() *Chain {
	m.m.Lock()
	defer m.m.Unlock()
	return m.fade
}

// Settings returns net settings used for new chains.
func (m *Manager) Settings() NetSettings {
	m.m.Lock()
	defer m.m.Unlock()
	return m.settings
}

// SetSettings changes net settings used for new chains. Fade is rejected
// until main chain is reopened with the same settings.
func (m *Manager) SetSettings(s NetSettings) {
	m.m.Lock()
	defer m.m.Unlock()
	m.settings = s
}

// ConnectAudio restores saved wiring of main chain ports.
func (m *Manager) ConnectAudio(homeDir string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.main == nil {
		return ErrNoAudio
	}
	m.homeDir = homeDir
	if m.connections == nil {
		return nil
	}
	return m.connections.Connect(homeDir, m.main.port.Ports())
}

// SaveConnections persists wiring of main chain ports.
func (m *Manager) SaveConnections(homeDir string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.main == nil {
		return ErrNoAudio
	}
	if m.connections == nil {
		return nil
	}
	return m.connections.Save(homeDir, m.main.port.Ports())
}

// BufferSize returns driver buffer size.
func (m *Manager) BufferSize() int {
	return m.driver.BufferSize()
}

// SampleRate returns driver sample rate.
func (m *Manager) SampleRate() int {
	return m.driver.SampleRate()
}
