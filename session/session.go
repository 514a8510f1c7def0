// Package session holds effects of a live coding session and rebuilds
// them when they change. Rebuilt effect that is playing is swapped with
// a crossfade.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pipelined/livefx"
	"github.com/pipelined/livefx/artifact"
	"github.com/pipelined/livefx/compiler"
	"github.com/pipelined/livefx/fader"
	"github.com/pipelined/livefx/ircache"
	"github.com/pipelined/livefx/log"
	"github.com/pipelined/livefx/metric"
)

var (
	// ErrExists is returned when effect name is already used.
	ErrExists = errors.New("effect already exists")
	// ErrNotFound is returned when effect is not in session.
	ErrNotFound = errors.New("effect not found")
	// ErrPlaying is returned when playing effect is removed.
	ErrPlaying = errors.New("effect is playing")
	// ErrClosed is returned when session is used after Close.
	ErrClosed = errors.New("session closed")
)

// Spec describes an effect to add.
type Spec struct {
	Name     string
	Source   string
	Options  string
	OptLevel int
	Locality artifact.Kind
	Endpoint compiler.Endpoint
	// Recalled effects may restore their first build from IR cache.
	Recalled bool
}

// Session is a set of effects with unique names and audio manager that
// plays one of them.
type Session struct {
	manager  *fader.Manager
	compiler compiler.Compiler
	cache    *ircache.Cache
	paths    livefx.Paths
	debounce time.Duration
	log      log.Logger
	metric   *metric.Metric
	onError  func(name string, err error)
	rebuilt  func(name string)

	group singleflight.Group
	// audio serializes manager operations.
	audio sync.Mutex

	m       sync.Mutex
	effects map[string]*entry
	playing string
	closed  bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

type entry struct {
	effect      *livefx.Effect
	unsubscribe func()
}

// Option of a session.
type Option func(*Session)

// WithCompiler sets compiler of effects.
func WithCompiler(c compiler.Compiler) Option {
	return func(s *Session) {
		s.compiler = c
	}
}

// WithCache sets IR cache of effects.
func WithCache(c *ircache.Cache) Option {
	return func(s *Session) {
		s.cache = c
	}
}

// WithPaths sets compilation paths of effects.
func WithPaths(p livefx.Paths) Option {
	return func(s *Session) {
		s.paths = p
	}
}

// WithDebounce sets source watcher window of effects.
func WithDebounce(d time.Duration) Option {
	return func(s *Session) {
		s.debounce = d
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// WithMetric sets metrics of effects.
func WithMetric(m *metric.Metric) Option {
	return func(s *Session) {
		s.metric = m
	}
}

// WithErrorHandler sets callback for failed rebuilds. Last good audio
// keeps playing.
func WithErrorHandler(fn func(name string, err error)) Option {
	return func(s *Session) {
		s.onError = fn
	}
}

// WithRebuildHandler sets callback for successful rebuilds.
func WithRebuildHandler(fn func(name string)) Option {
	return func(s *Session) {
		s.rebuilt = fn
	}
}

// New creates a new session that plays effects with manager.
func New(manager *fader.Manager, options ...Option) *Session {
	s := &Session{
		manager: manager,
		effects: make(map[string]*entry),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for _, option := range options {
		option(s)
	}
	if s.log == nil {
		s.log = log.With("component", "session")
	}
	return s
}

func (s *Session) effectOptions(spec Spec) []livefx.Option {
	options := []livefx.Option{
		livefx.WithPaths(s.paths),
		livefx.WithMetric(s.metric),
		livefx.Recalled(spec.Recalled),
	}
	if s.compiler != nil {
		options = append(options, livefx.WithCompiler(s.compiler))
	}
	if s.cache != nil {
		options = append(options, livefx.WithCache(s.cache))
	}
	if s.debounce > 0 {
		options = append(options, livefx.WithDebounce(s.debounce))
	}
	return options
}

// Add builds effect and adds it to session. Effect that failed to build
// is not added.
func (s *Session) Add(ctx context.Context, spec Spec) (*livefx.Effect, error) {
	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		return nil, ErrClosed
	}
	if _, ok := s.effects[spec.Name]; ok {
		s.m.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrExists, spec.Name)
	}
	// reserve the name while building.
	s.effects[spec.Name] = nil
	s.m.Unlock()

	e := livefx.New(spec.Name, spec.Source, spec.Locality, s.effectOptions(spec)...)
	if err := e.Init(ctx, spec.Options, spec.OptLevel, spec.Endpoint); err != nil {
		e.Close()
		s.m.Lock()
		delete(s.effects, spec.Name)
		s.m.Unlock()
		return nil, fmt.Errorf("build %s: %w", spec.Name, err)
	}

	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		e.Close()
		return nil, ErrClosed
	}
	s.effects[spec.Name] = &entry{
		effect:      e,
		unsubscribe: e.OnChange(s.changed),
	}
	s.log.Info(fmt.Sprintf("added %v", e))
	return e, nil
}

// Load adds effects in parallel. Effects that were built are added even
// if others fail, the first error is returned.
func (s *Session) Load(ctx context.Context, specs ...Spec) error {
	var g errgroup.Group
	for _, spec := range specs {
		spec := spec
		g.Go(func() error {
			_, err := s.Add(ctx, spec)
			return err
		})
	}
	return g.Wait()
}

// Remove closes effect and removes it from session.
func (s *Session) Remove(name string) error {
	s.m.Lock()
	en, ok := s.effects[name]
	if !ok || en == nil {
		s.m.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if s.playing == name {
		s.m.Unlock()
		return fmt.Errorf("%w: %s", ErrPlaying, name)
	}
	delete(s.effects, name)
	s.m.Unlock()

	en.unsubscribe()
	return en.effect.Close()
}

// Effect returns effect by name.
func (s *Session) Effect(name string) (*livefx.Effect, bool) {
	s.m.Lock()
	defer s.m.Unlock()
	en, ok := s.effects[name]
	if !ok || en == nil {
		return nil, false
	}
	return en.effect, true
}

// Names returns sorted names of effects.
func (s *Session) Names() []string {
	s.m.Lock()
	defer s.m.Unlock()
	names := make([]string, 0, len(s.effects))
	for name, en := range s.effects {
		if en != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Playing returns name of playing effect.
func (s *Session) Playing() string {
	s.m.Lock()
	defer s.m.Unlock()
	return s.playing
}

// Play renders effect. If another effect is playing, it's replaced with
// a crossfade.
func (s *Session) Play(name string) error {
	e, ok := s.Effect(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	s.audio.Lock()
	defer s.audio.Unlock()

	s.m.Lock()
	playing := s.playing
	s.m.Unlock()
	switch {
	case playing == name:
		return nil
	case playing == "":
		if s.manager.Main() == nil {
			if err := s.manager.InitAudio(name); err != nil {
				return err
			}
		}
		if err := s.manager.SetDSP(e); err != nil {
			return err
		}
		if err := s.manager.Start(); err != nil {
			return err
		}
	default:
		if err := s.crossfade(e); err != nil {
			return err
		}
	}
	s.m.Lock()
	s.playing = name
	s.m.Unlock()
	return nil
}

// crossfade must be called with audio lock.
func (s *Session) crossfade(e *livefx.Effect) error {
	if err := s.manager.InitFadeAudio(e.Name(), e); err != nil {
		return err
	}
	if err := s.manager.StartFade(); err != nil {
		if cancelErr := s.manager.CancelFade(); cancelErr != nil {
			s.log.Warn(fmt.Sprintf("cancel fade: %v", cancelErr))
		}
		return err
	}
	return s.manager.WaitEndFade()
}

// changed is called by effects. It doesn't block watcher goroutine.
func (s *Session) changed(c livefx.Change) {
	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		return
	}
	s.wg.Add(1)
	s.m.Unlock()
	name := c.Effect.Name()
	s.log.Debug(fmt.Sprintf("%s changed: %v", name, c.Reason))
	go func() {
		defer s.wg.Done()
		var err error
		// concurrent triggers of the same effect share one rebuild.
		// Configuration changed during the rebuild requires another one.
		for {
			_, err, _ = s.group.Do(name, func() (interface{}, error) {
				return nil, s.Rebuild(s.ctx, c.Effect)
			})
			if err != nil || !c.Effect.IsSynchroForced() {
				break
			}
		}
		if err != nil {
			s.log.Warn(fmt.Sprintf("rebuild %s: %v", name, err))
			if s.onError != nil {
				s.onError(name, err)
			}
			return
		}
		if s.rebuilt != nil {
			s.rebuilt(name)
		}
	}()
}

// Rebuild recompiles effect and swaps it. Playing effect is swapped
// with a crossfade, old artifact is erased after the fade. Watcher is
// stopped while rebuilding.
func (s *Session) Rebuild(ctx context.Context, e *livefx.Effect) error {
	e.StopWatcher()
	defer func() {
		if err := e.LaunchWatcher(); err != nil && !errors.Is(err, livefx.ErrClosed) {
			s.log.Warn(fmt.Sprintf("relaunch watcher of %v: %v", e, err))
		}
	}()

	e.SetForceSynchro(false)
	if err := e.UpdateFactory(ctx); err != nil {
		return err
	}

	s.audio.Lock()
	defer s.audio.Unlock()
	s.m.Lock()
	playing := s.playing == e.Name()
	s.m.Unlock()
	if !playing {
		return e.EraseOldFactory()
	}
	if main := s.manager.Main(); main != nil && main.Voice().Artifact() == e.Current() {
		// audio was already moved to the new build by Play.
		return e.EraseOldFactory()
	}
	err := s.crossfade(e)
	if err == nil {
		return nil
	}
	if e.Old() != nil && s.manager.State() == fader.Idle {
		// fade could not start, swap without it.
		s.log.Warn(fmt.Sprintf("fade %v: %v, swapping without fade", e, err))
		if err := s.manager.SetDSP(e); err != nil {
			return err
		}
		return e.EraseOldFactory()
	}
	return err
}

// Close stops audio and closes all effects.
func (s *Session) Close() error {
	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	s.m.Unlock()
	s.wg.Wait()

	var errs []error
	s.audio.Lock()
	if err := s.manager.Stop(); err != nil {
		errs = append(errs, err)
	}
	s.audio.Unlock()

	s.m.Lock()
	effects := s.effects
	s.effects = make(map[string]*entry)
	s.playing = ""
	s.m.Unlock()
	for _, en := range effects {
		if en == nil {
			continue
		}
		en.unsubscribe()
		if err := en.effect.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
