package livefx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/pipelined/livefx/artifact"
	"github.com/pipelined/livefx/compiler"
	"github.com/pipelined/livefx/compiler/command"
	"github.com/pipelined/livefx/compiler/remote"
	"github.com/pipelined/livefx/ircache"
	"github.com/pipelined/livefx/log"
	"github.com/pipelined/livefx/metric"
	"github.com/pipelined/livefx/watcher"
)

// Paths used for compilation.
type Paths struct {
	// Library is the include path. Resolved from the executable location when empty.
	Library string
	// SVG is where the compiler writes block diagrams.
	SVG string
	// IRCache is where artifacts are persisted if no cache is set.
	IRCache string
}

// target is the slot a build is stored into.
type target int

const (
	currentFactory target = iota
	chargingFactory
)

// Effect is a DSP source with its build configuration and artifacts.
type Effect struct {
	uid      string
	compiler compiler.Compiler
	cache    *ircache.Cache
	paths    Paths
	debounce time.Duration
	log      log.Logger
	metric   *metric.Metric

	m            sync.Mutex
	name         string
	source       string
	locality     artifact.Kind
	options      compiler.Options
	optLevel     int
	endpoint     compiler.Endpoint
	lastBuild    time.Time
	forceSynchro bool
	recalled     bool
	closed       bool
	watcher      *watcher.Watcher

	// build serializes builds, only one rebuild can be charged at a time.
	build     sync.Mutex
	slot      artifact.Slot
	observers observers
}

// Option provides a way to set functional parameters to effect.
type Option func(*Effect)

// WithCompiler sets the compiler service.
func WithCompiler(c compiler.Compiler) Option {
	return func(e *Effect) {
		e.compiler = c
	}
}

// WithCache sets the IR cache.
func WithCache(c *ircache.Cache) Option {
	return func(e *Effect) {
		e.cache = c
	}
}

// WithPaths sets compilation paths.
func WithPaths(p Paths) Option {
	return func(e *Effect) {
		e.paths = p
	}
}

// WithDebounce sets the quiet period of source watcher.
func WithDebounce(d time.Duration) Option {
	return func(e *Effect) {
		e.debounce = d
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(e *Effect) {
		e.log = l
	}
}

// WithMetric sets metrics for the effect.
func WithMetric(m *metric.Metric) Option {
	return func(e *Effect) {
		e.metric = m
	}
}

// Recalled marks effect as restored from a saved session. Its first build
// may be loaded from the IR cache.
func Recalled(r bool) Option {
	return func(e *Effect) {
		e.recalled = r
	}
}

// New returns effect without artifacts. Init must be called to build it.
func New(name, source string, locality artifact.Kind, options ...Option) *Effect {
	e := &Effect{
		uid:      xid.New().String(),
		name:     name,
		source:   source,
		locality: locality,
		options:  compiler.Options{},
		endpoint: compiler.DefaultEndpoint,
		debounce: watcher.DefaultWindow,
	}
	for _, option := range options {
		option(e)
	}
	if e.compiler == nil {
		e.compiler = compiler.Dispatcher{
			Local:  command.New(""),
			Remote: remote.New(nil),
		}
	}
	if e.log == nil {
		e.log = log.With("effect", name)
	}
	return e
}

// Init builds the first artifact and starts watching the source. On
// failure the compiler error is returned and the effect has no current
// artifact until Init or UpdateFactory succeed.
func (e *Effect) Init(ctx context.Context, options string, optLevel int, endpoint compiler.Endpoint) error {
	e.build.Lock()
	defer e.build.Unlock()

	if e.slot.Current() != nil {
		return ErrInitialized
	}
	e.m.Lock()
	if e.closed {
		e.m.Unlock()
		return ErrClosed
	}
	e.options = compiler.ParseOptions(options)
	e.optLevel = optLevel
	if endpoint.Host != "" {
		e.endpoint = endpoint
	}
	e.m.Unlock()

	if err := e.buildFactory(ctx, currentFactory); err != nil {
		return err
	}
	if err := e.LaunchWatcher(); err != nil {
		e.log.Warn(fmt.Sprintf("source is not watched: %v", err))
	}
	return nil
}

// UpdateFactory rebuilds the effect. The new artifact becomes current and
// the previous one is kept as old until EraseOldFactory. If old from the
// previous rebuild is still held, UpdateFactory waits for its release.
// On failure current is untouched and the error is returned.
func (e *Effect) UpdateFactory(ctx context.Context) error {
	e.build.Lock()
	defer e.build.Unlock()
	if e.isClosed() {
		return ErrClosed
	}
	return e.buildFactory(ctx, chargingFactory)
}

// EraseOldFactory releases the artifact replaced by the last rebuild.
// It must be called only after audio doesn't render the old artifact.
func (e *Effect) EraseOldFactory() error {
	old := e.slot.TakeOld()
	if old == nil {
		return nil
	}
	e.log.Debug(fmt.Sprintf("release %v", old))
	return e.compiler.Release(old)
}

// buildFactory compiles the effect and stores the artifact into target.
func (e *Effect) buildFactory(ctx context.Context, t target) error {
	a, err := e.compile(ctx)
	if err != nil {
		return err
	}
	switch t {
	case currentFactory:
		if !e.slot.Init(a) {
			e.release(a)
			return ErrInitialized
		}
	case chargingFactory:
		if _, err := e.slot.Swap(ctx, a); err != nil {
			e.release(a)
			return err
		}
		e.metric.Swap(e.Name())
	}
	e.log.Debug(fmt.Sprintf("current %v", a))
	return nil
}

// release drops artifact that was built but never published.
func (e *Effect) release(a *artifact.Artifact) {
	if err := e.compiler.Release(a); err != nil {
		e.log.Warn(fmt.Sprintf("release %v: %v", a, err))
	}
}

// compile produces a new artifact from the source, or from the IR cache
// on the first build of a recalled effect.
func (e *Effect) compile(ctx context.Context) (*artifact.Artifact, error) {
	e.m.Lock()
	r := compiler.Request{
		Name:     e.name,
		Source:   e.source,
		OptLevel: e.optLevel,
		Locality: e.locality,
		Endpoint: e.endpoint,
	}
	options := e.options
	recalled := e.recalled
	e.recalled = false
	e.m.Unlock()

	startedAt := time.Now()
	if recalled && r.Locality == artifact.Local {
		if a, ok := e.restore(r.Name, options, r.OptLevel); ok {
			e.built(startedAt)
			return a, nil
		}
	}

	lib := e.paths.Library
	if lib == "" {
		var err error
		if lib, err = compiler.LibraryPath(); err != nil {
			return nil, err
		}
	}
	r.Args = compiler.Args(lib, e.paths.SVG, options)

	a, err := e.compiler.Compile(ctx, r)
	e.metric.Build(r.Name, r.Locality.String(), time.Since(startedAt), err)
	if err != nil {
		e.log.Debug(fmt.Sprintf("build failed: %v", err))
		return nil, err
	}
	e.built(startedAt)
	if r.Locality == artifact.Local {
		e.persist(a, options, r.OptLevel)
	}
	return a, nil
}

// built records the time of successful build. Source modifications made
// before it are already compiled.
func (e *Effect) built(startedAt time.Time) {
	e.m.Lock()
	defer e.m.Unlock()
	e.lastBuild = startedAt
}

func (e *Effect) cachePath(name string) (string, error) {
	if e.cache != nil {
		return e.cache.Path(name)
	}
	if e.paths.IRCache == "" {
		return "", nil
	}
	if err := ircache.CheckName(name); err != nil {
		return "", err
	}
	return filepath.Join(e.paths.IRCache, name), nil
}

// persist writes artifact into the IR cache. Failures are not fatal.
func (e *Effect) persist(a *artifact.Artifact, options compiler.Options, optLevel int) {
	path, err := e.cachePath(a.Name())
	if err != nil {
		e.log.Warn(fmt.Sprintf("persist %v: %v", a, err))
		return
	}
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		e.log.Warn(fmt.Sprintf("create cache dir: %v", err))
		return
	}
	if err := e.compiler.Persist(a, path); err != nil {
		e.log.Warn(fmt.Sprintf("persist %v: %v", a, err))
		return
	}
	if e.cache == nil {
		return
	}
	err = e.cache.Put(ircache.Entry{
		Name:     a.Name(),
		Options:  options,
		OptLevel: optLevel,
		BuiltAt:  a.BuiltAt(),
	})
	if err != nil {
		e.log.Warn(fmt.Sprintf("index %v: %v", a, err))
	}
}

// restore loads a cached artifact if it was built with the same configuration.
func (e *Effect) restore(name string, options compiler.Options, optLevel int) (*artifact.Artifact, bool) {
	r, ok := e.compiler.(compiler.Restorer)
	if !ok || e.cache == nil {
		return nil, false
	}
	entry, ok, err := e.cache.Get(name)
	if err != nil {
		e.log.Warn(fmt.Sprintf("read cache index: %v", err))
		return nil, false
	}
	if !ok || !entry.Matches(options, optLevel) {
		return nil, false
	}
	path, err := e.cache.Path(name)
	if err != nil {
		return nil, false
	}
	a, err := r.Restore(name, path)
	if err != nil {
		e.log.Warn(fmt.Sprintf("restore %v: %v", name, err))
		return nil, false
	}
	e.log.Debug(fmt.Sprintf("restored %v from cache", a))
	return a, true
}

// OnChange registers fn to be called when the effect needs a rebuild.
// Source changes are delivered from the watcher goroutine, fn must not
// block on the rebuild itself. Returned function cancels registration.
func (e *Effect) OnChange(fn func(Change)) func() {
	return e.observers.add(fn)
}

func (e *Effect) emit(r Reason, at time.Time) {
	e.metric.Notify(e.Name(), r.String())
	e.log.Debug(fmt.Sprintf("changed: %v", r))
	e.observers.emit(Change{Effect: e, Reason: r, At: at})
}

// sourceModified filters notifications of the watcher. Modification that
// is not newer than the last build comes from the file being opened.
func (e *Effect) sourceModified(modified time.Time) {
	e.m.Lock()
	lastBuild := e.lastBuild
	e.m.Unlock()
	if !modified.After(lastBuild) {
		e.log.Debug(fmt.Sprintf("ignore modification at %v, last build at %v", modified, lastBuild))
		return
	}
	e.emit(SourceEdited, modified)
}

// UpdateCompilationOptions changes compilation options and optimization
// level. If any of them differ, a rebuild is forced and observers are
// notified.
func (e *Effect) UpdateCompilationOptions(options string, optLevel int) {
	o := compiler.ParseOptions(options)
	e.m.Lock()
	if e.options.Equal(o) && e.optLevel == optLevel {
		e.m.Unlock()
		return
	}
	e.options = o
	e.optLevel = optLevel
	e.forceSynchro = true
	e.m.Unlock()
	e.emit(OptionsChanged, time.Now())
}

// UpdateRemoteMachine changes the remote compiler endpoint, forces a
// rebuild and notifies observers.
func (e *Effect) UpdateRemoteMachine(host string, port int) {
	e.m.Lock()
	e.endpoint = compiler.Endpoint{Host: host, Port: port}
	e.forceSynchro = true
	e.m.Unlock()
	e.emit(RemoteChanged, time.Now())
}

// LaunchWatcher starts watching the source.
func (e *Effect) LaunchWatcher() error {
	e.m.Lock()
	if e.closed {
		e.m.Unlock()
		return ErrClosed
	}
	if e.watcher == nil {
		e.watcher = watcher.New(e.source, watcher.WithWindow(e.debounce), watcher.WithLogger(e.log))
		e.watcher.Notify(e.sourceModified)
	}
	w := e.watcher
	e.m.Unlock()
	return w.Launch(context.Background())
}

// StopWatcher stops watching the source. It's used while the effect is
// rebuilt, so the rebuild doesn't trigger itself.
func (e *Effect) StopWatcher() {
	e.m.Lock()
	w := e.watcher
	e.m.Unlock()
	if w != nil {
		w.Stop()
	}
}

// Close stops the watcher and releases all artifacts.
func (e *Effect) Close() error {
	e.build.Lock()
	defer e.build.Unlock()
	e.m.Lock()
	if e.closed {
		e.m.Unlock()
		return nil
	}
	e.closed = true
	w := e.watcher
	e.m.Unlock()
	if w != nil {
		w.Stop()
	}

	var errs releaseErrors
	current, old := e.slot.Clear()
	for _, a := range []*artifact.Artifact{old, current} {
		if a == nil {
			continue
		}
		if err := e.compiler.Release(a); err != nil {
			errs = append(errs, err)
		}
	}
	return errs.ret()
}

func (e *Effect) isClosed() bool {
	e.m.Lock()
	defer e.m.Unlock()
	return e.closed
}

// ID returns unique id of the effect.
func (e *Effect) ID() string {
	return e.uid
}

// Name returns effect name.
func (e *Effect) Name() string {
	e.m.Lock()
	defer e.m.Unlock()
	return e.name
}

// SetName renames the effect. Artifacts built afterwards are cached under the new name.
func (e *Effect) SetName(name string) {
	e.m.Lock()
	defer e.m.Unlock()
	e.name = name
}

// Source returns the source location.
func (e *Effect) Source() string {
	e.m.Lock()
	defer e.m.Unlock()
	return e.source
}

// SetSource changes the source location. A running watcher is moved to
// the new location.
func (e *Effect) SetSource(source string) error {
	e.m.Lock()
	e.source = source
	w := e.watcher
	e.watcher = nil
	e.m.Unlock()
	if w == nil || !w.Watching() {
		return nil
	}
	w.Stop()
	return e.LaunchWatcher()
}

// Current returns the live artifact or nil if effect was never built.
func (e *Effect) Current() *artifact.Artifact {
	return e.slot.Current()
}

// Old returns the artifact replaced by the last rebuild if it's not released yet.
func (e *Effect) Old() *artifact.Artifact {
	return e.slot.Old()
}

// IsLocal reports whether the effect is compiled in-process.
func (e *Effect) IsLocal() bool {
	e.m.Lock()
	defer e.m.Unlock()
	return e.locality == artifact.Local
}

// Locality returns where the effect is compiled.
func (e *Effect) Locality() artifact.Kind {
	e.m.Lock()
	defer e.m.Unlock()
	return e.locality
}

// CompilationOptions returns options as a single string.
func (e *Effect) CompilationOptions() string {
	e.m.Lock()
	defer e.m.Unlock()
	return e.options.String()
}

// Options returns a copy of option tokens.
func (e *Effect) Options() compiler.Options {
	e.m.Lock()
	defer e.m.Unlock()
	return append(compiler.Options{}, e.options...)
}

// OptLevel returns optimization level.
func (e *Effect) OptLevel() int {
	e.m.Lock()
	defer e.m.Unlock()
	return e.optLevel
}

// Endpoint returns the remote machine.
func (e *Effect) Endpoint() compiler.Endpoint {
	e.m.Lock()
	defer e.m.Unlock()
	return e.endpoint
}

// LastBuild returns the time of the last successful build.
func (e *Effect) LastBuild() time.Time {
	e.m.Lock()
	defer e.m.Unlock()
	return e.lastBuild
}

// IsSynchroForced reports whether configuration changed since the last rebuild.
func (e *Effect) IsSynchroForced() bool {
	e.m.Lock()
	defer e.m.Unlock()
	return e.forceSynchro
}

// SetForceSynchro sets forced rebuild flag.
func (e *Effect) SetForceSynchro(v bool) {
	e.m.Lock()
	defer e.m.Unlock()
	e.forceSynchro = v
}

func (e *Effect) String() string {
	return fmt.Sprintf("%v %v", e.Name(), e.uid)
}
