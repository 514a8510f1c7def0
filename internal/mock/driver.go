package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/pipelined/livefx/artifact"
	"github.com/pipelined/livefx/fader"
)

// Driver mocks fader.Driver. Ports are rendered only on Render call.
type Driver struct {
	Rate         int
	Size         int
	NumChannels  int
	ErrorOnOpen  error
	ErrorOnStart error

	m        sync.Mutex
	configs  []fader.ChainConfig
	ports    []*Port
	shutdown func(error)
}

// Open implements fader.Driver.
func (d *Driver) Open(c fader.ChainConfig) (fader.Port, error) {
	d.m.Lock()
	defer d.m.Unlock()
	if d.ErrorOnOpen != nil {
		return nil, d.ErrorOnOpen
	}
	numChannels := d.NumChannels
	if numChannels == 0 {
		numChannels = 1
	}
	p := &Port{
		driver: d,
		names:  make([]string, numChannels),
	}
	for i := range p.names {
		p.names[i] = fmt.Sprintf("%s:out_%d", c.Name, i+1)
	}
	d.configs = append(d.configs, c)
	d.ports = append(d.ports, p)
	return p, nil
}

// SampleRate implements fader.Driver.
func (d *Driver) SampleRate() int {
	return d.Rate
}

// BufferSize implements fader.Driver.
func (d *Driver) BufferSize() int {
	return d.Size
}

// OnShutdown implements fader.ShutdownNotifier.
func (d *Driver) OnShutdown(fn func(error)) {
	d.m.Lock()
	defer d.m.Unlock()
	d.shutdown = fn
}

// Shutdown simulates driver stopping on its own.
func (d *Driver) Shutdown(err error) {
	d.m.Lock()
	fn := d.shutdown
	d.m.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Configs returns configs of opened ports.
func (d *Driver) Configs() []fader.ChainConfig {
	d.m.Lock()
	defer d.m.Unlock()
	return append([]fader.ChainConfig(nil), d.configs...)
}

// Ports returns opened ports.
func (d *Driver) Ports() []*Port {
	d.m.Lock()
	defer d.m.Unlock()
	return append([]*Port(nil), d.ports...)
}

// Port mocks fader.Port.
type Port struct {
	fader.Mix
	driver *Driver
	names  []string

	m       sync.Mutex
	running bool
	closed  bool
	starts  int
	stops   int
}

// Start implements fader.Port.
func (p *Port) Start() error {
	if p.driver.ErrorOnStart != nil {
		return p.driver.ErrorOnStart
	}
	p.m.Lock()
	defer p.m.Unlock()
	p.running = true
	p.starts++
	return nil
}

// Stop implements fader.Port.
func (p *Port) Stop() error {
	p.m.Lock()
	defer p.m.Unlock()
	p.running = false
	p.stops++
	return nil
}

// Close implements fader.Port.
func (p *Port) Close() error {
	p.m.Lock()
	defer p.m.Unlock()
	p.running = false
	p.closed = true
	return nil
}

// Closed reports whether port is closed.
func (p *Port) Closed() bool {
	p.m.Lock()
	defer p.m.Unlock()
	return p.closed
}

// Ports implements fader.Port.
func (p *Port) Ports() []string {
	return p.names
}

// Running reports whether port is started.
func (p *Port) Running() bool {
	p.m.Lock()
	defer p.m.Unlock()
	return p.running
}

// Stops returns number of Stop calls.
func (p *Port) Stops() int {
	p.m.Lock()
	defer p.m.Unlock()
	return p.stops
}

// Render renders one buffer of attached voices.
func (p *Port) Render() ([][]float64, error) {
	size := p.driver.Size
	if size == 0 {
		size = 4
	}
	out := make([][]float64, len(p.names))
	in := make([][]float64, len(p.names))
	for i := range out {
		out[i] = make([]float64, size)
		in[i] = make([]float64, size)
	}
	err := p.Mix.Render(in, out)
	return out, err
}

// Connections mocks fader.Connections.
type Connections struct {
	ErrorOnConnect error

	m         sync.Mutex
	connected map[string][]string
	saved     map[string][]string
}

// Connect implements fader.Connections.
func (c *Connections) Connect(homeDir string, ports []string) error {
	c.m.Lock()
	defer c.m.Unlock()
	if c.ErrorOnConnect != nil {
		return c.ErrorOnConnect
	}
	if c.connected == nil {
		c.connected = make(map[string][]string)
	}
	c.connected[homeDir] = append(c.connected[homeDir], ports...)
	return nil
}

// Save implements fader.Connections.
func (c *Connections) Save(homeDir string, ports []string) error {
	c.m.Lock()
	defer c.m.Unlock()
	if c.saved == nil {
		c.saved = make(map[string][]string)
	}
	c.saved[homeDir] = append([]string(nil), ports...)
	return nil
}

// Connected returns ports connected for home dir.
func (c *Connections) Connected(homeDir string) []string {
	c.m.Lock()
	defer c.m.Unlock()
	return append([]string(nil), c.connected[homeDir]...)
}

// Saved returns ports saved for home dir.
func (c *Connections) Saved(homeDir string) []string {
	c.m.Lock()
	defer c.m.Unlock()
	return append([]string(nil), c.saved[homeDir]...)
}

// Effect mocks fader.Effect. Artifacts are published with Build.
type Effect struct {
	EffectName   string
	ErrorOnErase error

	slot   artifact.Slot
	m      sync.Mutex
	erased int
}

// Name implements fader.Effect.
func (e *Effect) Name() string {
	return e.EffectName
}

// Current implements fader.Effect.
func (e *Effect) Current() *artifact.Artifact {
	return e.slot.Current()
}

// Old implements fader.Effect.
func (e *Effect) Old() *artifact.Artifact {
	return e.slot.Old()
}

// Build publishes a new current artifact rendering constant value. The
// previous one becomes old.
func (e *Effect) Build(value float64) *artifact.Artifact {
	a := artifact.NewLocal(e.EffectName, &Unit{Value: value})
	e.Publish(a)
	return a
}

// Publish makes a current. The previous current becomes old.
func (e *Effect) Publish(a *artifact.Artifact) {
	if !e.slot.Init(a) {
		e.slot.Swap(context.Background(), a)
	}
}

// EraseOldFactory implements fader.Effect.
func (e *Effect) EraseOldFactory() error {
	e.m.Lock()
	defer e.m.Unlock()
	e.erased++
	if e.ErrorOnErase != nil {
		return e.ErrorOnErase
	}
	if old := e.slot.TakeOld(); old != nil {
		if u, ok := old.Handle().(*Unit); ok {
			u.m.Lock()
			u.released = true
			u.m.Unlock()
		}
	}
	return nil
}

// Erased returns number of EraseOldFactory calls.
func (e *Effect) Erased() int {
	e.m.Lock()
	defer e.m.Unlock()
	return e.erased
}

// Router mocks connections.Router.
type Router struct {
	ErrorOnConnect error

	m     sync.Mutex
	wires map[string][]string
}

// Connect implements connections.Router.
func (r *Router) Connect(port, destination string) error {
	r.m.Lock()
	defer r.m.Unlock()
	if r.ErrorOnConnect != nil {
		return r.ErrorOnConnect
	}
	if r.wires == nil {
		r.wires = make(map[string][]string)
	}
	r.wires[port] = append(r.wires[port], destination)
	return nil
}

// Connections implements connections.Router.
func (r *Router) Connections(port string) ([]string, error) {
	r.m.Lock()
	defer r.m.Unlock()
	return append([]string(nil), r.wires[port]...), nil
}
