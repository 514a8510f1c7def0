//go:build portaudio

// Package portaudio renders chains to the default output device.
package portaudio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/pipelined/livefx/fader"
)

// Driver opens a portaudio stream per port.
type Driver struct {
	sampleRate  int
	bufferSize  int
	numChannels int

	m        sync.Mutex
	shutdown func(error)
}

// Port renders attached voices into its own output stream.
type Port struct {
	fader.Mix
	driver *Driver
	names  []string

	m      sync.Mutex
	stream *portaudio.Stream
	in     [][]float64
	out    [][]float64
}

// New initializes portaudio. Close must be called to terminate it.
func New(sampleRate, bufferSize, numChannels int) (*Driver, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	return &Driver{
		sampleRate:  sampleRate,
		bufferSize:  bufferSize,
		numChannels: numChannels,
	}, nil
}

// Open implements fader.Driver.
func (d *Driver) Open(c fader.ChainConfig) (fader.Port, error) {
	p := &Port{
		driver: d,
		names:  make([]string, d.numChannels),
		in:     buffer(d.numChannels, d.bufferSize),
		out:    buffer(d.numChannels, d.bufferSize),
	}
	for i := range p.names {
		p.names[i] = fmt.Sprintf("%s:out_%d", c.Name, i+1)
	}
	return p, nil
}

// SampleRate implements fader.Driver.
func (d *Driver) SampleRate() int {
	return d.sampleRate
}

// BufferSize implements fader.Driver.
func (d *Driver) BufferSize() int {
	return d.bufferSize
}

// OnShutdown implements fader.ShutdownNotifier.
func (d *Driver) OnShutdown(fn func(error)) {
	d.m.Lock()
	defer d.m.Unlock()
	d.shutdown = fn
}

func (d *Driver) fail(err error) {
	d.m.Lock()
	fn := d.shutdown
	d.m.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Close terminates portaudio.
func (d *Driver) Close() error {
	return portaudio.Terminate()
}

// Start implements fader.Port.
func (p *Port) Start() error {
	p.m.Lock()
	defer p.m.Unlock()
	if p.stream != nil {
		return nil
	}
	s, err := portaudio.OpenDefaultStream(0, len(p.names), float64(p.driver.sampleRate), p.driver.bufferSize, p.process)
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		s.Close()
		return err
	}
	p.stream = s
	return nil
}

// process is the stream callback.
func (p *Port) process(out [][]float32) {
	if err := p.Mix.Render(p.in, p.out); err != nil {
		go p.driver.fail(err)
		return
	}
	for c := range out {
		for i := range out[c] {
			out[c][i] = float32(p.out[c][i])
		}
	}
}

// Stop implements fader.Port.
func (p *Port) Stop() error {
	p.m.Lock()
	defer p.m.Unlock()
	if p.stream == nil {
		return nil
	}
	s := p.stream
	p.stream = nil
	if err := s.Stop(); err != nil {
		return err
	}
	return s.Close()
}

// Close implements fader.Port. Stream of the port is closed by Stop.
func (p *Port) Close() error {
	return p.Stop()
}

// Ports implements fader.Port.
func (p *Port) Ports() []string {
	return p.names
}

func buffer(numChannels, bufferSize int) [][]float64 {
	b := make([][]float64, numChannels)
	for i := range b {
		b[i] = make([]float64, bufferSize)
	}
	return b
}
