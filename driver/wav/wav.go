// Package wav renders chains offline into a wav file.
package wav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/pipelined/livefx/fader"
)

// BitDepth of rendered file.
const BitDepth = 16

// pcm is the wav audio format.
const pcm = 1

// ErrClosed is returned when driver is used after Close.
var ErrClosed = errors.New("driver closed")

// Driver mixes all running ports into a single wav stream.
type Driver struct {
	sampleRate  int
	bufferSize  int
	numChannels int

	m        sync.Mutex
	encoder  *wav.Encoder
	ports    []*Port
	in       [][]float64
	out      [][]float64
	sum      [][]float64
	ib       *audio.IntBuffer
	shutdown func(error)
	closed   bool
	routes   map[string][]string
}

// Port is a named set of outputs of the wav driver.
type Port struct {
	fader.Mix
	driver  *Driver
	names   []string
	running atomic.Bool
}

// New returns driver that writes into w.
func New(w io.WriteSeeker, sampleRate, bufferSize, numChannels int) *Driver {
	d := &Driver{
		sampleRate:  sampleRate,
		bufferSize:  bufferSize,
		numChannels: numChannels,
		encoder:     wav.NewEncoder(w, sampleRate, BitDepth, numChannels, pcm),
		in:          buffer(numChannels, bufferSize),
		out:         buffer(numChannels, bufferSize),
		sum:         buffer(numChannels, bufferSize),
		ib: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: numChannels,
				SampleRate:  sampleRate,
			},
			Data:           make([]int, bufferSize*numChannels),
			SourceBitDepth: BitDepth,
		},
	}
	return d
}

func buffer(numChannels, bufferSize int) [][]float64 {
	b := make([][]float64, numChannels)
	for i := range b {
		b[i] = make([]float64, bufferSize)
	}
	return b
}

// Open implements fader.Driver.
func (d *Driver) Open(c fader.ChainConfig) (fader.Port, error) {
	d.m.Lock()
	defer d.m.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	p := &Port{driver: d, names: make([]string, d.numChannels)}
	for i := range p.names {
		p.names[i] = fmt.Sprintf("%s:out_%d", c.Name, i+1)
	}
	d.ports = append(d.ports, p)
	return p, nil
}

// NumPorts returns number of ports that are not closed.
func (d *Driver) NumPorts() int {
	d.m.Lock()
	defer d.m.Unlock()
	return len(d.ports)
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

// Render writes n buffers of running ports.
func (d *Driver) Render(n int) error {
	d.m.Lock()
	defer d.m.Unlock()
	if d.closed {
		return ErrClosed
	}
	for i := 0; i < n; i++ {
		if err := d.render(); err != nil {
			return err
		}
	}
	return nil
}

// render must be called under lock.
func (d *Driver) render() error {
	silence(d.sum)
	for _, p := range d.ports {
		if !p.running.Load() {
			continue
		}
		if err := p.Mix.Render(d.in, d.out); err != nil {
			return err
		}
		for c := range d.sum {
			for i := range d.sum[c] {
				d.sum[c][i] += d.out[c][i]
			}
		}
	}
	interleave(d.sum, d.ib.Data)
	return d.encoder.Write(d.ib)
}

// Run renders a buffer every buffer period until ctx is done. Render
// errors stop the driver and are reported to shutdown callback.
func (d *Driver) Run(ctx context.Context) error {
	period := time.Duration(d.bufferSize) * time.Second / time.Duration(d.sampleRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.Render(1); err != nil {
				d.m.Lock()
				fn := d.shutdown
				d.m.Unlock()
				if fn != nil {
					fn(err)
				}
				return err
			}
		}
	}
}

// Close flushes wav header. Driver cannot be used after.
func (d *Driver) Close() error {
	d.m.Lock()
	defer d.m.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for _, p := range d.ports {
		p.running.Store(false)
	}
	return d.encoder.Close()
}

// Connect records route of port. Rendered file has fixed outputs, routes
// are only kept to be saved.
func (d *Driver) Connect(port, destination string) error {
	d.m.Lock()
	defer d.m.Unlock()
	if d.routes == nil {
		d.routes = make(map[string][]string)
	}
	d.routes[port] = append(d.routes[port], destination)
	return nil
}

// Connections returns recorded routes of port.
func (d *Driver) Connections(port string) ([]string, error) {
	d.m.Lock()
	defer d.m.Unlock()
	return append([]string(nil), d.routes[port]...), nil
}

// Start implements fader.Port.
func (p *Port) Start() error {
	p.running.Store(true)
	return nil
}

// Stop implements fader.Port.
func (p *Port) Stop() error {
	p.running.Store(false)
	return nil
}

// Close implements fader.Port.
func (p *Port) Close() error {
	p.running.Store(false)
	d := p.driver
	d.m.Lock()
	defer d.m.Unlock()
	for i, port := range d.ports {
		if port == p {
			d.ports = append(d.ports[:i], d.ports[i+1:]...)
			break
		}
	}
	return nil
}

// Ports implements fader.Port.
func (p *Port) Ports() []string {
	return p.names
}

// interleave converts float samples into clipped integer samples.
func interleave(b [][]float64, data []int) {
	const max = 1<<(BitDepth-1) - 1
	numChannels := len(b)
	for c := range b {
		for i, v := range b[c] {
			v = math.Max(-1, math.Min(1, v))
			data[i*numChannels+c] = int(v * max)
		}
	}
}

func silence(b [][]float64) {
	for i := range b {
		for j := range b[i] {
			b[i][j] = 0
		}
	}
}
