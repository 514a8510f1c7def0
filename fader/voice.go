package fader

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/pipelined/livefx/artifact"
)

// Gain is a linear amplitude factor safe for concurrent use.
type Gain struct {
	bits atomic.Uint64
}

// Load returns the gain value.
func (g *Gain) Load() float64 {
	return math.Float64frombits(g.bits.Load())
}

// Store sets the gain value.
func (g *Gain) Store(v float64) {
	g.bits.Store(math.Float64bits(v))
}

// Voice is one artifact rendered at some gain. Rendering side only
// performs atomic loads.
type Voice struct {
	artifact atomic.Pointer[artifact.Artifact]
	gain     Gain
}

// NewVoice returns a voice bound to artifact a with gain g.
func NewVoice(a *artifact.Artifact, g float64) *Voice {
	v := &Voice{}
	v.artifact.Store(a)
	v.gain.Store(g)
	return v
}

// Bind replaces rendered artifact.
func (v *Voice) Bind(a *artifact.Artifact) {
	v.artifact.Store(a)
}

// Artifact returns rendered artifact.
func (v *Voice) Artifact() *artifact.Artifact {
	return v.artifact.Load()
}

// Gain returns current gain.
func (v *Voice) Gain() float64 {
	return v.gain.Load()
}

// SetGain sets gain.
func (v *Voice) SetGain(g float64) {
	v.gain.Store(g)
}

// Render processes in into out and applies gain. Artifacts without
// in-process processor, like remote ones, render silence.
func (v *Voice) Render(in, out [][]float64) error {
	p, ok := v.Artifact().Processor()
	if !ok {
		silence(out)
		return nil
	}
	if err := p.Process(in, out); err != nil {
		return err
	}
	g := v.Gain()
	for i := range out {
		for j := range out[i] {
			out[i][j] *= g
		}
	}
	return nil
}

// Mix sums the output of attached voices. It's embedded by driver ports.
type Mix struct {
	m      sync.Mutex
	voices atomic.Pointer[[]*Voice]
	// cycle is held while voices are rendered.
	cycle sync.Mutex

	// scratch is only used by rendering goroutine.
	scratch [][]float64
}

// Attach adds voice to the mix.
func (m *Mix) Attach(v *Voice) {
	m.m.Lock()
	defer m.m.Unlock()
	var voices []*Voice
	if p := m.voices.Load(); p != nil {
		voices = append(voices, *p...)
	}
	voices = append(voices, v)
	m.voices.Store(&voices)
}

// Detach removes voice from the mix.
func (m *Mix) Detach(v *Voice) {
	m.m.Lock()
	defer m.m.Unlock()
	p := m.voices.Load()
	if p == nil {
		return
	}
	voices := make([]*Voice, 0, len(*p))
	for _, attached := range *p {
		if attached != v {
			voices = append(voices, attached)
		}
	}
	m.voices.Store(&voices)
	m.Sync()
}

// Sync waits for the render cycle in progress. Voices detached or rebound
// before Sync are not rendered by any cycle after it returns.
func (m *Mix) Sync() {
	m.cycle.Lock()
	m.cycle.Unlock()
}

// Voices returns attached voices.
func (m *Mix) Voices() []*Voice {
	if p := m.voices.Load(); p != nil {
		return *p
	}
	return nil
}

// Render sums all voices into out. Must be called from a single goroutine.
func (m *Mix) Render(in, out [][]float64) error {
	m.cycle.Lock()
	defer m.cycle.Unlock()
	silence(out)
	voices := m.Voices()
	if len(voices) == 0 {
		return nil
	}
	m.scratch = resize(m.scratch, len(out), len(out[0]))
	for _, v := range voices {
		if err := v.Render(in, m.scratch); err != nil {
			return err
		}
		for i := range out {
			for j := range out[i] {
				out[i][j] += m.scratch[i][j]
			}
		}
	}
	return nil
}

// resize returns buffer with provided dimensions, reusing b when possible.
func resize(b [][]float64, numChannels, bufferSize int) [][]float64 {
	if len(b) == numChannels && (numChannels == 0 || len(b[0]) == bufferSize) {
		return b
	}
	b = make([][]float64, numChannels)
	for i := range b {
		b[i] = make([]float64, bufferSize)
	}
	return b
}

func silence(b [][]float64) {
	for i := range b {
		for j := range b[i] {
			b[i][j] = 0
		}
	}
}
