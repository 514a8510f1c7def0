// Package mock provides mocks for engine collaborators and allows to
// execute integration tests without a DSP compiler or audio hardware.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/pipelined/livefx/artifact"
	"github.com/pipelined/livefx/compiler"
)

// Unit mocks a compiled DSP unit. It fills output with constant Value.
type Unit struct {
	Value  float64
	Source string
	Args   []string
	// Entered receives a value every time Process starts, if there's room.
	Entered chan struct{}
	// Hold blocks Process until it's closed.
	Hold chan struct{}

	m        sync.Mutex
	released bool
}

// Process implements artifact.Processor.
func (u *Unit) Process(in, out [][]float64) error {
	if u.Entered != nil {
		select {
		case u.Entered <- struct{}{}:
		default:
		}
	}
	if u.Hold != nil {
		<-u.Hold
	}
	for i := range out {
		for j := range out[i] {
			out[i][j] = u.Value
		}
	}
	return nil
}

// Released reports whether compiler released this unit.
func (u *Unit) Released() bool {
	u.m.Lock()
	defer u.m.Unlock()
	return u.released
}

// Compiler mocks compiler.Compiler and compiler.Restorer interfaces.
// Every successful compilation produces a unit with value equal to the
// number of compilations made so far.
type Compiler struct {
	Delay          time.Duration
	ErrorOnCompile error
	ErrorOnPersist error
	ErrorOnRelease error
	ErrorOnRestore error
	// OnCompile is called before every compilation.
	OnCompile func(compiler.Request)

	m         sync.Mutex
	requests  []compiler.Request
	compiled  int
	persisted map[string]*artifact.Artifact
	released  int
	restored  int
}

// Compile implements compiler.Compiler.
func (c *Compiler) Compile(ctx context.Context, r compiler.Request) (*artifact.Artifact, error) {
	if c.OnCompile != nil {
		c.OnCompile(r)
	}
	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.m.Lock()
	defer c.m.Unlock()
	c.requests = append(c.requests, r)
	if c.ErrorOnCompile != nil {
		return nil, c.ErrorOnCompile
	}
	c.compiled++
	u := &Unit{
		Value:  float64(c.compiled),
		Source: r.Source,
		Args:   r.Args,
	}
	return artifact.New(r.Locality, r.Name, u), nil
}

// Persist implements compiler.Compiler.
func (c *Compiler) Persist(a *artifact.Artifact, path string) error {
	c.m.Lock()
	defer c.m.Unlock()
	if c.ErrorOnPersist != nil {
		return c.ErrorOnPersist
	}
	if c.persisted == nil {
		c.persisted = make(map[string]*artifact.Artifact)
	}
	c.persisted[path] = a
	return nil
}

// Release implements compiler.Compiler.
func (c *Compiler) Release(a *artifact.Artifact) error {
	c.m.Lock()
	defer c.m.Unlock()
	if c.ErrorOnRelease != nil {
		return c.ErrorOnRelease
	}
	if u, ok := a.Handle().(*Unit); ok {
		u.m.Lock()
		u.released = true
		u.m.Unlock()
	}
	c.released++
	return nil
}

// Restore implements compiler.Restorer. Only persisted artifacts can be restored.
func (c *Compiler) Restore(name, path string) (*artifact.Artifact, error) {
	c.m.Lock()
	defer c.m.Unlock()
	if c.ErrorOnRestore != nil {
		return nil, c.ErrorOnRestore
	}
	a, ok := c.persisted[path]
	if !ok {
		return nil, &compiler.Error{Message: "no artifact at " + path}
	}
	c.restored++
	return artifact.NewLocal(name, a.Handle()), nil
}

// Compiled returns number of successful compilations.
func (c *Compiler) Compiled() int {
	c.m.Lock()
	defer c.m.Unlock()
	return c.compiled
}

// Released returns number of released artifacts.
func (c *Compiler) Released() int {
	c.m.Lock()
	defer c.m.Unlock()
	return c.released
}

// Restored returns number of artifacts restored from cache.
func (c *Compiler) Restored() int {
	c.m.Lock()
	defer c.m.Unlock()
	return c.restored
}

// Persisted returns artifact persisted at path.
func (c *Compiler) Persisted(path string) *artifact.Artifact {
	c.m.Lock()
	defer c.m.Unlock()
	return c.persisted[path]
}

// Requests returns a copy of all compile requests.
func (c *Compiler) Requests() []compiler.Request {
	c.m.Lock()
	defer c.m.Unlock()
	return append([]compiler.Request(nil), c.requests...)
}
