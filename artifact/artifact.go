/*
Package artifact holds the results of effect compilation.

An Artifact is either a local unit, executed in-process, or a handle to a
unit hosted by a remote compiler. Both kinds are held in the same Slot,
which publishes the live artifact with a single atomic store, so the
rendering side never observes a partially built value.
*/
package artifact

import (
	"fmt"
	"time"

	"github.com/rs/xid"
)

// Kind identifies where the compiled unit lives.
type Kind int

const (
	// Local units are executed in-process.
	Local Kind = iota
	// Remote units are hosted by a remote compiler endpoint.
	Remote
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case Remote:
		return "remote"
	}
	return "unknown"
}

// Processor is implemented by handles that can render audio in-process.
// in and out are channel-major buffers of the same frame count.
type Processor interface {
	Process(in, out [][]float64) error
}

// Artifact is an opaque compilation result. Handle is owned by the
// compiler that produced it and is released through the same compiler.
type Artifact struct {
	id      string
	kind    Kind
	name    string
	handle  interface{}
	builtAt time.Time
}

// New returns an artifact of provided kind wrapping compiler handle.
func New(kind Kind, name string, handle interface{}) *Artifact {
	return &Artifact{
		id:      xid.New().String(),
		kind:    kind,
		name:    name,
		handle:  handle,
		builtAt: time.Now(),
	}
}

// NewLocal wraps an in-process unit.
func NewLocal(name string, handle interface{}) *Artifact {
	return New(Local, name, handle)
}

// NewRemote wraps a remote unit handle.
func NewRemote(name string, handle interface{}) *Artifact {
	return New(Remote, name, handle)
}

// ID returns unique id of the artifact.
func (a *Artifact) ID() string {
	return a.id
}

// Kind returns artifact kind.
func (a *Artifact) Kind() Kind {
	return a.kind
}

// Name of the effect this artifact was built for.
func (a *Artifact) Name() string {
	return a.name
}

// Handle returns the compiler-specific handle.
func (a *Artifact) Handle() interface{} {
	return a.handle
}

// BuiltAt returns the time artifact was created.
func (a *Artifact) BuiltAt() time.Time {
	return a.builtAt
}

// Processor returns the handle as Processor if it can render in-process.
func (a *Artifact) Processor() (Processor, bool) {
	if a == nil {
		return nil, false
	}
	p, ok := a.handle.(Processor)
	return p, ok
}

func (a *Artifact) String() string {
	if a == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %s %s", a.kind, a.name, a.id)
}
