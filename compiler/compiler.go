// Package compiler defines the contract of the DSP compiler service and
// assembles compiler invocations for effects.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/pipelined/livefx/artifact"
)

// ErrRemoteUnavailable is returned when the remote compiler endpoint
// can't be reached.
var ErrRemoteUnavailable = errors.New("remote compiler unavailable")

// ErrNoCompiler is returned by Dispatcher when no compiler is configured
// for the requested locality.
var ErrNoCompiler = errors.New("no compiler for locality")

// Error is a compilation failure. Message is the compiler output as is.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Endpoint identifies the remote compiler machine.
type Endpoint struct {
	Host string
	Port int
}

// DefaultEndpoint is used until a remote machine is configured.
var DefaultEndpoint = Endpoint{Host: "localhost"}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Request is a single compiler invocation.
type Request struct {
	Name     string
	Source   string
	Args     []string
	OptLevel int
	Locality artifact.Kind
	Endpoint Endpoint // only used for remote locality.
}

// Compiler turns effect sources into artifacts.
// Compile is synchronous and may be slow, it must never be called from
// the rendering context.
type Compiler interface {
	Compile(context.Context, Request) (*artifact.Artifact, error)
	Persist(a *artifact.Artifact, path string) error
	Release(a *artifact.Artifact) error
}

// Restorer is implemented by compilers able to load a persisted artifact.
type Restorer interface {
	Restore(name, path string) (*artifact.Artifact, error)
}

// Dispatcher routes requests to the local or remote compiler.
type Dispatcher struct {
	Local  Compiler
	Remote Compiler
}

func (d Dispatcher) compiler(k artifact.Kind) (Compiler, error) {
	var c Compiler
	switch k {
	case artifact.Local:
		c = d.Local
	case artifact.Remote:
		c = d.Remote
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCompiler, k)
	}
	return c, nil
}

// Compile dispatches request by its locality.
func (d Dispatcher) Compile(ctx context.Context, r Request) (*artifact.Artifact, error) {
	c, err := d.compiler(r.Locality)
	if err != nil {
		return nil, err
	}
	return c.Compile(ctx, r)
}

// Persist dispatches by artifact kind.
func (d Dispatcher) Persist(a *artifact.Artifact, path string) error {
	c, err := d.compiler(a.Kind())
	if err != nil {
		return err
	}
	return c.Persist(a, path)
}

// Release dispatches by artifact kind.
func (d Dispatcher) Release(a *artifact.Artifact) error {
	c, err := d.compiler(a.Kind())
	if err != nil {
		return err
	}
	return c.Release(a)
}

// Restore uses local compiler if it implements Restorer.
func (d Dispatcher) Restore(name, path string) (*artifact.Artifact, error) {
	r, ok := d.Local.(Restorer)
	if !ok {
		return nil, fmt.Errorf("%w: restore", ErrNoCompiler)
	}
	return r.Restore(name, path)
}

const libraryDir = "Resources/Libs"

// LibraryPath resolves the library include path from the location of the
// running executable.
func LibraryPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	dir := filepath.Dir(exe)
	// bundles keep the binary one level below Resources.
	if runtime.GOOS == "darwin" {
		dir = filepath.Dir(dir)
	}
	return filepath.Join(dir, libraryDir) + string(filepath.Separator), nil
}

// Args assembles compiler arguments: include path, diagram output path
// and user options in their order.
func Args(libraryPath, svgDir string, options Options) []string {
	args := make([]string, 0, 4+len(options))
	args = append(args, "-I", libraryPath, "-O", svgDir)
	return append(args, options...)
}
