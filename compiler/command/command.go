// Package command implements a local compiler that runs a DSP compiler
// executable and keeps the produced intermediate representation in memory.
package command

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pipelined/livefx/artifact"
	"github.com/pipelined/livefx/compiler"
	"github.com/pipelined/livefx/log"
)

// Unit is the compiled intermediate representation of an effect.
type Unit struct {
	IR []byte
}

// Compiler runs Path with request arguments followed by optimization
// level, output and source: <path> <args...> <OptFlag> <level> -o <out> <source>.
type Compiler struct {
	Path    string
	OptFlag string
	log     log.Logger
}

const (
	defaultPath    = "faust"
	defaultOptFlag = "-opt"
)

// New returns compiler which runs provided executable.
// Empty path defaults to faust.
func New(path string) *Compiler {
	if path == "" {
		path = defaultPath
	}
	return &Compiler{
		Path:    path,
		OptFlag: defaultOptFlag,
		log:     log.GetLogger(),
	}
}

// Compile implements compiler.Compiler.
func (c *Compiler) Compile(ctx context.Context, r compiler.Request) (*artifact.Artifact, error) {
	if r.Locality != artifact.Local {
		return nil, fmt.Errorf("%w: %v", compiler.ErrNoCompiler, r.Locality)
	}
	out, err := os.CreateTemp("", "livefx-"+r.Name+"-*.ir")
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	out.Close()
	defer os.Remove(out.Name())

	args := append([]string{}, r.Args...)
	args = append(args, c.OptFlag, strconv.Itoa(r.OptLevel), "-o", out.Name(), r.Source)
	cmd := exec.CommandContext(ctx, c.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	c.log.Debug(fmt.Sprintf("compile %v: %v %v", r.Name, c.Path, strings.Join(args, " ")))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, &compiler.Error{Message: msg}
	}
	ir, err := os.ReadFile(out.Name())
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	return artifact.NewLocal(r.Name, &Unit{IR: ir}), nil
}

// Persist writes artifact IR into path.
func (c *Compiler) Persist(a *artifact.Artifact, path string) error {
	u, ok := a.Handle().(*Unit)
	if !ok {
		return fmt.Errorf("persist %v: not a command unit", a)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, u.IR, 0644)
}

// Release drops the IR.
func (c *Compiler) Release(a *artifact.Artifact) error {
	if u, ok := a.Handle().(*Unit); ok {
		u.IR = nil
	}
	return nil
}

// Restore reads IR persisted at path.
func (c *Compiler) Restore(name, path string) (*artifact.Artifact, error) {
	ir, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return artifact.NewLocal(name, &Unit{IR: ir}), nil
}
