package command_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelined/livefx/artifact"
	"github.com/pipelined/livefx/compiler"
	"github.com/pipelined/livefx/compiler/command"
)

// script writes a fake compiler into dir. It copies the source into the
// file following -o, or fails with the source content on stderr when the
// source contains "error".
func script(t *testing.T, dir string) string {
	if runtime.GOOS == "windows" {
		t.Skip("shell script compiler")
	}
	path := filepath.Join(dir, "fakec")
	body := `#!/bin/sh
out=""
src=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift ;;
    *) src="$1" ;;
  esac
  shift
done
if grep -q error "$src"; then
  cat "$src" >&2
  exit 1
fi
cp "$src" "$out"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))
	return path
}

func TestCompile(t *testing.T) {
	dir := t.TempDir()
	c := command.New(script(t, dir))
	src := filepath.Join(dir, "fx.dsp")
	require.NoError(t, os.WriteFile(src, []byte("process = _;"), 0644))

	a, err := c.Compile(context.Background(), compiler.Request{
		Name:     "fx",
		Source:   src,
		Args:     compiler.Args(dir, dir, compiler.ParseOptions("-vec")),
		OptLevel: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, artifact.Local, a.Kind())
	u := a.Handle().(*command.Unit)
	assert.Equal(t, "process = _;", string(u.IR))

	path := filepath.Join(dir, "cache", "fx")
	require.NoError(t, c.Persist(a, path))
	restored, err := c.Restore("fx", path)
	require.NoError(t, err)
	assert.Equal(t, u.IR, restored.Handle().(*command.Unit).IR)

	assert.NoError(t, c.Release(a))
	assert.Nil(t, u.IR)
}

func TestCompileError(t *testing.T) {
	dir := t.TempDir()
	c := command.New(script(t, dir))
	src := filepath.Join(dir, "fx.dsp")
	require.NoError(t, os.WriteFile(src, []byte("syntax error"), 0644))

	_, err := c.Compile(context.Background(), compiler.Request{Name: "fx", Source: src})
	var compileErr *compiler.Error
	require.True(t, errors.As(err, &compileErr))
	assert.Equal(t, "syntax error", compileErr.Message)
}

func TestCompileRemote(t *testing.T) {
	_, err := command.New("").Compile(context.Background(), compiler.Request{Locality: artifact.Remote})
	assert.True(t, errors.Is(err, compiler.ErrNoCompiler))
}
