package compiler_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pipelined/livefx/artifact"
	"github.com/pipelined/livefx/compiler"
	"github.com/pipelined/livefx/internal/mock"
)

func TestParseOptions(t *testing.T) {
	tests := []struct {
		description string
		in          string
		expected    compiler.Options
	}{
		{
			description: "three options",
			in:          "-a -b -c",
			expected:    compiler.Options{"-a", "-b", "-c"},
		},
		{
			description: "empty string",
			in:          "",
			expected:    compiler.Options{},
		},
		{
			description: "no trailing space",
			in:          "-x",
			expected:    compiler.Options{"-x"},
		},
		{
			description: "no dash",
			in:          "vec lv",
			expected:    compiler.Options{},
		},
		{
			description: "option values",
			in:          "-vec -lv 0",
			expected:    compiler.Options{"-vec", "-lv", "0"},
		},
		{
			description: "repeated spaces",
			in:          "-a  -b ",
			expected:    compiler.Options{"-a", "-b"},
		},
	}
	for _, test := range tests {
		options := compiler.ParseOptions(test.in)
		assert.Equal(t, test.expected, options, test.description)
		assert.Equal(t, len(test.expected), compiler.NumberOfParameters(test.in), test.description)
	}
}

func TestParseOptionsKeepsInput(t *testing.T) {
	in := "-a -b"
	_ = compiler.ParseOptions(in)
	_ = compiler.ParseOptions(in)
	assert.Equal(t, "-a -b", in)
	assert.Equal(t, in, compiler.ParseOptions(in).String())
}

func TestOptionsEqual(t *testing.T) {
	assert.True(t, compiler.ParseOptions("-a -b").Equal(compiler.Options{"-a", "-b"}))
	assert.False(t, compiler.ParseOptions("-a -b").Equal(compiler.Options{"-b", "-a"}))
	assert.False(t, compiler.ParseOptions("-a").Equal(compiler.Options{}))
}

func TestArgs(t *testing.T) {
	args := compiler.Args("/app/Resources/Libs/", "/tmp/svg", compiler.ParseOptions("-vec -lv 0"))
	assert.Equal(t, []string{"-I", "/app/Resources/Libs/", "-O", "/tmp/svg", "-vec", "-lv", "0"}, args)
}

func TestLibraryPath(t *testing.T) {
	path, err := compiler.LibraryPath()
	assert.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "Resources/Libs/"))
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "localhost:0", compiler.DefaultEndpoint.String())
	assert.Equal(t, "10.0.0.2:7777", compiler.Endpoint{Host: "10.0.0.2", Port: 7777}.String())
}

func TestDispatcher(t *testing.T) {
	local := &mock.Compiler{}
	remote := &mock.Compiler{}
	d := compiler.Dispatcher{Local: local, Remote: remote}

	a, err := d.Compile(context.Background(), compiler.Request{Name: "fx", Locality: artifact.Local})
	assert.NoError(t, err)
	assert.Equal(t, artifact.Local, a.Kind())
	assert.Equal(t, 1, local.Compiled())
	assert.Equal(t, 0, remote.Compiled())

	r, err := d.Compile(context.Background(), compiler.Request{Name: "fx", Locality: artifact.Remote})
	assert.NoError(t, err)
	assert.Equal(t, artifact.Remote, r.Kind())
	assert.Equal(t, 1, remote.Compiled())

	assert.NoError(t, d.Release(r))
	assert.Equal(t, 1, remote.Released())
	assert.Equal(t, 0, local.Released())

	_, err = compiler.Dispatcher{Local: local}.Compile(context.Background(), compiler.Request{Locality: artifact.Remote})
	assert.True(t, errors.Is(err, compiler.ErrNoCompiler))
}

func TestError(t *testing.T) {
	var err error = &compiler.Error{Message: "1 : ERROR : syntax error"}
	assert.Equal(t, "1 : ERROR : syntax error", err.Error())
	var target *compiler.Error
	assert.True(t, errors.As(err, &target))
}
