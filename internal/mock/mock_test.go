package mock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelined/livefx/artifact"
	"github.com/pipelined/livefx/compiler"
	"github.com/pipelined/livefx/fader"
	"github.com/pipelined/livefx/internal/mock"
)

var errTest = errors.New("test error")

func TestCompiler(t *testing.T) {
	c := &mock.Compiler{}
	a, err := c.Compile(context.Background(), compiler.Request{Name: "fx", Locality: artifact.Local})
	require.NoError(t, err)
	assert.Equal(t, 1.0, a.Handle().(*mock.Unit).Value)
	assert.Equal(t, artifact.Local, a.Kind())

	_, err = c.Restore("fx", "/cache/fx")
	assert.Error(t, err)
	require.NoError(t, c.Persist(a, "/cache/fx"))
	restored, err := c.Restore("fx", "/cache/fx")
	require.NoError(t, err)
	assert.Equal(t, a.Handle(), restored.Handle())

	require.NoError(t, c.Release(a))
	assert.True(t, a.Handle().(*mock.Unit).Released())

	c.ErrorOnCompile = errTest
	_, err = c.Compile(context.Background(), compiler.Request{Name: "fx"})
	assert.Equal(t, errTest, err)
	assert.Equal(t, 1, c.Compiled())
	assert.Len(t, c.Requests(), 2)
}

func TestUnit(t *testing.T) {
	u := &mock.Unit{Value: 0.5}
	out := [][]float64{make([]float64, 3), make([]float64, 3)}
	require.NoError(t, u.Process(nil, out))
	assert.Equal(t, [][]float64{{0.5, 0.5, 0.5}, {0.5, 0.5, 0.5}}, out)
}

func TestDriver(t *testing.T) {
	d := &mock.Driver{Size: 2, NumChannels: 2}
	p, err := d.Open(fader.ChainConfig{Name: "main"})
	require.NoError(t, err)
	assert.Equal(t, []string{"main:out_1", "main:out_2"}, p.Ports())

	p.Attach(fader.NewVoice(artifact.NewLocal("fx", &mock.Unit{Value: 1}), 0.5))
	out, err := d.Ports()[0].Render()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.5, 0.5}, {0.5, 0.5}}, out)

	var shutdown error
	d.OnShutdown(func(err error) { shutdown = err })
	d.Shutdown(errTest)
	assert.Equal(t, errTest, shutdown)

	d.ErrorOnOpen = errTest
	_, err = d.Open(fader.ChainConfig{Name: "fade"})
	assert.Equal(t, errTest, err)
}

func TestEffect(t *testing.T) {
	e := &mock.Effect{EffectName: "fx"}
	assert.Nil(t, e.Current())
	first := e.Build(1)
	assert.Equal(t, first, e.Current())
	assert.Nil(t, e.Old())

	second := e.Build(2)
	assert.Equal(t, second, e.Current())
	assert.Equal(t, first, e.Old())
	require.NoError(t, e.EraseOldFactory())
	assert.Nil(t, e.Old())
	assert.True(t, first.Handle().(*mock.Unit).Released())
	assert.Equal(t, 1, e.Erased())
}
