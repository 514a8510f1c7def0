package fader_test

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pipelined/livefx/artifact"
	"github.com/pipelined/livefx/fader"
	"github.com/pipelined/livefx/internal/mock"
	"github.com/pipelined/livefx/metric"
)

const duration = 20 * time.Millisecond

var settings = fader.NetSettings{
	Address: "225.3.19.154",
	Port:    19000,
	MTU:     1500,
	Latency: 5,
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newManager(t *testing.T, c fader.Cardinality, d *mock.Driver, options ...fader.Option) *fader.Manager {
	options = append([]fader.Option{
		fader.WithDuration(duration),
		fader.WithSettings(settings),
		fader.WithMetric(metric.New(prometheus.NewRegistry())),
	}, options...)
	m := fader.NewManager(d, c, options...)
	require.NoError(t, m.InitAudio("fx"))
	return m
}

func render(t *testing.T, p *mock.Port) float64 {
	out, err := p.Render()
	require.NoError(t, err)
	return out[0][0]
}

func TestCrossfade(t *testing.T) {
	tests := []struct {
		cardinality fader.Cardinality
		ports       int
	}{
		{
			cardinality: fader.Single,
			ports:       1,
		},
		{
			cardinality: fader.Dual,
			ports:       2,
		},
	}
	for _, test := range tests {
		t.Run(test.cardinality.String(), func(t *testing.T) {
			d := &mock.Driver{Rate: 44100, Size: 8}
			m := newManager(t, test.cardinality, d)
			e := &mock.Effect{EffectName: "fx"}
			e.Build(1)
			require.NoError(t, m.SetDSP(e))
			require.NoError(t, m.Start())
			main := d.Ports()[0]
			assert.Equal(t, 1.0, render(t, main))

			first := e.Current()
			e.Build(2)
			require.NoError(t, m.InitFadeAudio("fx", e))
			assert.Equal(t, fader.Idle, m.State())
			assert.Len(t, d.Ports(), test.ports)
			fade := d.Ports()[test.ports-1]
			assert.True(t, fade.Running())
			assert.Equal(t, 0.0, m.Fade().Voice().Gain())

			require.NoError(t, m.StartFade())
			assert.Equal(t, fader.Fading, m.State())
			assert.Equal(t, 0, e.Erased())
			require.NoError(t, m.WaitEndFade())

			assert.Equal(t, fader.Idle, m.State())
			assert.Equal(t, 1, e.Erased())
			assert.Nil(t, e.Old())
			assert.True(t, first.Handle().(*mock.Unit).Released())
			assert.Nil(t, m.Fade())
			assert.Equal(t, e.Current(), m.Main().Voice().Artifact())
			assert.Equal(t, 1.0, m.Main().Voice().Gain())
			assert.Equal(t, 2.0, render(t, fade))
			if test.cardinality == fader.Dual {
				assert.False(t, main.Running())
				assert.Equal(t, 1, main.Stops())
				assert.True(t, main.Closed())
			} else {
				assert.True(t, main.Running())
				assert.False(t, main.Closed())
			}

			// waiting again is a no-op.
			require.NoError(t, m.WaitEndFade())
			assert.Equal(t, 1, e.Erased())
			require.NoError(t, m.Stop())
		})
	}
}

func TestInitFadeAudioRejected(t *testing.T) {
	d := &mock.Driver{}
	m := newManager(t, fader.Dual, d)
	e := &mock.Effect{EffectName: "fx"}

	// not built yet.
	assert.Equal(t, fader.ErrNotBuilt, m.InitFadeAudio("fx", e))
	assert.Equal(t, fader.ErrNotBuilt, m.SetDSP(e))
	e.Build(1)
	require.NoError(t, m.SetDSP(e))
	require.NoError(t, m.Start())
	assert.Equal(t, fader.ErrNoFade, m.StartFade())

	e.Build(2)
	require.NoError(t, m.InitFadeAudio("fx", e))
	fade := m.Fade()
	// second fade audio while fade chain is allocated.
	assert.Equal(t, fader.ErrFadeInProgress, m.InitFadeAudio("fx", e))
	require.NoError(t, m.StartFade())
	main := m.Main()
	assert.Equal(t, fader.ErrFadeInProgress, m.InitFadeAudio("fx", e))
	assert.Equal(t, fader.ErrFadeInProgress, m.StartFade())
	assert.Equal(t, fader.ErrFadeInProgress, m.SetDSP(e))
	assert.Equal(t, main, m.Main())
	assert.Equal(t, fade, m.Fade())
	assert.Len(t, d.Ports(), 2)
	require.NoError(t, m.WaitEndFade())
	require.NoError(t, m.Stop())
}

func TestSettingsMismatch(t *testing.T) {
	d := &mock.Driver{}
	m := newManager(t, fader.Dual, d)
	assert.Equal(t, settings, d.Configs()[0].Settings)
	e := &mock.Effect{EffectName: "fx"}
	e.Build(1)

	changed := settings
	changed.Latency = 10
	m.SetSettings(changed)
	assert.Equal(t, fader.ErrSettingsMismatch, m.InitFadeAudio("fx", e))
	assert.Nil(t, m.Fade())

	m.SetSettings(settings)
	require.NoError(t, m.InitFadeAudio("fx", e))
	require.NoError(t, m.CancelFade())
	assert.Nil(t, m.Fade())
	assert.Equal(t, 1, d.Ports()[1].Stops())
}

func TestInvalidSettings(t *testing.T) {
	tests := []struct {
		description string
		settings    fader.NetSettings
	}{
		{
			description: "empty address",
			settings:    fader.NetSettings{Port: 19000, MTU: 1500},
		},
		{
			description: "port out of range",
			settings:    fader.NetSettings{Address: "localhost", Port: 70000, MTU: 1500},
		},
		{
			description: "zero mtu",
			settings:    fader.NetSettings{Address: "localhost", Port: 19000},
		},
		{
			description: "negative latency",
			settings:    fader.NetSettings{Address: "localhost", Port: 19000, MTU: 1500, Latency: -1},
		},
	}
	for _, test := range tests {
		m := fader.NewManager(&mock.Driver{}, fader.Dual, fader.WithSettings(test.settings))
		err := m.InitAudio("fx")
		assert.True(t, errors.Is(err, fader.ErrInvalidSettings), test.description)
	}
	assert.NoError(t, settings.Validate())
}

func TestNoAudio(t *testing.T) {
	m := fader.NewManager(&mock.Driver{}, fader.Single)
	e := &mock.Effect{EffectName: "fx"}
	e.Build(1)
	assert.Equal(t, fader.ErrNoAudio, m.SetDSP(e))
	assert.Equal(t, fader.ErrNoAudio, m.Start())
	assert.Equal(t, fader.ErrNoAudio, m.InitFadeAudio("fx", e))
	assert.Equal(t, fader.ErrNoAudio, m.ConnectAudio("home"))
	require.NoError(t, m.InitAudio("fx"))
	assert.Equal(t, fader.ErrAudioInitialized, m.InitAudio("fx"))
}

func TestConcurrentWaiters(t *testing.T) {
	d := &mock.Driver{}
	m := newManager(t, fader.Single, d)
	e := &mock.Effect{EffectName: "fx"}
	e.Build(1)
	require.NoError(t, m.SetDSP(e))
	e.Build(2)
	require.NoError(t, m.InitFadeAudio("fx", e))
	require.NoError(t, m.StartFade())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.WaitEndFade())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, e.Erased())
	assert.Equal(t, fader.Idle, m.State())
}

func TestEraseError(t *testing.T) {
	d := &mock.Driver{}
	m := newManager(t, fader.Single, d)
	errTest := errors.New("test")
	e := &mock.Effect{EffectName: "fx", ErrorOnErase: errTest}
	e.Build(1)
	require.NoError(t, m.SetDSP(e))
	e.Build(2)
	require.NoError(t, m.InitFadeAudio("fx", e))
	require.NoError(t, m.StartFade())
	assert.Equal(t, errTest, m.WaitEndFade())
	assert.Equal(t, fader.Idle, m.State())
}

func TestEraseWaitsForRender(t *testing.T) {
	d := &mock.Driver{}
	m := newManager(t, fader.Single, d)
	e := &mock.Effect{EffectName: "fx"}
	unit := &mock.Unit{Value: 1, Entered: make(chan struct{}, 1), Hold: make(chan struct{})}
	e.Publish(artifact.NewLocal("fx", unit))
	require.NoError(t, m.SetDSP(e))
	require.NoError(t, m.Start())
	port := d.Ports()[0]

	rendered := make(chan error)
	go func() {
		_, err := port.Render()
		rendered <- err
	}()
	<-unit.Entered

	e.Build(2)
	require.NoError(t, m.InitFadeAudio("fx", e))
	require.NoError(t, m.StartFade())
	ended := make(chan error)
	go func() {
		ended <- m.WaitEndFade()
	}()

	// ramp is over, but the old unit is still processing.
	time.Sleep(3 * duration)
	assert.Equal(t, 0, e.Erased())
	assert.False(t, unit.Released())

	close(unit.Hold)
	require.NoError(t, <-rendered)
	require.NoError(t, <-ended)
	assert.Equal(t, 1, e.Erased())
	assert.True(t, unit.Released())
	assert.Equal(t, 2.0, render(t, port))
}

func TestSwitchKeepsRenderedArtifact(t *testing.T) {
	for _, c := range []fader.Cardinality{fader.Single, fader.Dual} {
		t.Run(c.String(), func(t *testing.T) {
			d := &mock.Driver{}
			m := newManager(t, c, d)
			reverb := &mock.Effect{EffectName: "reverb"}
			reverb.Build(1)
			require.NoError(t, m.SetDSP(reverb))
			require.NoError(t, m.Start())

			echo := &mock.Effect{EffectName: "echo"}
			first := echo.Build(2)
			require.NoError(t, m.InitFadeAudio("echo", echo))
			require.NoError(t, m.StartFade())
			// echo is rebuilt while it's faded in.
			echo.Build(3)
			require.NoError(t, m.WaitEndFade())

			assert.Equal(t, first, m.Main().Voice().Artifact())
			assert.Equal(t, first, echo.Old())
			assert.False(t, first.Handle().(*mock.Unit).Released())
			assert.Zero(t, echo.Erased())
			assert.Zero(t, reverb.Erased())

			// next fade moves audio off the first build and erases it.
			require.NoError(t, m.InitFadeAudio("echo", echo))
			require.NoError(t, m.StartFade())
			require.NoError(t, m.WaitEndFade())
			assert.Equal(t, echo.Current(), m.Main().Voice().Artifact())
			assert.True(t, first.Handle().(*mock.Unit).Released())
			assert.Equal(t, 1, echo.Erased())
			require.NoError(t, m.Stop())
		})
	}
}

func TestCancelFadeClosesPort(t *testing.T) {
	d := &mock.Driver{}
	m := newManager(t, fader.Dual, d)
	e := &mock.Effect{EffectName: "fx"}
	e.Build(1)
	require.NoError(t, m.SetDSP(e))
	require.NoError(t, m.Start())

	d.ErrorOnStart = errors.New("no device")
	assert.Equal(t, d.ErrorOnStart, m.InitFadeAudio("fade", e))
	assert.True(t, d.Ports()[1].Closed())
	d.ErrorOnStart = nil

	require.NoError(t, m.InitFadeAudio("fade", e))
	require.NoError(t, m.CancelFade())
	assert.True(t, d.Ports()[2].Closed())
	assert.False(t, d.Ports()[0].Closed())
	require.NoError(t, m.Stop())
}

func TestConnections(t *testing.T) {
	d := &mock.Driver{NumChannels: 2}
	c := &mock.Connections{}
	m := newManager(t, fader.Dual, d, fader.WithConnections(c))
	require.NoError(t, m.ConnectAudio("home"))
	assert.Equal(t, []string{"fx:out_1", "fx:out_2"}, c.Connected("home"))
	require.NoError(t, m.SaveConnections("home"))
	assert.Equal(t, []string{"fx:out_1", "fx:out_2"}, c.Saved("home"))

	// dual fade chain is connected with the same wiring.
	e := &mock.Effect{EffectName: "fx"}
	e.Build(1)
	require.NoError(t, m.InitFadeAudio("fade", e))
	assert.Equal(t, []string{"fx:out_1", "fx:out_2", "fade:out_1", "fade:out_2"}, c.Connected("home"))
}

func TestDriverInfo(t *testing.T) {
	var shutdown error
	d := &mock.Driver{Rate: 48000, Size: 256}
	m := newManager(t, fader.Single, d, fader.WithShutdown(func(err error) { shutdown = err }))
	assert.Equal(t, 48000, m.SampleRate())
	assert.Equal(t, 256, m.BufferSize())

	errTest := errors.New("server stopped")
	d.Shutdown(errTest)
	assert.Equal(t, errTest, shutdown)
}

func TestCurves(t *testing.T) {
	tests := []struct {
		curve fader.Curve
		t     float64
		out   float64
		in    float64
	}{
		{curve: fader.Linear, t: 0, out: 1, in: 0},
		{curve: fader.Linear, t: 0.25, out: 0.75, in: 0.25},
		{curve: fader.Linear, t: 2, out: 0, in: 1},
		{curve: fader.EqualPower, t: 0, out: 1, in: 0},
		{curve: fader.EqualPower, t: 0.5, out: math.Sqrt2 / 2, in: math.Sqrt2 / 2},
		{curve: fader.EqualPower, t: 1, out: 0, in: 1},
	}
	for _, test := range tests {
		out, in := test.curve(test.t)
		assert.InDelta(t, test.out, out, 1e-9)
		assert.InDelta(t, test.in, in, 1e-9)
	}
	_, ok := fader.CurveByName("equal-power")
	assert.True(t, ok)
	_, ok = fader.CurveByName("cubic")
	assert.False(t, ok)
}

func TestVoiceRender(t *testing.T) {
	var mix fader.Mix
	a := fader.NewVoice(artifact.NewLocal("a", &mock.Unit{Value: 1}), 0.25)
	b := fader.NewVoice(artifact.NewLocal("b", &mock.Unit{Value: 2}), 0.5)
	remote := fader.NewVoice(artifact.NewRemote("c", "key"), 1)
	mix.Attach(a)
	mix.Attach(b)
	mix.Attach(remote)

	out := [][]float64{make([]float64, 2)}
	require.NoError(t, mix.Render(nil, out))
	assert.Equal(t, [][]float64{{1.25, 1.25}}, out)

	mix.Detach(b)
	require.NoError(t, mix.Render(nil, out))
	assert.Equal(t, [][]float64{{0.25, 0.25}}, out)
	assert.Len(t, mix.Voices(), 2)
}

func TestDetachWaitsForRender(t *testing.T) {
	var mix fader.Mix
	unit := &mock.Unit{Value: 1, Entered: make(chan struct{}, 1), Hold: make(chan struct{})}
	v := fader.NewVoice(artifact.NewLocal("a", unit), 1)
	mix.Attach(v)

	rendered := make(chan error)
	go func() {
		rendered <- mix.Render(nil, [][]float64{make([]float64, 2)})
	}()
	<-unit.Entered

	detached := make(chan struct{})
	go func() {
		mix.Detach(v)
		close(detached)
	}()
	select {
	case <-detached:
		t.Fatal("detach returned while voice is rendered")
	case <-time.After(20 * time.Millisecond):
	}
	close(unit.Hold)
	require.NoError(t, <-rendered)
	<-detached
	assert.Empty(t, mix.Voices())
}
