package watcher_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pipelined/livefx/watcher"
)

const window = 50 * time.Millisecond

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	m     sync.Mutex
	calls []time.Time
}

func (r *recorder) notify(t time.Time) {
	r.m.Lock()
	defer r.m.Unlock()
	r.calls = append(r.calls, t)
}

func (r *recorder) count() int {
	r.m.Lock()
	defer r.m.Unlock()
	return len(r.calls)
}

func (r *recorder) last() time.Time {
	r.m.Lock()
	defer r.m.Unlock()
	return r.calls[len(r.calls)-1]
}

func newWatcher(t *testing.T) (*watcher.Watcher, *recorder, string) {
	path := filepath.Join(t.TempDir(), "fx.dsp")
	require.NoError(t, os.WriteFile(path, []byte("process = _;"), 0644))
	w := watcher.New(path, watcher.WithWindow(window))
	r := &recorder{}
	w.Notify(r.notify)
	return w, r, path
}

func TestDebounceBurst(t *testing.T) {
	w, r, _ := newWatcher(t)
	require.NoError(t, w.Launch(context.Background()))
	defer w.Stop()

	tests := []struct {
		description string
		events      int
	}{
		{description: "single event", events: 1},
		{description: "burst", events: 10},
	}
	for i, test := range tests {
		base := time.Now()
		for j := 0; j < test.events; j++ {
			w.Touch(base.Add(time.Duration(j) * time.Millisecond))
			time.Sleep(window / 10)
		}
		require.Eventually(t, func() bool { return r.count() == i+1 }, 10*window, window/5, test.description)
		// no second notification for the same burst.
		time.Sleep(2 * window)
		assert.Equal(t, i+1, r.count(), test.description)
		assert.Equal(t, base.Add(time.Duration(test.events-1)*time.Millisecond), r.last(), test.description)
	}
}

func TestDebounceSpaced(t *testing.T) {
	w, r, _ := newWatcher(t)
	require.NoError(t, w.Launch(context.Background()))
	defer w.Stop()

	events := 3
	for i := 0; i < events; i++ {
		w.Touch(time.Now())
		require.Eventually(t, func() bool { return r.count() == i+1 }, 10*window, window/5)
		time.Sleep(window)
	}
	assert.Equal(t, events, r.count())
}

func TestFileModification(t *testing.T) {
	w, r, path := newWatcher(t)
	require.NoError(t, w.Launch(context.Background()))
	defer w.Stop()
	assert.True(t, w.Watching())

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("process = _ * 0.5;"), 0644))
	}
	require.Eventually(t, func() bool { return r.count() == 1 }, 40*window, window/5)

	// other files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.dsp"), nil, 0644))
	time.Sleep(3 * window)
	assert.Equal(t, 1, r.count())
}

func TestStop(t *testing.T) {
	w, r, _ := newWatcher(t)
	require.NoError(t, w.Launch(context.Background()))

	// pending deadline is dropped.
	w.Touch(time.Now())
	w.Stop()
	assert.False(t, w.Watching())
	time.Sleep(2 * window)
	assert.Equal(t, 0, r.count())

	// touch on stopped watcher is ignored.
	w.Touch(time.Now())
	w.Stop()

	// relaunch.
	require.NoError(t, w.Launch(context.Background()))
	w.Touch(time.Now())
	require.Eventually(t, func() bool { return r.count() == 1 }, 10*window, window/5)
	w.Stop()
}

func TestLaunchMissingDir(t *testing.T) {
	w := watcher.New(filepath.Join(t.TempDir(), "missing", "fx.dsp"))
	assert.Error(t, w.Launch(context.Background()))
	assert.False(t, w.Watching())
}
