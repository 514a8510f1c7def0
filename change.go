package livefx

import (
	"sync"
	"time"
)

// Reason identifies why effect changed.
type Reason int

const (
	// SourceEdited means the source file was modified.
	SourceEdited Reason = iota
	// OptionsChanged means compilation options or optimization level changed.
	OptionsChanged
	// RemoteChanged means remote machine changed.
	RemoteChanged
)

func (r Reason) String() string {
	switch r {
	case SourceEdited:
		return "source"
	case OptionsChanged:
		return "options"
	case RemoteChanged:
		return "remote"
	}
	return "unknown"
}

// Change is sent to observers when effect needs a rebuild.
type Change struct {
	Effect *Effect
	Reason Reason
	At     time.Time
}

// observers is a set of change callbacks.
type observers struct {
	m    sync.Mutex
	next int
	fns  map[int]func(Change)
}

func (o *observers) add(fn func(Change)) func() {
	o.m.Lock()
	defer o.m.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]func(Change))
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	return func() {
		o.m.Lock()
		defer o.m.Unlock()
		delete(o.fns, id)
	}
}

// emit calls observers in registration order.
func (o *observers) emit(c Change) {
	o.m.Lock()
	fns := make([]func(Change), 0, len(o.fns))
	for id := 0; id < o.next; id++ {
		if fn, ok := o.fns[id]; ok {
			fns = append(fns, fn)
		}
	}
	o.m.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}
