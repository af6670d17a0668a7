// Package clock provides the time source monitor runs and sweeps read from.
// Each run reads the clock exactly once.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

// Clusterwide returns wall-clock UTC readings. Within a process the readings
// carry Go's monotonic component, so throttle comparisons are skew-free;
// across nodes, skew is bounded by the deployment's NTP discipline.
type Clusterwide struct{}

func New() Clusterwide { return Clusterwide{} }

func (Clusterwide) Now() time.Time { return time.Now().UTC() }

// Fake is a settable clock for tests.
type Fake struct {
	mtx sync.Mutex
	now time.Time
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.now
}

func (f *Fake) Advance(d time.Duration) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.now = f.now.Add(d)
}

func (f *Fake) Set(t time.Time) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.now = t.UTC()
}
