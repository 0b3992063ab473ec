package enginetest

import (
	"context"
	"sync"

	"github.com/Paranoid-AF/nvimbridge/process"
)

// Launcher starts an Engine for every launch.
type Launcher struct {
	Options Options
	// Err, when set, fails every launch.
	Err error

	mu      sync.Mutex
	engines []*Engine
	specs   []process.LaunchSpec
}

func (l *Launcher) Launch(_ context.Context, spec process.LaunchSpec) (process.Process, error) {
	l.mu.Lock()
	l.specs = append(l.specs, spec)
	l.mu.Unlock()

	if l.Err != nil {
		return nil, l.Err
	}
	e, err := Start(spec, l.Options)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.engines = append(l.engines, e)
	l.mu.Unlock()
	return e, nil
}

// Last returns the most recently started engine, or nil.
func (l *Launcher) Last() *Engine {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.engines) == 0 {
		return nil
	}
	return l.engines[len(l.engines)-1]
}

// Specs returns every launch request, including failed ones.
func (l *Launcher) Specs() []process.LaunchSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]process.LaunchSpec, len(l.specs))
	copy(out, l.specs)
	return out
}

var _ process.Launcher = (*Launcher)(nil)
