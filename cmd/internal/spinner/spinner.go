// Package spinner prints a single-line progress meter for long-running
// command line operations.
package spinner

import (
	"fmt"
	"sync"
	"time"
)

// Option is a configuration option for the spinner.
type Option func(cfg *spinnerCfg)

// Format returns a configuration option that sets the format string for
// the spinner. The string must have exactly one verb in it to support a
// float64 value which is a percent completion.
func Format(ft string) Option {
	return func(cfg *spinnerCfg) {
		cfg.format = ft
	}
}

// Period returns a configuration option that sets the period between
// screen updates for the spinner.
func Period(p time.Duration) Option {
	return func(cfg *spinnerCfg) {
		cfg.period = p
	}
}

type spinnerCfg struct {
	period time.Duration
	format string
}

var state struct {
	mu      sync.Mutex
	running bool
	stop    chan struct{}
	stopped chan struct{}
}

// Start starts a new global spinner which writes to standard output.
// It polls the function sample for progress; sample must return a
// float64 between 0 and 1 and must be safe to call from another
// goroutine.
//
// Only one spinner may be active at a time; a second Start before Stop
// panics.
func Start(sample func() float64, options ...Option) {
	cfg := spinnerCfg{
		period: time.Second,
		format: "Progress: %.1f%%",
	}
	for _, opt := range options {
		opt(&cfg)
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.running {
		panic("tried to start spinner twice")
	}
	state.running = true
	state.stop = make(chan struct{})
	state.stopped = make(chan struct{})

	go func(stop, stopped chan struct{}) {
		defer close(stopped)
		tick := time.NewTicker(cfg.period)
		defer tick.Stop()
		for {
			fmt.Printf(cfg.format+"\r", sample()*100)
			select {
			case <-stop:
				fmt.Printf(cfg.format+"\n", sample()*100)
				return
			case <-tick.C:
			}
		}
	}(state.stop, state.stopped)
}

// Stop stops the currently running spinner and waits for its final
// update. If no spinner is running, it does nothing.
func Stop() {
	state.mu.Lock()
	if !state.running {
		state.mu.Unlock()
		return
	}
	stop, stopped := state.stop, state.stopped
	state.mu.Unlock()

	close(stop)
	<-stopped

	state.mu.Lock()
	state.running = false
	state.mu.Unlock()
}
