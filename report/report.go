// Package report turns the sampler's retained set into pprof profiles
// for offline leak analysis.
package report

import (
	"fmt"
	"time"

	"github.com/google/pprof/profile"
	log "github.com/sirupsen/logrus"

	"github.com/heaplab/leakprof/sampling"
	"github.com/heaplab/leakprof/tracestore"
)

// Builder emits the current sample set. It reads the sampler without
// locking; the caller must have excluded concurrent admission and
// sweeping, the same obligation every reader of the sampler carries.
type Builder struct {
	Sampler  *sampling.Sampler
	Store    *tracestore.Store
	Registry *tracestore.Registry
}

// ResolveNew visits every sample admitted since the previous call,
// newest first, then advances the sampler's resolution cursor. It is
// how incremental consumers (symbolizers, event emitters) keep up with
// the reservoir without their own iteration state.
func (b *Builder) ResolveNew(visit func(*sampling.Sample)) int {
	resolved := b.Sampler.LastResolved()
	first := b.Sampler.Last()
	n := 0
	for current := first; current != nil && current != resolved; current = current.Next() {
		visit(current)
		n++
	}
	if first != nil {
		b.Sampler.SetLastResolved(first)
	}
	return n
}

// Profile emits the retained (non-dead) samples as a pprof profile with
// retained object counts and retained bytes. Sample spans, not raw
// allocation sizes, carry the weights: they are what make the profile
// statistically fair per byte.
func (b *Builder) Profile() (*profile.Profile, error) {
	prof := &profile.Profile{
		DefaultSampleType: "retained_space",
		SampleType: []*profile.ValueType{
			{Type: "retained_objects", Unit: "count"},
			{Type: "retained_space", Unit: "bytes"},
		},
		PeriodType: &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:     1,
		TimeNanos:  time.Now().UnixNano(),
	}

	locationMap := make(map[uint64]*profile.Location)
	functionMap := make(map[uint64]*profile.Function)
	nextLocationID := uint64(1)
	nextFunctionID := uint64(1)

	locationsFor := func(traceID uint64) ([]*profile.Location, error) {
		frames := b.Store.Frames(traceID)
		if traceID != 0 && frames == nil {
			return nil, fmt.Errorf("sample references unknown trace %d", traceID)
		}
		locs := make([]*profile.Location, 0, len(frames))
		for _, pc := range frames {
			loc, ok := locationMap[pc]
			if !ok {
				fn, ok := functionMap[pc]
				if !ok {
					fn = &profile.Function{
						ID:   nextFunctionID,
						Name: fmt.Sprintf("0x%x", pc),
					}
					nextFunctionID++
					functionMap[pc] = fn
					prof.Function = append(prof.Function, fn)
				}
				loc = &profile.Location{
					ID:      nextLocationID,
					Address: pc,
					Line:    []profile.Line{{Function: fn}},
				}
				nextLocationID++
				locationMap[pc] = loc
				prof.Location = append(prof.Location, loc)
			}
			locs = append(locs, loc)
		}
		return locs, nil
	}

	emitted, dead := 0, 0
	for i := 0; i < b.Sampler.ItemCount(); i++ {
		sm := b.Sampler.ItemAt(i)
		if sm.Dead() {
			dead++
			continue
		}
		traceID, _ := sm.Trace()
		locs, err := locationsFor(traceID)
		if err != nil {
			return nil, err
		}
		labels := map[string][]string{}
		if cp, ok := b.Registry.Lookup(sm.Checkpoint()); ok {
			labels["thread"] = []string{cp.Name}
		}
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: locs,
			Value:    []int64{1, int64(sm.Span())},
			Label:    labels,
			NumLabel: map[string][]int64{
				"allocated": {int64(sm.Allocated())},
			},
		})
		emitted++
	}

	log.WithFields(log.Fields{
		"samples": emitted,
		"dead":    dead,
	}).Debug("built leak profile")

	if err := prof.CheckValid(); err != nil {
		return nil, fmt.Errorf("built invalid profile: %v", err)
	}
	return prof, nil
}
