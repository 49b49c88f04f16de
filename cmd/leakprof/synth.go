// Copyright 2025 The leakprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/spf13/cobra"

	"github.com/heaplab/leakprof"
)

var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Generate a synthetic allocation trace with a known leak",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSynth(cmd)
	},
}

func initSynthCmdFlags() {
	synthCmd.Flags().StringP("output", "o", "./synth.trace", "location to write the trace")
	synthCmd.Flags().Int("events", 100000, "number of allocation events")
	synthCmd.Flags().Int("procs", 4, "number of Ps generating events")
	synthCmd.Flags().Float64("leak-rate", 0.01, "fraction of allocations that are never freed")
	synthCmd.Flags().Int64("seed", 1, "random seed")
}

// runSynth emits a trace where most allocations die in the next
// collection pass but a fixed set of allocation sites leak. Useful for
// exercising the replay pipeline end to end.
func runSynth(cmd *cobra.Command) error {
	output, _ := cmd.Flags().GetString("output")
	events, _ := cmd.Flags().GetInt("events")
	procs, _ := cmd.Flags().GetInt("procs")
	leakRate, _ := cmd.Flags().GetFloat64("leak-rate")
	seed, _ := cmd.Flags().GetInt64("seed")
	if procs <= 0 || events <= 0 {
		return fmt.Errorf("events and procs must be positive")
	}

	const gcInterval = 4096

	leakSites := []uint64{0xdead100, 0xdead200, 0xdead300}
	rng := rand.New(rand.NewSource(seed))
	w := leakprof.NewWriter()

	ticks := uint64(1)
	nextAddr := uint64(0xc000000000)
	var transient []uint64

	for i := 0; i < events; i++ {
		p := int32(rng.Intn(procs))
		size := uint64(rng.Intn(4096)) + 16
		addr := nextAddr
		nextAddr += size

		if rng.Float64() < leakRate {
			w.Alloc(p, ticks, addr, size, leakSites[rng.Intn(len(leakSites))])
		} else {
			w.Alloc(p, ticks, addr, size, uint64(0x400000+rng.Intn(256)*64))
			transient = append(transient, addr)
		}
		ticks++

		if i%gcInterval == gcInterval-1 {
			w.GCStart(0, ticks)
			ticks++
			for _, a := range transient {
				w.Free(0, ticks, a)
				ticks++
			}
			transient = transient[:0]
			w.GCEnd(0, ticks)
			ticks++
		}
	}

	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating trace file: %v", err)
	}
	defer out.Close()
	n, err := w.WriteTo(out)
	if err != nil {
		return fmt.Errorf("writing trace: %v", err)
	}
	fmt.Printf("Wrote %d bytes to %s\n", n, output)
	return nil
}
