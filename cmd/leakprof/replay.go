// Copyright 2025 The leakprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/exp/mmap"

	"github.com/heaplab/leakprof"
	"github.com/heaplab/leakprof/cmd/internal/spinner"
	"github.com/heaplab/leakprof/replay"
	"github.com/heaplab/leakprof/report"
)

var replayCmd = &cobra.Command{
	Use:   "replay <allocation-trace-file>",
	Short: "Replay an allocation trace and write a leak profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReplay(cmd, args[0])
	},
}

func initReplayCmdFlags() {
	replayCmd.Flags().String("config", "", "YAML config file")
	replayCmd.Flags().StringP("output", "o", "", "location to write the pprof profile")
	replayCmd.Flags().Int("capacity", 0, "reservoir capacity (number of retained samples)")
	replayCmd.Flags().Bool("no-traces", false, "disable allocation-site capture")
}

func replayConfig(cmd *cobra.Command) (Config, error) {
	cfg := defaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = loadConfig(path); err != nil {
			return cfg, err
		}
	}
	if out, _ := cmd.Flags().GetString("output"); out != "" {
		cfg.Output = out
	}
	if capacity, _ := cmd.Flags().GetInt("capacity"); capacity != 0 {
		if capacity < 0 {
			return cfg, fmt.Errorf("capacity must be positive, got %d", capacity)
		}
		cfg.Capacity = capacity
	}
	if noTraces, _ := cmd.Flags().GetBool("no-traces"); noTraces {
		cfg.CaptureTraces = false
	}
	return cfg, nil
}

func runReplay(cmd *cobra.Command, traceFile string) error {
	cfg, err := replayConfig(cmd)
	if err != nil {
		return err
	}

	r, err := mmap.Open(traceFile)
	if err != nil {
		return fmt.Errorf("failed to map trace: %v", err)
	}
	defer r.Close()
	p, err := leakprof.NewParser(r)
	if err != nil {
		return fmt.Errorf("creating parser: %v", err)
	}

	s := replay.NewSampler(cfg.Capacity)
	s.Store.SetEnabled(cfg.CaptureTraces)
	m := replay.NewMachine(s)

	var pMu sync.Mutex
	spinner.Start(func() float64 {
		pMu.Lock()
		prog := p.Progress()
		pMu.Unlock()
		return prog
	}, spinner.Format("Replaying... %.1f%%"))

	for {
		pMu.Lock()
		ev, err := p.Next()
		pMu.Unlock()
		if err == io.EOF {
			break
		}
		if err != nil {
			spinner.Stop()
			return fmt.Errorf("parsing events: %v", err)
		}
		m.Process(ev)
	}
	spinner.Stop()
	m.Finish()

	builder := &report.Builder{
		Sampler:  s.Engine,
		Store:    s.Store,
		Registry: s.Registry,
	}
	prof, err := builder.Profile()
	if err != nil {
		return fmt.Errorf("building profile: %v", err)
	}

	out, err := os.Create(cfg.Output)
	if err != nil {
		return fmt.Errorf("creating profile file: %v", err)
	}
	defer out.Close()
	if err := prof.Write(out); err != nil {
		return fmt.Errorf("writing profile: %v", err)
	}

	fmt.Printf("Wrote %d retained samples to %s\n", len(prof.Sample), cfg.Output)
	return nil
}
