// Copyright 2025 The leakprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the replay settings loadable from a YAML file. Flags
// override whatever the file provides.
type Config struct {
	// Capacity is the reservoir size: the maximum number of retained
	// samples.
	Capacity int `yaml:"capacity"`

	// CaptureTraces controls whether allocation sites are recorded
	// and interned for retained samples.
	CaptureTraces bool `yaml:"capture_traces"`

	// Output is the path the pprof profile is written to.
	Output string `yaml:"output"`
}

func defaultConfig() Config {
	return Config{
		Capacity:      256,
		CaptureTraces: true,
		Output:        "./leak.pb.gz",
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %v", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %v", err)
	}
	if cfg.Capacity <= 0 {
		return cfg, fmt.Errorf("capacity must be positive, got %d", cfg.Capacity)
	}
	return cfg, nil
}
