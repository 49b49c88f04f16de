// Copyright 2025 The leakprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command leakprof analyzes allocation traces for leaks: it replays a
// trace through the byte-weighted reservoir sampler and writes the
// retained set as a pprof profile.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "leakprof",
	Short: "leakprof finds likely leaks in allocation traces",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the leakprof version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("leakprof version", version)
	},
}

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(versionCmd)
	initReplayCmdFlags()
	rootCmd.AddCommand(replayCmd)
	initSynthCmdFlags()
	rootCmd.AddCommand(synthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
