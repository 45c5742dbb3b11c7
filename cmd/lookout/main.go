// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/wingedpig/lookout/internal/app"
	"github.com/wingedpig/lookout/internal/config"
)

var (
	version = "0.9"
)

func main() {
	var (
		configPath  string
		host        string
		port        int
		showVersion bool
		debug       bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "HTTP server host (overrides config)")
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.BoolVar(&debug, "debug", false, "Enable debug mode")
	flag.Parse()

	if showVersion {
		fmt.Printf("lookout %s\n", version)
		os.Exit(0)
	}

	// Find config file if not specified; running without one is fine, the
	// defaults cover a standard setup.
	if configPath == "" {
		if found, err := config.NewLoader().FindConfig(); err == nil {
			configPath = found
		}
	}
	if configPath != "" {
		log.Printf("Using config: %s", configPath)
	} else {
		log.Printf("No config file found, using defaults")
	}

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Host:       host,
		Port:       port,
		Debug:      debug,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if err := application.Run(context.Background()); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
