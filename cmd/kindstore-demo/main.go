/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Command kindstore-demo walks through keys, entities, queries and
// transactions against the configured backend.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/suparena/kindstore"
	"go.uber.org/zap"
)

type cli struct {
	Config  string `short:"c" type:"path" help:"YAML config file."`
	Backend string `short:"b" help:"Override the configured backend (memory, bolt, dynamodb, redis)."`
	Pause   bool   `short:"p" help:"Wait for Enter between steps."`
	Version bool   `short:"v" help:"Show version information and exit."`
}

type cliConfig struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Exit   func(int)
}

func main() {
	rc := run(context.Background(), os.Args[1:], &cliConfig{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Exit:   os.Exit,
	})
	os.Exit(rc)
}

// run parses args and runs the walkthrough. It returns the process exit code.
func run(ctx context.Context, args []string, config *cliConfig) int {
	var opts cli
	parser, err := kong.New(&opts,
		kong.Name("kindstore-demo"),
		kong.Description("Walk through the kindstore client against a backend."),
		kong.Exit(config.Exit),
		kong.Writers(config.Stdout, config.Stderr),
	)
	if err != nil {
		fmt.Fprintln(config.Stderr, err)
		return 2
	}
	if _, err := parser.Parse(args); err != nil {
		fmt.Fprintln(config.Stderr, err)
		return 2
	}

	if opts.Version {
		info := kindstore.GetVersionInfo()
		fmt.Fprintf(config.Stdout, "kindstore-demo version %s\n", info.Version)
		fmt.Fprintf(config.Stdout, "Git commit: %s\n", info.GitCommit)
		fmt.Fprintf(config.Stdout, "Build date: %s\n", info.BuildDate)
		fmt.Fprintf(config.Stdout, "Go version: %s\n", info.GoVersion)
		fmt.Fprintf(config.Stdout, "Backends: %v\n", info.Backends)
		return 0
	}

	cfg, err := kindstore.LoadConfig(opts.Config)
	if err != nil {
		fmt.Fprintln(config.Stderr, err)
		return 1
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}

	log, err := kindstore.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(config.Stderr, err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	client, err := kindstore.Open(ctx, cfg, kindstore.WithLogger(log))
	if err != nil {
		log.Error("failed to open backend", zap.String("backend", cfg.Backend), zap.Error(err))
		return 1
	}
	defer client.Close()

	w := &walkthrough{
		client: client,
		out:    config.Stdout,
		log:    log,
	}
	if opts.Pause {
		w.in = bufio.NewReader(config.Stdin)
	}
	if err := w.run(ctx); err != nil {
		log.Error("walkthrough failed", zap.Error(err))
		fmt.Fprintf(config.Stderr, "walkthrough failed: %v\n", err)
		return 1
	}
	return 0
}
