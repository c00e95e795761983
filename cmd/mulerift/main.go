// MuleRift - Money-mule ring detection for transaction ledgers.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command mulerift analyzes one ledger file and prints the result document.
//
// Usage:
//
//	mulerift [-config mulerift.yaml] [-timeout 30s] [-edges edges.csv] [-pretty] ledger.csv
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/mulerift/internal/config"
	"github.com/opensource-finance/mulerift/internal/domain"
	"github.com/opensource-finance/mulerift/internal/engine"
	"github.com/opensource-finance/mulerift/internal/report"
)

// Exit codes.
const (
	exitOK            = 0
	exitUsage         = 1
	exitInput         = 2
	exitTimeout       = 3
	exitSerialization = 4
	exitOther         = 5
)

// Version information (set via ldflags)
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mulerift", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	timeout := fs.Duration("timeout", 0, "abort the analysis after this duration (0 = no limit)")
	edgesPath := fs.String("edges", "", "also write the aggregated edge list as CSV to this path")
	pretty := fs.Bool("pretty", false, "indent the JSON output")
	version := fs.Bool("version", false, "print the version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: mulerift [flags] <ledger.csv>\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *version {
		fmt.Fprintln(stdout, Version)
		return exitOK
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}
	ledgerPath := fs.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "mulerift: config error: %v\n", err)
		return exitUsage
	}

	// stdout carries only the result document
	logger, err := config.NewLogger(cfg.Logging, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "mulerift: config error: %v\n", err)
		return exitUsage
	}

	analyzer, err := engine.New(cfg.Detection, cfg.Scoring, engine.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(stderr, "mulerift: config error: %v\n", err)
		return exitUsage
	}

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	start := time.Now()
	analysis, err := analyzer.AnalyzeFile(ctx, ledgerPath)
	if err != nil {
		fmt.Fprintf(stderr, "mulerift: %v\n", err)
		return exitCode(err)
	}

	doc := analysis.Document
	if *pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, doc, "", "  "); err != nil {
			fmt.Fprintf(stderr, "mulerift: %v\n", err)
			return exitSerialization
		}
		doc = buf.Bytes()
	}

	// The result is printed last so a failed run leaves stdout empty.
	if *edgesPath != "" {
		if err := writeEdges(*edgesPath, analysis.Ledger.Edges); err != nil {
			fmt.Fprintf(stderr, "mulerift: write edges: %v\n", err)
			return exitOther
		}
	}
	if _, err := stdout.Write(append(doc, '\n')); err != nil {
		fmt.Fprintf(stderr, "mulerift: write result: %v\n", err)
		return exitOther
	}

	logger.Debug("done",
		"ledger", ledgerPath,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return exitOK
}

func writeEdges(path string, edges []domain.Edge) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteEdges(f, edges); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrInput):
		return exitInput
	case errors.Is(err, domain.ErrTimeout):
		return exitTimeout
	case errors.Is(err, domain.ErrSerialization):
		return exitSerialization
	default:
		return exitOther
	}
}
