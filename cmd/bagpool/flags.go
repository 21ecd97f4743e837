package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/bagpool/internal/arena"
	"github.com/samcharles93/bagpool/internal/logger"
	"github.com/samcharles93/bagpool/internal/pooling"
)

var (
	weightsPath string
	workers     int64
	strict      bool
	logLevel    string
	logFormat   string
	debug       bool
)

func arenaFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "weights",
			Aliases:     []string{"w"},
			Usage:       "path to arena .safetensors file",
			Destination: &weightsPath,
		},
		&cli.Int64Flag{
			Name:        "workers",
			Usage:       "goroutines per call (0 or 1 runs sequentially, -1 uses every CPU)",
			Value:       pooling.AutoWorkers,
			Destination: &workers,
		},
		&cli.BoolFlag{
			Name:        "strict",
			Usage:       "validate offsets and index ranges before computing",
			Value:       true,
			Destination: &strict,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func withLogging(flags ...cli.Flag) []cli.Flag {
	return append(flags, loggingFlags()...)
}

// setup is the Before hook shared by every command: it applies config file
// defaults and installs the logger in ctx.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	applyCommonConfig(cmd, cfg)

	level := logLevel
	if debug {
		level = "debug"
	}
	log, err := logger.Setup(os.Stderr, logFormat, level)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	return logger.WithContext(ctx, log), nil
}

func kernelOptions() pooling.Options {
	return pooling.Options{Workers: int(workers), Strict: strict}
}

func loadArena(ctx context.Context) (*arena.Arena, error) {
	if weightsPath == "" {
		return nil, cli.Exit("error: --weights is required", 1)
	}
	log := logger.FromContext(ctx)
	start := time.Now()
	a, err := arena.Load(weightsPath)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("error: load arena: %v", err), 1)
	}
	log.Info("loaded arena",
		"path", weightsPath,
		"tables", a.T(),
		"total_D", a.TotalD(),
		"dtype", a.Weights.DType.String(),
		"elements", a.Weights.Len(),
		"took", time.Since(start),
	)
	return a, nil
}
