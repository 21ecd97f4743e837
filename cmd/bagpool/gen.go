package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/bagpool/internal/arena"
	"github.com/samcharles93/bagpool/internal/logger"
	"github.com/samcharles93/bagpool/internal/tensor"
)

func genCmd() *cli.Command {
	var (
		tables int64
		rows   []int64
		dims   []int64
		dtype  string
		seed   int64
		scale  float64
		out    string
	)

	return &cli.Command{
		Name:  "gen",
		Usage: "Write a random arena of packed tables",
		Flags: withLogging(
			&cli.Int64Flag{
				Name:        "tables",
				Aliases:     []string{"t"},
				Usage:       "number of tables (default: one per --dims entry)",
				Destination: &tables,
			},
			&cli.Int64SliceFlag{
				Name:        "rows",
				Usage:       "rows per table, one value or one per table",
				Value:       []int64{1000},
				Destination: &rows,
			},
			&cli.Int64SliceFlag{
				Name:        "dims",
				Usage:       "embedding width per table, one value or one per table",
				Value:       []int64{16},
				Destination: &dims,
			},
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "weight element type (f32, f64, f16, bf16)",
				Value:       "f32",
				Destination: &dtype,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Value:       1,
				Destination: &seed,
			},
			&cli.Float64Flag{
				Name:        "scale",
				Usage:       "weights fall in (-scale/2, scale/2)",
				Value:       0.02,
				Destination: &scale,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output .safetensors path",
				Required:    true,
				Destination: &out,
			},
		),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			dt, err := tensor.ParseDType(dtype)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			widths, err := expandDims(dims, int(tables))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			start := time.Now()
			a, err := arena.Generate(arena.GenConfig{
				Rows:  rows,
				Dims:  widths,
				DType: dt,
				Seed:  seed,
				Scale: float32(scale),
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if err := arena.Save(out, a); err != nil {
				return cli.Exit(fmt.Sprintf("error: write arena: %v", err), 1)
			}
			log.Info("wrote arena",
				"path", out,
				"tables", a.T(),
				"total_D", a.TotalD(),
				"dtype", a.Weights.DType.String(),
				"elements", a.Weights.Len(),
				"took", time.Since(start),
			)
			return nil
		},
	}
}

// expandDims repeats a single width across n tables; n <= 0 keeps dims as is.
func expandDims(dims []int64, n int) ([]int, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("--dims needs at least one width")
	}
	if n <= 0 {
		n = len(dims)
	}
	switch len(dims) {
	case n:
	case 1:
		dims = repeat(dims[0], n)
	default:
		return nil, fmt.Errorf("%d widths for %d tables", len(dims), n)
	}
	out := make([]int, n)
	for i, d := range dims {
		out[i] = int(d)
	}
	return out, nil
}

func repeat(v int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
