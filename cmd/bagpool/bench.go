package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/bagpool/internal/arena"
	"github.com/samcharles93/bagpool/internal/layout"
	"github.com/samcharles93/bagpool/internal/logger"
	"github.com/samcharles93/bagpool/internal/pooling"
	"github.com/samcharles93/bagpool/internal/tensor"
)

func benchCmd() *cli.Command {
	var (
		batch         int64
		poolingFactor int64
		warmupRuns    int64
		benchRuns     int64
		seed          int64
		mode          string
		weighted      bool
		synthTables   int64
		synthRows     int64
		synthDim      int64
		synthDType    string
	)

	flags := append(arenaFlags(),
		&cli.Int64Flag{
			Name:        "batch",
			Aliases:     []string{"b"},
			Usage:       "bags per table",
			Value:       512,
			Destination: &batch,
		},
		&cli.Int64Flag{
			Name:        "pooling-factor",
			Aliases:     []string{"L"},
			Usage:       "mean bag length",
			Value:       20,
			Destination: &poolingFactor,
		},
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Usage:       "number of benchmark runs",
			Value:       5,
			Destination: &benchRuns,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Value:       1,
			Destination: &seed,
		},
		&cli.StringFlag{
			Name:        "mode",
			Usage:       "pooling mode (sum, mean)",
			Value:       "sum",
			Destination: &mode,
		},
		&cli.BoolFlag{
			Name:        "weighted",
			Usage:       "pass per-index weights to forward",
			Destination: &weighted,
		},
		&cli.Int64Flag{
			Name:        "tables",
			Usage:       "tables in the synthetic arena used when --weights is not given",
			Value:       8,
			Destination: &synthTables,
		},
		&cli.Int64Flag{
			Name:        "rows",
			Usage:       "rows per synthetic table",
			Value:       10000,
			Destination: &synthRows,
		},
		&cli.Int64Flag{
			Name:        "dim",
			Usage:       "width of each synthetic table",
			Value:       64,
			Destination: &synthDim,
		},
		&cli.StringFlag{
			Name:        "dtype",
			Usage:       "element type of the synthetic arena",
			Value:       "f32",
			Destination: &synthDType,
		},
	)

	return &cli.Command{
		Name:   "bench",
		Usage:  "Time forward and backward over synthetic bags",
		Flags:  withLogging(flags...),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			pm, err := pooling.ParseMode(mode)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if batch <= 0 || benchRuns <= 0 {
				return cli.Exit("error: --batch and --runs must be positive", 1)
			}

			var a *arena.Arena
			if weightsPath != "" {
				a, err = loadArena(ctx)
				if err != nil {
					return err
				}
				defer func() { _ = a.Close() }()
			} else {
				dt, err := tensor.ParseDType(synthDType)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				a, err = arena.Generate(arena.GenConfig{
					Rows:  []int64{synthRows},
					Dims:  repeatInt(int(synthDim), int(synthTables)),
					DType: dt,
					Seed:  seed,
				})
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				log.Info("generated synthetic arena", "tables", a.T(), "rows", synthRows, "dim", synthDim, "dtype", dt.String())
			}

			bags := a.RandomBatch(seed, int(batch), int(poolingFactor))
			fwd := pooling.ForwardInput{
				Weights:        a.Weights,
				WeightsOffsets: a.WeightsOffsets,
				DOffsets:       a.DOffsets,
				TotalD:         a.TotalD(),
				Indices:        bags.Indices,
				Offsets:        bags.Offsets,
				Mode:           pm,
			}
			if weighted {
				iw := make([]float32, len(bags.Indices))
				tensor.FillRand(iw, seed+1, 2)
				fwd.IndiceWeights = pooling.Some(tensor.BufferF32(iw))
			}
			grad, err := tensor.NewMat(int(batch), a.TotalD(), a.Weights.DType.Accumulator())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			for i := range grad.Len() {
				grad.Set(i/grad.C, i%grad.C, float64(i%7)-3)
			}
			bwd := pooling.BackwardInput{
				GradOutput:     grad,
				Weights:        a.Weights,
				WeightsOffsets: a.WeightsOffsets,
				DOffsets:       a.DOffsets,
				Indices:        bags.Indices,
				Offsets:        bags.Offsets,
			}

			rowBytes, err := gatheredBytes(a, bags)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			k := pooling.New(kernelOptions())

			fmt.Println("=== bagpool bench ===")
			fmt.Printf("Tables:   %d (total D %d, %s)\n", a.T(), a.TotalD(), a.Weights.DType)
			fmt.Printf("Batch:    %d bags/table, %d indices\n", batch, len(bags.Indices))
			fmt.Printf("Mode:     %s weighted=%v\n", pm, weighted)
			fmt.Printf("Workers:  %d (GOMAXPROCS %d)\n", k.Options().Workers, runtime.GOMAXPROCS(0))
			fmt.Printf("Strict:   %v\n", k.Options().Strict)
			fmt.Printf("Warmup:   %d runs\n", warmupRuns)
			fmt.Printf("Runs:     %d\n", benchRuns)
			fmt.Println()

			for range warmupRuns {
				if _, err := k.Forward(fwd); err != nil {
					return cli.Exit(fmt.Sprintf("error: forward: %v", err), 1)
				}
				if _, err := k.BackwardIndiceWeights(bwd); err != nil {
					return cli.Exit(fmt.Sprintf("error: backward: %v", err), 1)
				}
			}

			var fwdTotal, bwdTotal time.Duration
			fmt.Printf("%-6s %12s %10s %12s %10s\n", "Run", "Forward", "GB/s", "Backward", "GB/s")
			for run := range benchRuns {
				start := time.Now()
				if _, err := k.Forward(fwd); err != nil {
					return cli.Exit(fmt.Sprintf("error: forward: %v", err), 1)
				}
				fd := time.Since(start)
				start = time.Now()
				if _, err := k.BackwardIndiceWeights(bwd); err != nil {
					return cli.Exit(fmt.Sprintf("error: backward: %v", err), 1)
				}
				bd := time.Since(start)
				fwdTotal += fd
				bwdTotal += bd
				fmt.Printf("%-6d %12s %10.2f %12s %10.2f\n", run+1,
					fd.Round(time.Microsecond), gbps(rowBytes, fd),
					bd.Round(time.Microsecond), gbps(rowBytes, bd))
			}
			n := time.Duration(benchRuns)
			fmt.Printf("\n%-6s %12s %10.2f %12s %10.2f\n", "Avg",
				(fwdTotal / n).Round(time.Microsecond), gbps(rowBytes, fwdTotal/n),
				(bwdTotal / n).Round(time.Microsecond), gbps(rowBytes, bwdTotal/n))

			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			fmt.Printf("\nMemory: %.1f MB alloc, %.1f MB sys\n",
				float64(mem.Alloc)/(1024*1024), float64(mem.Sys)/(1024*1024))
			return nil
		},
	}
}

// gatheredBytes is the number of weight bytes one pass reads: every pooled
// row of every bag.
func gatheredBytes(a *arena.Arena, b arena.Batch) (int64, error) {
	l, err := layout.New(a.WeightsOffsets, a.DOffsets, b.Offsets)
	if err != nil {
		return 0, err
	}
	elem := int64(a.Weights.DType.ElemSize())
	var total int64
	for bag := range l.Bags() {
		total += int64(bag.Len()) * int64(max(l.Width(bag.Table), 0)) * elem
	}
	return total, nil
}

func gbps(bytes int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(bytes) / d.Seconds() / 1e9
}

func repeatInt(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}
