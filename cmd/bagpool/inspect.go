package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/bagpool/internal/api"
	"github.com/samcharles93/bagpool/internal/arena"
)

func inspectCmd() *cli.Command {
	var (
		asJSON    bool
		withStats bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Print the tables packed in an arena",
		Flags: withLogging(
			&cli.StringFlag{
				Name:        "weights",
				Aliases:     []string{"w"},
				Usage:       "path to arena .safetensors file",
				Destination: &weightsPath,
			},
			&cli.BoolFlag{
				Name:        "stats",
				Usage:       "decode the weights and report per-table min, max and mean |w|",
				Destination: &withStats,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the table list as JSON",
				Destination: &asJSON,
			},
		),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := loadArena(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			tables := api.NewService(a, nil, nil).Tables()
			var stats []arena.TableStats
			if withStats {
				stats = a.Stats()
			}
			if asJSON {
				if withStats {
					return writeJSON("", struct {
						api.TablesResponse
						Stats []arena.TableStats `json:"stats"`
					}{tables, stats})
				}
				return writeJSON("", tables)
			}

			fmt.Printf("File:     %s\n", weightsPath)
			fmt.Printf("DType:    %s\n", tables.DType)
			fmt.Printf("Tables:   %d\n", tables.T)
			fmt.Printf("Total D:  %d\n", tables.TotalD)
			fmt.Printf("Elements: %d\n", a.Weights.Len())
			fmt.Println()
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
			if withStats {
				_, _ = fmt.Fprintln(tw, "table\toffset\twidth\trows\tmin\tmax\tmean|w|\t")
			} else {
				_, _ = fmt.Fprintln(tw, "table\toffset\twidth\trows\t")
			}
			for i, t := range tables.Tables {
				if withStats {
					st := stats[i]
					_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%.4g\t%.4g\t%.4g\t\n",
						t.Index, t.Offset, t.Width, t.Rows, st.Min, st.Max, st.MeanAbs)
					continue
				}
				_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t\n", t.Index, t.Offset, t.Width, t.Rows)
			}
			return tw.Flush()
		},
	}
}
