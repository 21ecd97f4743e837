package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/bagpool/internal/api"
	"github.com/samcharles93/bagpool/internal/logger"
	"github.com/samcharles93/bagpool/internal/pooling"
)

func forwardCmd() *cli.Command {
	var (
		requestPath string
		outPath     string
	)

	return &cli.Command{
		Name:  "forward",
		Usage: "Pool a batch of bags and print the output rows",
		Flags: withLogging(append(arenaFlags(),
			&cli.StringFlag{
				Name:        "request",
				Aliases:     []string{"r"},
				Usage:       "JSON request with indices, offsets, pooling_mode and optional indice_weights (- for stdin)",
				Value:       "-",
				Destination: &requestPath,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "write the response here instead of stdout",
				Destination: &outPath,
			},
		)...),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			req, err := readRequest[api.ForwardRequest](requestPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			a, err := loadArena(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			svc := api.NewService(a, pooling.New(kernelOptions()), logger.FromContext(ctx))
			res, err := svc.Forward(ctx, &req)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: forward: %v", err), 1)
			}
			return writeJSON(outPath, api.NewForwardResponse("", res))
		},
	}
}
