package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/bagpool/internal/api"
	"github.com/samcharles93/bagpool/internal/logger"
	"github.com/samcharles93/bagpool/internal/pooling"
)

func backwardCmd() *cli.Command {
	var (
		requestPath string
		outPath     string
	)

	return &cli.Command{
		Name:  "backward",
		Usage: "Compute the gradient of the indice weights for a batch",
		Flags: withLogging(append(arenaFlags(),
			&cli.StringFlag{
				Name:        "request",
				Aliases:     []string{"r"},
				Usage:       "JSON request with indices, offsets, grad_output and optional feature_requires_grad (- for stdin)",
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
			req, err := readRequest[api.BackwardRequest](requestPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			a, err := loadArena(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			svc := api.NewService(a, pooling.New(kernelOptions()), logger.FromContext(ctx))
			grad, err := svc.Backward(ctx, &req)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: backward: %v", err), 1)
			}
			return writeJSON(outPath, api.NewBackwardResponse("", &grad))
		},
	}
}
