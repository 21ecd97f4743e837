package api

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/bagpool/internal/arena"
	"github.com/samcharles93/bagpool/internal/logger"
	"github.com/samcharles93/bagpool/internal/pooling"
	"github.com/samcharles93/bagpool/internal/tensor"
)

// WarnMeanWithWeights is attached to forward results whose MEAN pooling was
// not divided by the bag length because indice weights were supplied.
const WarnMeanWithWeights = "pooling_mode mean ignores bag length when indice_weights are given; weighted sums are returned"

// Service runs pooling requests against one loaded arena. It is safe for
// concurrent use.
type Service struct {
	arena  *arena.Arena
	kernel *pooling.Kernel
	log    logger.Logger
}

func NewService(a *arena.Arena, k *pooling.Kernel, log logger.Logger) *Service {
	if k == nil {
		k = pooling.New(pooling.Options{Strict: true})
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Service{arena: a, kernel: k, log: log}
}

func (s *Service) Arena() *arena.Arena { return s.arena }

func (s *Service) Kernel() *pooling.Kernel { return s.kernel }

func (s *Service) Tables() TablesResponse {
	return TablesResponse{
		Object: "list",
		DType:  s.arena.Weights.DType.String(),
		T:      s.arena.T(),
		TotalD: s.arena.TotalD(),
		Tables: s.arena.Tables(),
	}
}

// ForwardResult is a pooled output plus any non-fatal notes about the call.
type ForwardResult struct {
	Output   tensor.Mat
	Warnings []string
}

func (s *Service) Forward(ctx context.Context, req *ForwardRequest) (*ForwardResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in := pooling.ForwardInput{
		Weights:        s.arena.Weights,
		WeightsOffsets: s.arena.WeightsOffsets,
		DOffsets:       s.arena.DOffsets,
		TotalD:         s.arena.TotalD(),
		Indices:        req.Indices,
		Offsets:        req.Offsets,
		Mode:           req.PoolingMode,
	}
	var warnings []string
	if req.IndiceWeights != nil {
		in.IndiceWeights = pooling.Some(tensor.BufferF32(req.IndiceWeights))
		if req.PoolingMode == pooling.ModeMean {
			warnings = append(warnings, WarnMeanWithWeights)
			s.log.Warn("mean pooling with indice weights", "scale", 1.0)
		}
	}

	start := time.Now()
	out, err := s.kernel.Forward(in)
	if err != nil {
		return nil, err
	}
	s.log.Debug("forward",
		"tables", s.arena.T(),
		"batch", out.R,
		"total_D", out.C,
		"nnz", len(req.Indices),
		"mode", req.PoolingMode.String(),
		"took", time.Since(start),
	)
	return &ForwardResult{Output: out, Warnings: warnings}, nil
}

// Backward computes grad_indice_weights. grad_output is taken in the element
// type forward produces for this arena.
func (s *Service) Backward(ctx context.Context, req *BackwardRequest) (tensor.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return tensor.Buffer{}, err
	}
	grad, err := s.gradOutput(req.GradOutput)
	if err != nil {
		return tensor.Buffer{}, err
	}
	in := pooling.BackwardInput{
		GradOutput:     grad,
		Weights:        s.arena.Weights,
		WeightsOffsets: s.arena.WeightsOffsets,
		DOffsets:       s.arena.DOffsets,
		Indices:        req.Indices,
		Offsets:        req.Offsets,
	}
	if req.FeatureRequiresGrad != nil {
		in.FeatureRequiresGrad = pooling.Some(req.FeatureRequiresGrad)
	}

	start := time.Now()
	out, err := s.kernel.BackwardIndiceWeights(in)
	if err != nil {
		return tensor.Buffer{}, err
	}
	s.log.Debug("backward",
		"tables", s.arena.T(),
		"batch", grad.R,
		"nnz", len(req.Indices),
		"gated", req.FeatureRequiresGrad != nil,
		"took", time.Since(start),
	)
	return out, nil
}

func (s *Service) gradOutput(rows [][]float64) (tensor.Mat, error) {
	cols := 0
	if len(rows) > 0 {
		cols = len(rows[0])
	}
	buf, err := tensor.NewBuffer(s.arena.Weights.DType.Accumulator(), len(rows)*cols)
	if err != nil {
		return tensor.Mat{}, err
	}
	for i, row := range rows {
		if len(row) != cols {
			return tensor.Mat{}, newInvalidRequest(fmt.Sprintf("grad_output row %d has %d values, row 0 has %d", i, len(row), cols))
		}
		for j, v := range row {
			buf.Set(i*cols+j, v)
		}
	}
	return tensor.NewMatFromBuffer(len(rows), cols, buf)
}
