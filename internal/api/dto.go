package api

import (
	"github.com/samcharles93/bagpool/internal/arena"
	"github.com/samcharles93/bagpool/internal/pooling"
	"github.com/samcharles93/bagpool/internal/tensor"
)

// ForwardRequest is the body of POST /v1/forward and the --request file of
// `bagpool forward`. Omitting indice_weights (or sending null) means
// unweighted pooling.
type ForwardRequest struct {
	Indices       []int64      `json:"indices"`
	Offsets       []int64      `json:"offsets"`
	PoolingMode   pooling.Mode `json:"pooling_mode"`
	IndiceWeights []float32    `json:"indice_weights,omitempty"`
}

type ForwardResponse struct {
	ID       string      `json:"id,omitempty"`
	Object   string      `json:"object"`
	B        int         `json:"batch_size"`
	TotalD   int         `json:"total_D"`
	DType    string      `json:"dtype"`
	Output   [][]float64 `json:"output"`
	Warnings []string    `json:"warnings,omitempty"`
}

// BackwardRequest is the body of POST /v1/backward. grad_output must be
// B rows of total_D values.
type BackwardRequest struct {
	Indices             []int64     `json:"indices"`
	Offsets             []int64     `json:"offsets"`
	GradOutput          [][]float64 `json:"grad_output"`
	FeatureRequiresGrad []bool      `json:"feature_requires_grad,omitempty"`
}

type BackwardResponse struct {
	ID                string    `json:"id,omitempty"`
	Object            string    `json:"object"`
	DType             string    `json:"dtype"`
	GradIndiceWeights []float64 `json:"grad_indice_weights"`
}

type TablesResponse struct {
	Object string        `json:"object"`
	DType  string        `json:"dtype"`
	T      int           `json:"num_tables"`
	TotalD int           `json:"total_D"`
	Tables []arena.Table `json:"tables"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func NewForwardResponse(id string, res *ForwardResult) ForwardResponse {
	return ForwardResponse{
		ID:       id,
		Object:   "forward",
		B:        res.Output.R,
		TotalD:   res.Output.C,
		DType:    res.Output.DType.String(),
		Output:   res.Output.Rows(),
		Warnings: res.Warnings,
	}
}

func NewBackwardResponse(id string, grad *tensor.Buffer) BackwardResponse {
	return BackwardResponse{
		ID:                id,
		Object:            "backward",
		DType:             grad.DType.String(),
		GradIndiceWeights: grad.Float64s(),
	}
}
