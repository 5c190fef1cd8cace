package model

import (
	"fmt"

	"github.com/awdrgyjilplij/NLPC/data"
)

// Model defines the classifier surface the training loop drives. A model is
// a black box to the loop: given a batch it produces logits and, when labels
// are requested, per-replica losses with a matching backward pass.
type Model interface {
	// Forward runs the classifier over one batch. With withLabels set, the
	// returned Output carries one mean loss per replica and supports
	// Backward; without labels it carries logits only.
	Forward(batch *data.Batch, withLabels bool) (*Output, error)
	Parameters() []*Parameter // Returns trainable parameters
	Train()                   // Sets the model to training mode
	Eval()                    // Sets the model to evaluation mode
	IsTraining() bool         // Returns true if in training mode
	NumClasses() int          // Number of output classes
}

// Parameter is a named trainable tensor with its gradient accumulator.
type Parameter struct {
	Name  string
	Shape []int
	Data  []float32
	Grad  []float32
}

// NewParameter allocates a zero-valued parameter for the given shape.
func NewParameter(name string, shape []int) *Parameter {
	size := 1
	for _, dim := range shape {
		size *= dim
	}

	return &Parameter{
		Name:  name,
		Shape: shape,
		Data:  make([]float32, size),
		Grad:  make([]float32, size),
	}
}

// NumElems returns the number of elements in the parameter.
func (p *Parameter) NumElems() int {
	return len(p.Data)
}

// ZeroGrad resets the accumulated gradient to zero.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// CopyFrom overwrites the parameter values from another parameter of the
// same shape.
func (p *Parameter) CopyFrom(src *Parameter) error {
	if len(src.Data) != len(p.Data) {
		return fmt.Errorf("parameter %s size mismatch: expected %d, got %d", p.Name, len(p.Data), len(src.Data))
	}
	copy(p.Data, src.Data)
	return nil
}

// ParameterCount returns the total number of trainable values.
func ParameterCount(params []*Parameter) int64 {
	var total int64
	for _, p := range params {
		total += int64(p.NumElems())
	}
	return total
}

// Output holds the result of one forward pass.
type Output struct {
	Logits    []float32 // [BatchSize x Classes], row-major
	BatchSize int
	Classes   int

	// Losses holds one mean cross-entropy loss per replica shard. Length 1
	// for an unreplicated model, empty when the pass ran without labels.
	Losses []float32

	backward func() error
}

// NewOutput assembles a forward result. Model implementations outside this
// package use it to attach their backward pass to the returned value.
func NewOutput(logits []float32, batchSize, classes int, losses []float32, backward func() error) (*Output, error) {
	if batchSize <= 0 || classes <= 0 {
		return nil, fmt.Errorf("invalid output dimensions %dx%d", batchSize, classes)
	}
	if len(logits) != batchSize*classes {
		return nil, fmt.Errorf("logits have %d elements, expected %d", len(logits), batchSize*classes)
	}

	return &Output{
		Logits:    logits,
		BatchSize: batchSize,
		Classes:   classes,
		Losses:    losses,
		backward:  backward,
	}, nil
}

// Backward runs the backward pass for this output, accumulating gradients
// into the model parameters. Only available when the forward pass computed a
// loss.
func (o *Output) Backward() error {
	if o.backward == nil {
		return fmt.Errorf("backward unavailable: forward pass ran without labels")
	}
	return o.backward()
}
