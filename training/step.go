package training

import (
	"fmt"

	"github.com/awdrgyjilplij/NLPC/data"
	"github.com/awdrgyjilplij/NLPC/model"
	"github.com/awdrgyjilplij/NLPC/optimizer"
)

// MaxGradNorm is the global gradient clipping threshold applied on every step.
const MaxGradNorm = 1.0

// StepExecutor runs single optimization steps over training batches.
// Each step performs a forward pass with loss, backpropagation, gradient
// clipping, an optimizer update and a learning rate schedule update.
type StepExecutor struct {
	model     model.Model
	optimizer optimizer.Optimizer
	schedule  LRSchedule
	baseLR    float64
	step      int
}

// NewStepExecutor creates a step executor for the given model and optimizer.
// The optimizer learning rate is immediately set to the schedule value for
// step zero, so warmup starts from the very first update.
func NewStepExecutor(m model.Model, opt optimizer.Optimizer, schedule LRSchedule, baseLR float64) (*StepExecutor, error) {
	if m == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}
	if opt == nil {
		return nil, fmt.Errorf("optimizer cannot be nil")
	}
	if schedule == nil {
		return nil, fmt.Errorf("schedule cannot be nil")
	}
	if baseLR <= 0 {
		return nil, fmt.Errorf("base learning rate must be positive, got %g", baseLR)
	}

	se := &StepExecutor{
		model:     m,
		optimizer: opt,
		schedule:  schedule,
		baseLR:    baseLR,
	}
	se.optimizer.SetLR(se.schedule.GetLR(0, se.baseLR))

	return se, nil
}

// CurrentStep returns the number of completed optimization steps.
func (se *StepExecutor) CurrentStep() int {
	return se.step
}

// CurrentLR returns the learning rate currently set on the optimizer.
func (se *StepExecutor) CurrentLR() float64 {
	return se.optimizer.GetLR()
}

// Step performs a single optimization step on the given batch and returns
// the batch loss. A NaN loss is returned as-is so callers can decide how to
// react to a diverged model.
func (se *StepExecutor) Step(batch *data.Batch) (float64, error) {
	if batch == nil {
		return 0, fmt.Errorf("batch cannot be nil")
	}
	if err := batch.Validate(); err != nil {
		return 0, fmt.Errorf("invalid batch: %v", err)
	}

	output, err := se.model.Forward(batch, true)
	if err != nil {
		return 0, fmt.Errorf("forward pass failed: %v", err)
	}

	loss, err := meanLoss(output.Losses)
	if err != nil {
		return 0, err
	}

	if err := output.Backward(); err != nil {
		return 0, fmt.Errorf("backward pass failed: %v", err)
	}

	optimizer.ClipGradNorm(se.model.Parameters(), MaxGradNorm)

	if err := se.optimizer.Step(); err != nil {
		return 0, fmt.Errorf("optimizer step failed: %v", err)
	}

	se.step++
	se.optimizer.SetLR(se.schedule.GetLR(se.step, se.baseLR))
	se.optimizer.ZeroGrad()

	return loss, nil
}

// meanLoss reduces per-replica losses to a single scalar. Shards are assumed
// balanced, so a short trailing shard slightly overweights its examples.
func meanLoss(losses []float32) (float64, error) {
	if len(losses) == 0 {
		return 0, fmt.Errorf("forward pass returned no losses")
	}

	sum := 0.0
	for _, l := range losses {
		sum += float64(l)
	}

	return sum / float64(len(losses)), nil
}
