package optimizer

import (
	"math"

	"github.com/awdrgyjilplij/NLPC/model"
)

// Optimizer interface defines the methods that all optimizers must implement
type Optimizer interface {
	Step() error      // Updates model parameters based on gradients
	ZeroGrad()        // Resets gradients to zero for all parameters
	GetLR() float64   // Gets current learning rate
	SetLR(lr float64) // Sets learning rate
}

// ClipGradNorm rescales the gradients in place when their global L2 norm
// exceeds maxNorm, and returns the norm measured before clipping. The norm
// is taken over all parameters together, not per parameter.
func ClipGradNorm(parameters []*model.Parameter, maxNorm float64) float64 {
	var sumSquares float64
	for _, param := range parameters {
		for _, g := range param.Grad {
			sumSquares += float64(g) * float64(g)
		}
	}
	totalNorm := math.Sqrt(sumSquares)

	if totalNorm > maxNorm {
		scale := maxNorm / (totalNorm + 1e-6)
		for _, param := range parameters {
			for i := range param.Grad {
				param.Grad[i] = float32(float64(param.Grad[i]) * scale)
			}
		}
	}

	return totalNorm
}

// zeroGradients resets the gradient buffers of all parameters.
func zeroGradients(parameters []*model.Parameter) {
	for _, param := range parameters {
		param.ZeroGrad()
	}
}
