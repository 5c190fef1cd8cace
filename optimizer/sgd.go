package optimizer

import (
	"sync"

	"github.com/awdrgyjilplij/NLPC/model"
)

// SGD implements Stochastic Gradient Descent optimizer
type SGD struct {
	parameters   []*model.Parameter
	learningRate float64
	momentum     float64
	weightDecay  float64
	dampening    float64
	nesterov     bool
	velocities   map[*model.Parameter][]float64
	mutex        sync.RWMutex
}

// NewSGD creates a new SGD optimizer
func NewSGD(parameters []*model.Parameter, lr float64, momentum float64, weightDecay float64, dampening float64, nesterov bool) *SGD {
	sgd := &SGD{
		parameters:   parameters,
		learningRate: lr,
		momentum:     momentum,
		weightDecay:  weightDecay,
		dampening:    dampening,
		nesterov:     nesterov,
		velocities:   make(map[*model.Parameter][]float64),
	}

	// Initialize velocity buffers for momentum
	if momentum > 0 {
		for _, param := range parameters {
			sgd.velocities[param] = make([]float64, param.NumElems())
		}
	}

	return sgd
}

// Step performs a single optimization step
func (sgd *SGD) Step() error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	for _, param := range sgd.parameters {
		var velocity []float64
		if sgd.momentum > 0 {
			velocity = sgd.velocities[param]
			if velocity == nil {
				velocity = make([]float64, param.NumElems())
				sgd.velocities[param] = velocity
			}
		}

		for i := range param.Data {
			grad := float64(param.Grad[i])

			// Apply weight decay: grad = grad + weight_decay * param
			if sgd.weightDecay > 0 {
				grad += sgd.weightDecay * float64(param.Data[i])
			}

			// Apply momentum: velocity = momentum * velocity + (1 - dampening) * grad
			if sgd.momentum > 0 {
				velocity[i] = sgd.momentum*velocity[i] + (1.0-sgd.dampening)*grad
				if sgd.nesterov {
					grad += sgd.momentum * velocity[i]
				} else {
					grad = velocity[i]
				}
			}

			param.Data[i] = float32(float64(param.Data[i]) - sgd.learningRate*grad)
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (sgd *SGD) ZeroGrad() {
	zeroGradients(sgd.parameters)
}

// GetLR returns the current learning rate
func (sgd *SGD) GetLR() float64 {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()
	return sgd.learningRate
}

// SetLR sets the learning rate
func (sgd *SGD) SetLR(lr float64) {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()
	sgd.learningRate = lr
}
