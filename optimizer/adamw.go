package optimizer

import (
	"math"
	"sync"

	"github.com/awdrgyjilplij/NLPC/model"
)

// AdamWConfig holds configuration for AdamW optimizer
type AdamWConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamWConfig returns the AdamW configuration used for fine-tuning
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{
		LearningRate: 2e-5,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.01,
	}
}

// AdamW implements the AdamW optimizer with decoupled weight decay. Unlike
// Adam with L2 regularization, the decay is applied directly to the weights
// and never enters the moment estimates.
type AdamW struct {
	parameters  []*model.Parameter
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int64
	m           map[*model.Parameter][]float64 // First moment estimates
	v           map[*model.Parameter][]float64 // Second moment estimates
	mutex       sync.RWMutex
}

// NewAdamW creates a new AdamW optimizer
func NewAdamW(parameters []*model.Parameter, config AdamWConfig) *AdamW {
	adamw := &AdamW{
		parameters:  parameters,
		lr:          config.LearningRate,
		beta1:       config.Beta1,
		beta2:       config.Beta2,
		eps:         config.Epsilon,
		weightDecay: config.WeightDecay,
		step:        0,
		m:           make(map[*model.Parameter][]float64),
		v:           make(map[*model.Parameter][]float64),
	}

	// Initialize moment estimates
	for _, param := range parameters {
		adamw.m[param] = make([]float64, param.NumElems())
		adamw.v[param] = make([]float64, param.NumElems())
	}

	return adamw
}

// Step performs a single optimization step
func (adamw *AdamW) Step() error {
	adamw.mutex.Lock()
	defer adamw.mutex.Unlock()

	adamw.step++

	// Bias correction factors
	bias1 := 1.0 - math.Pow(adamw.beta1, float64(adamw.step))
	bias2 := 1.0 - math.Pow(adamw.beta2, float64(adamw.step))

	for _, param := range adamw.parameters {
		m := adamw.m[param]
		v := adamw.v[param]
		if m == nil || v == nil {
			m = make([]float64, param.NumElems())
			v = make([]float64, param.NumElems())
			adamw.m[param] = m
			adamw.v[param] = v
		}

		for i := range param.Data {
			grad := float64(param.Grad[i])

			// Decoupled weight decay: weights shrink before the update.
			if adamw.weightDecay > 0 {
				param.Data[i] = float32(float64(param.Data[i]) * (1.0 - adamw.lr*adamw.weightDecay))
			}

			// Update moment estimates
			m[i] = adamw.beta1*m[i] + (1.0-adamw.beta1)*grad
			v[i] = adamw.beta2*v[i] + (1.0-adamw.beta2)*grad*grad

			// Bias-corrected update: lr * m_hat / (sqrt(v_hat) + eps)
			mHat := m[i] / bias1
			vHat := v[i] / bias2
			update := adamw.lr * mHat / (math.Sqrt(vHat) + adamw.eps)

			param.Data[i] = float32(float64(param.Data[i]) - update)
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (adamw *AdamW) ZeroGrad() {
	zeroGradients(adamw.parameters)
}

// GetLR returns the current learning rate
func (adamw *AdamW) GetLR() float64 {
	adamw.mutex.RLock()
	defer adamw.mutex.RUnlock()
	return adamw.lr
}

// SetLR sets the learning rate
func (adamw *AdamW) SetLR(lr float64) {
	adamw.mutex.Lock()
	defer adamw.mutex.Unlock()
	adamw.lr = lr
}
