package training

// LRSchedule defines the interface for learning rate schedules
type LRSchedule interface {
	// GetLR returns the learning rate for the given optimization step
	GetLR(step int, baseLR float64) float64

	// GetName returns the name of the schedule
	GetName() string
}

// LinearWarmupSchedule ramps the learning rate linearly from zero to the
// base rate over the warmup steps, then decays it linearly back to zero at
// the final step. With warmup enabled the rate at step zero is exactly zero.
type LinearWarmupSchedule struct {
	WarmupSteps int
	TotalSteps  int
}

// NewLinearWarmupSchedule builds the schedule from the warmup proportion of
// the precomputed total step count.
func NewLinearWarmupSchedule(totalSteps int, warmupProportion float64) *LinearWarmupSchedule {
	return &LinearWarmupSchedule{
		WarmupSteps: int(float64(totalSteps) * warmupProportion),
		TotalSteps:  totalSteps,
	}
}

// GetLR returns the learning rate for the given optimization step
func (s *LinearWarmupSchedule) GetLR(step int, baseLR float64) float64 {
	if step < s.WarmupSteps {
		denom := s.WarmupSteps
		if denom < 1 {
			denom = 1
		}
		return baseLR * float64(step) / float64(denom)
	}

	remaining := s.TotalSteps - step
	if remaining < 0 {
		remaining = 0
	}
	denom := s.TotalSteps - s.WarmupSteps
	if denom < 1 {
		denom = 1
	}
	return baseLR * float64(remaining) / float64(denom)
}

// GetName returns the name of the schedule
func (s *LinearWarmupSchedule) GetName() string {
	return "LinearWarmup"
}

// ConstantSchedule keeps the base learning rate fixed at every step.
type ConstantSchedule struct{}

// GetLR returns the learning rate for the given optimization step
func (s *ConstantSchedule) GetLR(step int, baseLR float64) float64 {
	return baseLR
}

// GetName returns the name of the schedule
func (s *ConstantSchedule) GetName() string {
	return "Constant"
}
