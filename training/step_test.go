package training

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/awdrgyjilplij/NLPC/data"
	"github.com/awdrgyjilplij/NLPC/model"
)

// callRecorder captures the order of calls across the step pipeline fakes.
type callRecorder struct {
	events []string
}

func (r *callRecorder) record(event string) {
	r.events = append(r.events, event)
}

// stepModel returns scripted losses and fills a constant gradient on
// backward.
type stepModel struct {
	params      []*model.Parameter
	losses      []float32
	gradFill    float32
	rec         *callRecorder
	training    bool
	forwardErr  error
	backwardErr error
}

func newStepModel(rec *callRecorder, losses []float32, gradFill float32) *stepModel {
	return &stepModel{
		params:   []*model.Parameter{model.NewParameter("weight", []int{2})},
		losses:   losses,
		gradFill: gradFill,
		rec:      rec,
		training: true,
	}
}

func (m *stepModel) Forward(batch *data.Batch, withLabels bool) (*model.Output, error) {
	if m.forwardErr != nil {
		return nil, m.forwardErr
	}
	m.rec.record("forward")

	logits := make([]float32, batch.Size*2)
	var losses []float32
	var backward func() error
	if withLabels {
		losses = append([]float32(nil), m.losses...)
		backward = func() error {
			if m.backwardErr != nil {
				return m.backwardErr
			}
			m.rec.record("backward")
			for _, p := range m.params {
				for i := range p.Grad {
					p.Grad[i] = m.gradFill
				}
			}
			return nil
		}
	}

	return model.NewOutput(logits, batch.Size, 2, losses, backward)
}

func (m *stepModel) Parameters() []*model.Parameter { return m.params }
func (m *stepModel) Train()                         { m.training = true }
func (m *stepModel) Eval()                          { m.training = false }
func (m *stepModel) IsTraining() bool               { return m.training }
func (m *stepModel) NumClasses() int                { return 2 }

// fakeOptimizer records learning rate updates and the gradients visible at
// step time, after clipping.
type fakeOptimizer struct {
	params    []*model.Parameter
	rec       *callRecorder
	lr        float64
	lrHistory []float64
	seenGrads []float32
	stepErr   error
}

func newFakeOptimizer(rec *callRecorder, params []*model.Parameter) *fakeOptimizer {
	return &fakeOptimizer{params: params, rec: rec}
}

func (o *fakeOptimizer) Step() error {
	o.rec.record("step")
	if o.stepErr != nil {
		return o.stepErr
	}
	if len(o.params) > 0 {
		o.seenGrads = append([]float32(nil), o.params[0].Grad...)
	}
	return nil
}

func (o *fakeOptimizer) ZeroGrad() {
	o.rec.record("zero_grad")
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

func (o *fakeOptimizer) GetLR() float64 {
	return o.lr
}

func (o *fakeOptimizer) SetLR(lr float64) {
	o.rec.record("set_lr")
	o.lr = lr
	o.lrHistory = append(o.lrHistory, lr)
}

func testBatch(t *testing.T, size int) *data.Batch {
	t.Helper()

	seqLen := 2
	tokens := make([]int32, size*seqLen)
	mask := make([]int32, size*seqLen)
	labels := make([]int32, size)
	for i := range tokens {
		tokens[i] = 1
		mask[i] = 1
	}

	batch, err := data.NewBatch(tokens, mask, labels, seqLen)
	if err != nil {
		t.Fatalf("Failed to create batch: %v", err)
	}
	return batch
}

func TestStepExecutor(t *testing.T) {
	t.Run("Pipeline order", func(t *testing.T) {
		rec := &callRecorder{}
		m := newStepModel(rec, []float32{1.5}, 0.1)
		opt := newFakeOptimizer(rec, m.Parameters())
		schedule := NewLinearWarmupSchedule(10, 0.2)

		se, err := NewStepExecutor(m, opt, schedule, 1.0)
		if err != nil {
			t.Fatalf("Failed to create step executor: %v", err)
		}

		// Construction sets the learning rate for step zero.
		if opt.lr != 0.0 {
			t.Errorf("Expected zero learning rate before the first step, got %g", opt.lr)
		}

		loss, err := se.Step(testBatch(t, 2))
		if err != nil {
			t.Fatalf("Failed to run step: %v", err)
		}
		if loss != 1.5 {
			t.Errorf("Expected loss 1.5, got %v", loss)
		}

		want := []string{"set_lr", "forward", "backward", "step", "set_lr", "zero_grad"}
		if len(rec.events) != len(want) {
			t.Fatalf("Expected %d events, got %v", len(want), rec.events)
		}
		for i, event := range want {
			if rec.events[i] != event {
				t.Errorf("Expected event %d to be %s, got %s", i, event, rec.events[i])
			}
		}

		if se.CurrentStep() != 1 {
			t.Errorf("Expected step count 1, got %d", se.CurrentStep())
		}
		// Step 1 of a 2-step warmup is half the base rate.
		if math.Abs(se.CurrentLR()-0.5) > 1e-12 {
			t.Errorf("Expected learning rate 0.5 after the first step, got %g", se.CurrentLR())
		}
		for i, g := range m.Parameters()[0].Grad {
			if g != 0 {
				t.Errorf("Expected gradient %d to be zeroed after the step, got %v", i, g)
			}
		}
	})

	t.Run("Gradients are clipped before the update", func(t *testing.T) {
		rec := &callRecorder{}
		m := newStepModel(rec, []float32{1.0}, 3.0)
		opt := newFakeOptimizer(rec, m.Parameters())

		se, err := NewStepExecutor(m, opt, &ConstantSchedule{}, 1.0)
		if err != nil {
			t.Fatalf("Failed to create step executor: %v", err)
		}
		if _, err := se.Step(testBatch(t, 2)); err != nil {
			t.Fatalf("Failed to run step: %v", err)
		}

		// Gradient [3, 3] has norm sqrt(18), so clipping at 1.0 leaves
		// each component at 3/sqrt(18) = 0.7071.
		if len(opt.seenGrads) != 2 {
			t.Fatalf("Expected 2 gradient values, got %d", len(opt.seenGrads))
		}
		for i, g := range opt.seenGrads {
			if math.Abs(float64(g)-0.70710678) > 1e-4 {
				t.Errorf("Expected clipped gradient %d near 0.7071, got %v", i, g)
			}
		}
	})

	t.Run("Loss is the mean over replicas", func(t *testing.T) {
		rec := &callRecorder{}
		m := newStepModel(rec, []float32{1.0, 2.0, 4.0}, 0.1)
		opt := newFakeOptimizer(rec, m.Parameters())

		se, err := NewStepExecutor(m, opt, &ConstantSchedule{}, 1.0)
		if err != nil {
			t.Fatalf("Failed to create step executor: %v", err)
		}

		loss, err := se.Step(testBatch(t, 3))
		if err != nil {
			t.Fatalf("Failed to run step: %v", err)
		}
		if math.Abs(loss-7.0/3.0) > 1e-6 {
			t.Errorf("Expected loss 7/3, got %v", loss)
		}
	})

	t.Run("NaN loss passes through", func(t *testing.T) {
		rec := &callRecorder{}
		m := newStepModel(rec, []float32{float32(math.NaN())}, 0.1)
		opt := newFakeOptimizer(rec, m.Parameters())

		se, err := NewStepExecutor(m, opt, &ConstantSchedule{}, 1.0)
		if err != nil {
			t.Fatalf("Failed to create step executor: %v", err)
		}

		loss, err := se.Step(testBatch(t, 1))
		if err != nil {
			t.Fatalf("Expected NaN loss to pass through, got error: %v", err)
		}
		if !math.IsNaN(loss) {
			t.Errorf("Expected NaN loss, got %v", loss)
		}
	})

	t.Run("Learning rate follows the schedule", func(t *testing.T) {
		rec := &callRecorder{}
		m := newStepModel(rec, []float32{1.0}, 0.1)
		opt := newFakeOptimizer(rec, m.Parameters())
		schedule := NewLinearWarmupSchedule(4, 0.5)

		se, err := NewStepExecutor(m, opt, schedule, 1.0)
		if err != nil {
			t.Fatalf("Failed to create step executor: %v", err)
		}
		for i := 0; i < 4; i++ {
			if _, err := se.Step(testBatch(t, 1)); err != nil {
				t.Fatalf("Failed to run step %d: %v", i, err)
			}
		}

		// Warmup over steps 0-1 then linear decay to zero at step 4.
		want := []float64{0.0, 0.5, 1.0, 0.5, 0.0}
		if len(opt.lrHistory) != len(want) {
			t.Fatalf("Expected %d learning rates, got %v", len(want), opt.lrHistory)
		}
		for i, lr := range want {
			if math.Abs(opt.lrHistory[i]-lr) > 1e-12 {
				t.Errorf("Expected learning rate %g at update %d, got %g", lr, i, opt.lrHistory[i])
			}
		}
	})

	t.Run("Errors abort the step", func(t *testing.T) {
		rec := &callRecorder{}
		m := newStepModel(rec, []float32{1.0}, 0.1)
		opt := newFakeOptimizer(rec, m.Parameters())

		se, err := NewStepExecutor(m, opt, &ConstantSchedule{}, 1.0)
		if err != nil {
			t.Fatalf("Failed to create step executor: %v", err)
		}

		if _, err := se.Step(nil); err == nil {
			t.Error("Expected error for nil batch")
		}

		broken := testBatch(t, 2)
		broken.SeqLen = 5
		if _, err := se.Step(broken); err == nil {
			t.Error("Expected error for invalid batch")
		}

		m.forwardErr = fmt.Errorf("boom")
		if _, err := se.Step(testBatch(t, 1)); err == nil || !strings.Contains(err.Error(), "forward pass failed") {
			t.Errorf("Expected forward pass failure, got %v", err)
		}
		m.forwardErr = nil

		m.backwardErr = fmt.Errorf("boom")
		if _, err := se.Step(testBatch(t, 1)); err == nil || !strings.Contains(err.Error(), "backward pass failed") {
			t.Errorf("Expected backward pass failure, got %v", err)
		}
		m.backwardErr = nil

		opt.stepErr = fmt.Errorf("boom")
		if _, err := se.Step(testBatch(t, 1)); err == nil || !strings.Contains(err.Error(), "optimizer step failed") {
			t.Errorf("Expected optimizer step failure, got %v", err)
		}
		opt.stepErr = nil

		m.losses = nil
		if _, err := se.Step(testBatch(t, 1)); err == nil || !strings.Contains(err.Error(), "no losses") {
			t.Errorf("Expected missing loss failure, got %v", err)
		}

		if se.CurrentStep() != 0 {
			t.Errorf("Expected failed steps to leave the step count at 0, got %d", se.CurrentStep())
		}
	})

	t.Run("Constructor validation", func(t *testing.T) {
		rec := &callRecorder{}
		m := newStepModel(rec, []float32{1.0}, 0.1)
		opt := newFakeOptimizer(rec, m.Parameters())

		if _, err := NewStepExecutor(nil, opt, &ConstantSchedule{}, 1.0); err == nil {
			t.Error("Expected error for nil model")
		}
		if _, err := NewStepExecutor(m, nil, &ConstantSchedule{}, 1.0); err == nil {
			t.Error("Expected error for nil optimizer")
		}
		if _, err := NewStepExecutor(m, opt, nil, 1.0); err == nil {
			t.Error("Expected error for nil schedule")
		}
		if _, err := NewStepExecutor(m, opt, &ConstantSchedule{}, 0); err == nil {
			t.Error("Expected error for non-positive base learning rate")
		}
	})
}
