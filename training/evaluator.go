package training

import (
	"fmt"

	"github.com/awdrgyjilplij/NLPC/model"
)

// EvalResult holds metrics macro-averaged over the batches of an
// evaluation fold.
type EvalResult struct {
	Loss      float64
	Accuracy  float64
	Precision float64
	Recall    float64
}

// Evaluator runs inference-only evaluation passes over a data fold.
type Evaluator struct {
	model model.Model
}

// NewEvaluator creates an evaluator for the given model
func NewEvaluator(m model.Model) (*Evaluator, error) {
	if m == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}
	return &Evaluator{model: m}, nil
}

// Evaluate runs the model over every batch of the fold and returns averaged
// metrics. The model is switched to evaluation mode for the duration of the
// pass and restored afterwards, and no gradients are produced.
func (ev *Evaluator) Evaluate(fold *DataLoader) (EvalResult, error) {
	if fold == nil {
		return EvalResult{}, fmt.Errorf("evaluation fold cannot be nil")
	}

	wasTraining := ev.model.IsTraining()
	ev.model.Eval()
	defer func() {
		if wasTraining {
			ev.model.Train()
		}
	}()

	fold.Reset()

	var sumLoss, sumAccuracy, sumPrecision, sumRecall float64
	batches := 0

	for fold.HasNext() {
		batch, err := fold.Next()
		if err != nil {
			return EvalResult{}, fmt.Errorf("evaluation batch %d: %v", batches, err)
		}
		if batch == nil {
			break
		}

		output, err := ev.model.Forward(batch, true)
		if err != nil {
			return EvalResult{}, fmt.Errorf("evaluation forward failed: %v", err)
		}

		loss, err := meanLoss(output.Losses)
		if err != nil {
			return EvalResult{}, err
		}

		metrics, err := ComputeBatchMetrics(output.Logits, batch.Labels, output.Classes)
		if err != nil {
			return EvalResult{}, fmt.Errorf("evaluation metrics failed: %v", err)
		}

		sumLoss += loss
		sumAccuracy += metrics.Accuracy
		sumPrecision += metrics.Precision
		sumRecall += metrics.Recall
		batches++
	}

	if batches == 0 {
		return EvalResult{}, fmt.Errorf("evaluation fold has no batches")
	}

	// Each batch counts once regardless of its size, so a short trailing
	// batch carries the same weight as a full one.
	n := float64(batches)
	return EvalResult{
		Loss:      sumLoss / n,
		Accuracy:  sumAccuracy / n,
		Precision: sumPrecision / n,
		Recall:    sumRecall / n,
	}, nil
}
