package training

import (
	"fmt"
	"math"
)

// PositiveClass is the class index precision and recall are computed for.
const PositiveClass = 1

// BatchMetrics holds the classification metrics of one batch.
type BatchMetrics struct {
	Accuracy  float64
	Precision float64
	Recall    float64
}

// Argmax returns the index of the largest score, breaking ties toward the
// lowest index.
func Argmax(scores []float32) int {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return best
}

// ComputeBatchMetrics turns one batch of predicted scores and true labels
// into accuracy, precision and recall for the positive class. Precision is
// NaN when no example is predicted positive, recall is NaN when no example
// is truly positive; callers see the undefined value rather than a silent
// zero.
func ComputeBatchMetrics(logits []float32, labels []int32, classes int) (BatchMetrics, error) {
	if classes <= 0 {
		return BatchMetrics{}, fmt.Errorf("class count must be positive, got %d", classes)
	}
	if len(labels) == 0 {
		return BatchMetrics{}, fmt.Errorf("labels cannot be empty")
	}
	if len(logits) != len(labels)*classes {
		return BatchMetrics{}, fmt.Errorf("logits have %d values, expected %d", len(logits), len(labels)*classes)
	}

	var correct, truePositive, predictedPositive, actualPositive int
	for i, label := range labels {
		predicted := Argmax(logits[i*classes : (i+1)*classes])
		if predicted == int(label) {
			correct++
		}
		if predicted == PositiveClass {
			predictedPositive++
			if int(label) == PositiveClass {
				truePositive++
			}
		}
		if int(label) == PositiveClass {
			actualPositive++
		}
	}

	metrics := BatchMetrics{
		Accuracy:  float64(correct) / float64(len(labels)),
		Precision: math.NaN(),
		Recall:    math.NaN(),
	}
	if predictedPositive > 0 {
		metrics.Precision = float64(truePositive) / float64(predictedPositive)
	}
	if actualPositive > 0 {
		metrics.Recall = float64(truePositive) / float64(actualPositive)
	}

	return metrics, nil
}
