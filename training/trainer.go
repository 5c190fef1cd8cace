package training

import (
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/awdrgyjilplij/NLPC/checkpoints"
	"github.com/awdrgyjilplij/NLPC/model"
	"github.com/awdrgyjilplij/NLPC/optimizer"
)

// EpochResult holds the metrics of one completed epoch.
type EpochResult struct {
	EvalLoss      float64
	EvalAccuracy  float64
	EvalPrecision float64
	EvalRecall    float64
	TrainLoss     float64
}

// Fields returns the epoch metrics keyed by report name.
func (r EpochResult) Fields() map[string]float64 {
	return map[string]float64{
		"eval_accuracy":  r.EvalAccuracy,
		"eval_loss":      r.EvalLoss,
		"eval_precision": r.EvalPrecision,
		"eval_recall":    r.EvalRecall,
		"train_loss":     r.TrainLoss,
	}
}

// CheckpointSink receives the model weights whenever evaluation accuracy
// reaches a new best. *checkpoints.Store satisfies it.
type CheckpointSink interface {
	Save(parameters []*model.Parameter, state checkpoints.TrainingState) error
}

// FineTuner drives the full fine-tuning run: per epoch it trains over the
// three training folds in order, evaluates on the held-out fold, logs the
// epoch metrics and checkpoints the weights when evaluation accuracy
// matches or beats the best seen so far.
type FineTuner struct {
	model     model.Model
	executor  *StepExecutor
	evaluator *Evaluator
	folds     *FoldSet
	sink      CheckpointSink

	epochs          int
	totalSteps      int
	warmupSteps     int
	logger          *log.Logger
	disableProgress bool

	bestAccuracy float64
	results      []EpochResult
}

// NewFineTuner creates a fine-tuner with a linear warmup schedule sized to
// the full run.
func NewFineTuner(m model.Model, opt optimizer.Optimizer, folds *FoldSet, sink CheckpointSink, config RunConfig, logger *log.Logger) (*FineTuner, error) {
	if m == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}
	if opt == nil {
		return nil, fmt.Errorf("optimizer cannot be nil")
	}
	if folds == nil {
		return nil, fmt.Errorf("fold set cannot be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("checkpoint sink cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	if logger == nil {
		logger = log.New(os.Stdout, "", log.LstdFlags)
	}

	totalSteps := folds.TotalSteps(config.NumTrainEpochs)
	schedule := NewLinearWarmupSchedule(totalSteps, config.WarmupProportion)

	executor, err := NewStepExecutor(m, opt, schedule, config.LearningRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create step executor: %v", err)
	}
	evaluator, err := NewEvaluator(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluator: %v", err)
	}

	return &FineTuner{
		model:           m,
		executor:        executor,
		evaluator:       evaluator,
		folds:           folds,
		sink:            sink,
		epochs:          config.NumTrainEpochs,
		totalSteps:      totalSteps,
		warmupSteps:     schedule.WarmupSteps,
		logger:          logger,
		disableProgress: config.DisableProgress,
	}, nil
}

// Run executes the full fine-tuning loop
func (ft *FineTuner) Run() error {
	ft.logger.Printf("Starting fine-tuning: %d epochs, %d steps per epoch, %d total steps (%d warmup), %s parameters",
		ft.epochs, ft.folds.TrainSteps(), ft.totalSteps, ft.warmupSteps,
		formatParameterCount(model.ParameterCount(ft.model.Parameters())))

	for epoch := 0; epoch < ft.epochs; epoch++ {
		trainLoss, err := ft.trainEpoch(epoch)
		if err != nil {
			return err
		}

		evalResult, err := ft.evaluator.Evaluate(ft.folds.Eval)
		if err != nil {
			return fmt.Errorf("evaluation after epoch %d failed: %v", epoch, err)
		}

		result := EpochResult{
			EvalLoss:      evalResult.Loss,
			EvalAccuracy:  evalResult.Accuracy,
			EvalPrecision: evalResult.Precision,
			EvalRecall:    evalResult.Recall,
			TrainLoss:     trainLoss,
		}
		ft.results = append(ft.results, result)
		ft.logEpoch(epoch, result)

		// Ties overwrite, so an equal-accuracy later epoch wins.
		if result.EvalAccuracy >= ft.bestAccuracy {
			ft.bestAccuracy = result.EvalAccuracy
			if err := ft.saveCheckpoint(epoch); err != nil {
				return fmt.Errorf("failed to save checkpoint: %v", err)
			}
			ft.logger.Printf("Saved checkpoint with eval_accuracy %.6f", result.EvalAccuracy)
		}
	}

	return nil
}

// trainEpoch runs one pass over the three training folds and returns the
// average step loss.
func (ft *FineTuner) trainEpoch(epoch int) (float64, error) {
	ft.model.Train()

	var progress *ProgressBar
	if !ft.disableProgress {
		progress = NewProgressBar(fmt.Sprintf("Epoch %d/%d", epoch+1, ft.epochs), ft.folds.TrainSteps())
	}

	sumLoss := 0.0
	completed := 0

	for foldIdx, fold := range ft.folds.Train {
		fold.Reset()
		for fold.HasNext() {
			batch, err := fold.Next()
			if err != nil {
				return 0, fmt.Errorf("training fold %d: %v", foldIdx, err)
			}
			if batch == nil {
				break
			}

			loss, err := ft.executor.Step(batch)
			if err != nil {
				return 0, fmt.Errorf("training fold %d: %v", foldIdx, err)
			}

			sumLoss += loss
			completed++
			if progress != nil {
				progress.Update(completed, map[string]float64{"loss": loss})
			}
		}
	}

	if progress != nil {
		progress.Finish()
	}
	if completed == 0 {
		return 0, fmt.Errorf("no training batches in epoch %d", epoch)
	}

	// Normalized by step count across all three folds, not per fold.
	return sumLoss / float64(completed), nil
}

// logEpoch writes the epoch metrics in sorted key order.
func (ft *FineTuner) logEpoch(epoch int, result EpochResult) {
	fields := result.Fields()
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	ft.logger.Printf("***** Epoch %d evaluation *****", epoch)
	for _, key := range keys {
		ft.logger.Printf("  %s = %.6f", key, fields[key])
	}
}

// saveCheckpoint hands the current weights and optimizer position to the sink.
func (ft *FineTuner) saveCheckpoint(epoch int) error {
	state := checkpoints.TrainingState{
		Epoch:        epoch,
		Step:         ft.executor.CurrentStep(),
		LearningRate: ft.executor.CurrentLR(),
		BestAccuracy: ft.bestAccuracy,
		TotalSteps:   ft.totalSteps,
	}
	return ft.sink.Save(ft.model.Parameters(), state)
}

// Results returns the per-epoch metrics recorded so far.
func (ft *FineTuner) Results() []EpochResult {
	out := make([]EpochResult, len(ft.results))
	copy(out, ft.results)
	return out
}

// BestAccuracy returns the best evaluation accuracy seen so far.
func (ft *FineTuner) BestAccuracy() float64 {
	return ft.bestAccuracy
}
