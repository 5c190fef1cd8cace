// finetune trains the quadrant text classifier and checkpoints the weights
// whenever the held-out fold reaches a new best accuracy.
//
// Usage:
//
//	finetune --data-dir=data --epochs=8 --lr=2e-5
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/awdrgyjilplij/NLPC/checkpoints"
	"github.com/awdrgyjilplij/NLPC/data"
	"github.com/awdrgyjilplij/NLPC/model"
	"github.com/awdrgyjilplij/NLPC/optimizer"
	"github.com/awdrgyjilplij/NLPC/training"
)

var (
	configPath = flag.String("config", "", "Optional YAML configuration file")
	dataDir    = flag.String("data-dir", "data", "Directory containing quad0.tsv through quad3.tsv")
	checkpoint = flag.String("checkpoint", "model/model_best.json", "Best-model checkpoint path")
	onnxPath   = flag.String("onnx", "", "Optional ONNX export path for the best checkpoint")
	gpuIDs     = flag.String("gpu-ids", "0,1,2,3,4,5,6,7", "Comma-separated device ids, one model replica each")
	trainBatch = flag.Int("train-batch-size", 64, "Training batch size")
	evalBatch  = flag.Int("eval-batch-size", 64, "Evaluation batch size")
	maxSeqLen  = flag.Int("max-seq-len", 128, "Maximum token sequence length")
	hiddenSize = flag.Int("hidden-size", 128, "Embedding width")
	numClasses = flag.Int("num-classes", 2, "Number of output classes")
	attnDrop   = flag.Float64("attention-dropout", 0.1, "Attention dropout probability")
	hiddenDrop = flag.Float64("hidden-dropout", 0.1, "Embedding dropout probability")
	sumDrop    = flag.Float64("summary-dropout", 0.1, "Pooled summary dropout probability")
	lr         = flag.Float64("lr", 2e-5, "Peak learning rate")
	warmup     = flag.Float64("warmup-proportion", 0.1, "Fraction of steps spent in linear warmup")
	epochs     = flag.Int("epochs", 8, "Number of training epochs")
	seed       = flag.Int64("seed", 42, "Random seed")
	noProgress = flag.Bool("no-progress", false, "Disable the progress bar")
)

func main() {
	flag.Parse()

	config, err := buildConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := run(config); err != nil {
		log.Fatalf("Fine-tuning failed: %v", err)
	}
}

// buildConfig layers explicitly set flags over the YAML file, which in turn
// overrides the defaults.
func buildConfig() (training.RunConfig, error) {
	config := training.DefaultRunConfig()
	if *configPath != "" {
		loaded, err := training.LoadRunConfig(*configPath)
		if err != nil {
			return config, err
		}
		config = loaded
	}

	var visitErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data-dir":
			config.DataDir = *dataDir
		case "checkpoint":
			config.CheckpointPath = *checkpoint
		case "onnx":
			config.ONNXPath = *onnxPath
		case "gpu-ids":
			ids, err := parseGPUIDs(*gpuIDs)
			if err != nil {
				visitErr = err
				return
			}
			config.GPUIDs = ids
		case "train-batch-size":
			config.TrainBatchSize = *trainBatch
		case "eval-batch-size":
			config.EvalBatchSize = *evalBatch
		case "max-seq-len":
			config.MaxSeqLen = *maxSeqLen
		case "hidden-size":
			config.HiddenSize = *hiddenSize
		case "num-classes":
			config.NumClasses = *numClasses
		case "attention-dropout":
			config.AttentionDropout = float32(*attnDrop)
		case "hidden-dropout":
			config.HiddenDropout = float32(*hiddenDrop)
		case "summary-dropout":
			config.SummaryDropout = float32(*sumDrop)
		case "lr":
			config.LearningRate = *lr
		case "warmup-proportion":
			config.WarmupProportion = *warmup
		case "epochs":
			config.NumTrainEpochs = *epochs
		case "seed":
			config.Seed = *seed
		case "no-progress":
			config.DisableProgress = *noProgress
		}
	})
	if visitErr != nil {
		return config, visitErr
	}

	if err := config.Validate(); err != nil {
		return config, err
	}

	return config, nil
}

// parseGPUIDs splits a comma-separated device id list.
func parseGPUIDs(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	ids := make([]int, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid device id %q: %v", part, err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func run(config training.RunConfig) error {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	tok, err := data.NewTokenizer(config.MaxSeqLen)
	if err != nil {
		return err
	}

	logger.Printf("Loading quadrant folds from %s", config.DataDir)
	quadrants, err := data.LoadQuadrants(config.DataDir, tok)
	if err != nil {
		return err
	}
	if quadrants.NumClasses > config.NumClasses {
		return fmt.Errorf("corpus has %d classes, configured for %d", quadrants.NumClasses, config.NumClasses)
	}
	logger.Printf("Loaded %d+%d+%d training and %d evaluation examples, vocabulary of %d",
		quadrants.Folds[0].Len(), quadrants.Folds[1].Len(), quadrants.Folds[2].Len(),
		quadrants.Folds[3].Len(), quadrants.Vocab.Size())

	root, err := model.NewTextClassifier(model.Config{
		VocabSize:        quadrants.Vocab.Size(),
		HiddenSize:       config.HiddenSize,
		NumClasses:       config.NumClasses,
		AttentionDropout: config.AttentionDropout,
		HiddenDropout:    config.HiddenDropout,
		SummaryDropout:   config.SummaryDropout,
		Seed:             config.Seed,
	})
	if err != nil {
		return err
	}

	var m model.Model = root
	if len(config.GPUIDs) > 1 {
		dp, err := model.NewDataParallel(root, len(config.GPUIDs))
		if err != nil {
			return err
		}
		logger.Printf("Replicating the classifier across %d devices", dp.ReplicaCount())
		m = dp
	}

	var datasets [data.NumQuadrants]data.Dataset
	for i, fold := range quadrants.Folds {
		datasets[i] = fold
	}
	folds, err := training.BuildFolds(datasets, config.TrainBatchSize, config.EvalBatchSize)
	if err != nil {
		return err
	}

	adamwConfig := optimizer.DefaultAdamWConfig()
	adamwConfig.LearningRate = config.LearningRate
	opt := optimizer.NewAdamW(m.Parameters(), adamwConfig)

	store, err := checkpoints.NewStore(config.CheckpointPath)
	if err != nil {
		return err
	}

	tuner, err := training.NewFineTuner(m, opt, folds, store, config, logger)
	if err != nil {
		return err
	}
	if err := tuner.Run(); err != nil {
		return err
	}
	logger.Printf("Best evaluation accuracy: %.6f", tuner.BestAccuracy())

	if config.ONNXPath != "" {
		return exportONNX(config.CheckpointPath, config.ONNXPath, logger)
	}

	return nil
}

// exportONNX converts the saved best checkpoint into an ONNX model file.
func exportONNX(checkpointPath, onnxPath string, logger *log.Logger) error {
	best, err := checkpoints.LoadCheckpoint(checkpointPath)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint for export: %v", err)
	}
	if err := checkpoints.NewONNXExporter().ExportToONNX(best, onnxPath); err != nil {
		return err
	}
	logger.Printf("Exported best checkpoint to %s", onnxPath)

	return nil
}
