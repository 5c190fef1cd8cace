package training

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RunConfig holds the complete configuration for a fine-tuning run
type RunConfig struct {
	// Data and checkpoint locations
	DataDir        string `json:"data_dir" yaml:"data_dir"`
	CheckpointPath string `json:"checkpoint_path" yaml:"checkpoint_path"`
	ONNXPath       string `json:"onnx_path,omitempty" yaml:"onnx_path"`

	// Device replicas for data-parallel training
	GPUIDs []int `json:"gpu_ids" yaml:"gpu_ids"`

	// Batch sizes
	TrainBatchSize int `json:"train_batch_size" yaml:"train_batch_size"`
	EvalBatchSize  int `json:"eval_batch_size" yaml:"eval_batch_size"`

	// Model parameters
	MaxSeqLen  int `json:"max_seq_len" yaml:"max_seq_len"`
	HiddenSize int `json:"hidden_size" yaml:"hidden_size"`
	NumClasses int `json:"num_classes" yaml:"num_classes"`

	// Dropout probabilities
	AttentionDropout float32 `json:"attention_dropout" yaml:"attention_dropout"`
	HiddenDropout    float32 `json:"hidden_dropout" yaml:"hidden_dropout"`
	SummaryDropout   float32 `json:"summary_dropout" yaml:"summary_dropout"`

	// Optimization
	LearningRate     float64 `json:"learning_rate" yaml:"learning_rate"`
	WarmupProportion float64 `json:"warmup_proportion" yaml:"warmup_proportion"`
	NumTrainEpochs   int     `json:"num_train_epochs" yaml:"num_train_epochs"`
	Seed             int64   `json:"seed" yaml:"seed"`

	// Progress bar rendering
	DisableProgress bool `json:"disable_progress" yaml:"disable_progress"`
}

// DefaultRunConfig returns the standard fine-tuning configuration
func DefaultRunConfig() RunConfig {
	return RunConfig{
		DataDir:          "data",
		CheckpointPath:   "model/model_best.json",
		GPUIDs:           []int{0, 1, 2, 3, 4, 5, 6, 7},
		TrainBatchSize:   64,
		EvalBatchSize:    64,
		MaxSeqLen:        128,
		HiddenSize:       128,
		NumClasses:       2,
		AttentionDropout: 0.1,
		HiddenDropout:    0.1,
		SummaryDropout:   0.1,
		LearningRate:     2e-5,
		WarmupProportion: 0.1,
		NumTrainEpochs:   8,
		Seed:             42,
	}
}

// Validate checks the configuration
func (c *RunConfig) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}
	if c.CheckpointPath == "" {
		return fmt.Errorf("checkpoint path cannot be empty")
	}
	if len(c.GPUIDs) == 0 {
		return fmt.Errorf("at least one device id is required")
	}
	if c.TrainBatchSize <= 0 {
		return fmt.Errorf("train batch size must be positive, got %d", c.TrainBatchSize)
	}
	if c.EvalBatchSize <= 0 {
		return fmt.Errorf("eval batch size must be positive, got %d", c.EvalBatchSize)
	}
	if c.MaxSeqLen <= 0 {
		return fmt.Errorf("max sequence length must be positive, got %d", c.MaxSeqLen)
	}
	if c.HiddenSize <= 0 {
		return fmt.Errorf("hidden size must be positive, got %d", c.HiddenSize)
	}
	if c.NumClasses < 2 {
		return fmt.Errorf("class count must be at least 2, got %d", c.NumClasses)
	}
	for _, p := range []float32{c.AttentionDropout, c.HiddenDropout, c.SummaryDropout} {
		if p < 0 || p >= 1 {
			return fmt.Errorf("dropout probability must be in [0, 1), got %f", p)
		}
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", c.LearningRate)
	}
	if c.WarmupProportion < 0 || c.WarmupProportion > 1 {
		return fmt.Errorf("warmup proportion must be in [0, 1], got %f", c.WarmupProportion)
	}
	if c.NumTrainEpochs <= 0 {
		return fmt.Errorf("epoch count must be positive, got %d", c.NumTrainEpochs)
	}
	return nil
}

// LoadRunConfig reads a YAML configuration file over the defaults, so a
// partial file only overrides the keys it names.
func LoadRunConfig(path string) (RunConfig, error) {
	config := DefaultRunConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %v", err)
	}
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return config, fmt.Errorf("failed to parse config file: %v", err)
	}
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid configuration: %v", err)
	}

	return config, nil
}
