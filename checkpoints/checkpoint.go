package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/awdrgyjilplij/NLPC/model"
)

// Checkpoint represents a complete model state including weights and
// training metadata
type Checkpoint struct {
	// Model weights
	Weights []WeightTensor `json:"weights"`

	// Training state
	TrainingState TrainingState `json:"training_state"`

	// Metadata
	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState captures the current training progress
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	Step         int     `json:"step"`
	LearningRate float64 `json:"learning_rate"`
	BestAccuracy float64 `json:"best_accuracy"`
	TotalSteps   int     `json:"total_steps"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Store writes checkpoints to one fixed path. Every save replaces the whole
// file, so the path always holds the most recent snapshot. Writes go through
// a temporary file in the same directory followed by a rename, which keeps a
// concurrent reader from ever seeing a half-written checkpoint.
type Store struct {
	path  string
	runID string
}

// NewStore creates a checkpoint store for the given path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("checkpoint path cannot be empty")
	}
	return &Store{
		path:  path,
		runID: uuid.NewString(),
	}, nil
}

// Path returns the checkpoint path.
func (s *Store) Path() string {
	return s.path
}

// RunID returns the identifier stamped into every checkpoint this store
// writes.
func (s *Store) RunID() string {
	return s.runID
}

// Save snapshots the parameters together with the training state and writes
// them to the store path, replacing any previous checkpoint.
func (s *Store) Save(params []*model.Parameter, state TrainingState) error {
	weights := make([]WeightTensor, len(params))
	for i, p := range params {
		weights[i] = WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float32(nil), p.Data...),
		}
	}

	checkpoint := &Checkpoint{
		Weights:       weights,
		TrainingState: state,
		Metadata: CheckpointMetadata{
			Version:   "1.0.0",
			Framework: "nlpc",
			RunID:     s.runID,
			CreatedAt: time.Now(),
		},
	}

	return s.write(checkpoint)
}

// write serializes the checkpoint through a temporary file and renames it
// over the store path.
func (s *Store) write(checkpoint *Checkpoint) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %v", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ") // Pretty print JSON

	if err := encoder.Encode(checkpoint); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close checkpoint file: %v", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace checkpoint file: %v", err)
	}

	return nil
}

// LoadCheckpoint loads a checkpoint from JSON format
func LoadCheckpoint(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	decoder := json.NewDecoder(file)

	if err := decoder.Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	return &checkpoint, nil
}

// ApplyTo restores the checkpoint weights into the given parameters,
// matching tensors by name.
func (c *Checkpoint) ApplyTo(params []*model.Parameter) error {
	byName := make(map[string]WeightTensor, len(c.Weights))
	for _, w := range c.Weights {
		byName[w.Name] = w
	}

	for _, p := range params {
		weight, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint has no weights for %s", p.Name)
		}
		if len(weight.Data) != len(p.Data) {
			return fmt.Errorf("weight %s has %d values, expected %d", p.Name, len(weight.Data), len(p.Data))
		}
		copy(p.Data, weight.Data)
	}

	return nil
}
