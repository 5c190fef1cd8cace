package training

import (
	"fmt"
	"sync"

	"github.com/awdrgyjilplij/NLPC/data"
)

// DataLoader batches a dataset sequentially. Iteration never shuffles:
// examples keep dataset order, every epoch replays the identical batch
// sequence, and a trailing short batch is kept rather than dropped.
type DataLoader struct {
	dataset   data.Dataset
	batchSize int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a new DataLoader
func NewDataLoader(dataset data.Dataset, batchSize int) (*DataLoader, error) {
	if dataset == nil {
		return nil, fmt.Errorf("dataset cannot be nil")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
	}, nil
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset resets the data loader for a new epoch
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	dl.position = 0
}

// Next returns the next batch or nil if the epoch is complete
func (dl *DataLoader) Next() (*data.Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= dl.dataset.Len() {
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > dl.dataset.Len() {
		batchEnd = dl.dataset.Len()
	}

	start := dl.position
	dl.position = batchEnd

	batch, err := dl.loadBatch(start, batchEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %v", err)
	}

	return batch, nil
}

// HasNext returns true if there are more batches in the current epoch
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < dl.dataset.Len()
}

// loadBatch assembles the examples in [start, end) into one batch.
func (dl *DataLoader) loadBatch(start, end int) (*data.Batch, error) {
	size := end - start

	// Load the first sample to determine the sequence length.
	firstTokens, _, _, err := dl.dataset.Get(start)
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %d: %v", start, err)
	}
	seqLen := len(firstTokens)

	tokenIDs := make([]int32, 0, size*seqLen)
	attentionMask := make([]int32, 0, size*seqLen)
	labels := make([]int32, 0, size)

	for idx := start; idx < end; idx++ {
		tokens, mask, label, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}
		if len(tokens) != seqLen || len(mask) != seqLen {
			return nil, fmt.Errorf("sample %d has sequence length %d, expected %d", idx, len(tokens), seqLen)
		}
		tokenIDs = append(tokenIDs, tokens...)
		attentionMask = append(attentionMask, mask...)
		labels = append(labels, label)
	}

	return data.NewBatch(tokenIDs, attentionMask, labels, seqLen)
}
