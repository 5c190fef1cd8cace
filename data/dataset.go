package data

import "fmt"

// Dataset defines methods that all tokenized datasets must implement
type Dataset interface {
	Len() int                                                                    // Total number of examples
	Get(idx int) (tokenIDs []int32, attentionMask []int32, label int32, err error) // Returns a single tokenized example
}

// SliceDataset wraps pre-tokenized examples held in memory. All rows must
// share the same sequence length.
type SliceDataset struct {
	tokenIDs [][]int32
	masks    [][]int32
	labels   []int32
	seqLen   int
}

// NewSliceDataset creates a new SliceDataset
func NewSliceDataset(tokenIDs, masks [][]int32, labels []int32) (*SliceDataset, error) {
	if len(tokenIDs) != len(labels) || len(masks) != len(labels) {
		return nil, fmt.Errorf("rows and labels must have the same length: got %d, %d and %d",
			len(tokenIDs), len(masks), len(labels))
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("dataset cannot be empty")
	}

	seqLen := len(tokenIDs[0])
	if seqLen == 0 {
		return nil, fmt.Errorf("sequence length cannot be zero")
	}
	for i := range tokenIDs {
		if len(tokenIDs[i]) != seqLen {
			return nil, fmt.Errorf("row %d has %d token ids, expected %d", i, len(tokenIDs[i]), seqLen)
		}
		if len(masks[i]) != seqLen {
			return nil, fmt.Errorf("row %d has %d mask values, expected %d", i, len(masks[i]), seqLen)
		}
	}

	return &SliceDataset{
		tokenIDs: tokenIDs,
		masks:    masks,
		labels:   labels,
		seqLen:   seqLen,
	}, nil
}

// Len returns the number of examples in the dataset
func (ds *SliceDataset) Len() int {
	return len(ds.labels)
}

// SeqLen returns the fixed sequence length shared by all rows
func (ds *SliceDataset) SeqLen() int {
	return ds.seqLen
}

// Get returns the example at the given index
func (ds *SliceDataset) Get(idx int) (tokenIDs []int32, attentionMask []int32, label int32, err error) {
	if idx < 0 || idx >= len(ds.labels) {
		return nil, nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.labels))
	}

	return ds.tokenIDs[idx], ds.masks[idx], ds.labels[idx], nil
}
