package data

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch reports batch tensors whose dimensions disagree.
var ErrShapeMismatch = errors.New("batch shape mismatch")

// Batch holds one batch of tokenized examples as flat row-major slices.
// TokenIDs and AttentionMask are [Size x SeqLen]; Labels is [Size].
type Batch struct {
	TokenIDs      []int32
	AttentionMask []int32
	Labels        []int32
	Size          int
	SeqLen        int
}

// NewBatch assembles a batch and validates that all three tensors share the
// leading dimension implied by the label count.
func NewBatch(tokenIDs, attentionMask, labels []int32, seqLen int) (*Batch, error) {
	if seqLen <= 0 {
		return nil, fmt.Errorf("%w: sequence length must be positive, got %d", ErrShapeMismatch, seqLen)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: batch has no labels", ErrShapeMismatch)
	}

	batch := &Batch{
		TokenIDs:      tokenIDs,
		AttentionMask: attentionMask,
		Labels:        labels,
		Size:          len(labels),
		SeqLen:        seqLen,
	}

	if err := batch.Validate(); err != nil {
		return nil, err
	}

	return batch, nil
}

// Validate checks the leading-dimension invariant. A batch that fails
// validation must never reach a training step.
func (b *Batch) Validate() error {
	if b.Size <= 0 || b.SeqLen <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", ErrShapeMismatch, b.Size, b.SeqLen)
	}

	want := b.Size * b.SeqLen
	if len(b.TokenIDs) != want {
		return fmt.Errorf("%w: token ids have %d elements, expected %d", ErrShapeMismatch, len(b.TokenIDs), want)
	}
	if len(b.AttentionMask) != want {
		return fmt.Errorf("%w: attention mask has %d elements, expected %d", ErrShapeMismatch, len(b.AttentionMask), want)
	}
	if len(b.Labels) != b.Size {
		return fmt.Errorf("%w: labels have %d elements, expected %d", ErrShapeMismatch, len(b.Labels), b.Size)
	}

	return nil
}

// Slice returns the sub-batch covering examples [start, end). The returned
// batch shares the underlying slices with the original.
func (b *Batch) Slice(start, end int) (*Batch, error) {
	if start < 0 || end > b.Size || start >= end {
		return nil, fmt.Errorf("%w: slice [%d, %d) out of range for batch of %d", ErrShapeMismatch, start, end, b.Size)
	}

	return &Batch{
		TokenIDs:      b.TokenIDs[start*b.SeqLen : end*b.SeqLen],
		AttentionMask: b.AttentionMask[start*b.SeqLen : end*b.SeqLen],
		Labels:        b.Labels[start:end],
		Size:          end - start,
		SeqLen:        b.SeqLen,
	}, nil
}
