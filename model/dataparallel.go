package model

import (
	"fmt"
	"sync"

	"github.com/awdrgyjilplij/NLPC/data"
)

// DataParallel mirrors a classifier across a set of replicas, one per
// configured device. Each forward pass broadcasts the root weights, splits
// the batch into contiguous shards and runs the shards concurrently. The
// resulting Output carries one mean loss per shard, and its backward pass
// reduces the replica gradients back into the root parameters.
type DataParallel struct {
	root     *TextClassifier
	replicas []*TextClassifier
}

// NewDataParallel wraps root with replicaCount parallel replicas. The root
// keeps the canonical weights; replica dropout streams are seeded from the
// root seed so runs stay reproducible.
func NewDataParallel(root *TextClassifier, replicaCount int) (*DataParallel, error) {
	if root == nil {
		return nil, fmt.Errorf("root model cannot be nil")
	}
	if replicaCount < 2 {
		return nil, fmt.Errorf("replica count must be at least 2, got %d", replicaCount)
	}

	replicas := make([]*TextClassifier, replicaCount)
	for i := range replicas {
		replica, err := root.Replicate(root.Config().Seed + int64(i) + 1)
		if err != nil {
			return nil, fmt.Errorf("failed to create replica %d: %v", i, err)
		}
		replicas[i] = replica
	}

	return &DataParallel{root: root, replicas: replicas}, nil
}

// ReplicaCount returns the number of replicas.
func (dp *DataParallel) ReplicaCount() int {
	return len(dp.replicas)
}

// Parameters returns the root parameters. Optimizers step these; the
// replicas pick the update up on the next forward pass.
func (dp *DataParallel) Parameters() []*Parameter {
	return dp.root.Parameters()
}

// Train sets the root and all replicas to training mode.
func (dp *DataParallel) Train() {
	dp.root.Train()
	for _, r := range dp.replicas {
		r.Train()
	}
}

// Eval sets the root and all replicas to evaluation mode.
func (dp *DataParallel) Eval() {
	dp.root.Eval()
	for _, r := range dp.replicas {
		r.Eval()
	}
}

// IsTraining returns true if in training mode.
func (dp *DataParallel) IsTraining() bool {
	return dp.root.IsTraining()
}

// NumClasses returns the number of output classes.
func (dp *DataParallel) NumClasses() int {
	return dp.root.NumClasses()
}

// shardBatch splits a batch into contiguous shards of ceil(size/replicas)
// examples. The final shard may be short, and batches smaller than the
// replica count produce fewer shards than replicas.
func (dp *DataParallel) shardBatch(batch *data.Batch) ([]*data.Batch, error) {
	shardSize := (batch.Size + len(dp.replicas) - 1) / len(dp.replicas)
	shardCount := (batch.Size + shardSize - 1) / shardSize

	shards := make([]*data.Batch, shardCount)
	for i := 0; i < shardCount; i++ {
		start := i * shardSize
		end := start + shardSize
		if end > batch.Size {
			end = batch.Size
		}
		shard, err := batch.Slice(start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to shard batch: %v", err)
		}
		shards[i] = shard
	}

	return shards, nil
}

// broadcast copies the root weights into every replica and clears the
// replica gradient buffers for the next backward pass.
func (dp *DataParallel) broadcast() error {
	rootParams := dp.root.Parameters()
	for i, replica := range dp.replicas {
		replicaParams := replica.Parameters()
		for j, p := range replicaParams {
			if err := p.CopyFrom(rootParams[j]); err != nil {
				return fmt.Errorf("failed to broadcast to replica %d: %v", i, err)
			}
			p.ZeroGrad()
		}
	}
	return nil
}

// Forward scatters the batch across the replicas and gathers the results.
// With labels, Output.Losses holds one mean loss per shard in shard order.
func (dp *DataParallel) Forward(batch *data.Batch, withLabels bool) (*Output, error) {
	if batch == nil {
		return nil, fmt.Errorf("batch cannot be nil")
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	if err := dp.broadcast(); err != nil {
		return nil, err
	}

	shards, err := dp.shardBatch(batch)
	if err != nil {
		return nil, err
	}

	outputs := make([]*Output, len(shards))
	errs := make([]error, len(shards))

	var wg sync.WaitGroup
	for i := range shards {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			outputs[idx], errs[idx] = dp.replicas[idx].Forward(shards[idx], withLabels)
		}(i)
	}
	wg.Wait()

	for i, shardErr := range errs {
		if shardErr != nil {
			return nil, fmt.Errorf("replica %d forward failed: %v", i, shardErr)
		}
	}

	// Gather logits in shard order.
	classes := dp.root.NumClasses()
	logits := make([]float32, 0, batch.Size*classes)
	for _, out := range outputs {
		logits = append(logits, out.Logits...)
	}

	if !withLabels {
		return NewOutput(logits, batch.Size, classes, nil, nil)
	}

	losses := make([]float32, len(shards))
	for i, out := range outputs {
		losses[i] = out.Losses[0]
	}

	return NewOutput(logits, batch.Size, classes, losses, func() error {
		return dp.backwardFrom(outputs)
	})
}

// backwardFrom runs the shard backward passes concurrently and reduces the
// replica gradients into the root. Each replica gradient is scaled by the
// shard count, matching the gradient of the mean of the per-shard losses.
func (dp *DataParallel) backwardFrom(outputs []*Output) error {
	errs := make([]error, len(outputs))

	var wg sync.WaitGroup
	for i := range outputs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = outputs[idx].Backward()
		}(i)
	}
	wg.Wait()

	for i, shardErr := range errs {
		if shardErr != nil {
			return fmt.Errorf("replica %d backward failed: %v", i, shardErr)
		}
	}

	scale := 1 / float32(len(outputs))
	rootParams := dp.root.Parameters()
	for i := range outputs {
		replicaParams := dp.replicas[i].Parameters()
		for j, p := range rootParams {
			for k, g := range replicaParams[j].Grad {
				p.Grad[k] += g * scale
			}
		}
	}

	return nil
}
