package training

import (
	"fmt"

	"github.com/awdrgyjilplij/NLPC/data"
)

// FoldSet holds the per-epoch data order: three training folds iterated in
// fold order, and one held-out evaluation fold. Which datasets train and
// which evaluate is fixed by position, the last quadrant always evaluates.
type FoldSet struct {
	Train [data.NumQuadrants - 1]*DataLoader
	Eval  *DataLoader
}

// BuildFolds wraps the four quadrant datasets in sequential loaders.
func BuildFolds(datasets [data.NumQuadrants]data.Dataset, trainBatchSize, evalBatchSize int) (*FoldSet, error) {
	fs := &FoldSet{}

	for i := 0; i < data.NumQuadrants-1; i++ {
		loader, err := NewDataLoader(datasets[i], trainBatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to build training fold %d: %v", i, err)
		}
		fs.Train[i] = loader
	}

	loader, err := NewDataLoader(datasets[data.NumQuadrants-1], evalBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build evaluation fold: %v", err)
	}
	fs.Eval = loader

	return fs, nil
}

// TrainSteps returns the number of optimization steps in one epoch, the
// batch count summed over the three training folds.
func (fs *FoldSet) TrainSteps() int {
	total := 0
	for _, loader := range fs.Train {
		total += loader.Len()
	}
	return total
}

// TotalSteps returns the number of optimization steps across the whole run.
func (fs *FoldSet) TotalSteps(epochs int) int {
	return fs.TrainSteps() * epochs
}
