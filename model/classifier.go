package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/awdrgyjilplij/NLPC/data"
)

// Config describes the reference text classifier.
type Config struct {
	VocabSize  int
	HiddenSize int
	NumClasses int

	// Dropout probabilities, active in training mode only.
	AttentionDropout float32 // applied to the attention probabilities
	HiddenDropout    float32 // applied to the token embeddings
	SummaryDropout   float32 // applied to the pooled vector

	// Seed drives weight initialization and dropout sampling.
	Seed int64
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.VocabSize < 2 {
		return fmt.Errorf("vocab size must be at least 2, got %d", c.VocabSize)
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
	return nil
}

// TextClassifier is an attention-pooled sequence classifier: token embeddings
// are combined through a learned attention query and classified by a linear
// head. It implements Model with exact manual gradients, so the training
// loop can run without an external ML runtime.
type TextClassifier struct {
	config Config

	embedding *Parameter // [VocabSize, HiddenSize]
	query     *Parameter // [HiddenSize]
	weight    *Parameter // [HiddenSize, NumClasses]
	bias      *Parameter // [NumClasses]

	rng      *rand.Rand
	training bool
}

// NewTextClassifier creates a classifier with freshly initialized weights.
func NewTextClassifier(config Config) (*TextClassifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classifier config: %v", err)
	}

	tc := &TextClassifier{
		config:    config,
		embedding: NewParameter("embedding.weight", []int{config.VocabSize, config.HiddenSize}),
		query:     NewParameter("attention.query", []int{config.HiddenSize}),
		weight:    NewParameter("classifier.weight", []int{config.HiddenSize, config.NumClasses}),
		bias:      NewParameter("classifier.bias", []int{config.NumClasses}),
		rng:       rand.New(rand.NewSource(config.Seed)),
		training:  true,
	}
	tc.initParameters()

	return tc, nil
}

// initParameters seeds the weights: embeddings and query from a small normal
// distribution, the classifier head with Xavier/Glorot uniform, bias at zero.
func (tc *TextClassifier) initParameters() {
	for i := range tc.embedding.Data {
		tc.embedding.Data[i] = float32(tc.rng.NormFloat64() * 0.02)
	}
	for i := range tc.query.Data {
		tc.query.Data[i] = float32(tc.rng.NormFloat64() * 0.02)
	}

	bound := math.Sqrt(6.0 / float64(tc.config.HiddenSize+tc.config.NumClasses))
	for i := range tc.weight.Data {
		tc.weight.Data[i] = float32((tc.rng.Float64()*2.0 - 1.0) * bound)
	}
}

// Config returns the classifier configuration.
func (tc *TextClassifier) Config() Config {
	return tc.config
}

// Parameters returns the trainable parameters in a fixed order.
func (tc *TextClassifier) Parameters() []*Parameter {
	return []*Parameter{tc.embedding, tc.query, tc.weight, tc.bias}
}

// Train sets the classifier to training mode, enabling dropout.
func (tc *TextClassifier) Train() {
	tc.training = true
}

// Eval sets the classifier to evaluation mode, disabling dropout.
func (tc *TextClassifier) Eval() {
	tc.training = false
}

// IsTraining returns true if in training mode.
func (tc *TextClassifier) IsTraining() bool {
	return tc.training
}

// NumClasses returns the number of output classes.
func (tc *TextClassifier) NumClasses() int {
	return tc.config.NumClasses
}

// Replicate builds a copy of the classifier with identical weights. The copy
// samples its dropout from the given seed so replicas do not share masks.
func (tc *TextClassifier) Replicate(seed int64) (*TextClassifier, error) {
	config := tc.config
	config.Seed = seed

	replica, err := NewTextClassifier(config)
	if err != nil {
		return nil, err
	}
	if err := replica.SyncFrom(tc); err != nil {
		return nil, err
	}

	return replica, nil
}

// SyncFrom overwrites this classifier's weights from another classifier with
// the same architecture.
func (tc *TextClassifier) SyncFrom(src *TextClassifier) error {
	srcParams := src.Parameters()
	for i, p := range tc.Parameters() {
		if err := p.CopyFrom(srcParams[i]); err != nil {
			return fmt.Errorf("failed to sync parameters: %v", err)
		}
	}
	return nil
}

// forwardState keeps the activations one backward pass needs.
type forwardState struct {
	batch *data.Batch

	embeds     []float32 // [B*T*H] embeddings after hidden dropout
	hiddenMask []float32 // dropout multipliers for embeds, nil when inactive
	alpha      []float32 // [B*T] attention probabilities before dropout
	alphaDrop  []float32 // [B*T] attention probabilities after dropout
	attnMask   []float32 // dropout multipliers for alpha, nil when inactive
	pooled     []float32 // [B*H] pooled vectors after summary dropout
	sumMask    []float32 // dropout multipliers for pooled, nil when inactive
	probs      []float32 // [B*C] softmax of the logits

	used bool
}

// Forward runs the classifier over one batch.
func (tc *TextClassifier) Forward(batch *data.Batch, withLabels bool) (*Output, error) {
	if batch == nil {
		return nil, fmt.Errorf("batch cannot be nil")
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	b, t := batch.Size, batch.SeqLen
	h, c := tc.config.HiddenSize, tc.config.NumClasses

	if withLabels {
		for i, label := range batch.Labels {
			if label < 0 || int(label) >= c {
				return nil, fmt.Errorf("label %d for example %d outside [0, %d)", label, i, c)
			}
		}
	}

	state := &forwardState{
		batch:     batch,
		embeds:    make([]float32, b*t*h),
		alpha:     make([]float32, b*t),
		alphaDrop: make([]float32, b*t),
		pooled:    make([]float32, b*h),
	}

	// Embedding lookup.
	for i := 0; i < b; i++ {
		for j := 0; j < t; j++ {
			id := batch.TokenIDs[i*t+j]
			if id < 0 || int(id) >= tc.config.VocabSize {
				return nil, fmt.Errorf("token id %d at example %d position %d outside vocabulary of %d",
					id, i, j, tc.config.VocabSize)
			}
			copy(state.embeds[(i*t+j)*h:(i*t+j+1)*h], tc.embedding.Data[int(id)*h:(int(id)+1)*h])
		}
	}

	if tc.training && tc.config.HiddenDropout > 0 {
		state.hiddenMask = tc.dropoutMask(len(state.embeds), tc.config.HiddenDropout)
		for j, m := range state.hiddenMask {
			state.embeds[j] *= m
		}
	}

	logits := make([]float32, b*c)
	scores := make([]float64, t)
	expVals := make([]float64, t)
	var sumLoss float64

	for i := 0; i < b; i++ {
		// Attention scores over unmasked positions.
		valid := 0
		maxScore := math.Inf(-1)
		for j := 0; j < t; j++ {
			if batch.AttentionMask[i*t+j] == 0 {
				continue
			}
			row := state.embeds[(i*t+j)*h : (i*t+j+1)*h]
			var s float64
			for k := 0; k < h; k++ {
				s += float64(tc.query.Data[k]) * float64(row[k])
			}
			scores[j] = s
			valid++
			if s > maxScore {
				maxScore = s
			}
		}
		if valid == 0 {
			return nil, fmt.Errorf("example %d has no unmasked positions", i)
		}

		var sumExp float64
		for j := 0; j < t; j++ {
			expVals[j] = 0
			if batch.AttentionMask[i*t+j] == 0 {
				continue
			}
			expVals[j] = math.Exp(scores[j] - maxScore)
			sumExp += expVals[j]
		}
		for j := 0; j < t; j++ {
			state.alpha[i*t+j] = float32(expVals[j] / sumExp)
		}

		// Attention dropout.
		if tc.training && tc.config.AttentionDropout > 0 {
			if state.attnMask == nil {
				state.attnMask = tc.dropoutMask(b*t, tc.config.AttentionDropout)
			}
			for j := 0; j < t; j++ {
				state.alphaDrop[i*t+j] = state.alpha[i*t+j] * state.attnMask[i*t+j]
			}
		} else {
			copy(state.alphaDrop[i*t:(i+1)*t], state.alpha[i*t:(i+1)*t])
		}

		// Pooling.
		pooled := state.pooled[i*h : (i+1)*h]
		for j := 0; j < t; j++ {
			a := state.alphaDrop[i*t+j]
			if a == 0 {
				continue
			}
			row := state.embeds[(i*t+j)*h : (i*t+j+1)*h]
			for k := 0; k < h; k++ {
				pooled[k] += a * row[k]
			}
		}

		// Summary dropout.
		if tc.training && tc.config.SummaryDropout > 0 {
			if state.sumMask == nil {
				state.sumMask = tc.dropoutMask(b*h, tc.config.SummaryDropout)
			}
			for k := 0; k < h; k++ {
				pooled[k] *= state.sumMask[i*h+k]
			}
		}

		// Classifier head.
		for j := 0; j < c; j++ {
			z := tc.bias.Data[j]
			for k := 0; k < h; k++ {
				z += tc.weight.Data[k*c+j] * pooled[k]
			}
			logits[i*c+j] = z
		}
	}

	if !withLabels {
		return NewOutput(logits, b, c, nil, nil)
	}

	// Softmax cross-entropy, mean over the batch.
	state.probs = make([]float32, b*c)
	for i := 0; i < b; i++ {
		maxLogit := math.Inf(-1)
		for j := 0; j < c; j++ {
			if v := float64(logits[i*c+j]); v > maxLogit {
				maxLogit = v
			}
		}
		var sumExp float64
		for j := 0; j < c; j++ {
			sumExp += math.Exp(float64(logits[i*c+j]) - maxLogit)
		}
		for j := 0; j < c; j++ {
			state.probs[i*c+j] = float32(math.Exp(float64(logits[i*c+j])-maxLogit) / sumExp)
		}
		label := int(batch.Labels[i])
		sumLoss += -math.Log(float64(state.probs[i*c+label]))
	}

	losses := []float32{float32(sumLoss / float64(b))}
	return NewOutput(logits, b, c, losses, func() error {
		return tc.backwardFrom(state)
	})
}

// dropoutMask samples inverted-dropout multipliers: zero with probability p,
// 1/(1-p) otherwise.
func (tc *TextClassifier) dropoutMask(n int, p float32) []float32 {
	mask := make([]float32, n)
	scale := 1 / (1 - p)
	for i := range mask {
		if tc.rng.Float32() >= p {
			mask[i] = scale
		}
	}
	return mask
}

// backwardFrom accumulates the gradients of the mean batch loss into the
// parameter grad buffers.
func (tc *TextClassifier) backwardFrom(state *forwardState) error {
	if state.used {
		return fmt.Errorf("backward already ran for this output")
	}
	state.used = true

	batch := state.batch
	b, t := batch.Size, batch.SeqLen
	h, c := tc.config.HiddenSize, tc.config.NumClasses

	dEmbeds := make([]float32, b*t*h)
	dPooled := make([]float32, h)
	dAlpha := make([]float32, t)
	dScores := make([]float64, t)
	invB := 1.0 / float64(b)

	for i := 0; i < b; i++ {
		label := int(batch.Labels[i])

		// Cross-entropy through the classifier head.
		for k := range dPooled {
			dPooled[k] = 0
		}
		pooled := state.pooled[i*h : (i+1)*h]
		for j := 0; j < c; j++ {
			dz := float64(state.probs[i*c+j]) * invB
			if j == label {
				dz -= invB
			}
			dzf := float32(dz)
			tc.bias.Grad[j] += dzf
			for k := 0; k < h; k++ {
				tc.weight.Grad[k*c+j] += pooled[k] * dzf
				dPooled[k] += tc.weight.Data[k*c+j] * dzf
			}
		}

		if state.sumMask != nil {
			for k := 0; k < h; k++ {
				dPooled[k] *= state.sumMask[i*h+k]
			}
		}

		// Pooling.
		for j := 0; j < t; j++ {
			dAlpha[j] = 0
			if batch.AttentionMask[i*t+j] == 0 {
				continue
			}
			row := state.embeds[(i*t+j)*h : (i*t+j+1)*h]
			grad := dEmbeds[(i*t+j)*h : (i*t+j+1)*h]
			a := state.alphaDrop[i*t+j]
			var da float32
			for k := 0; k < h; k++ {
				da += dPooled[k] * row[k]
				grad[k] += a * dPooled[k]
			}
			dAlpha[j] = da
		}

		if state.attnMask != nil {
			for j := 0; j < t; j++ {
				dAlpha[j] *= state.attnMask[i*t+j]
			}
		}

		// Softmax over attention scores.
		var dot float64
		for j := 0; j < t; j++ {
			if batch.AttentionMask[i*t+j] == 0 {
				continue
			}
			dot += float64(state.alpha[i*t+j]) * float64(dAlpha[j])
		}
		for j := 0; j < t; j++ {
			dScores[j] = 0
			if batch.AttentionMask[i*t+j] == 0 {
				continue
			}
			dScores[j] = float64(state.alpha[i*t+j]) * (float64(dAlpha[j]) - dot)
		}

		// Scores through the query and embeddings.
		for j := 0; j < t; j++ {
			if batch.AttentionMask[i*t+j] == 0 {
				continue
			}
			ds := float32(dScores[j])
			row := state.embeds[(i*t+j)*h : (i*t+j+1)*h]
			grad := dEmbeds[(i*t+j)*h : (i*t+j+1)*h]
			for k := 0; k < h; k++ {
				tc.query.Grad[k] += ds * row[k]
				grad[k] += ds * tc.query.Data[k]
			}
		}
	}

	// Hidden dropout, then the embedding table.
	if state.hiddenMask != nil {
		for j, m := range state.hiddenMask {
			dEmbeds[j] *= m
		}
	}
	for i := 0; i < b; i++ {
		for j := 0; j < t; j++ {
			if batch.AttentionMask[i*t+j] == 0 {
				continue
			}
			id := int(batch.TokenIDs[i*t+j])
			src := dEmbeds[(i*t+j)*h : (i*t+j+1)*h]
			dst := tc.embedding.Grad[id*h : (id+1)*h]
			for k := 0; k < h; k++ {
				dst[k] += src[k]
			}
		}
	}

	return nil
}
