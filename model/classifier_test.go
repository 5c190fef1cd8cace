package model

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/awdrgyjilplij/NLPC/data"
)

func testConfig() Config {
	return Config{
		VocabSize:  6,
		HiddenSize: 4,
		NumClasses: 2,
		Seed:       42,
	}
}

func makeBatch(t *testing.T, tokenIDs, attentionMask, labels []int32, seqLen int) *data.Batch {
	t.Helper()
	batch, err := data.NewBatch(tokenIDs, attentionMask, labels, seqLen)
	if err != nil {
		t.Fatalf("Failed to create batch: %v", err)
	}
	return batch
}

// fillParams overwrites the weights with larger values so gradients in the
// finite-difference checks are well away from zero.
func fillParams(tc *TextClassifier, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for _, p := range tc.Parameters() {
		for i := range p.Data {
			p.Data[i] = float32(rng.NormFloat64() * 0.5)
		}
	}
}

func TestClassifierConfig(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"vocab too small", func(c *Config) { c.VocabSize = 1 }, true},
		{"zero hidden size", func(c *Config) { c.HiddenSize = 0 }, true},
		{"single class", func(c *Config) { c.NumClasses = 1 }, true},
		{"negative dropout", func(c *Config) { c.HiddenDropout = -0.1 }, true},
		{"dropout of one", func(c *Config) { c.AttentionDropout = 1.0 }, true},
		{"valid dropout", func(c *Config) { c.SummaryDropout = 0.5 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig()
			tt.modify(&config)

			_, err := NewTextClassifier(config)
			if tt.wantErr && err == nil {
				t.Error("Expected config error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected valid config, got error: %v", err)
			}
		})
	}
}

func TestClassifierForward(t *testing.T) {
	batch := makeBatch(t,
		[]int32{1, 2, 3, 0, 2, 4, 0, 0},
		[]int32{1, 1, 1, 0, 1, 1, 0, 0},
		[]int32{0, 1},
		4)

	t.Run("Forward shapes", func(t *testing.T) {
		tc, err := NewTextClassifier(testConfig())
		if err != nil {
			t.Fatalf("Failed to create classifier: %v", err)
		}

		out, err := tc.Forward(batch, true)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		if len(out.Logits) != 2*2 {
			t.Errorf("Expected 4 logits, got %d", len(out.Logits))
		}
		if out.BatchSize != 2 || out.Classes != 2 {
			t.Errorf("Expected output 2x2, got %dx%d", out.BatchSize, out.Classes)
		}
		if len(out.Losses) != 1 {
			t.Errorf("Expected 1 loss, got %d", len(out.Losses))
		}
	})

	t.Run("Initial loss near uniform", func(t *testing.T) {
		tc, err := NewTextClassifier(testConfig())
		if err != nil {
			t.Fatalf("Failed to create classifier: %v", err)
		}

		out, err := tc.Forward(batch, true)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		// Fresh weights are near zero, so the loss sits close to ln(2).
		want := math.Log(2)
		if diff := math.Abs(float64(out.Losses[0]) - want); diff > 0.1 {
			t.Errorf("Expected initial loss near %.4f, got %.4f", want, out.Losses[0])
		}
	})

	t.Run("Eval mode is deterministic", func(t *testing.T) {
		config := testConfig()
		config.AttentionDropout = 0.3
		config.HiddenDropout = 0.3
		config.SummaryDropout = 0.3
		tc, err := NewTextClassifier(config)
		if err != nil {
			t.Fatalf("Failed to create classifier: %v", err)
		}
		tc.Eval()

		first, err := tc.Forward(batch, true)
		if err != nil {
			t.Fatalf("First forward failed: %v", err)
		}
		second, err := tc.Forward(batch, true)
		if err != nil {
			t.Fatalf("Second forward failed: %v", err)
		}

		for i := range first.Logits {
			if first.Logits[i] != second.Logits[i] {
				t.Fatalf("Expected identical logits in eval mode, got %f and %f at %d",
					first.Logits[i], second.Logits[i], i)
			}
		}
		if first.Losses[0] != second.Losses[0] {
			t.Errorf("Expected identical losses in eval mode, got %f and %f",
				first.Losses[0], second.Losses[0])
		}
	})

	t.Run("Forward without labels", func(t *testing.T) {
		tc, err := NewTextClassifier(testConfig())
		if err != nil {
			t.Fatalf("Failed to create classifier: %v", err)
		}

		out, err := tc.Forward(batch, false)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		if len(out.Losses) != 0 {
			t.Errorf("Expected no losses without labels, got %d", len(out.Losses))
		}
		if err := out.Backward(); err == nil {
			t.Error("Expected backward error without labels")
		}
	})

	t.Run("Error cases", func(t *testing.T) {
		tc, err := NewTextClassifier(testConfig())
		if err != nil {
			t.Fatalf("Failed to create classifier: %v", err)
		}

		if _, err := tc.Forward(nil, true); err == nil {
			t.Error("Expected error for nil batch")
		}

		badLabel := makeBatch(t, []int32{1, 2}, []int32{1, 1}, []int32{2}, 2)
		if _, err := tc.Forward(badLabel, true); err == nil {
			t.Error("Expected error for out of range label")
		}

		badToken := makeBatch(t, []int32{6, 2}, []int32{1, 1}, []int32{0}, 2)
		if _, err := tc.Forward(badToken, true); err == nil {
			t.Error("Expected error for out of range token id")
		}

		allPadding := makeBatch(t, []int32{1, 2, 3, 4}, []int32{1, 1, 0, 0}, []int32{0, 1}, 2)
		_, err = tc.Forward(allPadding, true)
		if err == nil {
			t.Fatal("Expected error for fully masked example")
		}
		if !strings.Contains(err.Error(), "no unmasked positions") {
			t.Errorf("Expected unmasked-position error, got: %v", err)
		}
	})
}

func TestClassifierGradients(t *testing.T) {
	batch := makeBatch(t,
		[]int32{1, 2, 3, 0, 2, 4, 0, 0, 5, 1, 2, 3},
		[]int32{1, 1, 1, 0, 1, 1, 0, 0, 1, 1, 1, 1},
		[]int32{0, 1, 0},
		4)

	newClassifier := func(t *testing.T) *TextClassifier {
		t.Helper()
		tc, err := NewTextClassifier(testConfig())
		if err != nil {
			t.Fatalf("Failed to create classifier: %v", err)
		}
		fillParams(tc, 7)
		return tc
	}

	lossAt := func(t *testing.T, tc *TextClassifier) float64 {
		t.Helper()
		out, err := tc.Forward(batch, true)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		return float64(out.Losses[0])
	}

	// checkGrad compares an analytic gradient against a central finite
	// difference of the loss.
	checkGrad := func(t *testing.T, tc *TextClassifier, p *Parameter, idx int) {
		t.Helper()
		const eps = 1e-3

		orig := p.Data[idx]
		p.Data[idx] = orig + eps
		lossPlus := lossAt(t, tc)
		p.Data[idx] = orig - eps
		lossMinus := lossAt(t, tc)
		p.Data[idx] = orig

		numeric := (lossPlus - lossMinus) / (2 * eps)
		analytic := float64(p.Grad[idx])
		tolerance := 5e-3 * math.Max(1, math.Abs(numeric))
		if math.Abs(numeric-analytic) > tolerance {
			t.Errorf("Gradient mismatch for %s[%d]: expected %.6f, got %.6f", p.Name, idx, numeric, analytic)
		}
	}

	t.Run("Gradients are accumulated", func(t *testing.T) {
		tc := newClassifier(t)

		out, err := tc.Forward(batch, true)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if err := out.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}

		for _, p := range tc.Parameters() {
			nonZero := false
			for _, g := range p.Grad {
				if g != 0 {
					nonZero = true
					break
				}
			}
			if !nonZero {
				t.Errorf("Expected non-zero gradient for %s", p.Name)
			}
		}
	})

	t.Run("Finite difference check", func(t *testing.T) {
		tc := newClassifier(t)

		out, err := tc.Forward(batch, true)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if err := out.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}

		for idx := range tc.bias.Data {
			checkGrad(t, tc, tc.bias, idx)
		}
		for idx := range tc.query.Data {
			checkGrad(t, tc, tc.query, idx)
		}
		for idx := range tc.weight.Data {
			checkGrad(t, tc, tc.weight, idx)
		}
		// The embedding rows for token ids 1 and 2, both used by the batch.
		h := tc.Config().HiddenSize
		for idx := 1 * h; idx < 3*h; idx++ {
			checkGrad(t, tc, tc.embedding, idx)
		}
	})

	t.Run("Gradient step reduces loss", func(t *testing.T) {
		tc := newClassifier(t)

		out, err := tc.Forward(batch, true)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		before := float64(out.Losses[0])
		if err := out.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}

		const lr = 0.05
		for _, p := range tc.Parameters() {
			for i := range p.Data {
				p.Data[i] -= lr * p.Grad[i]
			}
		}

		after := lossAt(t, tc)
		if after >= before {
			t.Errorf("Expected loss to decrease, got %.6f before and %.6f after", before, after)
		}
	})

	t.Run("Backward runs once", func(t *testing.T) {
		tc := newClassifier(t)

		out, err := tc.Forward(batch, true)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if err := out.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		if err := out.Backward(); err == nil {
			t.Error("Expected error for second backward")
		}
	})
}

func TestClassifierDropout(t *testing.T) {
	batch := makeBatch(t,
		[]int32{1, 2, 3, 4, 2, 4, 1, 5},
		[]int32{1, 1, 1, 1, 1, 1, 1, 1},
		[]int32{0, 1},
		4)

	config := testConfig()
	config.AttentionDropout = 0.3
	config.HiddenDropout = 0.3
	config.SummaryDropout = 0.3
	tc, err := NewTextClassifier(config)
	if err != nil {
		t.Fatalf("Failed to create classifier: %v", err)
	}
	fillParams(tc, 11)

	tc.Eval()
	evalOut, err := tc.Forward(batch, true)
	if err != nil {
		t.Fatalf("Eval forward failed: %v", err)
	}

	tc.Train()
	trainOut, err := tc.Forward(batch, true)
	if err != nil {
		t.Fatalf("Train forward failed: %v", err)
	}

	if trainOut.Losses[0] == evalOut.Losses[0] {
		t.Error("Expected dropout to perturb the training loss")
	}

	secondTrain, err := tc.Forward(batch, true)
	if err != nil {
		t.Fatalf("Second train forward failed: %v", err)
	}
	if secondTrain.Losses[0] == trainOut.Losses[0] {
		t.Error("Expected fresh dropout masks on each training forward")
	}
}

func TestClassifierReplicate(t *testing.T) {
	tc, err := NewTextClassifier(testConfig())
	if err != nil {
		t.Fatalf("Failed to create classifier: %v", err)
	}
	fillParams(tc, 13)

	replica, err := tc.Replicate(99)
	if err != nil {
		t.Fatalf("Failed to replicate classifier: %v", err)
	}

	srcParams := tc.Parameters()
	dstParams := replica.Parameters()
	for i, p := range srcParams {
		for j, v := range p.Data {
			if dstParams[i].Data[j] != v {
				t.Fatalf("Expected replica weights to match %s at %d", p.Name, j)
			}
		}
	}

	// A replica backward must not touch the source gradients.
	batch := makeBatch(t, []int32{1, 2, 3, 4}, []int32{1, 1, 1, 1}, []int32{1}, 4)
	out, err := replica.Forward(batch, true)
	if err != nil {
		t.Fatalf("Replica forward failed: %v", err)
	}
	if err := out.Backward(); err != nil {
		t.Fatalf("Replica backward failed: %v", err)
	}

	for _, p := range srcParams {
		for j, g := range p.Grad {
			if g != 0 {
				t.Fatalf("Expected source gradients untouched, got %f in %s at %d", g, p.Name, j)
			}
		}
	}
}
