package data

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// NumQuadrants is the fixed number of fold files the loader expects.
const NumQuadrants = 4

// QuadrantData holds the four tokenized folds together with the dense
// vocabulary built over all of them.
type QuadrantData struct {
	Folds      [NumQuadrants]*SliceDataset
	Vocab      *Vocab
	NumClasses int
}

// QuadrantFileName returns the expected file name for a fold index.
func QuadrantFileName(idx int) string {
	return fmt.Sprintf("quad%d.tsv", idx)
}

type rawExample struct {
	label  int32
	tokens []int
}

// LoadQuadrants reads quad0.tsv through quad3.tsv from dir. Each line is
// `label<TAB>text`; blank lines are skipped. File order is preserved so fold
// replay is identical across runs.
func LoadQuadrants(dir string, tok *Tokenizer) (*QuadrantData, error) {
	if tok == nil {
		return nil, fmt.Errorf("tokenizer cannot be nil")
	}

	var raw [NumQuadrants][]rawExample
	tokens := make(map[int]struct{})
	maxLabel := int32(0)

	for i := 0; i < NumQuadrants; i++ {
		name := QuadrantFileName(i)
		examples, err := loadQuadrantFile(filepath.Join(dir, name), tok)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %v", name, err)
		}

		for _, ex := range examples {
			for _, id := range ex.tokens {
				tokens[id] = struct{}{}
			}
			if ex.label > maxLabel {
				maxLabel = ex.label
			}
		}
		raw[i] = examples
	}

	vocab := NewVocab(tokens)

	quad := &QuadrantData{Vocab: vocab, NumClasses: int(maxLabel) + 1}
	for i, examples := range raw {
		ids := make([][]int32, len(examples))
		masks := make([][]int32, len(examples))
		labels := make([]int32, len(examples))

		for j, ex := range examples {
			ids[j], masks[j] = vocab.Row(ex.tokens, tok.MaxLen())
			labels[j] = ex.label
		}

		ds, err := NewSliceDataset(ids, masks, labels)
		if err != nil {
			return nil, fmt.Errorf("failed to build fold %d: %v", i, err)
		}
		quad.Folds[i] = ds
	}

	return quad, nil
}

// loadQuadrantFile reads one fold file into labeled token sequences.
func loadQuadrantFile(path string, tok *Tokenizer) ([]rawExample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fold file: %v", err)
	}
	defer file.Close()

	var examples []rawExample
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		label, text, err := parseExampleLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", lineNo, err)
		}

		tokens, err := tok.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", lineNo, err)
		}

		examples = append(examples, rawExample{label: label, tokens: tokens})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fold file: %v", err)
	}
	if len(examples) == 0 {
		return nil, fmt.Errorf("fold file contains no examples")
	}

	return examples, nil
}

// parseExampleLine splits a `label<TAB>text` line.
func parseExampleLine(line string) (int32, string, error) {
	parts := strings.SplitN(line, "\t", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("expected label<TAB>text, got %q", line)
	}

	label, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, "", fmt.Errorf("invalid label %q: %v", parts[0], err)
	}
	if label < 0 {
		return 0, "", fmt.Errorf("label must be non-negative, got %d", label)
	}

	return int32(label), parts[1], nil
}
