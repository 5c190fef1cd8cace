package data

import (
	"fmt"
	"sort"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// EncodingName is the BPE vocabulary used for all text preprocessing.
	EncodingName = "cl100k_base"

	// PadID fills positions past the end of a short sequence. Padded
	// positions always carry a zero attention mask.
	PadID = 0
)

// Encoding is the token encoder surface the data layer needs. tiktoken's
// Tiktoken satisfies it.
type Encoding interface {
	EncodeOrdinary(text string) []int
}

// Tokenizer converts raw text into token id sequences truncated to a fixed
// maximum length.
type Tokenizer struct {
	enc    Encoding
	maxLen int
}

// NewTokenizer creates a tokenizer backed by the cl100k_base BPE encoding.
func NewTokenizer(maxLen int) (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(EncodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %v", EncodingName, err)
	}

	return NewTokenizerWithEncoding(enc, maxLen)
}

// NewTokenizerWithEncoding creates a tokenizer over a caller-supplied encoding.
func NewTokenizerWithEncoding(enc Encoding, maxLen int) (*Tokenizer, error) {
	if enc == nil {
		return nil, fmt.Errorf("encoding cannot be nil")
	}
	if maxLen <= 0 {
		return nil, fmt.Errorf("max sequence length must be positive, got %d", maxLen)
	}

	return &Tokenizer{enc: enc, maxLen: maxLen}, nil
}

// MaxLen returns the fixed sequence length rows are padded or truncated to.
func (t *Tokenizer) MaxLen() int {
	return t.maxLen
}

// Encode tokenizes text and truncates the result to the maximum length.
func (t *Tokenizer) Encode(text string) ([]int, error) {
	ids := t.enc.EncodeOrdinary(text)
	if len(ids) == 0 {
		return nil, fmt.Errorf("text produced no tokens")
	}
	if len(ids) > t.maxLen {
		ids = ids[:t.maxLen]
	}

	return ids, nil
}

// Vocab maps sparse BPE token ids onto a dense local vocabulary so the
// classifier's embedding table only covers tokens that actually occur in the
// corpus. Index 0 is reserved for padding.
type Vocab struct {
	byToken map[int]int32
	size    int
}

// NewVocab builds the dense mapping from every token id present in the
// corpus. Ids are assigned in ascending token order, so identical data always
// produces an identical mapping.
func NewVocab(tokens map[int]struct{}) *Vocab {
	sorted := make([]int, 0, len(tokens))
	for id := range tokens {
		sorted = append(sorted, id)
	}
	sort.Ints(sorted)

	byToken := make(map[int]int32, len(sorted))
	for i, id := range sorted {
		byToken[id] = int32(i + 1) // 0 is PadID
	}

	return &Vocab{byToken: byToken, size: len(sorted) + 1}
}

// Size returns the dense vocabulary size including the padding slot.
func (v *Vocab) Size() int {
	return v.size
}

// ID returns the dense id for a BPE token id, or PadID when the token was not
// part of the corpus the vocabulary was built from.
func (v *Vocab) ID(token int) int32 {
	if id, ok := v.byToken[token]; ok {
		return id
	}

	return PadID
}

// Row remaps a truncated token sequence into a fixed-length dense id row and
// its attention mask.
func (v *Vocab) Row(tokens []int, maxLen int) (ids []int32, mask []int32) {
	ids = make([]int32, maxLen)
	mask = make([]int32, maxLen)
	for i := 0; i < len(tokens) && i < maxLen; i++ {
		ids[i] = v.ID(tokens[i])
		mask[i] = 1
	}

	return ids, mask
}
