package data

import "testing"

// runeEncoding maps each rune to its code point, standing in for a BPE
// encoding in tests that must not download vocabulary files.
type runeEncoding struct{}

func (runeEncoding) EncodeOrdinary(text string) []int {
	var ids []int
	for _, r := range text {
		ids = append(ids, int(r))
	}
	return ids
}

func TestTokenizerEncode(t *testing.T) {
	tok, err := NewTokenizerWithEncoding(runeEncoding{}, 4)
	if err != nil {
		t.Fatalf("failed to build tokenizer: %v", err)
	}

	tests := []struct {
		name      string
		text      string
		want      []int
		expectErr bool
	}{
		{name: "short text", text: "ab", want: []int{'a', 'b'}},
		{name: "exact length", text: "abcd", want: []int{'a', 'b', 'c', 'd'}},
		{name: "truncated", text: "abcdef", want: []int{'a', 'b', 'c', 'd'}},
		{name: "empty text", text: "", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := tok.Encode(tt.text)

			if tt.expectErr {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("token count: expected %d, got %d", len(tt.want), len(ids))
			}
			for i, id := range ids {
				if id != tt.want[i] {
					t.Errorf("token %d: expected %d, got %d", i, tt.want[i], id)
				}
			}
		})
	}
}

func TestNewTokenizerWithEncodingValidation(t *testing.T) {
	if _, err := NewTokenizerWithEncoding(nil, 4); err == nil {
		t.Errorf("expected error for nil encoding, got nil")
	}
	if _, err := NewTokenizerWithEncoding(runeEncoding{}, 0); err == nil {
		t.Errorf("expected error for zero max length, got nil")
	}
}

func TestVocabMapping(t *testing.T) {
	vocab := NewVocab(map[int]struct{}{900: {}, 5: {}, 42: {}})

	if vocab.Size() != 4 {
		t.Errorf("vocab size: expected 4, got %d", vocab.Size())
	}

	// Dense ids follow ascending token id order, with 0 reserved for padding.
	tests := []struct {
		token int
		want  int32
	}{
		{5, 1},
		{42, 2},
		{900, 3},
		{7, PadID},
	}
	for _, tt := range tests {
		if got := vocab.ID(tt.token); got != tt.want {
			t.Errorf("ID(%d): expected %d, got %d", tt.token, tt.want, got)
		}
	}
}

func TestVocabRow(t *testing.T) {
	vocab := NewVocab(map[int]struct{}{10: {}, 20: {}})

	ids, mask := vocab.Row([]int{20, 10}, 4)

	wantIDs := []int32{2, 1, PadID, PadID}
	wantMask := []int32{1, 1, 0, 0}
	for i := range ids {
		if ids[i] != wantIDs[i] {
			t.Errorf("id %d: expected %d, got %d", i, wantIDs[i], ids[i])
		}
		if mask[i] != wantMask[i] {
			t.Errorf("mask %d: expected %d, got %d", i, wantMask[i], mask[i])
		}
	}
}
