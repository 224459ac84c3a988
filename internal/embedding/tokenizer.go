package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

const (
	tokenCLS     = 101
	tokenSEP     = 102
	vocabSize    = 30522
	firstWordTok = 1000
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer lowercases text, splits it into words and punctuation, and maps each
// piece to a hashed id in the BERT vocabulary range. It stands in for a WordPiece vocabulary.
type SimpleTokenizer struct{}

// Tokenize produces [CLS] pieces... [SEP], padded to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = tokenCLS
	attentionMask[0] = 1
	pos := 1
	for _, piece := range SplitWords(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = TokenID(piece)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = tokenSEP
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// SplitWords lowercases text and splits it into words, emitting each punctuation rune
// as its own piece.
func SplitWords(text string) []string {
	var words []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			words = append(words, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return words
}

// TokenID maps a piece to a stable id outside the special-token range.
func TokenID(piece string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(piece))
	return int64(firstWordTok + h.Sum32()%(vocabSize-firstWordTok))
}
