package tokenize

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/gomlx/go-huggingface/tokenizers/api"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Default WordPiece vocabulary entries for special tokens.
const (
	ClassificationToken = "[CLS]"
	SeparatorToken      = "[SEP]"
	PadToken            = "[PAD]"
	UnknownToken        = "[UNK]"
	MaskToken           = "[MASK]"
)

const continuationPrefix = "##"

// WordPiece is a BERT-style tokenizer over a vocab.txt vocabulary. It
// implements the go-huggingface api.Tokenizer interface, so it can be wrapped
// by a PairEncoder in place of a tokenizer downloaded from the hub.
//
// Encode never adds special tokens.
type WordPiece struct {
	vocab     map[string]int
	tokens    []string
	lowercase bool

	maxCharsPerWord int
	unknownID       int
	specials        map[api.SpecialToken]int
}

var _ api.Tokenizer = (*WordPiece)(nil)

// WordPieceOption configures a WordPiece tokenizer.
type WordPieceOption func(*WordPiece)

// WithCasedInput keeps the input case and accents.
func WithCasedInput() WordPieceOption {
	return func(w *WordPiece) {
		w.lowercase = false
	}
}

// WithMaxCharsPerWord sets the length past which a word becomes [UNK].
func WithMaxCharsPerWord(n int) WordPieceOption {
	return func(w *WordPiece) {
		w.maxCharsPerWord = n
	}
}

// NewWordPiece builds a tokenizer from vocabulary entries, where the id of an
// entry is its position. The vocabulary must contain [UNK].
func NewWordPiece(vocab []string, opts ...WordPieceOption) (*WordPiece, error) {
	w := &WordPiece{
		vocab:           make(map[string]int, len(vocab)),
		tokens:          vocab,
		lowercase:       true,
		maxCharsPerWord: 100,
		specials:        make(map[api.SpecialToken]int),
	}
	for id, tok := range vocab {
		if _, dup := w.vocab[tok]; !dup {
			w.vocab[tok] = id
		}
	}
	for _, opt := range opts {
		opt(w)
	}

	unk, ok := w.vocab[UnknownToken]
	if !ok {
		return nil, fmt.Errorf("vocabulary of %d entries has no %s token", len(vocab), UnknownToken)
	}
	w.unknownID = unk

	for tok, special := range map[string]api.SpecialToken{
		ClassificationToken: api.TokClassification,
		SeparatorToken:      api.TokEndOfSentence,
		PadToken:            api.TokPad,
		UnknownToken:        api.TokUnknown,
		MaskToken:           api.TokMask,
	} {
		if id, ok := w.vocab[tok]; ok {
			w.specials[special] = id
		}
	}
	return w, nil
}

// LoadWordPiece reads a vocab.txt file, one token per line.
func LoadWordPiece(path string, opts ...WordPieceOption) (*WordPiece, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary %s: %w", path, err)
	}
	defer f.Close()

	var vocab []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		vocab = append(vocab, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocabulary %s: %w", path, err)
	}
	w, err := NewWordPiece(vocab, opts...)
	if err != nil {
		return nil, fmt.Errorf("vocabulary %s: %w", path, err)
	}
	return w, nil
}

// VocabSize returns the number of vocabulary entries.
func (w *WordPiece) VocabSize() int {
	return len(w.tokens)
}

// SpecialTokenID implements api.Tokenizer.
func (w *WordPiece) SpecialTokenID(token api.SpecialToken) (int, error) {
	id, ok := w.specials[token]
	if !ok {
		return 0, fmt.Errorf("special token %d is not in the vocabulary", token)
	}
	return id, nil
}

// Encode implements api.Tokenizer.
func (w *WordPiece) Encode(text string) []int {
	var ids []int
	for _, word := range w.basicTokens(text) {
		ids = append(ids, w.wordPieces(word)...)
	}
	return ids
}

// Decode implements api.Tokenizer. Continuation pieces are glued to the
// previous token.
func (w *WordPiece) Decode(ids []int) string {
	var sb strings.Builder
	for i, id := range ids {
		tok := UnknownToken
		if id >= 0 && id < len(w.tokens) {
			tok = w.tokens[id]
		}
		if rest, ok := strings.CutPrefix(tok, continuationPrefix); ok && i > 0 {
			sb.WriteString(rest)
			continue
		}
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(tok)
	}
	return sb.String()
}

// basicTokens cleans the text and splits it on whitespace and punctuation.
// CJK ideographs become tokens of their own.
func (w *WordPiece) basicTokens(text string) []string {
	if w.lowercase {
		text = stripAccents(strings.ToLower(text))
	}

	var (
		words   []string
		current []rune
	)
	flush := func() {
		if len(current) > 0 {
			words = append(words, string(current))
			current = current[:0]
		}
	}
	for _, r := range text {
		switch {
		case r == 0 || r == unicode.ReplacementChar || (unicode.IsControl(r) && !unicode.IsSpace(r)):
		case unicode.IsSpace(r):
			flush()
		case isPunctuation(r) || unicode.Is(unicode.Han, r):
			flush()
			words = append(words, string(r))
		default:
			current = append(current, r)
		}
	}
	flush()
	return words
}

// wordPieces splits a word greedily into the longest vocabulary prefixes.
func (w *WordPiece) wordPieces(word string) []int {
	chars := []rune(word)
	if len(chars) > w.maxCharsPerWord {
		return []int{w.unknownID}
	}

	var ids []int
	for start := 0; start < len(chars); {
		end := len(chars)
		found := -1
		for ; end > start; end-- {
			piece := string(chars[start:end])
			if start > 0 {
				piece = continuationPrefix + piece
			}
			if id, ok := w.vocab[piece]; ok {
				found = id
				break
			}
		}
		if found < 0 {
			return []int{w.unknownID}
		}
		ids = append(ids, found)
		start = end
	}
	return ids
}

func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// isPunctuation treats all non-alphanumeric ASCII symbols as punctuation, as
// BERT does, in addition to the Unicode punctuation classes.
func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}
