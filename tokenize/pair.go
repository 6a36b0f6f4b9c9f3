package tokenize

import (
	"errors"
	"fmt"

	"github.com/gomlx/go-huggingface/tokenizers/api"
)

// PairEncoder is a Backend built on a go-huggingface tokenizer. It lays out
// single sequences as [CLS] a [SEP] and pairs as [CLS] a [SEP] b [SEP], with
// token type 0 for the first segment and 1 for the second. Special tokens the
// tokenizer does not define are left out.
//
// The wrapped tokenizer's Encode must not add special tokens itself.
type PairEncoder struct {
	tok api.Tokenizer

	cls, sep, pad int64
	hasCLS        bool
	hasSEP        bool

	tokenTypeIDs bool
	side         Side
}

// PairOption configures a PairEncoder.
type PairOption func(*PairEncoder)

// WithoutTokenTypeIDs drops the token_type_ids field (e.g. RoBERTa or
// DistilBERT style models).
func WithoutTokenTypeIDs() PairOption {
	return func(e *PairEncoder) {
		e.tokenTypeIDs = false
	}
}

// WithPaddingSide sets the side the collator pads on.
func WithPaddingSide(side Side) PairOption {
	return func(e *PairEncoder) {
		e.side = side
	}
}

// NewPairEncoder wraps tok. The padding id is the tokenizer's pad token,
// falling back to its end-of-sentence token.
func NewPairEncoder(tok api.Tokenizer, opts ...PairOption) (*PairEncoder, error) {
	if tok == nil {
		return nil, errors.New("nil tokenizer")
	}
	e := &PairEncoder{tok: tok, tokenTypeIDs: true, side: Right}
	if id, err := tok.SpecialTokenID(api.TokClassification); err == nil {
		e.cls, e.hasCLS = int64(id), true
	}
	if id, err := tok.SpecialTokenID(api.TokEndOfSentence); err == nil {
		e.sep, e.hasSEP = int64(id), true
	}
	switch id, err := tok.SpecialTokenID(api.TokPad); {
	case err == nil:
		e.pad = int64(id)
	case e.hasSEP:
		e.pad = e.sep
	default:
		return nil, fmt.Errorf("tokenizer defines neither a padding nor an end-of-sentence token: %w", err)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ModelInputNames implements Backend.
func (e *PairEncoder) ModelInputNames() []string {
	if e.tokenTypeIDs {
		return []string{InputIDs, TokenTypeIDs, AttentionMask}
	}
	return []string{InputIDs, AttentionMask}
}

// PadTokenID implements Backend.
func (e *PairEncoder) PadTokenID() int64 {
	return e.pad
}

// PaddingSide implements Backend.
func (e *PairEncoder) PaddingSide() Side {
	return e.side
}

// numSpecial returns how many special tokens surround one example.
func (e *PairEncoder) numSpecial(pair bool) int {
	n := 0
	if e.hasCLS {
		n++
	}
	if e.hasSEP {
		n++
		if pair {
			n++
		}
	}
	return n
}

// Encode implements Backend.
func (e *PairEncoder) Encode(first, second []string, opts EncodeOptions) (Encoding, error) {
	pair := second != nil
	if pair && len(second) != len(first) {
		return nil, fmt.Errorf("pair batch is misaligned: %d first sequences, %d second", len(first), len(second))
	}

	if opts.Truncation && opts.MaxLength > 0 && opts.MaxLength < e.numSpecial(pair) {
		return nil, fmt.Errorf("max length %d cannot hold the %d special tokens of an example", opts.MaxLength, e.numSpecial(pair))
	}

	enc := Encoding{InputIDs: make([][]int64, len(first)), AttentionMask: make([][]int64, len(first))}
	if e.tokenTypeIDs {
		enc[TokenTypeIDs] = make([][]int64, len(first))
	}

	for i := range first {
		a := toInt64(e.tok.Encode(first[i]))
		var b []int64
		if pair {
			b = toInt64(e.tok.Encode(second[i]))
		}
		if opts.Truncation && opts.MaxLength > 0 {
			budget := opts.MaxLength - e.numSpecial(pair)
			if pair {
				a, b = truncateLongestFirst(a, b, budget)
			} else if len(a) > budget {
				a = a[:budget]
			}
		}

		ids, types := e.assemble(a, b, pair)
		enc[InputIDs][i] = ids
		enc[AttentionMask][i] = ones(len(ids))
		if e.tokenTypeIDs {
			enc[TokenTypeIDs][i] = types
		}
	}
	return enc, nil
}

func (e *PairEncoder) assemble(a, b []int64, pair bool) (ids, types []int64) {
	ids = make([]int64, 0, len(a)+len(b)+e.numSpecial(pair))
	if e.hasCLS {
		ids = append(ids, e.cls)
	}
	ids = append(ids, a...)
	if e.hasSEP {
		ids = append(ids, e.sep)
	}
	firstLen := len(ids)
	if pair {
		ids = append(ids, b...)
		if e.hasSEP {
			ids = append(ids, e.sep)
		}
	}

	types = make([]int64, len(ids))
	for j := firstLen; j < len(ids); j++ {
		types[j] = 1
	}
	return ids, types
}

// truncateLongestFirst drops tokens one at a time from the end of whichever
// sequence is currently longer (the second on ties) until both fit in budget.
func truncateLongestFirst(a, b []int64, budget int) ([]int64, []int64) {
	for len(a)+len(b) > budget {
		if len(a) > len(b) {
			a = a[:len(a)-1]
		} else {
			b = b[:len(b)-1]
		}
	}
	return a, b
}

func toInt64(ids []int) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func ones(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
