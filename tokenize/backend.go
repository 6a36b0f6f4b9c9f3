// Package tokenize turns raw text into the numeric fields a text classifier
// consumes.
package tokenize

// Output field names produced by the encoders in this package.
const (
	InputIDs      = "input_ids"
	TokenTypeIDs  = "token_type_ids"
	AttentionMask = "attention_mask"
)

// Side is where padding (or truncation) is applied.
type Side int

const (
	Right Side = iota
	Left
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// EncodeOptions controls truncation.
type EncodeOptions struct {
	// MaxLength is the maximum number of tokens per example, special tokens
	// included. Zero means unlimited.
	MaxLength int

	// Truncation enables truncation to MaxLength. For pairs the tokens are
	// removed from the longer of the two sequences first.
	Truncation bool
}

// Encoding maps an output field name to one sequence per example.
type Encoding map[string][][]int64

// Backend is the tokenization capability the preprocessing pipeline and the
// collator depend on.
type Backend interface {
	// ModelInputNames returns the fields Encode produces, in model input order.
	ModelInputNames() []string

	// Encode tokenizes a batch. second is nil for single sentences, otherwise
	// it must be aligned with first. The result for each example depends only
	// on that example's text.
	Encode(first, second []string, opts EncodeOptions) (Encoding, error)

	// PadTokenID returns the id used to pad input_ids.
	PadTokenID() int64

	// PaddingSide returns the side padding is applied to.
	PaddingSide() Side
}
