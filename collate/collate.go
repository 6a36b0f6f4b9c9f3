// Package collate turns tokenized examples into padded batches.
//
// Examples come from a datasets.Split formatted with datasets.FormatInt64:
// every token field is an []int64 of the example's own length and "labels" is
// an int64. A Collator pads each token field to the longest sequence in the
// batch (dynamic padding), so batches with short sentences stay small.
//
// Batches convert to gomlx tensors, and Loader exposes a split as a gomlx
// train.Dataset.
package collate

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Noofbiz/taskprep/datasets"
	"github.com/Noofbiz/taskprep/tokenize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// LabelsField is the name the label column takes after preprocessing.
const LabelsField = "labels"

// ErrEmptyBatch is returned when collating zero examples.
var ErrEmptyBatch = errors.New("empty batch")

// Collator pads tokenized examples into rectangular batches.
type Collator struct {
	inputNames []string
	padID      int64
	side       tokenize.Side
	multipleOf int
}

// Option configures a Collator.
type Option func(*Collator)

// WithPadToMultipleOf rounds the padded length up to a multiple of n.
func WithPadToMultipleOf(n int) Option {
	return func(c *Collator) {
		c.multipleOf = n
	}
}

// New creates a collator using the backend's pad id, padding side and model
// input order.
func New(backend tokenize.Backend, opts ...Option) *Collator {
	c := &Collator{
		inputNames: slices.Clone(backend.ModelInputNames()),
		padID:      backend.PadTokenID(),
		side:       backend.PaddingSide(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InputNames returns the model input fields in order.
func (c *Collator) InputNames() []string {
	return slices.Clone(c.inputNames)
}

// Batch is a padded batch. Every Inputs entry is Size() x SeqLen(field).
type Batch struct {
	// Names lists the token fields in model input order.
	Names  []string
	Inputs map[string][][]int64

	// Labels is nil when the examples carry no labels.
	Labels []int64
}

// Size returns the number of examples.
func (b *Batch) Size() int {
	if len(b.Names) == 0 {
		return len(b.Labels)
	}
	return len(b.Inputs[b.Names[0]])
}

// SeqLen returns the padded length of field.
func (b *Batch) SeqLen(field string) int {
	rows := b.Inputs[field]
	if len(rows) == 0 {
		return 0
	}
	return len(rows[0])
}

// Collate pads rows into a batch. All rows must carry the same fields.
func (c *Collator) Collate(rows []datasets.Row) (*Batch, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyBatch
	}
	for i, row := range rows[1:] {
		if len(row) != len(rows[0]) {
			return nil, fmt.Errorf("example %d has %d fields, example 0 has %d", i+1, len(row), len(rows[0]))
		}
		for key := range row {
			if _, ok := rows[0][key]; !ok {
				return nil, fmt.Errorf("example %d has field %q missing from example 0", i+1, key)
			}
		}
	}
	names, hasLabels := c.fieldOrder(rows[0])

	b := &Batch{Names: names, Inputs: make(map[string][][]int64, len(names))}
	for _, name := range names {
		seqs := make([][]int64, len(rows))
		for i, row := range rows {
			seq, ok := row[name].([]int64)
			if !ok {
				return nil, fmt.Errorf("example %d: field %q is %T, expected []int64", i, name, row[name])
			}
			seqs[i] = seq
		}
		b.Inputs[name] = c.pad(seqs, c.padValue(name))
	}

	if hasLabels {
		b.Labels = make([]int64, len(rows))
		for i, row := range rows {
			label, ok := row[LabelsField].(int64)
			if !ok {
				return nil, fmt.Errorf("example %d: %q is %T, expected int64", i, LabelsField, row[LabelsField])
			}
			b.Labels[i] = label
		}
	}

	return b, nil
}

// fieldOrder returns the token fields of row, model inputs first and any
// other fields in lexical order.
func (c *Collator) fieldOrder(row datasets.Row) (names []string, hasLabels bool) {
	for _, name := range c.inputNames {
		if _, ok := row[name]; ok {
			names = append(names, name)
		}
	}
	var extra []string
	for key := range row {
		switch {
		case key == LabelsField:
			hasLabels = true
		case !slices.Contains(c.inputNames, key):
			extra = append(extra, key)
		}
	}
	slices.Sort(extra)
	return append(names, extra...), hasLabels
}

func (c *Collator) padValue(field string) int64 {
	if field == tokenize.InputIDs {
		return c.padID
	}
	return 0
}

func (c *Collator) pad(seqs [][]int64, value int64) [][]int64 {
	length := 0
	for _, s := range seqs {
		length = max(length, len(s))
	}
	if c.multipleOf > 1 && length%c.multipleOf != 0 {
		length += c.multipleOf - length%c.multipleOf
	}

	out := make([][]int64, len(seqs))
	for i, s := range seqs {
		padded := make([]int64, length)
		offset := 0
		if c.side == tokenize.Left {
			offset = length - len(s)
		}
		for j := range padded {
			padded[j] = value
		}
		copy(padded[offset:], s)
		out[i] = padded
	}
	return out
}

// ToGomlxTensors converts the batch to one int64 tensor of shape
// [batch, seq_len] per input field, in Names order, and a [batch] labels
// tensor (nil without labels).
func (b *Batch) ToGomlxTensors() (inputs []*tensors.Tensor, labels *tensors.Tensor, err error) {
	if b.Size() == 0 {
		return nil, nil, ErrEmptyBatch
	}
	inputs = make([]*tensors.Tensor, len(b.Names))
	for i, name := range b.Names {
		inputs[i] = tensors.FromAnyValue(b.Inputs[name])
	}
	if b.Labels != nil {
		labels = tensors.FromAnyValue(b.Labels)
	}
	return inputs, labels, nil
}
