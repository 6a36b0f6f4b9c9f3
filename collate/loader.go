package collate

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/Noofbiz/taskprep/datasets"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
)

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	BatchSize int

	// Shuffle reorders the examples on every Reset, deterministically for a
	// given Seed.
	Shuffle bool
	Seed    uint64

	// DropIncomplete skips the last batch when it is smaller than BatchSize.
	DropIncomplete bool
}

// Loader streams collated batches of a formatted split. It implements the
// gomlx train.Dataset interface.
type Loader struct {
	split    *datasets.Split
	collator *Collator
	opts     LoaderOptions

	rng   *rand.Rand
	order []int
	pos   int
}

var _ train.Dataset = (*Loader)(nil)

// NewLoader creates a loader positioned at the start of the first epoch.
func NewLoader(split *datasets.Split, collator *Collator, opts LoaderOptions) (*Loader, error) {
	if split == nil || collator == nil {
		return nil, errors.New("loader needs a split and a collator")
	}
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("invalid batch size %d", opts.BatchSize)
	}
	l := &Loader{
		split:    split,
		collator: collator,
		opts:     opts,
		rng:      rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		order:    make([]int, split.Len()),
	}
	l.Reset()
	return l, nil
}

// Name implements train.Dataset.
func (l *Loader) Name() string {
	return l.split.Name()
}

// Reset implements train.Dataset. It starts a new epoch.
func (l *Loader) Reset() {
	for i := range l.order {
		l.order[i] = i
	}
	if l.opts.Shuffle {
		l.rng.Shuffle(len(l.order), func(i, j int) {
			l.order[i], l.order[j] = l.order[j], l.order[i]
		})
	}
	l.pos = 0
}

// NumBatches returns the number of batches in one epoch.
func (l *Loader) NumBatches() int {
	n := len(l.order) / l.opts.BatchSize
	if !l.opts.DropIncomplete && len(l.order)%l.opts.BatchSize != 0 {
		n++
	}
	return n
}

// Next returns the next collated batch, or io.EOF at the end of the epoch.
func (l *Loader) Next() (*Batch, error) {
	remaining := len(l.order) - l.pos
	if remaining <= 0 || (l.opts.DropIncomplete && remaining < l.opts.BatchSize) {
		return nil, io.EOF
	}
	end := l.pos + min(l.opts.BatchSize, remaining)
	rows, err := l.split.Examples(l.order[l.pos:end])
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", l.split.Name(), err)
	}
	l.pos = end
	return l.collator.Collate(rows)
}

// Yield implements train.Dataset. Inputs are ordered as the collator's batch
// names; labels hold a single [batch] tensor.
func (l *Loader) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	b, err := l.Next()
	if err != nil {
		return nil, nil, nil, err
	}
	in, lab, err := b.ToGomlxTensors()
	if err != nil {
		return nil, nil, nil, err
	}
	if lab != nil {
		labels = []*tensors.Tensor{lab}
	}
	return nil, in, labels, nil
}
