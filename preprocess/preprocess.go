// Package preprocess turns a dataset with a detected TaskSchema into a
// tokenized, training-ready dataset plus the collator that batches it.
//
// The pipeline, per split:
//   - tokenize the schema's text column(s) in batches (TokenizeFunc),
//   - drop every column except the tokenizer outputs and the label,
//   - rename the label column to "labels",
//   - format the split so examples come out as int64 token sequences.
//
// Run chains dataset loading, schema detection and Prepare, returning the
// tokenized dataset, the collator, the label count and the schema.
package preprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Noofbiz/taskprep/collate"
	"github.com/Noofbiz/taskprep/datasets"
	"github.com/Noofbiz/taskprep/schema"
	"github.com/Noofbiz/taskprep/tokenize"
)

// DefaultMaxLength is the truncation length used when none is configured.
const DefaultMaxLength = 128

// UnsupportedTaskTypeError is returned when a schema's task is neither a
// single sentence nor a sentence pair. It signals an inconsistency between
// detection and preprocessing and is not recoverable.
type UnsupportedTaskTypeError struct {
	Type schema.TaskType
}

func (e *UnsupportedTaskTypeError) Error() string {
	return fmt.Sprintf("unsupported task type %s", e.Type)
}

// Options configures Prepare and Run.
type Options struct {
	// MaxLength is the truncation length, special tokens included.
	MaxLength int

	// BatchSize and NumProc control the batched tokenization pass. The output
	// does not depend on them.
	BatchSize int
	NumProc   int

	Logger *slog.Logger

	DetectOptions   []schema.Option
	CollatorOptions []collate.Option
}

func (o Options) withDefaults() Options {
	if o.MaxLength <= 0 {
		o.MaxLength = DefaultMaxLength
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Result is the output of the pipeline.
type Result struct {
	Dataset   *datasets.Dataset
	Collator  *collate.Collator
	NumLabels int
	Schema    *schema.TaskSchema

	// ClassNames is set when string labels were encoded to class indices.
	ClassNames []string
}

// Release releases the tokenized dataset.
func (r *Result) Release() {
	if r != nil && r.Dataset != nil {
		r.Dataset.Release()
	}
}

// DatasetLoader resolves a dataset identifier to a dataset.
type DatasetLoader interface {
	Load(ctx context.Context, identifier string) (*datasets.Dataset, error)
}

// TokenizeFunc returns the batch transform tokenizing the schema's text
// columns with truncation at maxLength.
func TokenizeFunc(ts *schema.TaskSchema, backend tokenize.Backend, maxLength int) (datasets.BatchFunc, error) {
	if ts == nil {
		return nil, &UnsupportedTaskTypeError{Type: schema.Unknown}
	}
	opts := tokenize.EncodeOptions{MaxLength: maxLength, Truncation: true}

	switch task := ts.Task.(type) {
	case schema.SingleSentence:
		return func(b datasets.Batch) (datasets.Columns, error) {
			text, err := b.Strings(task.Key)
			if err != nil {
				return nil, err
			}
			enc, err := backend.Encode(text, nil, opts)
			if err != nil {
				return nil, err
			}
			return datasets.Columns(enc), nil
		}, nil

	case schema.SentencePair:
		return func(b datasets.Batch) (datasets.Columns, error) {
			first, err := b.Strings(task.First)
			if err != nil {
				return nil, err
			}
			second, err := b.Strings(task.Second)
			if err != nil {
				return nil, err
			}
			enc, err := backend.Encode(first, second, opts)
			if err != nil {
				return nil, err
			}
			return datasets.Columns(enc), nil
		}, nil

	default:
		return nil, &UnsupportedTaskTypeError{Type: ts.TaskType()}
	}
}

// Prepare tokenizes every split of ds according to ts. The returned dataset
// is independent of ds, which the caller still owns.
func Prepare(ctx context.Context, ds *datasets.Dataset, ts *schema.TaskSchema, backend tokenize.Backend, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if ds == nil || backend == nil {
		return nil, errors.New("prepare needs a dataset and a tokenizer")
	}
	fn, err := TokenizeFunc(ts, backend, opts.MaxLength)
	if err != nil {
		return nil, err
	}

	classNames, err := stringLabelClasses(ds, ts.LabelKey)
	if err != nil {
		return nil, err
	}
	if classNames != nil && len(classNames) != ts.NumLabels {
		opts.Logger.Warn("string label values differ from the detected label count",
			"label", ts.LabelKey, "values", len(classNames), "num_labels", ts.NumLabels)
	}

	inputs := backend.ModelInputNames()
	p := splitPreparer{fn: fn, label: ts.LabelKey, inputs: inputs, classNames: classNames, opts: opts}
	out, err := ds.Apply(func(s *datasets.Split) (*datasets.Split, error) {
		return p.prepare(ctx, s)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to preprocess dataset: %w", err)
	}

	opts.Logger.Info("tokenized dataset",
		"task", ts.TaskType().String(),
		"max_length", opts.MaxLength,
		"fields", append(slices.Clone(inputs), collate.LabelsField),
		"rows", out.NumRows())

	return &Result{
		Dataset:    out,
		Collator:   collate.New(backend, opts.CollatorOptions...),
		NumLabels:  ts.NumLabels,
		Schema:     ts,
		ClassNames: classNames,
	}, nil
}

// stringLabelClasses returns the sorted union of label values across splits
// when the label column holds strings, nil otherwise.
func stringLabelClasses(ds *datasets.Dataset, label string) ([]string, error) {
	var (
		names    []string
		isString bool
	)
	for _, split := range ds.SplitNames() {
		s, _ := ds.Split(split)
		f, ok := s.Feature(label)
		if !ok || !f.IsString() {
			continue
		}
		isString = true
		values, err := s.DistinctValues(label)
		if err != nil {
			return nil, err
		}
		names = append(names, values...)
	}
	if !isString {
		return nil, nil
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

type splitPreparer struct {
	fn         datasets.BatchFunc
	label      string
	inputs     []string
	classNames []string
	opts       Options
}

func (p splitPreparer) prepare(ctx context.Context, s *datasets.Split) (*datasets.Split, error) {
	mapped, err := s.Map(ctx, p.fn, datasets.MapOptions{
		BatchSize: p.opts.BatchSize,
		NumProc:   p.opts.NumProc,
		Columns:   p.inputs,
	})
	if err != nil {
		return nil, err
	}
	defer mapped.Release()

	keep := append(slices.Clone(p.inputs), p.label)
	var drop []string
	for _, c := range mapped.ColumnNames() {
		if !slices.Contains(keep, c) {
			drop = append(drop, c)
		}
	}
	pruned, err := mapped.RemoveColumns(drop...)
	if err != nil {
		return nil, err
	}
	defer pruned.Release()

	labeled := pruned
	if p.classNames != nil {
		if labeled, err = pruned.ClassEncodeColumn(p.label, p.classNames); err != nil {
			return nil, err
		}
		defer labeled.Release()
	}

	renamed, err := labeled.RenameColumn(p.label, collate.LabelsField)
	if err != nil {
		return nil, err
	}
	defer renamed.Release()

	return renamed.WithFormat(datasets.FormatInt64, append(slices.Clone(p.inputs), collate.LabelsField)...)
}

// Run loads identifier, detects its schema and prepares it.
func Run(ctx context.Context, loader DatasetLoader, identifier string, backend tokenize.Backend, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	ds, err := loader.Load(ctx, identifier)
	if err != nil {
		return nil, err
	}
	defer ds.Release()
	opts.Logger.Info("loaded dataset", "dataset", identifier, "splits", ds.SplitNames(), "rows", ds.NumRows())

	detectOpts := append([]schema.Option{schema.WithLogger(opts.Logger)}, opts.DetectOptions...)
	ts, err := schema.Detect(ds, detectOpts...)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", identifier, err)
	}
	return Prepare(ctx, ds, ts, backend, opts)
}
