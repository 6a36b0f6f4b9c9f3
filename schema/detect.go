package schema

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/Noofbiz/taskprep/datasets"
)

// Default candidate column names, tried in order.
var (
	DefaultLabelCandidates  = []string{"label", "labels", "Label", "class"}
	DefaultFirstCandidates  = []string{"sentence1", "premise", "question1", "question"}
	DefaultSecondCandidates = []string{"sentence2", "hypothesis", "question2", "answer"}
)

// Detector infers a TaskSchema by running an ordered list of label strategies
// followed by an ordered list of text strategies. The first strategy that
// reports a result wins; the others are not consulted.
type Detector struct {
	logger *slog.Logger

	labelCandidates  []string
	firstCandidates  []string
	secondCandidates []string

	labelStrategies []labelStrategy
	textStrategies  []textStrategy
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger used to report strategy decisions.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithLabelCandidates replaces the label column names tried by name.
func WithLabelCandidates(names ...string) Option {
	return func(d *Detector) {
		d.labelCandidates = slices.Clone(names)
	}
}

// WithPairCandidates replaces the names tried for the first and second
// sentence of a pair.
func WithPairCandidates(first, second []string) Option {
	return func(d *Detector) {
		d.firstCandidates = slices.Clone(first)
		d.secondCandidates = slices.Clone(second)
	}
}

// NewDetector creates a detector with the default strategy chain.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		logger:           slog.Default(),
		labelCandidates:  DefaultLabelCandidates,
		firstCandidates:  DefaultFirstCandidates,
		secondCandidates: DefaultSecondCandidates,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.labelStrategies = []labelStrategy{
		{name: "categorical", detect: detectCategoricalLabel},
		{name: "candidate-name", detect: d.detectNamedLabel},
	}
	d.textStrategies = []textStrategy{
		{name: "single-column", detect: detectSingleColumn},
		{name: "sentence-pair", detect: d.detectSentencePair},
		{name: "sentence-substring", detect: detectSentenceSubstring},
		{name: "first-string", detect: detectFirstString},
	}
	return d
}

// Detect infers the schema of ds with a default detector.
func Detect(ds *datasets.Dataset, opts ...Option) (*TaskSchema, error) {
	return NewDetector(opts...).Detect(ds)
}

// Strategies returns the names of the label and text strategies in the order
// they are evaluated.
func (d *Detector) Strategies() (label, text []string) {
	for _, s := range d.labelStrategies {
		label = append(label, s.name)
	}
	for _, s := range d.textStrategies {
		text = append(text, s.name)
	}
	return label, text
}

// SelectSplit returns the split the detector inspects: train, else
// validation.
func SelectSplit(ds *datasets.Dataset) (*datasets.Split, error) {
	for _, name := range []string{"train", "validation"} {
		if s, ok := ds.Split(name); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w (splits: %v)", ErrNoSplit, ds.SplitNames())
}

// Detect infers the schema of ds.
func (d *Detector) Detect(ds *datasets.Dataset) (*TaskSchema, error) {
	split, err := SelectSplit(ds)
	if err != nil {
		return nil, err
	}
	v := view{split: split, features: split.Features()}
	columns := split.ColumnNames()

	out := &TaskSchema{}
	for _, strategy := range d.labelStrategies {
		res, found, err := strategy.detect(v)
		if err != nil {
			return nil, fmt.Errorf("label strategy %s: %w", strategy.name, err)
		}
		if !found {
			d.logger.Debug("label strategy passed", "strategy", strategy.name)
			continue
		}
		out.LabelKey = res.key
		out.NumLabels = res.numLabels
		out.LabelSource = strategy.name
		break
	}
	if out.LabelKey == "" {
		return nil, &SchemaInferenceError{Reason: "no label column found", Columns: columns}
	}
	if out.NumLabels < 1 {
		out.NumLabels = DefaultNumLabels
		out.NumLabelsGuessed = true
		d.logger.Warn("label cardinality unknown, assuming binary classification",
			"label", out.LabelKey, "num_labels", out.NumLabels)
	}

	text := textColumns(v.features, out.LabelKey)
	for _, strategy := range d.textStrategies {
		task, found := strategy.detect(v, out.LabelKey, text)
		if !found {
			d.logger.Debug("text strategy passed", "strategy", strategy.name, "text_columns", text)
			continue
		}
		out.Task = task
		out.TextSource = strategy.name
		break
	}
	if out.Task == nil {
		return nil, &SchemaInferenceError{Reason: "no text column found", Columns: columns}
	}
	if err := out.Validate(); err != nil {
		return nil, &SchemaInferenceError{Reason: err.Error(), Columns: columns}
	}

	d.logger.Info("detected task schema",
		"split", split.Name(),
		"task", out.TaskType().String(),
		"text_columns", out.Task.Keys(),
		"label", out.LabelKey,
		"num_labels", out.NumLabels,
		"label_strategy", out.LabelSource,
		"text_strategy", out.TextSource)
	return out, nil
}

// textColumns returns the string-like columns other than the label, in
// declared order.
func textColumns(features []datasets.Feature, label string) []string {
	var out []string
	for _, f := range features {
		if f.Name != label && f.IsString() {
			out = append(out, f.Name)
		}
	}
	return out
}
