// Package schema infers the layout of a text-classification dataset: which
// column holds the label, how many classes it has, and whether the inputs are
// single sentences or sentence pairs.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// TaskType enumerates the supported task layouts.
type TaskType int

const (
	Unknown TaskType = iota
	SingleSentenceTask
	SentencePairTask
)

func (t TaskType) String() string {
	switch t {
	case SingleSentenceTask:
		return "single_sentence"
	case SentencePairTask:
		return "sentence_pair"
	default:
		return "unknown"
	}
}

// Task is the closed set of input layouts: SingleSentence or SentencePair.
type Task interface {
	Type() TaskType
	// Keys returns the text columns in input order.
	Keys() []string

	sealed()
}

// SingleSentence is a task whose input is one text column.
type SingleSentence struct {
	Key string
}

func (SingleSentence) Type() TaskType   { return SingleSentenceTask }
func (t SingleSentence) Keys() []string { return []string{t.Key} }
func (SingleSentence) sealed()          {}

// SentencePair is a task whose input is two aligned text columns.
type SentencePair struct {
	First  string
	Second string
}

func (SentencePair) Type() TaskType   { return SentencePairTask }
func (t SentencePair) Keys() []string { return []string{t.First, t.Second} }
func (SentencePair) sealed()          {}

// DefaultNumLabels is used when the label cardinality cannot be determined.
const DefaultNumLabels = 2

// TaskSchema describes the role of each relevant column of a dataset. It is
// built once by Detect and never modified.
type TaskSchema struct {
	Task      Task
	LabelKey  string
	NumLabels int

	// NumLabelsGuessed is set when NumLabels is DefaultNumLabels because no
	// cardinality could be determined.
	NumLabelsGuessed bool

	// LabelSource and TextSource name the strategies that resolved the label
	// and the text columns.
	LabelSource string
	TextSource  string
}

// TaskType returns the schema's task type, Unknown for a nil task.
func (s *TaskSchema) TaskType() TaskType {
	if s == nil || s.Task == nil {
		return Unknown
	}
	return s.Task.Type()
}

// SentenceKey returns the text column of a single-sentence schema.
func (s *TaskSchema) SentenceKey() (string, bool) {
	t, ok := s.Task.(SingleSentence)
	return t.Key, ok
}

// SentencePairKeys returns the two text columns of a sentence-pair schema.
func (s *TaskSchema) SentencePairKeys() (first, second string, ok bool) {
	t, ok := s.Task.(SentencePair)
	return t.First, t.Second, ok
}

// Validate checks the schema's invariants.
func (s *TaskSchema) Validate() error {
	if s.LabelKey == "" {
		return errors.New("schema has no label column")
	}
	if s.NumLabels < 1 {
		return fmt.Errorf("schema has %d labels", s.NumLabels)
	}
	switch t := s.Task.(type) {
	case SingleSentence:
		if t.Key == "" {
			return errors.New("single-sentence schema has no sentence column")
		}
	case SentencePair:
		if t.First == "" || t.Second == "" || t.First == t.Second {
			return fmt.Errorf("invalid sentence pair (%q, %q)", t.First, t.Second)
		}
	default:
		return fmt.Errorf("schema has task type %v", s.TaskType())
	}
	for _, k := range s.Task.Keys() {
		if k == s.LabelKey {
			return fmt.Errorf("label column %q is also a sentence column", k)
		}
	}
	return nil
}

func (s *TaskSchema) String() string {
	if s == nil {
		return "<nil>"
	}
	var keys string
	if s.Task != nil {
		keys = strings.Join(s.Task.Keys(), ",")
	}
	return fmt.Sprintf("%s(%s) label=%s num_labels=%d", s.TaskType(), keys, s.LabelKey, s.NumLabels)
}

// ErrNoSplit is returned when a dataset has neither a train nor a validation
// split.
var ErrNoSplit = errors.New("dataset has no train or validation split")

// SchemaInferenceError reports that no label or no usable text column could
// be identified.
type SchemaInferenceError struct {
	Reason  string
	Columns []string
}

func (e *SchemaInferenceError) Error() string {
	return fmt.Sprintf("schema inference failed: %s (columns: %v)", e.Reason, e.Columns)
}
