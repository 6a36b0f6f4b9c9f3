package schema

import (
	"slices"
	"strings"

	"github.com/Noofbiz/taskprep/datasets"
)

// view is the part of a dataset the strategies look at.
type view struct {
	split    *datasets.Split
	features []datasets.Feature
}

func (v view) feature(name string) (datasets.Feature, bool) {
	for _, f := range v.features {
		if f.Name == name {
			return f, true
		}
	}
	return datasets.Feature{}, false
}

type labelResult struct {
	key string
	// numLabels is zero when the strategy found the column but not its
	// cardinality.
	numLabels int
}

// labelStrategy is one step of label detection. found=false means the
// strategy passes to the next one.
type labelStrategy struct {
	name   string
	detect func(v view) (res labelResult, found bool, err error)
}

// textStrategy is one step of text column detection. textCols holds the
// string-like non-label columns in declared order.
type textStrategy struct {
	name   string
	detect func(v view, label string, textCols []string) (task Task, found bool)
}

// detectCategoricalLabel picks the first column declaring a class count.
func detectCategoricalLabel(v view) (labelResult, bool, error) {
	for _, f := range v.features {
		if n, ok := f.ClassCount(); ok {
			return labelResult{key: f.Name, numLabels: n}, true, nil
		}
	}
	return labelResult{}, false, nil
}

// detectNamedLabel picks the first candidate name present. Its cardinality is
// the declared class count if any, else the number of distinct values in the
// inspected split.
func (d *Detector) detectNamedLabel(v view) (labelResult, bool, error) {
	for _, name := range d.labelCandidates {
		f, ok := v.feature(name)
		if !ok {
			continue
		}
		if n, ok := f.ClassCount(); ok {
			return labelResult{key: name, numLabels: n}, true, nil
		}
		n, err := v.split.DistinctCount(name)
		if err != nil {
			return labelResult{}, false, err
		}
		d.logger.Debug("counted distinct label values", "label", name, "split", v.split.Name(), "distinct", n)
		return labelResult{key: name, numLabels: n}, true, nil
	}
	return labelResult{}, false, nil
}

func detectSingleColumn(_ view, _ string, textCols []string) (Task, bool) {
	if len(textCols) != 1 {
		return nil, false
	}
	return SingleSentence{Key: textCols[0]}, true
}

// detectSentencePair assigns the two text columns to the pair slots. Each slot
// is matched against its candidate names independently; an unmatched slot
// takes the first column not already assigned, and with no match at all the
// declared order is used. The positional fallback can swap the roles when the
// columns are stored in an unexpected order.
func (d *Detector) detectSentencePair(_ view, _ string, textCols []string) (Task, bool) {
	if len(textCols) != 2 {
		return nil, false
	}
	first := firstPresent(d.firstCandidates, textCols)
	second := firstPresent(d.secondCandidates, textCols)

	switch {
	case first == "" && second == "":
		first, second = textCols[0], textCols[1]
	case first == "":
		first = firstOther(textCols, second)
	case second == "":
		second = firstOther(textCols, first)
	case first == second:
		second = firstOther(textCols, first)
	}
	return SentencePair{First: first, Second: second}, true
}

func firstPresent(candidates, columns []string) string {
	for _, c := range candidates {
		if slices.Contains(columns, c) {
			return c
		}
	}
	return ""
}

func firstOther(columns []string, taken string) string {
	for _, c := range columns {
		if c != taken {
			return c
		}
	}
	return ""
}

// detectSentenceSubstring handles the ambiguous case (no or three and more
// text columns): the first non-label column whose name contains "sentence".
func detectSentenceSubstring(v view, label string, textCols []string) (Task, bool) {
	if len(textCols) == 1 || len(textCols) == 2 {
		return nil, false
	}
	for _, f := range v.features {
		if f.Name == label {
			continue
		}
		if strings.Contains(strings.ToLower(f.Name), "sentence") {
			return SingleSentence{Key: f.Name}, true
		}
	}
	return nil, false
}

// detectFirstString falls back to the first string-like column.
func detectFirstString(_ view, _ string, textCols []string) (Task, bool) {
	if len(textCols) == 0 {
		return nil, false
	}
	return SingleSentence{Key: textCols[0]}, true
}
