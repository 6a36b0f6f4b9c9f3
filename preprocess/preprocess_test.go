package preprocess

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/Noofbiz/taskprep/collate"
	"github.com/Noofbiz/taskprep/datasets"
	"github.com/Noofbiz/taskprep/schema"
	"github.com/Noofbiz/taskprep/tokenize"
)

var testVocab = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]",
	"the", "cat", "sat", "on", "mat", "a", "dog", "ran", "is", "good", "bad",
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newBackend(t *testing.T) *tokenize.PairEncoder {
	t.Helper()
	w, err := tokenize.NewWordPiece(testVocab)
	if err != nil {
		t.Fatalf("NewWordPiece failed: %v", err)
	}
	e, err := tokenize.NewPairEncoder(w)
	if err != nil {
		t.Fatalf("NewPairEncoder failed: %v", err)
	}
	return e
}

// fakeLoader serves datasets built from CSV text, one document per split.
type fakeLoader struct {
	info   string
	splits map[string]string
}

func (l *fakeLoader) Load(_ context.Context, identifier string) (*datasets.Dataset, error) {
	if l.splits == nil {
		return nil, errors.New("dataset " + identifier + " not found")
	}
	var declared map[string]json.RawMessage
	if l.info != "" {
		var err error
		if declared, err = datasets.ParseDatasetInfo([]byte(l.info), ""); err != nil {
			return nil, err
		}
	}
	splits := make(map[string]*datasets.Split, len(l.splits))
	for name, csv := range l.splits {
		s, err := datasets.ReadCSV(strings.NewReader(csv), name, declared)
		if err != nil {
			return nil, err
		}
		splits[name] = s
	}
	return datasets.New(splits), nil
}

func run(t *testing.T, l DatasetLoader, opts Options) *Result {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quiet
	}
	res, err := Run(context.Background(), l, "test/dataset", newBackend(t), opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	t.Cleanup(res.Release)
	return res
}

func pairLoader() *fakeLoader {
	return &fakeLoader{
		info: `{"features": {
			"sentence1": {"dtype": "string", "_type": "Value"},
			"sentence2": {"dtype": "string", "_type": "Value"},
			"label": {"names": ["not_equivalent", "equivalent"], "_type": "ClassLabel"},
			"idx": {"dtype": "int32", "_type": "Value"}}}`,
		splits: map[string]string{
			"train": "sentence1,sentence2,label,idx\n" +
				"the cat sat,the cat sat on the mat,1,0\n" +
				"a dog,a dog ran,0,1\n" +
				"the mat is good,the mat is bad,0,2\n",
			"validation": "sentence1,sentence2,label,idx\n" +
				"a cat,a dog,0,0\n",
		},
	}
}

func TestRun_SentencePair(t *testing.T) {
	res := run(t, pairLoader(), Options{MaxLength: 16})

	if res.NumLabels != 2 || res.Schema.TaskType() != schema.SentencePairTask {
		t.Fatalf("unexpected result: %d labels, schema %v", res.NumLabels, res.Schema)
	}
	want := []string{tokenize.InputIDs, tokenize.TokenTypeIDs, tokenize.AttentionMask, collate.LabelsField}
	for _, name := range res.Dataset.SplitNames() {
		s, _ := res.Dataset.Split(name)
		if got := s.ColumnNames(); !reflect.DeepEqual(got, want) {
			t.Fatalf("split %s has columns %v, want %v", name, got, want)
		}
		row, err := s.Example(0)
		if err != nil {
			t.Fatalf("Example failed: %v", err)
		}
		if len(row) != len(want) {
			t.Fatalf("formatted row has fields %v", row)
		}
	}
	if !reflect.DeepEqual(res.Dataset.NumRows(), map[string]int{"train": 3, "validation": 1}) {
		t.Fatalf("unexpected row counts %v", res.Dataset.NumRows())
	}
}

// TestRun_CollateRoundTrip tokenizes a pair dataset and collates two examples
// of different lengths: every field is padded to the longer one.
func TestRun_CollateRoundTrip(t *testing.T) {
	res := run(t, pairLoader(), Options{})
	train, _ := res.Dataset.Split("train")

	rows, err := train.Examples([]int{0, 1})
	if err != nil {
		t.Fatalf("Examples failed: %v", err)
	}
	a := len(rows[0][tokenize.InputIDs].([]int64))
	b := len(rows[1][tokenize.InputIDs].([]int64))
	if a == b {
		t.Fatalf("test needs examples of different lengths, both have %d tokens", a)
	}

	batch, err := res.Collator.Collate(rows)
	if err != nil {
		t.Fatalf("Collate failed: %v", err)
	}
	for _, name := range batch.Names {
		if got := batch.SeqLen(name); got != max(a, b) {
			t.Fatalf("field %s padded to %d, want %d", name, got, max(a, b))
		}
	}
	if !reflect.DeepEqual(batch.Labels, []int64{1, 0}) {
		t.Fatalf("unexpected labels %v", batch.Labels)
	}
}

func TestRun_Idempotent(t *testing.T) {
	l := pairLoader()
	first := run(t, l, Options{})
	second := run(t, l, Options{})

	if !reflect.DeepEqual(first.Dataset.NumRows(), second.Dataset.NumRows()) {
		t.Fatalf("row counts differ: %v vs %v", first.Dataset.NumRows(), second.Dataset.NumRows())
	}
	if first.NumLabels != second.NumLabels {
		t.Fatalf("label counts differ: %d vs %d", first.NumLabels, second.NumLabels)
	}
	for _, name := range first.Dataset.SplitNames() {
		a, _ := first.Dataset.Split(name)
		b, _ := second.Dataset.Split(name)
		if !reflect.DeepEqual(a.ColumnNames(), b.ColumnNames()) {
			t.Fatalf("split %s columns differ: %v vs %v", name, a.ColumnNames(), b.ColumnNames())
		}
	}
}

func TestPrepare_BatchSizeDoesNotChangeOutput(t *testing.T) {
	l := pairLoader()
	small := run(t, l, Options{BatchSize: 1, NumProc: 3, MaxLength: 8})
	large := run(t, l, Options{BatchSize: 100, NumProc: 1, MaxLength: 8})

	a, _ := small.Dataset.Split("train")
	b, _ := large.Dataset.Split("train")
	for i := range a.Len() {
		ra, err := a.Example(i)
		if err != nil {
			t.Fatalf("Example failed: %v", err)
		}
		rb, err := b.Example(i)
		if err != nil {
			t.Fatalf("Example failed: %v", err)
		}
		if !reflect.DeepEqual(ra, rb) {
			t.Fatalf("row %d differs between batch sizes:\n%v\n%v", i, ra, rb)
		}
		if n := len(ra[tokenize.InputIDs].([]int64)); n > 8 {
			t.Fatalf("row %d has %d tokens, above the max length", i, n)
		}
	}
}

func TestRun_SingleSentenceWithStringLabels(t *testing.T) {
	l := &fakeLoader{splits: map[string]string{
		"train":      "text,label\nthe cat is good,pos\nthe dog is bad,neg\nthe mat,neu\n",
		"validation": "text,label\na cat,pos\n",
	}}
	res := run(t, l, Options{})
	if key, _ := res.Schema.SentenceKey(); key != "text" {
		t.Fatalf("unexpected sentence key %q", key)
	}
	if !reflect.DeepEqual(res.ClassNames, []string{"neg", "neu", "pos"}) {
		t.Fatalf("unexpected class names %v", res.ClassNames)
	}
	train, _ := res.Dataset.Split("train")
	row, err := train.Example(0)
	if err != nil {
		t.Fatalf("Example failed: %v", err)
	}
	if row[collate.LabelsField] != int64(2) {
		t.Fatalf("expected pos to be class 2, got %v", row[collate.LabelsField])
	}
	if got := row[tokenize.InputIDs]; !reflect.DeepEqual(got, []int64{2, 5, 6, 13, 14, 3}) {
		t.Fatalf("unexpected input ids %v", got)
	}
}

func TestRun_LabelAlreadyNamedLabels(t *testing.T) {
	l := &fakeLoader{splits: map[string]string{
		"train": "sentence,labels\nthe cat,0\na dog,1\n",
	}}
	res := run(t, l, Options{})
	train, _ := res.Dataset.Split("train")
	if _, ok := train.Feature(collate.LabelsField); !ok {
		t.Fatalf("labels column missing: %v", train.ColumnNames())
	}
}

func TestRun_Errors(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()

	if _, err := Run(ctx, &fakeLoader{}, "missing", backend, Options{Logger: quiet}); err == nil {
		t.Fatalf("expected load error")
	}

	noLabel := &fakeLoader{splits: map[string]string{"train": "sentence,score\na,0.5\n"}}
	_, err := Run(ctx, noLabel, "no-label", backend, Options{Logger: quiet})
	var inf *schema.SchemaInferenceError
	if !errors.As(err, &inf) {
		t.Fatalf("expected SchemaInferenceError, got %v", err)
	}
}

func TestTokenizeFunc_UnsupportedTaskType(t *testing.T) {
	backend := newBackend(t)
	cases := []*schema.TaskSchema{
		nil,
		{LabelKey: "label", NumLabels: 2},
	}
	for i, ts := range cases {
		_, err := TokenizeFunc(ts, backend, 16)
		var unsupported *UnsupportedTaskTypeError
		if !errors.As(err, &unsupported) {
			t.Fatalf("case %d: expected UnsupportedTaskTypeError, got %v", i, err)
		}
		if unsupported.Type != schema.Unknown {
			t.Fatalf("case %d: unexpected type %v", i, unsupported.Type)
		}
	}

	ds := datasets.New(nil)
	if _, err := Prepare(context.Background(), ds, &schema.TaskSchema{LabelKey: "label", NumLabels: 2}, backend, Options{Logger: quiet}); err == nil {
		t.Fatalf("Prepare must not silently accept an unsupported schema")
	}
}
