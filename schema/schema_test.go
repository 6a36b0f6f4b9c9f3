package schema

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/Noofbiz/taskprep/datasets"
)

// makeDataset builds a one-split dataset from CSV text. info is an optional
// dataset_info.json document declaring features.
func makeDataset(t *testing.T, split, csv, info string) *datasets.Dataset {
	t.Helper()
	decl, err := datasets.ParseDatasetInfo([]byte(orEmpty(info)), "")
	if err != nil {
		t.Fatalf("ParseDatasetInfo failed: %v", err)
	}
	s, err := datasets.ReadCSV(strings.NewReader(csv), split, decl)
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	ds := datasets.New(map[string]*datasets.Split{split: s})
	t.Cleanup(ds.Release)
	return ds
}

func orEmpty(info string) string {
	if info == "" {
		return "{}"
	}
	return info
}

const (
	stringFeature = `{"dtype": "string", "_type": "Value"}`
	binaryLabel   = `{"names": ["negative", "positive"], "_type": "ClassLabel"}`
)

func detect(t *testing.T, ds *datasets.Dataset) *TaskSchema {
	t.Helper()
	s, err := Detect(ds)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	return s
}

func TestDetect_SingleSentence(t *testing.T) {
	ds := makeDataset(t, "train",
		"sentence,label\nit is great,1\nit is bad,0\n",
		`{"features": {"sentence": `+stringFeature+`, "label": `+binaryLabel+`}}`)

	s := detect(t, ds)
	if s.TaskType() != SingleSentenceTask {
		t.Fatalf("expected single sentence task, got %v", s.TaskType())
	}
	if key, ok := s.SentenceKey(); !ok || key != "sentence" {
		t.Fatalf("unexpected sentence key %q (ok=%v)", key, ok)
	}
	if _, _, ok := s.SentencePairKeys(); ok {
		t.Fatalf("single-sentence schema must not report pair keys")
	}
	if s.LabelKey != "label" || s.NumLabels != 2 || s.NumLabelsGuessed {
		t.Fatalf("unexpected label resolution: %+v", s)
	}
	if s.LabelSource != "categorical" {
		t.Fatalf("expected categorical label strategy, got %q", s.LabelSource)
	}
}

func TestDetect_SentencePair(t *testing.T) {
	ds := makeDataset(t, "train",
		"sentence1,sentence2,label\na,b,1\nc,d,0\n",
		`{"features": {"sentence1": `+stringFeature+`, "sentence2": `+stringFeature+`, "label": `+binaryLabel+`}}`)

	s := detect(t, ds)
	first, second, ok := s.SentencePairKeys()
	if !ok || first != "sentence1" || second != "sentence2" {
		t.Fatalf("unexpected pair keys (%q, %q, ok=%v)", first, second, ok)
	}
	if s.NumLabels != 2 {
		t.Fatalf("expected 2 labels, got %d", s.NumLabels)
	}
}

// TestDetect_UnconventionalLabelName covers a QQP-like layout: the label
// column has no conventional name but is declared categorical.
func TestDetect_UnconventionalLabelName(t *testing.T) {
	ds := makeDataset(t, "train",
		"question1,question2,is_duplicate\nhow?,why?,0\nwhat?,what is?,1\n",
		`{"features": {"question1": `+stringFeature+`, "question2": `+stringFeature+`,
			"is_duplicate": {"names": ["not_duplicate", "duplicate"], "_type": "ClassLabel"}}}`)

	s := detect(t, ds)
	if s.LabelKey != "is_duplicate" || s.LabelSource != "categorical" {
		t.Fatalf("expected categorical label is_duplicate, got %q via %q", s.LabelKey, s.LabelSource)
	}
	first, second, ok := s.SentencePairKeys()
	if !ok || first != "question1" || second != "question2" {
		t.Fatalf("unexpected pair keys (%q, %q, ok=%v)", first, second, ok)
	}
}

func TestDetect_DeclaredCountBeatsObservedValues(t *testing.T) {
	ds := makeDataset(t, "train",
		"text,label\na,0\nb,1\nc,1\n",
		`{"features": {"label": {"num_classes": 5, "_type": "ClassLabel"}}}`)

	s := detect(t, ds)
	if s.NumLabels != 5 {
		t.Fatalf("expected declared class count 5, got %d", s.NumLabels)
	}
}

func TestDetect_DistinctCountFallback(t *testing.T) {
	ds := makeDataset(t, "train", "premise,hypothesis,label\na,b,0\nc,d,1\ne,f,2\ng,h,1\n", "")

	s := detect(t, ds)
	if s.LabelKey != "label" || s.LabelSource != "candidate-name" {
		t.Fatalf("expected label found by name, got %q via %q", s.LabelKey, s.LabelSource)
	}
	if s.NumLabels != 3 || s.NumLabelsGuessed {
		t.Fatalf("expected 3 counted labels, got %d (guessed=%v)", s.NumLabels, s.NumLabelsGuessed)
	}
	first, second, _ := s.SentencePairKeys()
	if first != "premise" || second != "hypothesis" {
		t.Fatalf("unexpected pair keys (%q, %q)", first, second)
	}
}

func TestDetect_CandidateOrder(t *testing.T) {
	ds := makeDataset(t, "train", "text,class,labels\na,x,1\nb,y,0\n", "")
	s := detect(t, ds)
	// labels precedes class in the candidate list; class is a string column
	// and stays a text candidate.
	if s.LabelKey != "labels" {
		t.Fatalf("expected labels to win over class, got %q", s.LabelKey)
	}
}

func TestDetect_StringLabelIsNotText(t *testing.T) {
	ds := makeDataset(t, "train", "text,label\ngood,pos\nbad,neg\nokay,neu\n", "")
	s := detect(t, ds)
	if key, _ := s.SentenceKey(); key != "text" {
		t.Fatalf("expected text column, got %q", key)
	}
	if s.NumLabels != 3 {
		t.Fatalf("expected 3 distinct string labels, got %d", s.NumLabels)
	}
}

func TestDetect_GuessedBinaryDefault(t *testing.T) {
	ds := makeDataset(t, "train", "sentence,label\n", "")
	s := detect(t, ds)
	if s.NumLabels != DefaultNumLabels || !s.NumLabelsGuessed {
		t.Fatalf("expected guessed default of %d labels, got %d (guessed=%v)",
			DefaultNumLabels, s.NumLabels, s.NumLabelsGuessed)
	}
}

func TestDetect_NoLabel(t *testing.T) {
	ds := makeDataset(t, "train", "sentence,score\na,0.5\nb,0.1\n", "")
	_, err := Detect(ds)
	var inf *SchemaInferenceError
	if !errors.As(err, &inf) {
		t.Fatalf("expected SchemaInferenceError, got %v", err)
	}
	if !reflect.DeepEqual(inf.Columns, []string{"sentence", "score"}) {
		t.Fatalf("error should carry the column list, got %v", inf.Columns)
	}
}

func TestDetect_NoTextColumn(t *testing.T) {
	ds := makeDataset(t, "train", "feature_a,label\n1,0\n2,1\n", "")
	_, err := Detect(ds)
	var inf *SchemaInferenceError
	if !errors.As(err, &inf) {
		t.Fatalf("expected SchemaInferenceError, got %v", err)
	}
}

func TestDetect_ValidationSplitFallback(t *testing.T) {
	ds := makeDataset(t, "validation", "sentence,label\na,0\nb,1\n", "")
	s := detect(t, ds)
	if key, _ := s.SentenceKey(); key != "sentence" {
		t.Fatalf("expected the validation split to be inspected, got key %q", key)
	}
}

func TestDetect_NoUsableSplit(t *testing.T) {
	ds := makeDataset(t, "test", "sentence,label\na,0\n", "")
	if _, err := Detect(ds); !errors.Is(err, ErrNoSplit) {
		t.Fatalf("expected ErrNoSplit, got %v", err)
	}
}

func TestDetect_PairSlotResolution(t *testing.T) {
	cases := []struct {
		header        string
		first, second string
	}{
		{"premise,text_b,label", "premise", "text_b"},
		{"text_a,hypothesis,label", "text_a", "hypothesis"},
		{"hypothesis,premise,label", "premise", "hypothesis"},
		{"answer,question,label", "question", "answer"},
		{"left,right,label", "left", "right"},
		{"right,left,label", "right", "left"},
	}
	for _, tc := range cases {
		t.Run(tc.header, func(t *testing.T) {
			ds := makeDataset(t, "train", tc.header+"\nx,y,0\nz,w,1\n", "")
			s := detect(t, ds)
			first, second, ok := s.SentencePairKeys()
			if !ok || first != tc.first || second != tc.second {
				t.Fatalf("got (%q, %q, ok=%v), want (%q, %q)", first, second, ok, tc.first, tc.second)
			}
		})
	}
}

func TestDetect_AmbiguousTextColumns(t *testing.T) {
	ds := makeDataset(t, "train", "title,body,Main_Sentence,label\na,b,c,0\nd,e,f,1\n", "")
	s := detect(t, ds)
	if key, _ := s.SentenceKey(); key != "Main_Sentence" || s.TextSource != "sentence-substring" {
		t.Fatalf("expected Main_Sentence via sentence-substring, got %q via %q", key, s.TextSource)
	}

	ds = makeDataset(t, "train", "title,body,summary,label\na,b,c,0\nd,e,f,1\n", "")
	s = detect(t, ds)
	if key, _ := s.SentenceKey(); key != "title" || s.TextSource != "first-string" {
		t.Fatalf("expected title via first-string, got %q via %q", key, s.TextSource)
	}
}

func TestDetect_CustomCandidates(t *testing.T) {
	ds := makeDataset(t, "train", "target,context,claim\n1,a,b\n0,c,d\n", "")
	s, err := Detect(ds,
		WithLabelCandidates("target"),
		WithPairCandidates([]string{"claim"}, []string{"context"}))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	first, second, _ := s.SentencePairKeys()
	if s.LabelKey != "target" || first != "claim" || second != "context" {
		t.Fatalf("unexpected schema %v", s)
	}
}

func TestDetect_Deterministic(t *testing.T) {
	ds := makeDataset(t, "train", "question,answer,label\na,b,0\nc,d,1\n", "")
	a, b := detect(t, ds), detect(t, ds)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("detection is not deterministic: %v vs %v", a, b)
	}
}

func TestStrategyOrder(t *testing.T) {
	label, text := NewDetector().Strategies()
	if !reflect.DeepEqual(label, []string{"categorical", "candidate-name"}) {
		t.Fatalf("unexpected label strategies %v", label)
	}
	if !reflect.DeepEqual(text, []string{"single-column", "sentence-pair", "sentence-substring", "first-string"}) {
		t.Fatalf("unexpected text strategies %v", text)
	}
}

func TestValidate(t *testing.T) {
	bad := []*TaskSchema{
		{Task: SingleSentence{Key: "s"}, NumLabels: 2},
		{Task: SingleSentence{Key: "s"}, LabelKey: "l", NumLabels: 0},
		{Task: SingleSentence{Key: "l"}, LabelKey: "l", NumLabels: 2},
		{Task: SentencePair{First: "a", Second: "a"}, LabelKey: "l", NumLabels: 2},
		{LabelKey: "l", NumLabels: 2},
	}
	for i, s := range bad {
		if err := s.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error for %v", i, s)
		}
	}
}
