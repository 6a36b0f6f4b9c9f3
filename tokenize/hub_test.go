package tokenize

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strings"
	"testing"
)

const testCommit = "0123456789abcdef"

// serveModelRepos starts a minimal hub endpoint serving model repositories
// (repo id -> file name -> content) and points HF_ENDPOINT at it.
func serveModelRepos(t *testing.T, repos map[string]map[string]string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := strings.CutPrefix(r.URL.Path, "/api/models/"); ok {
			id = strings.TrimSuffix(id, "/revision/main")
			files, ok := repos[id]
			if !ok {
				http.NotFound(w, r)
				return
			}
			var siblings []string
			for name := range files {
				siblings = append(siblings, fmt.Sprintf(`{"rfilename":%q}`, name))
			}
			fmt.Fprintf(w, `{"id":%q,"sha":%q,"siblings":[%s]}`, id, testCommit, strings.Join(siblings, ","))
			return
		}
		id, rest, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/resolve/")
		if !ok {
			http.NotFound(w, r)
			return
		}
		content, ok := repos[id][strings.TrimPrefix(rest, testCommit+"/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("ETag", fmt.Sprintf(`"%x"`, sha256.Sum256([]byte(content))))
		w.Header().Set("Content-Length", fmt.Sprint(len(content)))
		io.WriteString(w, content)
	}))
	t.Cleanup(srv.Close)
	t.Setenv("HF_ENDPOINT", srv.URL)
}

// captureStdout returns what fn wrote to os.Stdout.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	fn()
	os.Stdout = orig
	w.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("failed to read captured stdout: %v", err)
	}
	return string(out)
}

func TestFromHub_WordPieceModels(t *testing.T) {
	vocab := strings.Join(testVocab, "\n") + "\n"
	serveModelRepos(t, map[string]map[string]string{
		"google-bert/bert-base-uncased": {
			"tokenizer_config.json": `{"tokenizer_class": "BertTokenizer", "do_lower_case": true}`,
			"vocab.txt":             vocab,
		},
		"google-bert/bert-base-cased": {
			"tokenizer_config.json": `{"tokenizer_class": "BertTokenizer", "do_lower_case": false}`,
			"vocab.txt":             vocab,
		},
		"distilbert/distilbert-base-uncased": {
			"tokenizer_config.json": `{"tokenizer_class": "DistilBertTokenizer"}`,
			"vocab.txt":             vocab,
		},
	})

	cases := []struct {
		model string
		want  []int
	}{
		{"google-bert/bert-base-uncased", []int{5, 6}},
		{"google-bert/bert-base-cased", []int{1, 6}},
		// do_lower_case left out defaults to lowercasing.
		{"distilbert/distilbert-base-uncased", []int{5, 6}},
	}
	for _, tc := range cases {
		var (
			tok interface{ Encode(string) []int }
			err error
		)
		out := captureStdout(t, func() {
			tok, err = FromHub(context.Background(), tc.model, HubOptions{CacheDir: t.TempDir()})
		})
		if err != nil {
			t.Fatalf("FromHub(%s) failed: %v", tc.model, err)
		}
		if got := tok.Encode("The cat"); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("FromHub(%s): Encode = %v, want %v", tc.model, got, tc.want)
		}
		if out != "" {
			t.Errorf("FromHub(%s) wrote to stdout: %q", tc.model, out)
		}
	}

	enc, err := FromHub(context.Background(), "google-bert/bert-base-uncased", HubOptions{CacheDir: t.TempDir()})
	if err != nil {
		t.Fatalf("FromHub failed: %v", err)
	}
	if _, err := NewPairEncoder(enc); err != nil {
		t.Fatalf("hub tokenizer should carry the BERT specials: %v", err)
	}
}

func TestFromHub_Errors(t *testing.T) {
	serveModelRepos(t, map[string]map[string]string{
		"FacebookAI/roberta-base": {
			"tokenizer_config.json": `{"tokenizer_class": "RobertaTokenizer"}`,
		},
		"broken/bert": {
			"tokenizer_config.json": `{"tokenizer_class": "BertTokenizer"}`,
		},
	})

	if _, err := FromHub(context.Background(), "FacebookAI/roberta-base", HubOptions{CacheDir: t.TempDir()}); err == nil ||
		!strings.Contains(err.Error(), "RobertaTokenizer") {
		t.Fatalf("expected an unknown class error, got %v", err)
	}
	if _, err := FromHub(context.Background(), "broken/bert", HubOptions{CacheDir: t.TempDir()}); err == nil ||
		!strings.Contains(err.Error(), VocabFile) {
		t.Fatalf("expected a missing vocab error, got %v", err)
	}
	if _, err := FromHub(context.Background(), "missing/model", HubOptions{CacheDir: t.TempDir()}); err == nil {
		t.Fatalf("expected an error for a missing repository")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := FromHub(ctx, "broken/bert", HubOptions{CacheDir: t.TempDir()}); err == nil {
		t.Fatalf("expected an error for a canceled context")
	}
}
