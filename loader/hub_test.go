package loader

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

const testCommit = "0123456789abcdef"

// hubServer is a minimal hub endpoint serving dataset repositories.
type hubServer struct {
	mu       sync.Mutex
	repos    map[string]map[string][]byte
	failures map[string][]int // repo id -> statuses returned by the next info requests
	infoHits map[string]int
}

func (h *hubServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if id, ok := strings.CutPrefix(r.URL.Path, "/api/datasets/"); ok {
		id = strings.TrimSuffix(id, "/revision/main")
		h.infoHits[id]++
		if queued := h.failures[id]; len(queued) > 0 {
			h.failures[id] = queued[1:]
			w.WriteHeader(queued[0])
			return
		}
		files, ok := h.repos[id]
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

	id, rest, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/datasets/"), "/resolve/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	content, ok := h.repos[id][strings.TrimPrefix(rest, testCommit+"/")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("ETag", fmt.Sprintf(`"%x"`, sha256.Sum256(content)))
	w.Header().Set("Content-Length", fmt.Sprint(len(content)))
	w.Write(content)
}

func startHub(t *testing.T, repos map[string]map[string][]byte) *hubServer {
	t.Helper()
	h := &hubServer{repos: repos, failures: make(map[string][]int), infoHits: make(map[string]int)}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Setenv("HF_ENDPOINT", srv.URL)
	return h
}

func (h *hubServer) hits(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.infoHits[id]
}

// parquetBytes returns the parquet encoding of CSV rows.
func parquetBytes(t *testing.T, split, header string, rows []string) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), split+".parquet")
	writeParquetFile(t, path, split, header, rows)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return data
}

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

func TestHubFetcher_LoadsThroughFallback(t *testing.T) {
	header := "sentence,label,idx"
	h := startHub(t, map[string]map[string][]byte{
		"nyu-mll/glue": {
			"README.md": []byte("# glue\n"),
			"sst2/train-00000-of-00001.parquet":      parquetBytes(t, "train", header, []string{"a,0,0", "b,1,1"}),
			"sst2/validation-00000-of-00001.parquet": parquetBytes(t, "validation", header, []string{"c,1,0"}),
		},
	})
	fetcher := &HubFetcher{CacheDir: t.TempDir(), Delay: time.Millisecond}
	l := New(WithSources(HubSource{Fetcher: fetcher}), WithLogger(quiet))

	var (
		rows map[string]int
		err  error
	)
	out := captureStdout(t, func() {
		ds, loadErr := l.Load(context.Background(), "glue/sst2")
		if err = loadErr; err == nil {
			rows = ds.NumRows()
			ds.Release()
		}
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(rows, map[string]int{"train": 2, "validation": 1}) {
		t.Fatalf("unexpected rows %v", rows)
	}
	if out != "" {
		t.Fatalf("hub downloads wrote to stdout: %q", out)
	}
	// The primary identifier is a plain 404 and is asked for once.
	if got := h.hits("glue/sst2"); got != 1 {
		t.Fatalf("expected one info request for the missing primary repo, got %d", got)
	}
}

func TestHubFetcher_MissingRepoIsNotRetried(t *testing.T) {
	h := startHub(t, map[string]map[string][]byte{})
	fetcher := &HubFetcher{CacheDir: t.TempDir(), Attempts: 3, Delay: time.Millisecond}

	_, err := fetcher.ListFiles(context.Background(), "nobody/nothing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := h.hits("nobody/nothing"); got != 1 {
		t.Fatalf("a 404 must not be retried, got %d requests", got)
	}
}

func TestHubFetcher_RetriesTransientFailures(t *testing.T) {
	h := startHub(t, map[string]map[string][]byte{
		"org/data": {"train.csv": []byte("sentence,label\na,0\n")},
	})
	h.failures["org/data"] = []int{http.StatusServiceUnavailable, http.StatusTooManyRequests}
	fetcher := &HubFetcher{CacheDir: t.TempDir(), Attempts: 3, Delay: time.Millisecond}

	names, err := fetcher.ListFiles(context.Background(), "org/data")
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"train.csv"}) {
		t.Fatalf("unexpected files %v", names)
	}
	if got := h.hits("org/data"); got != 3 {
		t.Fatalf("expected two retries, got %d requests", got)
	}

	h.failures["org/flaky"] = []int{500, 500, 500}
	if _, err := fetcher.ListFiles(context.Background(), "org/flaky"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a server error after the last attempt, got %v", err)
	}
	if got := h.hits("org/flaky"); got != 3 {
		t.Fatalf("expected three attempts, got %d", got)
	}
}

func TestTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New(`failed to download repository info: bad status code 404: ""`), false},
		{errors.New(`bad status code 503: ""`), true},
		{errors.New(`request for metadata from "x" failed with the following message: "429 Too Many Requests"`), true},
		{errors.New(`request for metadata from "x" failed with the following message: "401 Unauthorized"`), false},
		{fmt.Errorf("wrapped: %w", context.Canceled), false},
		{errors.New("failed to parse info"), false},
	}
	for _, tc := range cases {
		if got := transient(tc.err); got != tc.want {
			t.Errorf("transient(%q) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
