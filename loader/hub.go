package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Noofbiz/taskprep/datasets"
	"github.com/avast/retry-go/v4"
	"github.com/gomlx/go-huggingface/hub"
)

// Fetcher lists and downloads the files of a hub dataset repository.
type Fetcher interface {
	ListFiles(ctx context.Context, repo string) ([]string, error)

	// Download returns the local path of file, downloading it if needed.
	Download(ctx context.Context, repo, file string) (string, error)
}

// HubSource reads datasets from Hugging Face hub dataset repositories. Data
// files are the parquet (or jsonl/csv) files of the repository, under the
// config's directory when the reference has a config, e.g.
// "sst2/train-00000-of-00001.parquet" or "data/train-00000-of-00001.parquet".
type HubSource struct {
	Fetcher Fetcher
}

func (s HubSource) Name() string {
	return "hub"
}

func (s HubSource) Open(ctx context.Context, ref Ref) (*datasets.Dataset, error) {
	names, err := s.Fetcher.ListFiles(ctx, ref.Repo)
	if err != nil {
		return nil, fmt.Errorf("failed to list files of %s: %w", ref.Repo, err)
	}

	var data []string
	var info string
	for _, name := range names {
		dir := path.Dir(name)
		if ref.Config != "" && dir != ref.Config && !strings.HasPrefix(dir, ref.Config+"/") {
			continue
		}
		if path.Base(name) == datasets.DatasetInfoFile && (info == "" || dir == ref.Config) {
			info = name
			continue
		}
		data = append(data, name)
	}
	if ref.Config == "" {
		if configs := topDirs(data); len(configs) > 1 {
			return nil, fmt.Errorf("%s has several configurations, pick one of %v", ref.Repo, configs)
		}
	}
	remote := datasets.GroupSplitFiles(data)
	if len(remote) == 0 {
		return nil, fmt.Errorf("%w: no data files for %s", ErrNotFound, ref)
	}

	files := make(map[string][]string, len(remote))
	for split, names := range remote {
		for _, name := range names {
			local, err := s.Fetcher.Download(ctx, ref.Repo, name)
			if err != nil {
				return nil, fmt.Errorf("failed to download %s from %s: %w", name, ref.Repo, err)
			}
			files[split] = append(files[split], local)
		}
	}

	var declared map[string]json.RawMessage
	if info != "" {
		local, err := s.Fetcher.Download(ctx, ref.Repo, info)
		if err != nil {
			return nil, fmt.Errorf("failed to download %s from %s: %w", info, ref.Repo, err)
		}
		raw, err := os.ReadFile(local)
		if err != nil {
			return nil, err
		}
		if declared, err = datasets.ParseDatasetInfo(raw, ref.Config); err != nil {
			return nil, err
		}
	}
	return datasets.LoadFiles(ctx, files, declared)
}

// topDirs returns the distinct first path elements of nested data files.
func topDirs(names []string) []string {
	var dirs []string
	for _, name := range names {
		top, _, nested := strings.Cut(name, "/")
		if nested && !slices.Contains(dirs, top) && len(datasets.GroupSplitFiles([]string{name})) > 0 {
			dirs = append(dirs, top)
		}
	}
	slices.Sort(dirs)
	return dirs
}

// HubFetcher is a Fetcher backed by go-huggingface. Hub calls failing with a
// network error, 429 or 5xx are retried; a missing repository is ErrNotFound.
type HubFetcher struct {
	AuthToken string
	CacheDir  string
	Revision  string

	// Attempts is the number of tries per call. Default 3.
	Attempts uint
	// Delay is the initial backoff between tries. Default 1s.
	Delay time.Duration
}

func (f *HubFetcher) repo(id string) *hub.Repo {
	r := hub.New(id).WithType(hub.RepoTypeDataset).WithAuth(f.AuthToken)
	r.Verbosity = 0
	if f.CacheDir != "" {
		r = r.WithCacheDir(f.CacheDir)
	}
	if f.Revision != "" {
		r = r.WithRevision(f.Revision)
	}
	return r
}

func (f *HubFetcher) retry(ctx context.Context, fn func() error) error {
	attempts, delay := f.Attempts, f.Delay
	if attempts == 0 {
		attempts = 3
	}
	if delay <= 0 {
		delay = time.Second
	}
	return retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return retry.Unrecoverable(err)
			}
			return fn()
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.RetryIf(transient),
		retry.LastErrorOnly(true),
	)
}

// hubStatus matches the HTTP status go-huggingface puts in its error messages,
// e.g. `bad status code 404: ""` or `failed with the following message: "503 Service Unavailable"`.
var hubStatus = regexp.MustCompile(`(?:bad status code |following message: ")(\d{3})`)

// transient reports whether a hub failure is worth retrying: network errors,
// 429 and 5xx responses. A 404 is the normal answer for an identifier that
// needs its fallback and fails right away.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if code := statusCode(err); code != 0 {
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// statusCode returns the HTTP status of a hub failure, 0 when it has none.
func statusCode(err error) int {
	m := hubStatus.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}

// ListFiles implements Fetcher.
func (f *HubFetcher) ListFiles(ctx context.Context, repo string) ([]string, error) {
	r := f.repo(repo)
	var names []string
	err := f.retry(ctx, func() error {
		names = names[:0]
		for name, err := range r.IterFileNames() {
			if err != nil {
				return err
			}
			names = append(names, name)
		}
		return nil
	})
	if err != nil && statusCode(err) == http.StatusNotFound {
		return nil, fmt.Errorf("%w: hub dataset %s: %v", ErrNotFound, repo, err)
	}
	return names, err
}

// Download implements Fetcher.
func (f *HubFetcher) Download(ctx context.Context, repo, file string) (string, error) {
	r := f.repo(repo)
	var local string
	err := f.retry(ctx, func() error {
		var err error
		local, err = r.DownloadFile(file)
		return err
	})
	return local, err
}
