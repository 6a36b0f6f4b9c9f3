package datasets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DatasetInfoFile is the optional per-directory feature declaration.
const DatasetInfoFile = "dataset_info.json"

var splitExtensions = []string{".parquet", ".jsonl", ".csv"}

// FindSplitFiles finds split files in dir: <split>.parquet, <split>.jsonl or
// <split>.csv, and Hub-style shards named <split>-00000-of-00001.<ext>.
func FindSplitFiles(dir string) (map[string][]string, error) {
	var paths []string
	for _, ext := range splitExtensions {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+ext))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	found := GroupSplitFiles(paths)
	if len(found) == 0 {
		return nil, fmt.Errorf("no split files found in %s", dir)
	}
	return found, nil
}

// GroupSplitFiles groups data file paths by split name, ignoring files that
// are not parquet, jsonl or csv. When a split exists in several formats the
// first extension of parquet, jsonl, csv wins. Paths of a split are sorted.
func GroupSplitFiles(paths []string) map[string][]string {
	found := make(map[string][]string)
	for _, ext := range splitExtensions {
		byExt := make(map[string][]string)
		for _, path := range paths {
			if strings.ToLower(filepath.Ext(path)) != ext {
				continue
			}
			split := SplitNameFromPath(path)
			byExt[split] = append(byExt[split], path)
		}
		for split, matches := range byExt {
			if _, ok := found[split]; !ok {
				sort.Strings(matches)
				found[split] = matches
			}
		}
	}
	return found
}

// SplitNameFromPath derives a split name from a data file path.
//
//	train.csv                      -> train
//	train-00000-of-00002.parquet   -> train
//	sst2/validation/0000.parquet   -> validation
func SplitNameFromPath(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if isShardNumber(stem) {
		return filepath.Base(filepath.Dir(path))
	}
	if i := strings.Index(stem, "-"); i > 0 {
		return stem[:i]
	}
	return stem
}

func isShardNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ReadFile reads one data file into a split, picking the reader by extension.
func ReadFile(ctx context.Context, path, split string, declared map[string]json.RawMessage) (*Split, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(f, split, declared)
	case ".jsonl", ".json":
		return ReadJSONL(f, split, declared)
	case ".parquet":
		return ReadParquet(ctx, f, split)
	}
	return nil, fmt.Errorf("unsupported data file %s", path)
}

// ReadFiles reads the shards of one split and concatenates them.
func ReadFiles(ctx context.Context, paths []string, split string, declared map[string]json.RawMessage) (*Split, error) {
	parts := make([]*Split, 0, len(paths))
	defer func() {
		for _, p := range parts {
			p.Release()
		}
	}()
	for _, path := range paths {
		s, err := ReadFile(ctx, path, split, declared)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		parts = append(parts, s)
	}
	return Concat(split, parts...)
}

// LoadDir loads every split found in dir. A dataset_info.json next to the
// data files declares column features; config selects the entry of a
// per-config info file.
func LoadDir(ctx context.Context, dir, config string) (*Dataset, error) {
	files, err := FindSplitFiles(dir)
	if err != nil {
		return nil, err
	}

	var declared map[string]json.RawMessage
	if data, err := os.ReadFile(filepath.Join(dir, DatasetInfoFile)); err == nil {
		declared, err = ParseDatasetInfo(data, config)
		if err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return LoadFiles(ctx, files, declared)
}

// LoadFiles reads every split of files, a split name to shard paths mapping.
func LoadFiles(ctx context.Context, files map[string][]string, declared map[string]json.RawMessage) (*Dataset, error) {
	splits := make(map[string]*Split, len(files))
	for name, paths := range files {
		s, err := ReadFiles(ctx, paths, name, declared)
		if err != nil {
			for _, done := range splits {
				done.Release()
			}
			return nil, err
		}
		splits[name] = s
	}
	return New(splits), nil
}
