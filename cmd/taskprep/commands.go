package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/spf13/cobra"

	"github.com/Noofbiz/taskprep/collate"
	"github.com/Noofbiz/taskprep/config"
	"github.com/Noofbiz/taskprep/datasets"
	"github.com/Noofbiz/taskprep/loader"
	"github.com/Noofbiz/taskprep/preprocess"
	"github.com/Noofbiz/taskprep/schema"
	"github.com/Noofbiz/taskprep/tokenize"
)

var (
	saveDir     string
	plotLengths string
	previewSize int
)

var detectCmd = &cobra.Command{
	Use:   "detect [dataset]",
	Short: "Load a dataset and print its detected task schema",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identifier, err := datasetArg(args)
		if err != nil {
			return err
		}
		ds, err := newLoader(cfg).Load(cmd.Context(), identifier)
		if err != nil {
			return err
		}
		defer ds.Release()

		ts, err := schema.Detect(ds, schema.WithLogger(logger))
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), detectReport{
			Dataset: identifier,
			Splits:  ds.NumRows(),
			Schema:  newSchemaReport(ts),
		})
	},
}

var prepCmd = &cobra.Command{
	Use:   "prep [dataset]",
	Short: "Tokenize a dataset into model-ready splits",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identifier, err := datasetArg(args)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		tok, err := newTokenizer(ctx, cfg)
		if err != nil {
			return err
		}
		backend, err := tokenize.NewPairEncoder(tok)
		if err != nil {
			return err
		}

		res, err := preprocess.Run(ctx, newLoader(cfg), identifier, backend, preprocess.Options{
			MaxLength: cfg.MaxLength,
			BatchSize: cfg.BatchSize,
			NumProc:   cfg.NumProc,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		defer res.Release()

		report := prepReport{
			Dataset:    identifier,
			Schema:     newSchemaReport(res.Schema),
			NumLabels:  res.NumLabels,
			ClassNames: res.ClassNames,
			Columns:    res.Collator.InputNames(),
			Splits:     make(map[string]splitReport),
		}
		var allLengths []int
		for _, name := range res.Dataset.SplitNames() {
			split, _ := res.Dataset.Split(name)
			lengths, err := splitLengths(split)
			if err != nil {
				return err
			}
			allLengths = append(allLengths, lengths...)
			sr := splitReport{
				Rows:    split.Len(),
				Lengths: tokenize.ComputeLengthStats(lengths, cfg.MaxLength),
			}
			if sr.FirstBatch, err = previewBatch(split, res.Collator); err != nil {
				return err
			}
			if saveDir != "" {
				if sr.Path, err = saveSplit(saveDir, split); err != nil {
					return err
				}
				logger.Info("saved split", "split", name, "path", sr.Path)
			}
			report.Splits[name] = sr
		}

		if plotLengths != "" {
			if err := tokenize.PlotLengths(plotLengths, allLengths, cfg.MaxLength); err != nil {
				return err
			}
			report.Plot = plotLengths
		}
		return writeOutput(cmd.OutOrStdout(), report)
	},
}

func init() {
	prepCmd.Flags().StringVar(&saveDir, "save-dir", "", "write each tokenized split to <dir>/<split>.parquet")
	prepCmd.Flags().StringVar(&plotLengths, "plot-lengths", "", "write a PNG histogram of sequence lengths")
	prepCmd.Flags().IntVar(&previewSize, "preview-batch", 8, "collate a first batch of this size per split to report its shape; 0 disables")
}

func datasetArg(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if cfg.Dataset == "" {
		return "", errors.New("no dataset given: pass one as argument, --dataset or in the config file")
	}
	return cfg.Dataset, nil
}

func newLoader(c *config.Config) *loader.Loader {
	sources := []loader.Source{loader.LocalSource{}}
	if !c.Hub.Disabled {
		sources = append(sources, loader.HubSource{Fetcher: &loader.HubFetcher{
			AuthToken: c.HubToken(),
			CacheDir:  c.Hub.CacheDir,
			Attempts:  c.Hub.Retries,
		}})
	}
	return loader.New(
		loader.WithSources(sources...),
		loader.WithFallback(loader.FallbackRule{Prefix: c.Fallback.Prefix, Repo: c.Fallback.Repo}),
		loader.WithLogger(logger),
	)
}

func newTokenizer(ctx context.Context, c *config.Config) (api.Tokenizer, error) {
	if c.Tokenizer.Vocab != "" {
		var opts []tokenize.WordPieceOption
		if !c.Tokenizer.Lowercase {
			opts = append(opts, tokenize.WithCasedInput())
		}
		wp, err := tokenize.LoadWordPiece(c.Tokenizer.Vocab, opts...)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded WordPiece vocabulary", "path", c.Tokenizer.Vocab, "size", wp.VocabSize())
		return wp, nil
	}
	if c.Hub.Disabled {
		return nil, errors.New("the hub is disabled: set tokenizer.vocab to a local vocab.txt")
	}
	return tokenize.FromHub(ctx, c.Tokenizer.Model, tokenize.HubOptions{
		AuthToken: c.HubToken(),
		CacheDir:  c.Hub.CacheDir,
		Logger:    logger,
	})
}

// splitLengths returns the input_ids length of every example of a
// tokenized split.
func splitLengths(split *datasets.Split) ([]int, error) {
	lengths := make([]int, split.Len())
	for i := range lengths {
		row, err := split.Example(i)
		if err != nil {
			return nil, err
		}
		ids, ok := row[tokenize.InputIDs].([]int64)
		if !ok {
			return nil, fmt.Errorf("split %s row %d has no %s", split.Name(), i, tokenize.InputIDs)
		}
		lengths[i] = len(ids)
	}
	return lengths, nil
}

func previewBatch(split *datasets.Split, collator *collate.Collator) (*batchReport, error) {
	if previewSize <= 0 || split.Len() == 0 {
		return nil, nil
	}
	l, err := collate.NewLoader(split, collator, collate.LoaderOptions{BatchSize: previewSize})
	if err != nil {
		return nil, err
	}
	b, err := l.Next()
	if err != nil {
		return nil, err
	}
	inputs, labels, err := b.ToGomlxTensors()
	if err != nil {
		return nil, err
	}
	r := &batchReport{Size: b.Size(), Shapes: make(map[string][]int, len(inputs)+1)}
	for i, t := range inputs {
		r.Shapes[b.Names[i]] = t.Shape().Dimensions
	}
	if labels != nil {
		r.Shapes[collate.LabelsField] = labels.Shape().Dimensions
	}
	return r, nil
}

func saveSplit(dir string, split *datasets.Split) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, split.Name()+".parquet")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := split.WriteParquet(f); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

type schemaReport struct {
	Task        string   `json:"task" yaml:"task"`
	TextColumns []string `json:"text_columns" yaml:"text_columns"`
	Label       string   `json:"label" yaml:"label"`
	NumLabels   int      `json:"num_labels" yaml:"num_labels"`
	Guessed     bool     `json:"num_labels_guessed,omitempty" yaml:"num_labels_guessed,omitempty"`
	LabelSource string   `json:"label_source" yaml:"label_source"`
	TextSource  string   `json:"text_source" yaml:"text_source"`
}

func newSchemaReport(ts *schema.TaskSchema) schemaReport {
	r := schemaReport{
		Task:        ts.TaskType().String(),
		Label:       ts.LabelKey,
		NumLabels:   ts.NumLabels,
		Guessed:     ts.NumLabelsGuessed,
		LabelSource: ts.LabelSource,
		TextSource:  ts.TextSource,
	}
	if ts.Task != nil {
		r.TextColumns = ts.Task.Keys()
	}
	return r
}

type detectReport struct {
	Dataset string         `json:"dataset" yaml:"dataset"`
	Splits  map[string]int `json:"splits" yaml:"splits"`
	Schema  schemaReport   `json:"schema" yaml:"schema"`
}

type batchReport struct {
	Size   int              `json:"size" yaml:"size"`
	Shapes map[string][]int `json:"shapes" yaml:"shapes"`
}

type splitReport struct {
	Rows       int                  `json:"rows" yaml:"rows"`
	Lengths    tokenize.LengthStats `json:"lengths" yaml:"lengths"`
	FirstBatch *batchReport         `json:"first_batch,omitempty" yaml:"first_batch,omitempty"`
	Path       string               `json:"path,omitempty" yaml:"path,omitempty"`
}

type prepReport struct {
	Dataset    string                 `json:"dataset" yaml:"dataset"`
	Schema     schemaReport           `json:"schema" yaml:"schema"`
	NumLabels  int                    `json:"num_labels" yaml:"num_labels"`
	ClassNames []string               `json:"class_names,omitempty" yaml:"class_names,omitempty"`
	Columns    []string               `json:"columns" yaml:"columns"`
	Splits     map[string]splitReport `json:"splits" yaml:"splits"`
	Plot       string                 `json:"plot,omitempty" yaml:"plot,omitempty"`
}
