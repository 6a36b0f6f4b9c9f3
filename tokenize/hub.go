package tokenize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
)

// VocabFile is the WordPiece vocabulary file of BERT-family hub models.
const VocabFile = "vocab.txt"

// wordPieceClasses are the tokenizer_class values served by WordPiece over
// the repository's vocab.txt.
var wordPieceClasses = map[string]bool{
	"BertTokenizer":           true,
	"BertTokenizerFast":       true,
	"DistilBertTokenizer":     true,
	"DistilBertTokenizerFast": true,
	"ElectraTokenizer":        true,
	"ElectraTokenizerFast":    true,
	"MobileBertTokenizer":     true,
	"MobileBertTokenizerFast": true,
}

// HubOptions locate a pretrained tokenizer on the Hugging Face hub.
type HubOptions struct {
	// AuthToken is needed for gated or private models.
	AuthToken string

	// CacheDir overrides the default hub cache directory.
	CacheDir string

	// Revision selects a branch, tag or commit. Empty means main.
	Revision string

	Logger *slog.Logger
}

// FromHub downloads (or reuses from cache) the tokenizer of modelID.
// BERT-family models get a WordPiece tokenizer over their vocab.txt, cased or
// not per do_lower_case; other classes go through go-huggingface.
func FromHub(ctx context.Context, modelID string, opts HubOptions) (api.Tokenizer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	repo := hub.New(modelID).WithAuth(opts.AuthToken)
	repo.Verbosity = 0
	if opts.CacheDir != "" {
		repo = repo.WithCacheDir(opts.CacheDir)
	}
	if opts.Revision != "" {
		repo = repo.WithRevision(opts.Revision)
	}

	cfg, err := tokenizers.GetConfig(repo)
	if err != nil {
		return nil, fmt.Errorf("failed to read tokenizer config of %q: %w", modelID, err)
	}
	if !wordPieceClasses[cfg.TokenizerClass] {
		tok, err := tokenizers.New(repo)
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer for %q: %w", modelID, err)
		}
		logger.Debug("loaded hub tokenizer", "model", modelID, "class", cfg.TokenizerClass)
		return tok, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vocab, err := repo.DownloadFile(VocabFile)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s of %q: %w", VocabFile, modelID, err)
	}
	lowercase, err := lowercaseInput(cfg)
	if err != nil {
		return nil, err
	}
	var wpOpts []WordPieceOption
	if !lowercase {
		wpOpts = append(wpOpts, WithCasedInput())
	}
	wp, err := LoadWordPiece(vocab, wpOpts...)
	if err != nil {
		return nil, err
	}
	logger.Debug("loaded hub tokenizer", "model", modelID, "class", cfg.TokenizerClass,
		"vocab_size", wp.VocabSize(), "lowercase", lowercase)
	return wp, nil
}

// lowercaseInput reports do_lower_case, which BERT tokenizers default to true
// when the config leaves it out.
func lowercaseInput(cfg *api.Config) (bool, error) {
	if cfg.ConfigFile == "" {
		return cfg.DoLowerCase, nil
	}
	data, err := os.ReadFile(cfg.ConfigFile)
	if err != nil {
		return false, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", cfg.ConfigFile, err)
	}
	if _, ok := raw["do_lower_case"]; !ok {
		return true, nil
	}
	return cfg.DoLowerCase, nil
}
