package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Noofbiz/taskprep/config"
)

var (
	cfgFile      string
	outputFormat string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "taskprep",
	Short: "Prepare text classification datasets for transformer training",
	Long: `taskprep loads a text classification dataset from a local directory or the
Hugging Face hub, works out which columns hold the text and the label, and
tokenizes every split into input_ids, token_type_ids, attention_mask and
labels columns ready for batching.

Identifiers such as glue/sst2 that cannot be found as given are retried once
under the configured fallback repository (nyu-mll/glue:sst2 by default).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFormat {
		case "yaml", "json":
		default:
			return fmt.Errorf("unknown output format: %s", outputFormat)
		}
		if cmd.Name() == versionCmd.Name() || cmd.Name() == initConfigCmd.Name() {
			return nil
		}

		m, err := config.NewManager(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		cfg = m.Get()

		var level slog.Level
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		if used := m.ConfigFileUsed(); used != "" {
			logger.Debug("loaded config file", "path", used)
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./taskprep.yaml or ~/.taskprep/taskprep.yaml)")
	pf.StringVarP(&outputFormat, "output", "o", "yaml", "output format: yaml or json")

	d := config.DefaultConfig()
	pf.String("dataset", "", "dataset identifier: a directory, a hub repository, or repo:config")
	pf.String("tokenizer", d.Tokenizer.Model, "hub model whose tokenizer to use")
	pf.String("vocab", "", "local WordPiece vocab.txt, used instead of --tokenizer")
	pf.Bool("lowercase", d.Tokenizer.Lowercase, "lowercase and strip accents before WordPiece tokenization")
	pf.Int("max-length", d.MaxLength, "maximum sequence length, special tokens included")
	pf.Int("batch-size", d.BatchSize, "rows per tokenization batch")
	pf.Int("num-proc", d.NumProc, "concurrent tokenization workers")
	pf.String("cache-dir", "", "hub download cache directory")
	pf.Bool("offline", false, "never contact the Hugging Face hub")
	pf.String("log-level", d.LogLevel, "log level: debug, info, warn or error")

	rootCmd.AddCommand(detectCmd, prepCmd, initConfigCmd, versionCmd)
}

// writeOutput renders data to w in the selected output format.
func writeOutput(w io.Writer, data any) error {
	switch strings.ToLower(outputFormat) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	default:
		return fmt.Errorf("unknown output format: %s", outputFormat)
	}
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write the default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "taskprep.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}
