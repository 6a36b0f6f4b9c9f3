package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Noofbiz/taskprep/datasets"
)

// ErrNotFound is returned by a Source that does not hold the reference, so
// the next source is tried.
var ErrNotFound = errors.New("dataset not found")

// Source opens datasets from one kind of storage.
type Source interface {
	Name() string
	Open(ctx context.Context, ref Ref) (*datasets.Dataset, error)
}

// Attempt records one resolution attempt.
type Attempt struct {
	Ref Ref
	Err error
}

// DatasetLoadError is returned when neither the primary nor the fallback
// reference could be loaded. Err is the primary failure.
type DatasetLoadError struct {
	Identifier string
	Attempts   []Attempt
	Err        error
}

func (e *DatasetLoadError) Error() string {
	tried := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		tried[i] = a.Ref.String()
	}
	return fmt.Sprintf("failed to load dataset %q (tried %s): %v", e.Identifier, strings.Join(tried, ", "), e.Err)
}

func (e *DatasetLoadError) Unwrap() error {
	return e.Err
}

// Loader loads datasets by identifier.
type Loader struct {
	sources []Source
	rule    FallbackRule
	logger  *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithSources replaces the sources, tried in order for every reference.
func WithSources(sources ...Source) Option {
	return func(l *Loader) {
		l.sources = sources
	}
}

// WithFallback replaces the fallback rule. The zero rule disables fallback.
func WithFallback(rule FallbackRule) Option {
	return func(l *Loader) {
		l.rule = rule
	}
}

// WithLogger sets the logger used to report attempts.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a loader reading local directories, with DefaultFallback.
func New(opts ...Option) *Loader {
	l := &Loader{
		sources: []Source{LocalSource{}},
		rule:    DefaultFallback,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Resolve returns the references Load tries for identifier.
func (l *Loader) Resolve(identifier string) Resolution {
	return Resolve(identifier, l.rule)
}

// Load tries the primary reference, then the fallback once.
func (l *Loader) Load(ctx context.Context, identifier string) (*datasets.Dataset, error) {
	var attempts []Attempt
	for _, ref := range l.Resolve(identifier).Refs() {
		ds, err := l.Open(ctx, ref)
		if err == nil {
			l.logger.Info("loaded dataset", "identifier", identifier, "ref", ref.String(), "attempt", len(attempts)+1)
			return ds, nil
		}
		attempts = append(attempts, Attempt{Ref: ref, Err: err})
		l.logger.Warn("dataset load attempt failed", "identifier", identifier, "ref", ref.String(), "err", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &DatasetLoadError{Identifier: identifier, Attempts: attempts, Err: attempts[0].Err}
}

// Open loads ref from the first source holding it.
func (l *Loader) Open(ctx context.Context, ref Ref) (*datasets.Dataset, error) {
	if len(l.sources) == 0 {
		return nil, errors.New("no dataset sources configured")
	}
	var missing []error
	for _, src := range l.sources {
		ds, err := src.Open(ctx, ref)
		if err == nil {
			l.logger.Debug("opened dataset", "source", src.Name(), "ref", ref.String())
			return ds, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%s source: %w", src.Name(), err)
		}
		missing = append(missing, fmt.Errorf("%s source: %w", src.Name(), err))
	}
	return nil, errors.Join(missing...)
}
