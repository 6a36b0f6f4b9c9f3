// Package loader resolves dataset identifiers to datasets, from a local
// directory or the Hugging Face hub.
//
// Resolution is explicit: an identifier yields a primary reference and, when
// it starts with a known prefix, one fallback reference under a secondary
// naming scheme ("glue/sst2" falls back to config "sst2" of "nyu-mll/glue").
// The loader tries the primary, then the fallback exactly once, and reports
// both attempts if neither works.
package loader

import (
	"strings"
)

// Ref names a dataset: a repository (or local directory) and an optional
// configuration within it.
type Ref struct {
	Repo   string
	Config string
}

func (r Ref) String() string {
	if r.Config == "" {
		return r.Repo
	}
	return r.Repo + ":" + r.Config
}

// ParseRef splits "repo:config" identifiers. An identifier without a config
// suffix is a bare repository.
func ParseRef(identifier string) Ref {
	if i := strings.LastIndex(identifier, ":"); i > 0 && !strings.ContainsAny(identifier[i+1:], `/\`) {
		return Ref{Repo: identifier[:i], Config: identifier[i+1:]}
	}
	return Ref{Repo: identifier}
}

// FallbackRule maps identifiers starting with Prefix to configuration
// <identifier without Prefix> of Repo.
type FallbackRule struct {
	Prefix string
	Repo   string
}

// DefaultFallback moves the legacy GLUE names to their current hub home.
var DefaultFallback = FallbackRule{Prefix: "glue/", Repo: "nyu-mll/glue"}

// Resolution holds the references to try, in order.
type Resolution struct {
	Primary  Ref
	Fallback *Ref
}

// Refs returns the primary reference followed by the fallback, if any.
func (r Resolution) Refs() []Ref {
	refs := []Ref{r.Primary}
	if r.Fallback != nil {
		refs = append(refs, *r.Fallback)
	}
	return refs
}

// Resolve computes the references for identifier under rule.
func Resolve(identifier string, rule FallbackRule) Resolution {
	res := Resolution{Primary: ParseRef(identifier)}
	if rule.Prefix == "" || rule.Repo == "" {
		return res
	}
	rest, ok := strings.CutPrefix(identifier, rule.Prefix)
	if !ok || rest == "" {
		return res
	}
	res.Fallback = &Ref{Repo: rule.Repo, Config: rest}
	return res
}
