// Package render resolves math expressions to rendered artifacts.
//
// The resolver implements the caching contract: each distinct expression
// is rendered at most once per run, previously stored artifacts are reused
// with their embedded baseline offsets, and corrupt cache entries fall
// through to a fresh render. The pipeline ties scanning, deduplication,
// and resolution together into the per-run equation map.
package render

import (
	"github.com/FocuswithJustin/readmetex/core/errors"
	"github.com/FocuswithJustin/readmetex/core/latex"
	"github.com/FocuswithJustin/readmetex/core/scan"
	"github.com/FocuswithJustin/readmetex/core/store"
	"github.com/FocuswithJustin/readmetex/core/svg"
	"github.com/FocuswithJustin/readmetex/internal/gitio"
	"github.com/FocuswithJustin/readmetex/internal/index"
	"github.com/FocuswithJustin/readmetex/internal/logging"
)

// Options enumerates every recognized configuration option with defaults.
// Validate must run once before the pipeline starts.
type Options struct {
	Engine    string   // typesetting engine identifier
	Packages  []string // LaTeX packages included in every envelope
	Dir       string   // artifact directory (relative to the repository)
	Branch    string   // historical revision for cache reads and publishing
	User      string   // hosting user for CDN URLs
	Project   string   // hosting project for CDN URLs
	UseCDN    bool     // reference artifacts through the CDN template
	Htmlize   bool     // additionally emit an HTML rendering
	Valign    bool     // express alignment as explicit pixel offsets
	Rerender  bool     // ignore cached artifacts
	Raster    bool     // additionally export PNG artifacts
	BustCache bool     // append a random cache-busting query token
}

// DefaultOptions returns the option defaults.
func DefaultOptions() Options {
	return Options{
		Engine:   latex.DefaultEngine,
		Packages: []string{"amsmath", "amssymb"},
		Dir:      "svgs",
	}
}

// Validate checks the options and applies cross-option rules: HTML export
// always references local artifacts, so it disables the CDN and the branch
// workflow.
func (o *Options) Validate() error {
	if err := latex.ValidateEngine(o.Engine); err != nil {
		return err
	}
	if o.Dir == "" {
		return errors.NewValidation("dir", "artifact directory must not be empty")
	}
	if o.Htmlize {
		o.UseCDN = false
		o.Branch = ""
	}
	return nil
}

// Artifact is the rendered representation of one expression.
type Artifact struct {
	SVG    string  // normalized vector markup with embedded metadata
	Name   string  // expression key, also the artifact file name
	Offset float64 // baseline offset recovered or computed
	Fresh  bool    // rendered in this run (scheduled for persistence)
}

// SpanKey identifies a span by its offsets in the original document.
type SpanKey struct {
	Start int
	End   int
}

// EquationMap maps every span to its artifact. Spans with identical
// expression text share one *Artifact.
type EquationMap map[SpanKey]*Artifact

// cacheResult is the explicit outcome of a cache lookup.
type cacheResult int

const (
	cacheMiss cacheResult = iota
	cacheHit
	cacheCorrupt
)

// lookup carries the lookup outcome and, on a hit, the artifact content.
type lookup struct {
	result cacheResult
	svg    []byte
	offset float64
	reason string
}

// Resolver resolves one expression to an artifact, consulting the store
// (or a historical revision) before delegating to the typesetting adapter.
type Resolver struct {
	opts   Options
	store  *store.Store
	git    *gitio.Git
	ledger *index.Index
	render func(expression string, block bool, name string) ([]byte, error)
}

// NewResolver builds a resolver that renders through the external
// toolchain in workDir.
func NewResolver(opts Options, st *store.Store, g *gitio.Git, workDir string) *Resolver {
	renderer := &latex.Renderer{Engine: opts.Engine, Packages: opts.Packages, WorkDir: workDir}
	return &Resolver{
		opts:  opts,
		store: st,
		git:   g,
		render: func(expression string, block bool, name string) ([]byte, error) {
			raw, _, err := renderer.Render(expression, block, name)
			return raw, err
		},
	}
}

// SetLedger attaches the optional render ledger.
func (r *Resolver) SetLedger(ix *index.Index) {
	r.ledger = ix
}

// Store returns the artifact store the resolver reads and persists to.
func (r *Resolver) Store() *store.Store {
	return r.store
}

// lookupCached reads the artifact for name from the configured source and
// recovers its embedded offset. Misses and corruption are expected,
// frequent outcomes and are reported as values, not errors.
func (r *Resolver) lookupCached(name string) lookup {
	var data []byte
	if r.opts.Branch != "" {
		d, err := r.git.Show(r.opts.Branch, r.store.RelPath(name))
		if err != nil {
			logging.Info("cannot find artifact in revision",
				"revision", r.opts.Branch, "path", r.store.RelPath(name))
			return lookup{result: cacheMiss}
		}
		data = d
	} else {
		d, err := r.store.Read(name)
		if err != nil {
			if !errors.Is(err, errors.ErrNotFound) {
				logging.Warn("cannot read cached artifact", "name", name, "error", err)
			}
			return lookup{result: cacheMiss}
		}
		data = d
	}

	offset, err := svg.RecoverOffset(data)
	if err != nil {
		return lookup{result: cacheCorrupt, reason: err.Error()}
	}
	return lookup{result: cacheHit, svg: data, offset: offset}
}

// Resolve returns the artifact for one expression, rendering it freshly
// only when no usable cached artifact exists (or re-rendering is forced).
// The caller deduplicates: Resolve runs once per distinct expression text.
func (r *Resolver) Resolve(expression string, block bool) (*Artifact, error) {
	name := store.Key(expression)

	if !r.opts.Rerender {
		switch l := r.lookupCached(name); l.result {
		case cacheHit:
			logging.RenderEvent("cache_hit", name)
			return &Artifact{SVG: string(l.svg), Name: name, Offset: l.offset}, nil
		case cacheCorrupt:
			logging.Warn("cached artifact is corrupt, rerendering", "name", name, "reason", l.reason)
		}
	}

	raw, err := r.render(expression, block, name)
	if err != nil {
		return nil, err
	}
	normalized, offset, err := svg.Normalize(raw, block, r.opts.Valign)
	if err != nil {
		return nil, err
	}
	logging.RenderEvent("fresh_render", name, "display", block)

	if r.ledger != nil {
		if err := r.ledger.Record(name, expression, r.opts.Engine, block); err != nil {
			logging.Warn("cannot record render in ledger", "name", name, "error", err)
		}
	}
	return &Artifact{SVG: string(normalized), Name: name, Offset: offset, Fresh: true}, nil
}

// Result is the outcome of one pipeline run over a document.
type Result struct {
	Spans      []scan.Span
	Map        EquationMap
	HasChanges bool // at least one artifact was freshly rendered
}

// Pipeline runs the scan-dedup-resolve sequence for one document.
type Pipeline struct {
	Resolver *Resolver
}

// Run scans content and builds the equation map. The first occurrence of
// each distinct expression text resolves the artifact; later identical
// occurrences reuse it, so the external renderer is invoked at most once
// per distinct expression.
func (p *Pipeline) Run(content string) (*Result, error) {
	spans, err := scan.Scan(content)
	if err != nil {
		return nil, err
	}

	m := make(EquationMap, len(spans))
	seen := make(map[string]SpanKey, len(spans))
	hasChanges := false
	for _, s := range spans {
		key := SpanKey{Start: s.Start, End: s.End}
		if first, ok := seen[s.Expression]; ok {
			m[key] = m[first]
			continue
		}
		seen[s.Expression] = key

		artifact, err := p.Resolver.Resolve(s.Expression, s.Block)
		if err != nil {
			return nil, err
		}
		if artifact.Fresh {
			hasChanges = true
		}
		m[key] = artifact
	}

	return &Result{Spans: spans, Map: m, HasChanges: hasChanges}, nil
}

// Persist writes every freshly rendered artifact to the store, optionally
// exporting a raster copy. Cache hits are never re-emitted.
func (p *Pipeline) Persist(res *Result) error {
	st := p.Resolver.store
	written := make(map[string]bool)
	for _, s := range res.Spans {
		artifact := res.Map[SpanKey{Start: s.Start, End: s.End}]
		if artifact == nil || !artifact.Fresh || written[artifact.Name] {
			continue
		}
		if err := st.Write(artifact.Name, []byte(artifact.SVG)); err != nil {
			return err
		}
		written[artifact.Name] = true

		if p.Resolver.opts.Raster {
			if _, err := latex.RasterizePNG(st.Path(artifact.Name)); err != nil {
				logging.Warn("raster export failed", "name", artifact.Name, "error", err)
			}
		}
	}
	return nil
}
