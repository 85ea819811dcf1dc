// Command readmetex renders LaTeX math in a markdown document to cached
// SVG artifacts and rewrites the document to reference them.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/FocuswithJustin/readmetex/core/errors"
	"github.com/FocuswithJustin/readmetex/core/render"
	"github.com/FocuswithJustin/readmetex/core/rewrite"
	"github.com/FocuswithJustin/readmetex/core/store"
	"github.com/FocuswithJustin/readmetex/internal/archive"
	"github.com/FocuswithJustin/readmetex/internal/gitio"
	"github.com/FocuswithJustin/readmetex/internal/index"
	"github.com/FocuswithJustin/readmetex/internal/logging"
	"github.com/FocuswithJustin/readmetex/internal/web"
)

const version = "0.1.0"

// defaultLedger is where the render ledger lives unless overridden.
const defaultLedger = ".readmetex/renders.db"

// CLI defines the command-line interface for readmetex.
var CLI struct {
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)" default:"info"`
	LogFormat string `name:"log-format" help:"Log format (text, json)" default:"text"`

	Render  RenderCmd  `cmd:"" default:"withargs" help:"Render math spans and rewrite the document"`
	Cache   CacheGroup `cmd:"" help:"Render ledger operations"`
	Export  ExportCmd  `cmd:"" help:"Bundle the artifact directory into a tar.xz archive"`
	Serve   ServeCmd   `cmd:"" help:"Serve a live HTML preview of the rewritten document"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// RenderCmd is the main operation: scan, render, persist, rewrite.
type RenderCmd struct {
	Input     string   `arg:"" optional:"" help:"Input markdown document" default:"README.tex.md"`
	Output    string   `short:"o" help:"Output document path" default:"README.md"`
	Engine    string   `help:"Typesetting engine" default:"latex"`
	Packages  []string `help:"LaTeX packages included in every expression" default:"amsmath,amssymb"`
	Svgdir    string   `help:"Artifact directory" default:"svgs"`
	Branch    string   `help:"Branch the artifacts are committed to"`
	Username  string   `help:"Hosting user for CDN references (autodetected from the origin remote)"`
	Project   string   `help:"Hosting project for CDN references (autodetected from the origin remote)"`
	Nocdn     bool     `help:"Reference artifacts by local path instead of the CDN"`
	Valign    bool     `help:"Align inline math with explicit pixel offsets"`
	Rerender  bool     `help:"Ignore cached artifacts and re-render everything"`
	Raster    bool     `help:"Additionally export PNG copies and reference those"`
	Bustcache bool     `help:"Append a random cache-busting query token to references"`
	Htmlize   bool     `help:"Additionally write an HTML rendering next to the output"`
	Ledger    string   `help:"Render ledger database path" default:"${ledger}"`
	Yes       bool     `short:"y" help:"Assume yes on interactive prompts"`
}

func (c *RenderCmd) Run() error {
	opts := render.Options{
		Engine:    c.Engine,
		Packages:  c.Packages,
		Dir:       c.Svgdir,
		Branch:    c.Branch,
		User:      c.Username,
		Project:   c.Project,
		UseCDN:    !c.Nocdn,
		Htmlize:   c.Htmlize,
		Valign:    c.Valign,
		Rerender:  c.Rerender,
		Raster:    c.Raster,
		BustCache: c.Bustcache,
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	raw, err := os.ReadFile(c.Input)
	if err != nil {
		return errors.NewIO("read", c.Input, err)
	}
	content := strings.ReplaceAll(string(raw), "\r", "")

	git := &gitio.Git{}
	if opts.Branch != "" {
		if _, err := git.CurrentBranch(); err != nil {
			return errors.NewValidation("branch",
				"the branch workflow needs a git repository; drop --branch and pass --nocdn")
		}
	}
	if opts.UseCDN && (opts.User == "" || opts.Project == "") {
		user, project, err := git.OriginUserProject()
		if err != nil {
			return errors.NewValidation("username/project",
				"cannot detect the hosting user and project from the origin remote; pass --username and --project, or --nocdn")
		}
		opts.User, opts.Project = user, project
	}

	workDir, err := os.MkdirTemp("", "readmetex-*")
	if err != nil {
		return errors.NewIO("mkdir", "work directory", err)
	}
	defer os.RemoveAll(workDir)

	resolver := render.NewResolver(opts, store.NewStore(opts.Dir), git, workDir)
	if c.Ledger != "" {
		ledger, err := openLedger(c.Ledger)
		if err != nil {
			logging.Warn("cannot open render ledger", "path", c.Ledger, "error", err)
		} else {
			defer ledger.Close()
			resolver.SetLedger(ledger)
		}
	}

	pipeline := &render.Pipeline{Resolver: resolver}
	result, err := pipeline.Run(content)
	if err != nil {
		return err
	}
	logging.Info("document scanned", "spans", len(result.Spans), "changed", result.HasChanges)

	if err := publishArtifacts(git, opts, pipeline, result, c.confirm); err != nil {
		return err
	}

	out, err := rewrite.Rewrite(content, result, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.Output, []byte(out), 0o644); err != nil {
		return errors.NewIO("write", c.Output, err)
	}
	logging.Info("document rewritten", "output", c.Output)

	if opts.Htmlize {
		html, err := web.RenderHTML([]byte(out))
		if err != nil {
			return err
		}
		htmlPath := c.Output + ".html"
		if err := os.WriteFile(htmlPath, html, 0o644); err != nil {
			return errors.NewIO("write", htmlPath, err)
		}
		logging.Info("HTML rendering written", "output", htmlPath)
	}
	return nil
}

// publishArtifacts persists fresh artifacts, entering the branch workflow
// only when the run actually rendered something new. Unchanged reruns
// touch neither branches nor the stash.
func publishArtifacts(git *gitio.Git, opts render.Options, pipeline *render.Pipeline, result *render.Result, confirm func(string) bool) error {
	persist := func() error { return pipeline.Persist(result) }
	if opts.Branch == "" || !result.HasChanges {
		return persist()
	}
	return git.Publish(opts.Branch, opts.Dir, persist, confirm)
}

// confirm prompts on stderr and reads the answer from stdin.
func (c *RenderCmd) confirm(prompt string) bool {
	if c.Yes {
		return true
	}
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// CacheGroup contains render ledger operations.
type CacheGroup struct {
	List  CacheListCmd  `cmd:"" help:"List recorded renders"`
	Clear CacheClearCmd `cmd:"" help:"Clear the render ledger (and optionally the artifacts)"`
}

// CacheListCmd lists recorded renders.
type CacheListCmd struct {
	Ledger string `help:"Render ledger database path" default:"${ledger}"`
}

func (c *CacheListCmd) Run() error {
	ledger, err := index.Open(c.Ledger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	entries, err := ledger.List()
	if err != nil {
		return err
	}
	for _, e := range entries {
		kind := "inline"
		if e.Display {
			kind = "block"
		}
		fmt.Printf("%s  %s  %-6s  %s  %s\n",
			e.RenderedAt.Format("2006-01-02 15:04:05"), e.Name[:12], kind, e.Engine, e.Expression)
	}
	fmt.Printf("%d renders recorded\n", len(entries))
	return nil
}

// CacheClearCmd clears the render ledger and optionally the artifact files.
type CacheClearCmd struct {
	Ledger    string `help:"Render ledger database path" default:"${ledger}"`
	Svgdir    string `help:"Artifact directory" default:"svgs"`
	Artifacts bool   `help:"Also delete rendered artifact files"`
}

func (c *CacheClearCmd) Run() error {
	ledger, err := index.Open(c.Ledger)
	if err != nil {
		return err
	}
	defer ledger.Close()
	if err := ledger.Clear(); err != nil {
		return err
	}
	logging.Info("render ledger cleared", "path", c.Ledger)

	if !c.Artifacts {
		return nil
	}
	entries, err := os.ReadDir(c.Svgdir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewIO("read", c.Svgdir, err)
	}
	removed := 0
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".svg" && ext != ".png") {
			continue
		}
		if err := os.Remove(filepath.Join(c.Svgdir, entry.Name())); err != nil {
			return errors.NewIO("remove", entry.Name(), err)
		}
		removed++
	}
	logging.Info("artifacts deleted", "dir", c.Svgdir, "count", removed)
	return nil
}

// ExportCmd bundles the artifact directory.
type ExportCmd struct {
	Svgdir string `help:"Artifact directory" default:"svgs"`
	Out    string `short:"o" help:"Bundle path" default:"artifacts.tar.xz"`
}

func (c *ExportCmd) Run() error {
	if err := archive.Create(c.Svgdir, c.Out); err != nil {
		return err
	}
	entries, err := archive.List(c.Out)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d artifacts)\n", c.Out, len(entries))
	return nil
}

// ServeCmd serves a live HTML preview of the rewritten document.
type ServeCmd struct {
	Input string `arg:"" optional:"" help:"Document to preview" default:"README.md"`
	Port  int    `help:"HTTP server port" default:"8080"`
}

func (c *ServeCmd) Run() error {
	server := web.NewServer(fmt.Sprintf("127.0.0.1:%d", c.Port), c.Input)
	return server.ListenAndServe()
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("readmetex version %s\n", version)
	return nil
}

func openLedger(path string) (*index.Index, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.NewIO("mkdir", dir, err)
		}
	}
	return index.Open(path)
}

func configureLogging() {
	level := logging.LevelInfo
	switch CLI.LogLevel {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	format := logging.FormatText
	if CLI.LogFormat == "json" {
		format = logging.FormatJSON
	}
	logging.InitLogger(level, format)
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("readmetex"),
		kong.Description("Render LaTeX math in markdown to cached SVG artifacts"),
		kong.UsageOnError(),
		kong.Vars{"ledger": defaultLedger},
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	configureLogging()
	err := ctx.Run(ctx)
	ctx.FatalIfErrorf(err)
}
