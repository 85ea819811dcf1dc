// Package latex shells out to the external typesetting toolchain.
//
// The package does no typesetting itself: an expression is wrapped in a
// minimal document, compiled by the LaTeX engine, and the resulting DVI is
// converted to SVG by dvisvgm. Engine warnings are logged and tolerated;
// a failed DVI conversion is fatal because nothing usable remains.
package latex

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/FocuswithJustin/readmetex/core/errors"
	"github.com/FocuswithJustin/readmetex/internal/logging"
)

// DefaultEngine is the only typesetting engine currently supported.
const DefaultEngine = "latex"

// envelope wraps a single expression in a standalone document. The page
// geometry gives the engine one effectively unbounded page so display math
// never wraps or paginates.
const envelope = `%%%% processed with readmetex
\documentclass{article}
%s
\usepackage{geometry}
\pagestyle{empty}
\geometry{paperwidth=250mm, paperheight=16383pt, left=0pt, top=0pt, textwidth=426pt, marginparsep=20pt, marginparwidth=100pt, textheight=16263pt, footskip=40pt}
\begin{document}
%s%s
\end{document}
`

// runCommand is a variable so tests can intercept external invocations.
// It returns the command's stdout.
var runCommand = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// ValidateEngine checks the configured engine identifier.
func ValidateEngine(engine string) error {
	if engine != DefaultEngine {
		return errors.NewUnsupported(fmt.Sprintf("engine %q", engine), "not implemented")
	}
	return nil
}

// Renderer invokes the typesetting toolchain in a working directory.
type Renderer struct {
	Engine   string
	Packages []string
	WorkDir  string
}

// Source builds the LaTeX document for one expression. Inline expressions
// get a leading "a" glyph: it establishes the baseline anchor that the SVG
// normalizer measures and removes.
func Source(expression string, block bool, packages []string) string {
	uses := make([]string, len(packages))
	for i, pkg := range packages {
		uses[i] = `\usepackage{` + pkg + `}`
	}
	anchor := "a"
	if block {
		anchor = ""
	}
	return fmt.Sprintf(envelope, strings.Join(uses, "\n"), anchor, expression)
}

// Render typesets one expression and returns the raw SVG bytes together
// with the path of the intermediate DVI file. name keys every intermediate
// file so reruns of the same expression reuse file names.
//
// The engine runs twice so label/reference numbering settles; engine
// failures are logged as warnings with a pointer to the working files and
// rendering continues with whatever DVI the engine produced.
func (r *Renderer) Render(expression string, block bool, name string) (svg []byte, dviPath string, err error) {
	if err := ValidateEngine(r.Engine); err != nil {
		return nil, "", err
	}

	source := Source(expression, block, r.Packages)
	sourcePath := filepath.Join(r.WorkDir, name+".tex")
	if err := os.WriteFile(sourcePath, []byte(source), 0644); err != nil {
		return nil, "", errors.NewIO("write", sourcePath, err)
	}

	args := []string{"-output-directory=" + r.WorkDir, "-interaction", "nonstopmode", sourcePath}
	for i := 0; i < 2; i++ {
		if _, err := runCommand(r.Engine, args...); err != nil {
			logging.Warn("expression has warnings during compilation",
				"expression", expression, "dir", r.WorkDir, "name", name, "error", err)
			break
		}
	}

	dviPath = filepath.Join(r.WorkDir, name+".dvi")
	svg, err = runCommand("dvisvgm", "-v0", "-a", "-n", "-s", dviPath)
	if err != nil {
		return nil, "", errors.Wrapf(err, "dvisvgm failed for %s", dviPath)
	}
	return svg, dviPath, nil
}
