// Package rewrite substitutes rendered artifacts back into the document.
//
// Spans are processed in descending offset order so each splice leaves the
// offsets of the spans still to be processed untouched. All offsets refer
// to the original document; the output is derived in one pass.
package rewrite

import (
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/readmetex/core/errors"
	"github.com/FocuswithJustin/readmetex/core/render"
	"github.com/FocuswithJustin/readmetex/core/svg"
)

const (
	// Scale converts the typesetter's point dimensions to display pixels.
	Scale = 1.65

	// offsetEpsilon snaps near-zero baseline offsets to exactly zero,
	// avoiding visual jitter from floating-point noise.
	offsetEpsilon = 0.01

	// LocalTemplate references artifacts relative to the document.
	LocalTemplate = "{artifact-directory}/{artifact-name}.svg"

	// CDNTemplate references artifacts through the jsDelivr CDN, which
	// serves raw files from a hosted repository branch.
	CDNTemplate = "https://cdn.jsdelivr.net/gh/{user}/{project}@{branch}/{artifact-directory}/{artifact-name}.svg"
)

// newToken generates the cache-busting query token.
var newToken = uuid.NewString

// Template returns the URL template selected by the options. Raster export
// switches the artifact extension to the raster format.
func Template(opts render.Options) string {
	t := LocalTemplate
	if opts.UseCDN {
		t = CDNTemplate
	}
	if opts.Raster {
		t = strings.TrimSuffix(t, ".svg") + ".png"
	}
	return t
}

// URL expands one artifact reference from the template.
func URL(template string, opts render.Options, name string) string {
	return strings.NewReplacer(
		"{user}", opts.User,
		"{project}", opts.Project,
		"{branch}", opts.Branch,
		"{artifact-directory}", opts.Dir,
		"{artifact-name}", name,
	).Replace(template)
}

// Rewrite replaces every span in content with an image reference to its
// artifact and returns the rewritten document.
func Rewrite(content string, res *render.Result, opts render.Options) (string, error) {
	if opts.UseCDN && (opts.User == "" || opts.Project == "") {
		return "", errors.NewValidation("user/project", "hosting identifiers are required for CDN references")
	}
	template := Template(opts)

	spans := make([]int, len(res.Spans))
	for i := range spans {
		spans[i] = i
	}
	sort.Slice(spans, func(a, b int) bool {
		sa, sb := res.Spans[spans[a]], res.Spans[spans[b]]
		if sa.Start != sb.Start {
			return sa.Start > sb.Start
		}
		return sa.End > sb.End
	})

	out := content
	for _, i := range spans {
		s := res.Spans[i]
		artifact := res.Map[render.SpanKey{Start: s.Start, End: s.End}]
		if artifact == nil {
			return "", errors.NewNotFound("artifact for span", strconv.Itoa(s.Start))
		}
		img, err := imageTag(s.Expression, s.Block, artifact, template, opts)
		if err != nil {
			return "", err
		}
		out = out[:s.Start] + img + out[s.End:]
	}
	return out, nil
}

// imageTag builds the replacement markup for one span.
func imageTag(expression string, block bool, artifact *render.Artifact, template string, opts render.Options) (string, error) {
	width, height, err := svg.Dimensions([]byte(artifact.SVG))
	if err != nil {
		return "", err
	}

	offset := artifact.Offset
	if abs(offset) < offsetEpsilon {
		offset = 0
	}

	url := URL(template, opts, artifact.Name)
	if opts.BustCache {
		url += "?" + newToken()
	}

	alignment := `align="middle"`
	if opts.Valign {
		alignment = `valign="` + formatFloat(-offset*Scale) + `px"`
	}

	var b strings.Builder
	b.WriteString("<img alt=")
	b.WriteString(quoteAttr(expression))
	b.WriteString(` src="`)
	b.WriteString(url)
	b.WriteString(`" `)
	b.WriteString(alignment)
	b.WriteString(` width="`)
	b.WriteString(formatFloat(width * Scale))
	b.WriteString(`pt" height="`)
	b.WriteString(formatFloat(height * Scale))
	b.WriteString(`pt"/>`)

	img := b.String()
	if block {
		img = `<p align="center">` + img + `</p>`
	}
	return img, nil
}

// quoteAttr quotes an attribute value, escaping markup metacharacters.
func quoteAttr(s string) string {
	return `"` + strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"\n", "&#10;",
	).Replace(s) + `"`
}

func formatFloat(v float64) string {
	if v == 0 {
		// Normalize negative zero.
		return "0"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
