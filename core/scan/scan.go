// Package scan locates math spans in markdown documents.
//
// Two syntaxes are recognized: GitHub fenced code blocks tagged with the
// math language ("tex"), and native LaTeX environments delimited by
// \begin{...}/\end{...}. Offsets always refer to the original document so
// a later rewrite pass can splice replacements byte-exactly.
//
// Known limitation: delimiters do not nest. The first closer terminates a
// span, so a \begin{align} inside another \begin{align} is mis-parsed.
package scan

import (
	"regexp"
	"strings"

	"github.com/FocuswithJustin/readmetex/core/errors"
)

// MathLanguage is the fenced-code-block language tag that marks math content.
const MathLanguage = "tex"

// Span is one contiguous math region of the source document.
//
// Start and End are byte offsets into the original content and cover the
// full delimited region (fence to fence, or \begin to \end inclusive).
// Expression is the text handed to the typesetting engine: for fenced
// blocks it is the inner content only, for native environments it keeps
// the delimiters because the engine needs them.
type Span struct {
	Expression string
	Start      int
	End        int
	Block      bool
}

// openerPattern matches whichever math opener occurs next:
//
//	group 1: three-or-more backticks opening a fenced code block
//	group 2: the optional language tag of that fence
//	group 3: the environment name of a \begin{...} opener
var openerPattern = regexp.MustCompile("([`]{3,})[ \t]*(\\w+)?[ \t]*|\\\\begin\\{([\\w*]+)\\}")

// Scan walks content from the start and returns every math span in
// document order. Spans are non-overlapping and strictly increasing in
// offset. An opener with no matching closer is a structural error.
func Scan(content string) ([]Span, error) {
	var spans []Span

	cursor := 0
	for cursor < len(content)-1 {
		rest := content[cursor:]
		loc := openerPattern.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}

		if loc[2] >= 0 {
			// Fenced code block.
			fence := rest[loc[2]:loc[3]]
			lang := ""
			if loc[4] >= 0 {
				lang = rest[loc[4]:loc[5]]
			}

			// The closer is the identical backtick run.
			endIdx := strings.Index(rest[loc[1]:], fence)
			if endIdx < 0 {
				return nil, unmatched(fence)
			}

			if lang == MathLanguage {
				spans = append(spans, Span{
					Expression: rest[loc[1] : loc[1]+endIdx],
					Start:      cursor + loc[0],
					End:        cursor + loc[1] + endIdx + len(fence),
					Block:      true,
				})
			}
			cursor += loc[1] + endIdx + len(fence)
		} else {
			// Native math environment.
			env := rest[loc[6]:loc[7]]
			closer := "\\end{" + env + "}"

			endIdx := strings.Index(rest[loc[1]:], closer)
			if endIdx < 0 {
				return nil, unmatched(closer)
			}

			end := loc[1] + endIdx + len(closer)
			spans = append(spans, Span{
				Expression: rest[loc[0]:end],
				Start:      cursor + loc[0],
				End:        cursor + end,
				// The "math" environment is the one inline form; every
				// other environment is display math.
				Block: env != "math",
			})
			cursor += end
		}
	}

	return spans, nil
}

func unmatched(pattern string) error {
	return errors.NewParse("markdown", "", "cannot find ending match for pattern: \""+pattern+"\"")
}
