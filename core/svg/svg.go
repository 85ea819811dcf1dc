// Package svg post-processes vector output of the typesetting toolchain.
//
// The DVI-to-SVG converter emits one glyph reference per character plus a
// leading throwaway reference whose vertical anchor marks the typographic
// baseline. Normalize uses that anchor to compute the baseline offset of
// inline math and reshapes the bounding box so the image sits on the text
// line without vertical-alignment styling. The offset is embedded on the
// SVG root so cache hits recover it without recomputing.
package svg

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/FocuswithJustin/readmetex/core/errors"
)

const (
	// OffsetAttr is the metadata attribute carrying the baseline offset.
	OffsetAttr = "readmetex:offset"
	// NamespaceAttr declares the metadata namespace on the SVG root.
	NamespaceAttr = "xmlns:readmetex"
	// Namespace is the metadata namespace URI.
	Namespace = "https://github.com/FocuswithJustin/readmetex/"

	// fillOpacity softens pure-black glyphs against varying backgrounds.
	fillOpacity = "0.9"
)

// Normalize adjusts a freshly rendered SVG for embedding and returns the
// adjusted markup together with the baseline offset.
//
// Display math keeps its bounding box and gets a zero offset. Inline math
// is measured against the leading anchor reference; unless valign is set,
// the box is extended symmetrically around the baseline so that default
// inline image alignment approximates the true baseline.
func Normalize(raw []byte, block, valign bool) ([]byte, float64, error) {
	root, fill, err := parseRendered(raw)
	if err != nil {
		return nil, 0, err
	}
	setAttr(fill, "fill-opacity", fillOpacity)

	offset := 0.0
	if !block {
		offset, err = normalizeInline(root, fill, valign)
		if err != nil {
			return nil, 0, err
		}
	}

	setAttr(root, OffsetAttr, formatFloat(offset))
	setAttr(root, NamespaceAttr, Namespace)
	return []byte(root.OutputXML(true)), offset, nil
}

func normalizeInline(root, fill *xmlquery.Node, valign bool) (float64, error) {
	uses, err := query(fill, "*[local-name()='use']")
	if err != nil {
		return 0, err
	}
	if len(uses) == 0 {
		return 0, errors.NewParse("SVG", "", "renderer output has no glyph references")
	}

	vb, err := parseViewBox(attrOr(root, "viewBox", ""))
	if err != nil {
		return 0, err
	}

	// The first reference exists only to establish the baseline and the
	// horizontal origin. It is measured, then removed.
	anchor := uses[0]
	anchorX := attrOr(anchor, "x", "")
	y, err := strconv.ParseFloat(attrOr(anchor, "y", ""), 64)
	if err != nil {
		return 0, errors.NewParse("SVG", "", "glyph reference has no vertical anchor")
	}

	// Distance from the baseline to the bottom of the declared region.
	baseline := vb[3] - (y - vb[1])

	// Recompute the horizontal origin from the visible glyphs.
	minX := 0.0
	haveMinX := false
	for _, use := range uses[1:] {
		x := attrOr(use, "x", "")
		if x == anchorX {
			continue
		}
		v, err := strconv.ParseFloat(x, 64)
		if err != nil {
			continue
		}
		if !haveMinX || v < minX {
			minX = v
			haveMinX = true
		}
	}
	if !haveMinX {
		minX, _ = strconv.ParseFloat(anchorX, 64)
	}

	newVB := [4]float64{minX, vb[1], vb[2] - abs(minX-vb[0]), vb[3]}
	setAttr(root, "width", formatFloat(newVB[2])+"pt")
	detach(anchor)

	top := y - newVB[1]
	bottom := baseline
	if !valign {
		// Center the glyph in a box symmetric around the baseline: the
		// image baseline (its bottom-centered midline) then approximates
		// the text baseline under default inline alignment.
		if top > bottom {
			height := 2 * top
			setAttr(root, "height", formatFloat(height)+"pt")
			newVB[3] = height
		} else {
			height := 2 * bottom
			setAttr(root, "height", formatFloat(height)+"pt")
			newVB[3] = height
			newVB[1] -= height - bottom - top
		}
	}
	setAttr(root, "viewBox", formatViewBox(newVB))

	return baseline, nil
}

// RecoverOffset reads the embedded baseline offset of a stored artifact.
// A missing or unparsable attribute means the artifact is corrupt and the
// caller should fall through to a fresh render.
func RecoverOffset(raw []byte) (float64, error) {
	root, err := parseRoot(raw)
	if err != nil {
		return 0, err
	}
	for _, a := range root.Attr {
		if a.Name.Local == "offset" || a.Name.Local == OffsetAttr {
			v, err := strconv.ParseFloat(a.Value, 64)
			if err != nil {
				return 0, errors.NewParse("SVG", "", "corrupt offset metadata: "+a.Value)
			}
			return v, nil
		}
	}
	return 0, errors.NewParse("SVG", "", "missing offset metadata")
}

// Dimensions returns the declared width and height of an artifact in points.
func Dimensions(raw []byte) (width, height float64, err error) {
	root, err := parseRoot(raw)
	if err != nil {
		return 0, 0, err
	}
	width, err = parsePoints(attrOr(root, "width", ""))
	if err != nil {
		return 0, 0, err
	}
	height, err = parsePoints(attrOr(root, "height", ""))
	if err != nil {
		return 0, 0, err
	}
	return width, height, nil
}

// parseRoot parses raw SVG markup and returns the svg root element.
func parseRoot(raw []byte) (*xmlquery.Node, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.NewParse("SVG", "", err.Error())
	}
	for child := doc.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode && child.Data == "svg" {
			return child, nil
		}
	}
	return nil, errors.NewParse("SVG", "", "no <svg> root element")
}

// parseRendered parses renderer output and locates the fill group. Its
// absence is a contract violation by the external renderer, not a cache
// condition, so it surfaces as an error.
func parseRendered(raw []byte) (root, fill *xmlquery.Node, err error) {
	root, err = parseRoot(raw)
	if err != nil {
		return nil, nil, err
	}
	for child := root.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode && child.Data == "g" {
			return root, child, nil
		}
	}
	return nil, nil, errors.NewParse("SVG", "", "renderer output has no fill group")
}

// query executes an XPath expression, validating it first.
func query(n *xmlquery.Node, expr string) ([]*xmlquery.Node, error) {
	if _, err := xpath.Compile(expr); err != nil {
		return nil, errors.Wrap(err, "invalid xpath")
	}
	nodes, err := xmlquery.QueryAll(n, expr)
	if err != nil {
		return nil, errors.Wrap(err, "xpath query failed")
	}
	return nodes, nil
}

// attrOr returns the value of the attribute with the given local name.
func attrOr(n *xmlquery.Node, name, fallback string) string {
	for _, a := range n.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return fallback
}

// setAttr updates an attribute in place or appends it.
func setAttr(n *xmlquery.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Name.Local == name {
			n.Attr[i].Value = value
			return
		}
	}
	n.Attr = append(n.Attr, xmlquery.Attr{
		Name:  xml.Name{Local: name},
		Value: value,
	})
}

// detach unlinks a node from its parent.
func detach(n *xmlquery.Node) {
	if n.Parent != nil {
		if n.Parent.FirstChild == n {
			n.Parent.FirstChild = n.NextSibling
		}
		if n.Parent.LastChild == n {
			n.Parent.LastChild = n.PrevSibling
		}
	}
	if n.PrevSibling != nil {
		n.PrevSibling.NextSibling = n.NextSibling
	}
	if n.NextSibling != nil {
		n.NextSibling.PrevSibling = n.PrevSibling
	}
	n.Parent, n.PrevSibling, n.NextSibling = nil, nil, nil
}

func parseViewBox(s string) ([4]float64, error) {
	var vb [4]float64
	fields := strings.Fields(s)
	if len(fields) != 4 {
		return vb, errors.NewParse("SVG", "", "malformed viewBox: "+strconv.Quote(s))
	}
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return vb, errors.NewParse("SVG", "", "malformed viewBox: "+strconv.Quote(s))
		}
		vb[i] = v
	}
	return vb, nil
}

func formatViewBox(vb [4]float64) string {
	parts := make([]string, 4)
	for i, v := range vb {
		parts[i] = formatFloat(v)
	}
	return strings.Join(parts, " ")
}

func parsePoints(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "pt"), 64)
	if err != nil {
		return 0, errors.NewParse("SVG", "", fmt.Sprintf("malformed dimension %q", s))
	}
	return v, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
