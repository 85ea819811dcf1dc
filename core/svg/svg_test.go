package svg

import (
	"math"
	"strings"
	"testing"
)

// renderedSVG mimics the shape of dvisvgm output: a root with a viewBox,
// one fill group, and one use element per glyph. The first use is the
// baseline anchor.
const renderedSVG = `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" viewBox="0 -8 40 12" width="40pt" height="12pt">
<defs><path id="g0-97" d="M0 0"/></defs>
<g fill="#000000">
<use x="0" y="0" xlink:href="#g0-97"/>
<use x="6" y="0" xlink:href="#g0-120"/>
<use x="12" y="-3" xlink:href="#g0-50"/>
</g>
</svg>`

func TestNormalizeBlock(t *testing.T) {
	out, offset, err := Normalize([]byte(renderedSVG), true, false)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if offset != 0 {
		t.Errorf("block math baseline offset = %v, want 0", offset)
	}

	s := string(out)
	if !strings.Contains(s, `fill-opacity="0.9"`) {
		t.Error("fill opacity not normalized")
	}
	if !strings.Contains(s, `viewBox="0 -8 40 12"`) {
		t.Error("block math bounding box must not change")
	}
	if got := strings.Count(s, "<use"); got != 3 {
		t.Errorf("block math keeps all glyph references, got %d", got)
	}
	if !strings.Contains(s, OffsetAttr+`="0"`) {
		t.Error("offset metadata not embedded")
	}
	if !strings.Contains(s, Namespace) {
		t.Error("metadata namespace not declared")
	}
}

func TestNormalizeInlineGeometry(t *testing.T) {
	out, offset, err := Normalize([]byte(renderedSVG), false, false)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	// baseline = height - (anchorY - minY) = 12 - (0 - -8) = 4
	if offset != 4 {
		t.Errorf("baseline offset = %v, want 4", offset)
	}

	s := string(out)
	// The anchor is removed, visible glyphs remain.
	if got := strings.Count(s, "<use"); got != 2 {
		t.Errorf("anchor should be removed, %d references remain", got)
	}
	// New origin is the minimum x of the remaining glyphs (6), width
	// shrinks accordingly (40 - 6 = 34). top(8) > bottom(4), so the box
	// extends downward to 2*top = 16.
	if !strings.Contains(s, `viewBox="6 -8 34 16"`) {
		t.Errorf("unexpected viewBox in %s", s)
	}
	if !strings.Contains(s, `width="34pt"`) {
		t.Errorf("unexpected width in %s", s)
	}
	if !strings.Contains(s, `height="16pt"`) {
		t.Errorf("unexpected height in %s", s)
	}
}

func TestNormalizeInlineExtendsTop(t *testing.T) {
	// Anchor high above the bottom edge: bottom(10) > top(2), so the box
	// extends upward to 2*bottom = 20 and minY shifts to preserve the
	// glyph position relative to the bottom edge.
	in := `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 -4 30 12" width="30pt" height="12pt">
<g fill="#000000">
<use x="0" y="-2"/>
<use x="5" y="-2"/>
</g>
</svg>`
	out, offset, err := Normalize([]byte(in), false, false)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if offset != 10 {
		t.Errorf("baseline offset = %v, want 10", offset)
	}
	s := string(out)
	if !strings.Contains(s, `height="20pt"`) {
		t.Errorf("unexpected height in %s", s)
	}
	// minY: -4 - (20 - 10 - 2) = -12
	if !strings.Contains(s, `viewBox="5 -12 25 20"`) {
		t.Errorf("unexpected viewBox in %s", s)
	}
}

func TestNormalizeInlineValign(t *testing.T) {
	out, offset, err := Normalize([]byte(renderedSVG), false, true)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if offset != 4 {
		t.Errorf("baseline offset = %v, want 4", offset)
	}
	s := string(out)
	// valign mode keeps the declared height; only origin and width move.
	if !strings.Contains(s, `height="12pt"`) {
		t.Errorf("valign mode must not reshape the box: %s", s)
	}
	if !strings.Contains(s, `viewBox="6 -8 34 12"`) {
		t.Errorf("unexpected viewBox in %s", s)
	}
}

func TestNormalizeMissingFillGroup(t *testing.T) {
	in := `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 1 1"><defs/></svg>`
	_, _, err := Normalize([]byte(in), false, false)
	if err == nil {
		t.Fatal("missing fill group must be an error")
	}
	if !strings.Contains(err.Error(), "fill group") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNormalizeMissingGlyphReferences(t *testing.T) {
	in := `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 1 1"><g fill="#000"/></svg>`
	_, _, err := Normalize([]byte(in), false, false)
	if err == nil {
		t.Fatal("missing glyph references must be an error")
	}
}

func TestOffsetRoundTrip(t *testing.T) {
	out, offset, err := Normalize([]byte(renderedSVG), false, false)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	got, err := RecoverOffset(out)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if math.Abs(got-offset) > 1e-9 {
		t.Errorf("recovered offset %v, want %v", got, offset)
	}
}

func TestRecoverOffsetCorrupt(t *testing.T) {
	cases := map[string]string{
		"no metadata": `<svg xmlns="http://www.w3.org/2000/svg"><g/></svg>`,
		"bad value":   `<svg xmlns="http://www.w3.org/2000/svg" xmlns:readmetex="` + Namespace + `" readmetex:offset="wat"><g/></svg>`,
		"no svg root": `<html>not svg</html>`,
	}
	for name, in := range cases {
		if _, err := RecoverOffset([]byte(in)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestDimensions(t *testing.T) {
	out, _, err := Normalize([]byte(renderedSVG), false, false)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	w, h, err := Dimensions(out)
	if err != nil {
		t.Fatalf("dimensions failed: %v", err)
	}
	if w != 34 || h != 16 {
		t.Errorf("dimensions = %v x %v, want 34 x 16", w, h)
	}
}
