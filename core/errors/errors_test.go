package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestNotFoundError(t *testing.T) {
	err := NewNotFound("artifact", "0a1b2c")
	if got := err.Error(); got != "artifact not found: 0a1b2c" {
		t.Errorf("unexpected message: %q", got)
	}
	if !Is(err, ErrNotFound) {
		t.Error("NotFoundError should unwrap to ErrNotFound")
	}

	// Without an ID the message drops the colon part.
	err = NewNotFound("revision", "")
	if got := err.Error(); got != "revision not found" {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestNotFoundErrorWithUnderlying(t *testing.T) {
	inner := errors.New("disk offline")
	err := &NotFoundError{Resource: "artifact", ID: "x", Err: inner}
	if !Is(err, inner) {
		t.Error("should unwrap to underlying error when set")
	}
	if Is(err, ErrNotFound) {
		t.Error("underlying error replaces the sentinel")
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidation("engine", "must be latex")
	if !strings.Contains(err.Error(), "engine") {
		t.Errorf("message should name the field: %q", err.Error())
	}
	if !Is(err, ErrInvalidInput) {
		t.Error("ValidationError should unwrap to ErrInvalidInput")
	}
}

func TestParseError(t *testing.T) {
	err := NewParse("markdown", "README.md", "cannot find ending match")
	msg := err.Error()
	if !strings.Contains(msg, "markdown") || !strings.Contains(msg, "README.md") {
		t.Errorf("message should include format and path: %q", msg)
	}
	if !Is(err, ErrInvalidInput) {
		t.Error("ParseError should unwrap to ErrInvalidInput")
	}

	// No path variant.
	err = NewParse("SVG", "", "missing fill group")
	if strings.Contains(err.Error(), " at ") {
		t.Errorf("pathless message should not mention a path: %q", err.Error())
	}
}

func TestUnsupportedError(t *testing.T) {
	err := NewUnsupported("engine \"xelatex\"", "not implemented")
	if !Is(err, ErrUnsupported) {
		t.Error("UnsupportedError should unwrap to ErrUnsupported")
	}
	if !strings.Contains(err.Error(), "not implemented") {
		t.Errorf("message should include the reason: %q", err.Error())
	}
}

func TestIOError(t *testing.T) {
	inner := errors.New("permission denied")
	err := NewIO("write", "/tmp/out.svg", inner)
	if !Is(err, inner) {
		t.Error("IOError should unwrap to the underlying error")
	}
	if !strings.Contains(err.Error(), "/tmp/out.svg") {
		t.Errorf("message should include the path: %q", err.Error())
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	inner := errors.New("boom")
	err := Wrap(inner, "rendering")
	if err.Error() != "rendering: boom" {
		t.Errorf("unexpected wrapped message: %q", err.Error())
	}
	if !Is(err, inner) {
		t.Error("wrapped error should match the inner error")
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "context %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
	inner := errors.New("boom")
	err := Wrapf(inner, "rendering %s", "x^2")
	if err.Error() != "rendering x^2: boom" {
		t.Errorf("unexpected wrapped message: %q", err.Error())
	}
}

func TestAs(t *testing.T) {
	err := Wrap(NewUnsupported("engine", "not implemented"), "resolve")
	var ue *UnsupportedError
	if !As(err, &ue) {
		t.Fatal("As should find the UnsupportedError through wrapping")
	}
	if ue.Feature != "engine" {
		t.Errorf("unexpected feature: %q", ue.Feature)
	}
}
