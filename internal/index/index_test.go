package index

import (
	"path/filepath"
	"testing"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "renders.db"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestRecordAndList(t *testing.T) {
	ix := openTestIndex(t)

	if err := ix.Record("abc", "\\begin{math}x\\end{math}", "latex", false); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := ix.Record("def", "E=mc^2", "latex", true); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	entries, err := ix.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	byName := map[string]Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	if e := byName["def"]; !e.Display || e.Expression != "E=mc^2" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e := byName["abc"]; e.Display {
		t.Errorf("inline render recorded as display: %+v", e)
	}
}

func TestRecordUpserts(t *testing.T) {
	ix := openTestIndex(t)

	if err := ix.Record("abc", "x", "latex", false); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := ix.Record("abc", "x", "latex", true); err != nil {
		t.Fatalf("re-record failed: %v", err)
	}

	entries, err := ix.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single entry after upsert, got %d", len(entries))
	}
	if !entries[0].Display {
		t.Error("upsert should refresh the display flag")
	}
}

func TestClear(t *testing.T) {
	ix := openTestIndex(t)
	if err := ix.Record("abc", "x", "latex", false); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := ix.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	entries, err := ix.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty ledger, got %d entries", len(entries))
	}
}
