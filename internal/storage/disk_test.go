package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSized(t *testing.T, path string, n int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, n), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestMeasureUsage(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "db", "pagerag.db")
	writeSized(t, db, 5)
	previews := filepath.Join(dir, "previews")
	writeSized(t, filepath.Join(previews, "d1_page_1.png"), 2)
	writeSized(t, filepath.Join(previews, "d1_page_2.png"), 1)
	writeSized(t, filepath.Join(dir, "indices", "vector", "user_default.index"), 16)
	writeSized(t, filepath.Join(dir, "indices", "vector", "user_default_metadata.json"), 4)

	usage, err := MeasureUsage(map[string]string{
		"database": db,
		"previews": previews,
		"vectors":  filepath.Join(dir, "indices", "vector"),
		"keyword":  filepath.Join(dir, "indices", "bleve"),
		"unset":    "",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]int64{"database": 5, "previews": 3, "vectors": 20, "keyword": 0, "unset": 0}
	for area, n := range want {
		if usage[area] != n {
			t.Errorf("%s: got %d bytes, want %d", area, usage[area], n)
		}
	}
	if usage.Total() != 28 {
		t.Errorf("Total = %d, want 28", usage.Total())
	}
}
