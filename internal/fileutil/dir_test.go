package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureDir(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		rel string
	}{
		"single level":      {rel: "runtime"},
		"nested":            {rel: filepath.Join("a", "b", "c")},
		"existing (tmpdir)": {rel: "."},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			dir := filepath.Join(t.TempDir(), tc.rel)

			if err := EnsureDir(dir); err != nil {
				t.Fatalf("EnsureDir() error: %v", err)
			}
			info, err := os.Stat(dir)
			if err != nil {
				t.Fatalf("stat after EnsureDir: %v", err)
			}
			if !info.IsDir() {
				t.Error("expected directory, got file")
			}
		})
	}

	t.Run("empty path", func(t *testing.T) {
		t.Parallel()
		if err := EnsureDir(""); !errors.Is(err, ErrEmptyPath) {
			t.Errorf("error = %v, want ErrEmptyPath", err)
		}
	})
}

func TestEnsureDirForFile(t *testing.T) {
	t.Parallel()

	filePath := filepath.Join(t.TempDir(), "apps", "calc", "app.wasm")
	if err := EnsureDirForFile(filePath); err != nil {
		t.Fatalf("EnsureDirForFile() error: %v", err)
	}
	info, err := os.Stat(filepath.Dir(filePath))
	if err != nil {
		t.Fatalf("stat parent dir: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected parent to be directory")
	}
}
