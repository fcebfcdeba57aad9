package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"photopipe/internal/pipeline"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// NewTaskLocation creates a task folder tree under a temp dir.
func NewTaskLocation(t testing.TB) string {
	t.Helper()
	location := filepath.Join(t.TempDir(), "task")
	if err := pipeline.EnsureLayout(location); err != nil {
		t.Fatalf("create task layout: %v", err)
	}
	return location
}

// WriteImages creates one placeholder file per id in folder under location.
func WriteImages(t testing.TB, location, folder, ext string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		WriteFile(t, filepath.Join(location, folder, id+"."+ext), 16)
	}
}
