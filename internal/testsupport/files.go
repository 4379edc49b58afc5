package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates path with size bytes of deterministic filler, creating
// parent directories as needed. Sizes below one byte are bumped to one so
// stat-based assertions always see a real file.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size < 1 {
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

	chunk := bytes.Repeat([]byte{0xc0, 0x1a, 0x90}, 16*1024)
	for written := int64(0); written < size; {
		n := int64(len(chunk))
		if rest := size - written; rest < n {
			n = rest
		}
		if _, err := f.Write(chunk[:n]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		written += n
	}
}
