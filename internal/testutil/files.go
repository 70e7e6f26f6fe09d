// Package testutil provides fixture helpers for tests and examples.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteFile writes content to name inside dir and returns the full path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", path, err)
	}
	return path
}

// WriteLines writes each line followed by "\n" to name inside dir.
func WriteLines(t testing.TB, dir, name string, lines []string) string {
	t.Helper()
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return WriteFile(t, dir, name, b.String())
}

// NumberedLines returns n distinct records "seq-0000000" through "seq-(n-1)".
func NumberedLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("seq-%07d", i)
	}
	return lines
}

// ReadLines returns the "\n"-separated lines of the file at path.
// A trailing terminator does not produce an empty final line.
func ReadLines(t testing.TB, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	content := strings.TrimSuffix(string(data), "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

// RemoveAll removes the path and any children. Errors are ignored.
// Use for defer cleanup in examples.
func RemoveAll(path string) { _ = os.RemoveAll(path) }
