package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanPath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "double_quoted", input: `"app/page.tsx"`, expected: "app/page.tsx"},
		{name: "single_quoted", input: `'app/page.tsx'`, expected: "app/page.tsx"},
		{name: "leading_dot_slash", input: "./app/page.tsx", expected: "app/page.tsx"},
		{name: "leading_slash", input: "/app/page.tsx", expected: "app/page.tsx"},
		{name: "surrounding_whitespace", input: "  app/page.tsx  ", expected: "app/page.tsx"},
		{name: "redundant_segments", input: "app//lib/../page.tsx", expected: "app/page.tsx"},
		{name: "empty", input: "", expected: ""},
		{name: "quotes_only", input: `""`, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanPath(tt.input))
		})
	}
}

func TestWriter_WriteAll(t *testing.T) {
	dir := t.TempDir()
	writer := NewWriter(dir)

	err := writer.WriteAll([]File{
		{Path: `"app/page.tsx"`, Content: "export default function Page() {}"},
		{Path: "components/Button.tsx", Content: "export function Button() {}"},
	})
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, "app", "page.tsx"))
	require.NoError(t, err)
	assert.Equal(t, "export default function Page() {}", string(content))

	_, err = os.Stat(filepath.Join(dir, "components", "Button.tsx"))
	assert.NoError(t, err)
}

func TestWriter_NeverOverwritesReservedManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "package.json")
	require.NoError(t, os.WriteFile(manifest, []byte(`{"name":"scaffold"}`), 0o644))

	writer := NewWriter(dir)
	err := writer.WriteAll([]File{
		{Path: "package.json", Content: `{"name":"generated"}`},
	})
	require.NoError(t, err)

	content, err := os.ReadFile(manifest)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"scaffold"}`, string(content))
}

func TestWriter_RejectsEscapingPaths(t *testing.T) {
	dir := t.TempDir()
	writer := NewWriter(filepath.Join(dir, "out"))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "out"), 0o755))

	err := writer.WriteAll([]File{
		{Path: "../escape.txt", Content: "nope"},
	})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriter_CreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	writer := NewWriter(dir)

	err := writer.WriteAll([]File{
		{Path: "a/b/c/d.ts", Content: "export {}"},
	})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "a", "b", "c", "d.ts"))
	assert.NoError(t, err)
}
