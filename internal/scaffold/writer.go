// Package scaffold writes generated file sets to disk under the output
// contract: wrapping quotes are stripped from paths, the reserved package
// manifest is never overwritten, parent directories are created on demand,
// and paths may not escape the output root.
package scaffold

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// ReservedManifest is the package manifest that generated content must never
// overwrite.
const ReservedManifest = "package.json"

// Writer writes generated files beneath a root directory
type Writer struct {
	root string
}

// NewWriter creates a writer rooted at dir
func NewWriter(dir string) *Writer {
	return &Writer{root: dir}
}

// Root returns the output root directory
func (w *Writer) Root() string {
	return w.root
}

// File is the minimal shape scaffold needs; it mirrors the composer's
// generated-file type without importing it.
type File struct {
	Path    string
	Content string
}

// WriteAll writes every file, applying the output contract. Files skipped
// under the contract (reserved manifest, escaping paths) are logged and do
// not fail the write.
func (w *Writer) WriteAll(files []File) error {
	for _, file := range files {
		if err := w.writeOne(file); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeOne(file File) error {
	cleaned, ok := w.Resolve(file.Path)
	if !ok {
		log.Printf(`{"level":"warn","message":"Skipping file outside output root","path":"%s"}`, file.Path)
		return nil
	}

	if filepath.Base(cleaned) == ReservedManifest {
		log.Printf(`{"level":"warn","message":"Refusing to overwrite reserved manifest","path":"%s"}`, file.Path)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cleaned), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", file.Path, err)
	}

	if err := os.WriteFile(cleaned, []byte(file.Content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", file.Path, err)
	}

	return nil
}

// Resolve normalizes a generated path and maps it under the root. It returns
// false for paths that would escape the root.
func (w *Writer) Resolve(path string) (string, bool) {
	cleaned := CleanPath(path)
	if cleaned == "" {
		return "", false
	}

	full := filepath.Join(w.root, cleaned)
	rel, err := filepath.Rel(w.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

// CleanPath strips wrapping quote characters and leading separators from a
// generated file path. Completion output regularly quotes paths.
func CleanPath(path string) string {
	trimmed := strings.TrimSpace(path)
	trimmed = strings.Trim(trimmed, `"'`)
	trimmed = strings.TrimPrefix(trimmed, "./")
	trimmed = strings.TrimLeft(trimmed, "/")
	if trimmed == "" {
		return ""
	}
	cleaned := filepath.Clean(trimmed)
	if cleaned == "." {
		return ""
	}
	return cleaned
}
