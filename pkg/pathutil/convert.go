// Package pathutil converts between absolute paths on disk and the
// slash-separated, root-relative paths used as file resource identifiers.
//
// The extraction root is always handled as an absolute path internally.
// Caller-facing identifiers (file:// patterns, match results) are relative
// to that root and always use forward slashes, whatever the host OS.
package pathutil

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ToRelative converts an absolute path to relative based on a root directory.
// Falls back to the original path if conversion fails or path is already relative.
//
// Examples:
//   - ToRelative("/work/tmp_extract/ets/modules.abc", "/work/tmp_extract") → "ets/modules.abc"
//   - ToRelative("/other/location/file.json", "/work/tmp_extract") → "/other/location/file.json" (outside root)
//   - ToRelative("ets/modules.abc", "/work/tmp_extract") → "ets/modules.abc" (already relative)
func ToRelative(absPath, rootDir string) string {
	if absPath == "" || rootDir == "" {
		return absPath
	}

	if !filepath.IsAbs(absPath) {
		return absPath
	}

	absPath = filepath.Clean(absPath)
	rootDir = filepath.Clean(rootDir)

	relPath, err := filepath.Rel(rootDir, absPath)
	if err != nil {
		return absPath
	}

	// Outside the root: the absolute path is clearer
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return absPath
	}

	return relPath
}

// ToSlashRelative is ToRelative with forward slashes, the identifier form of a file entry.
func ToSlashRelative(absPath, rootDir string) string {
	return filepath.ToSlash(ToRelative(absPath, rootDir))
}

// SafeJoin joins a slash-separated relative path onto root and rejects
// results that escape root (absolute names, "..", zip-slip entries).
func SafeJoin(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}
	native := filepath.FromSlash(rel)
	if filepath.IsAbs(native) || filepath.VolumeName(native) != "" {
		return "", fmt.Errorf("path %q must be relative", rel)
	}
	joined := filepath.Join(root, native)
	if !Within(root, joined) {
		return "", fmt.Errorf("path %q escapes %s", rel, root)
	}
	return joined, nil
}

// Within reports whether path is root or lies beneath it.
func Within(root, path string) bool {
	relPath, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return relPath != ".." && !strings.HasPrefix(relPath, ".."+string(filepath.Separator)) && !filepath.IsAbs(relPath)
}
