package file

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// SplitExt splits a basename into stem and extension. The extension keeps
// its leading dot; a leading-dot filename (".hidden") counts as all stem.
func SplitExt(name string) (stem string, ext string) {
	lastDot := strings.LastIndex(name, ".")
	if lastDot <= 0 {
		return name, ""
	}
	return name[:lastDot], name[lastDot:]
}

func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}

	dir := filepath.Dir(path)
	filename := filepath.Base(path)

	lastDot := strings.LastIndex(filename, ".")

	if lastDot <= 0 {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		return filepath.Join(dir, filename+ext)
	}

	nameWithoutExt := filename[:lastDot]

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	return filepath.Join(dir, nameWithoutExt+ext)
}

// CaseOnlyDiff reports whether two basenames differ only in letter casing.
func CaseOnlyDiff(oldName, newName string) bool {
	if oldName == newName {
		return false
	}
	return strings.EqualFold(oldName, newName)
}

// Exists reports whether a path exists on disk.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// NormalizePath cleans a path and makes it absolute when possible.
// Used as the canonical cache key for metadata lookups.
func NormalizePath(path string) string {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// RenameWithCase renames a file, routing case-only changes through an
// intermediate temporary name so case-insensitive filesystems register the
// new casing instead of treating the rename as a no-op.
func RenameWithCase(oldPath, newPath string, caseOnly bool) error {
	if !caseOnly {
		return os.Rename(oldPath, newPath)
	}

	tmpPath := oldPath + ".renaming-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	if err := os.Rename(oldPath, tmpPath); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, newPath); err != nil {
		// Roll back so the file is never stranded under the temp name.
		_ = os.Rename(tmpPath, oldPath)
		return err
	}
	return nil
}
