package validation

import (
	"fmt"
	"os"
	"path/filepath"
)

// ValidateImportFile checks that path resolves to a regular file whose size
// lies within [minBytes, maxBytes]. Symlinks are resolved first. The
// resolved path is returned.
func ValidateImportFile(path string, minBytes, maxBytes int64) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", New(KindFile, "file", path, "file does not exist or cannot be resolved")
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", New(KindFile, "file", path, "file cannot be read")
	}
	if !info.Mode().IsRegular() {
		return "", New(KindFile, "file", path, "path is not a regular file")
	}
	if info.Size() < minBytes {
		return "", New(KindFile, "file", path, fmt.Sprintf("file too small (%d bytes, minimum %d)", info.Size(), minBytes))
	}
	if info.Size() > maxBytes {
		return "", New(KindFile, "file", path, fmt.Sprintf("file too large (%d bytes, maximum %d)", info.Size(), maxBytes))
	}
	return resolved, nil
}
