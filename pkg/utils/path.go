package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePath rejects paths the engine should never mount on or
// resolve against: empty input, embedded NUL bytes, and ".." traversal
// that could walk a logical path out from under the directory it is
// supposed to stay inside. allowAbsolute is true for operator-supplied
// locations (mount point, backing directory) and false for relative
// names.
func ValidatePath(path string, allowAbsolute bool) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("path contains a NUL byte")
	}
	if !allowAbsolute && filepath.IsAbs(path) {
		return fmt.Errorf("absolute path not allowed here: %s", path)
	}

	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path must not traverse upward: %s", path)
		}
	}
	return nil
}

// ValidateBackingDir checks a backing-directory setting before the
// engine starts resolving logical paths against it. Logical paths are
// joined by plain string concatenation (backingDir + "/a.txt"), so the
// value must be absolute and must not end in a slash - "/srv/backing/"
// would resolve "/a.txt" to "/srv/backing//a.txt". The root directory
// itself is the one legal trailing-slash value.
func ValidateBackingDir(path string) error {
	if err := ValidatePath(path, true); err != nil {
		return err
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("backing directory must be absolute: %s", path)
	}
	if path != "/" && strings.HasSuffix(path, "/") {
		return fmt.Errorf("backing directory must not end in a slash: %s", path)
	}
	return nil
}
