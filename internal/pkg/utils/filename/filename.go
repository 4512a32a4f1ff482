package filename

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	ErrEmptyName     = errors.New("filename cannot be empty")
	ErrPathTraversal = errors.New("filename contains directory traversal")
)

var whitespace = regexp.MustCompile(`\s+`)

// Sanitize collapses whitespace runs to "_" and drops any directory part, so the
// result is safe as an object key segment or a release asset name.
func Sanitize(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base("/" + strings.TrimSpace(name))
	if name == "/" || name == "." {
		return ""
	}
	name = strings.ReplaceAll(name, "\x00", "")
	return whitespace.ReplaceAllString(name, "_")
}

// Validate rejects names a client could use to escape a key prefix.
func Validate(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	if strings.Contains(name, "..") {
		return ErrPathTraversal
	}
	return nil
}

// Stamped prefixes the sanitized name with a nanosecond timestamp to keep names
// unique inside a shared container.
func Stamped(now time.Time, name string) string {
	return fmt.Sprintf("%d-%s", now.UnixNano(), Sanitize(name))
}

// EnsureExt appends ext when name does not already end with it (case-insensitive).
func EnsureExt(name, ext string) string {
	if strings.EqualFold(filepath.Ext(name), ext) {
		return name
	}
	return name + ext
}
