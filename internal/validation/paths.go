// Package validation provides input validation for listing paths and
// record ids before they reach the server or an object store key.
package validation

import (
	"fmt"
	"path"
	"strings"
)

// ListingPath validates a folder path and returns it in canonical form:
// slash separated, rooted, no trailing slash ("/" for the root).
//
// Returns an error if the path:
//   - Contains null bytes
//   - Contains backslashes
//   - Has ".." components
func ListingPath(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("path contains null byte: %q", p)
	}
	if strings.ContainsRune(p, '\\') {
		return "", fmt.Errorf("path must use forward slashes: %s", p)
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", fmt.Errorf("path cannot contain '..': %s", p)
		}
	}
	return path.Clean("/" + p), nil
}

// ObjectName validates a record id received from the server before it is
// used as part of an object store key. Ids may contain slashes (nested
// folders) but no component may walk up out of the key prefix.
func ObjectName(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if strings.ContainsRune(id, 0) {
		return fmt.Errorf("id contains null byte: %q", id)
	}
	if strings.ContainsRune(id, '\\') {
		return fmt.Errorf("id cannot contain backslashes: %s", id)
	}
	for _, part := range strings.Split(id, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("id cannot contain '%s' components: %s", part, id)
		}
	}
	return nil
}
