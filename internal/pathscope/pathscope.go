// Package pathscope maps protocol paths onto object keys inside a user's
// sandbox.
//
// Non-admin users are confined to "<username>/"; admin users address the
// bucket root. Scoped paths never carry a leading slash, and the bucket root
// is the empty string.
package pathscope

import (
	"errors"
	"strings"
)

var (
	// ErrPathTraversal is returned when a path contains a ".." segment.
	ErrPathTraversal = errors.New("path escapes user root")

	// ErrInvalidUser is returned when a username cannot be used as a key segment.
	ErrInvalidUser = errors.New("invalid username")
)

// Identity is the part of an account that decides where its paths resolve.
type Identity struct {
	Username string
	Admin    bool
}

// Scope resolves a protocol path for the given identity.
//
// "/" and "" resolve to the user's root: "" for admins, the username for
// everyone else. Repeated separators and "." segments are dropped. Any ".."
// segment is rejected with ErrPathTraversal.
func Scope(id Identity, requested string) (string, error) {
	clean, err := Clean(requested)
	if err != nil {
		return "", err
	}
	if id.Admin {
		return clean, nil
	}
	if !validUsername(id.Username) {
		return "", ErrInvalidUser
	}
	if clean == "" {
		return id.Username, nil
	}
	return id.Username + "/" + clean, nil
}

// ScopeDir resolves a directory path and returns it as a listing prefix.
// The result ends with "/" unless it is the bucket root.
func ScopeDir(id Identity, requested string) (string, error) {
	scoped, err := Scope(id, requested)
	if err != nil {
		return "", err
	}
	return AsPrefix(scoped), nil
}

// AsPrefix appends the key separator to a scoped path. The bucket root stays
// empty so it does not filter a listing.
func AsPrefix(scoped string) string {
	if scoped == "" || strings.HasSuffix(scoped, "/") {
		return scoped
	}
	return scoped + "/"
}

// Clean normalizes a protocol path into relative form without leading or
// trailing separators.
func Clean(p string) (string, error) {
	segments := strings.Split(p, "/")
	kept := segments[:0]
	for _, s := range segments {
		switch s {
		case "", ".":
			continue
		case "..":
			return "", ErrPathTraversal
		}
		kept = append(kept, s)
	}
	return strings.Join(kept, "/"), nil
}

func validUsername(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.Contains(name, "/")
}
