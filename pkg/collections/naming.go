// Package collections provides collection naming for space-scoped vector data.
//
// Every space (tenant) owns exactly one collection in the vector backend.
// The collection name is a pure function of the space ID, so the same space
// always maps to the same collection and the mapping can be predicted by
// external tooling.
//
// Example:
//
//	name := collections.ForSpace("team-42")
//	// Result: "space_team_42"
package collections

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Prefix is prepended to every space-scoped collection name.
const Prefix = "space_"

// MaxNameLength bounds collection names for backend compatibility.
const MaxNameLength = 255

var (
	// ErrInvalidSpaceID indicates an empty space ID.
	ErrInvalidSpaceID = errors.New("invalid space ID")

	// ErrInvalidCollectionName indicates a name that violates the naming rules.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// invalidChars matches every character that is not legal in a collection name.
var invalidChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// validName matches a well-formed collection name.
var validName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ForSpace derives the collection name for a space ID.
//
// Non-alphanumeric characters are replaced with underscores:
//
//	ForSpace("team-42")  // "space_team_42"
//	ForSpace("a.b/c")    // "space_a_b_c"
//
// The function is pure and deterministic. Known limitation: two distinct
// space IDs that differ only in separator style ("a-b" vs "a_b") map to the
// same collection name.
func ForSpace(spaceID string) string {
	return Prefix + Sanitize(spaceID)
}

// Sanitize replaces every character outside [A-Za-z0-9_] with an underscore.
func Sanitize(id string) string {
	return invalidChars.ReplaceAllString(id, "_")
}

// Validate checks that a collection name is well-formed.
func Validate(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidCollectionName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidCollectionName, MaxNameLength)
	}
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: name must match ^[A-Za-z0-9_]+$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// SpaceID recovers the sanitized space ID from a collection name.
//
// The original space ID is not recoverable when it contained characters that
// were replaced during sanitization; callers get the sanitized form.
func SpaceID(collectionName string) (string, error) {
	if !strings.HasPrefix(collectionName, Prefix) {
		return "", fmt.Errorf("%w: expected prefix %q, got %q", ErrInvalidCollectionName, Prefix, collectionName)
	}
	id := strings.TrimPrefix(collectionName, Prefix)
	if id == "" {
		return "", fmt.Errorf("%w: empty space ID", ErrInvalidSpaceID)
	}
	return id, nil
}
