package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tandemcad/tandem/pkg/collab"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
// Set to 6 characters to balance usability with collision avoidance.
const MinShortIDLength = 6

// ResolveObjectID resolves a short object ID prefix to a full UUID by
// matching it against the locked objects mirrored for a document.
// Returns the full UUID if exactly one lock entry matches.
//
// The function handles three cases:
// 1. Input is already a full UUID (36 chars, 4 hyphens) - returned as-is
// 2. Input is too short (< 6 chars) - returns validation error
// 3. Input is a short prefix - scans the lock mirror and returns a unique match
func ResolveObjectID(ctx context.Context, mirror *collab.Mirror, documentID, shortID string) (string, error) {
	// A full UUID needs no lookup. Callers may name objects that are not
	// locked yet, so existence is not checked here.
	if len(shortID) == 36 && strings.Count(shortID, "-") == 4 {
		return shortID, nil
	}

	// Validate minimum length
	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	locks, err := mirror.ReadLocks(ctx, documentID)
	if err != nil {
		if collab.IsNotFound(err) {
			return "", &NotFoundError{ShortID: shortID}
		}
		return "", fmt.Errorf("failed to search for object: %w", err)
	}

	var matches []string
	for _, lock := range locks {
		if strings.HasPrefix(lock.ObjectID, shortID) {
			matches = append(matches, lock.ObjectID)
		}
	}
	sort.Strings(matches)

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no locked objects matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no locked objects found matching '%s'", e.ShortID)
}

// AmbiguousError indicates multiple objects matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d objects", e.ShortID, len(e.Matches))
}

// FormatAmbiguousError creates a user-friendly error message for ambiguous short IDs.
// Lists all matching UUIDs (up to 10, then "...and N more").
func FormatAmbiguousError(err *AmbiguousError) string {
	msg := fmt.Sprintf("Error: ambiguous short ID '%s' matches %d objects:\n", err.ShortID, len(err.Matches))

	// List up to 10 matches
	displayCount := len(err.Matches)
	if displayCount > 10 {
		displayCount = 10
	}

	for i := 0; i < displayCount; i++ {
		msg += fmt.Sprintf("  %s\n", err.Matches[i])
	}

	if len(err.Matches) > 10 {
		msg += fmt.Sprintf("  ...and %d more\n", len(err.Matches)-10)
	}

	msg += "\nUse a longer prefix to uniquely identify the object."
	return msg
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	_, ok := err.(*AmbiguousError)
	return ok
}
