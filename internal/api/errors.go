package api

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound indicates the server does not know the id (HTTP 404).
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the API key was rejected (HTTP 401/403).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnknownTier indicates a tier index outside the configured ladder.
	ErrUnknownTier = errors.New("unknown tier")
)

// IsNotFound checks if an error indicates a missing record.
//
// Detects a wrapped ErrNotFound and, for errors that crossed a boundary
// as text, the common "not found" / "404" messages.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{"not found", "status 404", "no such"} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}
