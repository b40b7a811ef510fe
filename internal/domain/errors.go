package domain

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidSnapshot indicates an upstream or submitted profile document lacks usable points data.
	ErrInvalidSnapshot = errors.New("invalid profile snapshot")
	// ErrRecordNotFound is returned when no record has been stored for a username.
	ErrRecordNotFound = errors.New("record not found")
	// ErrUpstreamUnavailable wraps network, timeout and non-success responses from the profile API.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrStorage is matched by every persistence failure.
	ErrStorage = errors.New("storage failure")
	// ErrInvalidUsername rejects keys that cannot be used as a record identifier.
	ErrInvalidUsername = errors.New("invalid username")
)

// StorageError describes a failed read, write or lock against a Store.
type StorageError struct {
	Op       string
	Username string
	Err      error
}

func (e *StorageError) Error() string {
	if e.Username == "" {
		return fmt.Sprintf("%s records: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s record %q: %v", e.Op, e.Username, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports ErrStorage so callers can match any persistence failure.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9_.-]{0,63}$`)

// ValidateUsername ensures the key is safe to use as a file name and database key.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	return nil
}
