package service

import (
	"errors"
	"fmt"

	"github.com/gyandhara/gyandhara-api/internal/infra/release"
)

// Validation errors map to 400.
var (
	ErrInvalidFileType = errors.New("invalid file type")
	ErrFileTooLarge    = errors.New("file too large")
	ErrFileTooSmall    = errors.New("file too small")
	ErrMissingField    = errors.New("missing required field")
	ErrInvalidID       = errors.New("invalid id")
	ErrInvalidTarget   = errors.New("unsupported storage target")
)

// Lookup errors map to 404.
var (
	ErrBookNotFound  = errors.New("book not found")
	ErrThemeNotFound = errors.New("theme not found")
	ErrTopicNotFound = errors.New("topic not found")
	ErrRunNotFound   = errors.New("migration run not found")
)

// ErrStagingUnavailable means a staged file could not be fetched back from the
// intermediate store.
var ErrStagingUnavailable = errors.New("staging unavailable")

func IsValidation(err error) bool {
	for _, target := range []error{ErrInvalidFileType, ErrFileTooLarge, ErrFileTooSmall, ErrMissingField, ErrInvalidID, ErrInvalidTarget} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrBookNotFound) || errors.Is(err, ErrThemeNotFound) ||
		errors.Is(err, ErrTopicNotFound) || errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, release.ErrAssetNotFound)
}

func missing(fields string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, fields)
}
