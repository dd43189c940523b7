package parcel

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when an upload is rejected before any work is done.
	ErrValidation = errors.New("invalid upload")

	// ErrInvalidName is returned for a file name that cannot be used as an
	// archive entry. It wraps ErrValidation.
	ErrInvalidName = fmt.Errorf("%w: invalid file name", ErrValidation)

	// ErrPackaging is returned when the archive could not be built.
	ErrPackaging = errors.New("packaging failed")

	// ErrMetadata is returned when the metadata store could not be read or written.
	ErrMetadata = errors.New("metadata store failed")

	// ErrNotFound is returned when a token has no usable package. Stores also
	// return it for absent keys.
	ErrNotFound = errors.New("package not found")
)
