package contract

import "errors"

var (
	// ErrNotFound is returned when a contract, version or content is absent.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedFormat is returned for uploads other than .pdf and .docx.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrDuplicateContent is returned when an upload's hash matches an
	// existing version within the configured hash scope.
	ErrDuplicateContent = errors.New("content duplicates an existing version")

	// ErrStorageFailure is returned when no backend accepted the bytes.
	ErrStorageFailure = errors.New("storage failure")

	// ErrExtractionFailure is returned when text extraction rejects the bytes.
	ErrExtractionFailure = errors.New("text extraction failed")

	// ErrStorageCleanupFailure marks a physical delete that failed after the
	// metadata was removed. It is logged, never returned to callers.
	ErrStorageCleanupFailure = errors.New("storage cleanup failed")

	// ErrInvalidArgument is returned for malformed requests.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDuplicateNumber is returned when a contract number is already taken.
	ErrDuplicateNumber = errors.New("contract number already exists")
)
