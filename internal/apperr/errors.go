// Package apperr holds the error taxonomy shared by the engine and its transports.
package apperr

import "errors"

var (
	// ErrNotFound means the path does not exist, or is a directory where a
	// file was expected.
	ErrNotFound = errors.New("not found")
	// ErrOpenFailure means the storage layer refused to hand out a handle.
	ErrOpenFailure = errors.New("open failure")
	// ErrInvalidRange means a line ordinal falls outside [0, lines).
	ErrInvalidRange = errors.New("invalid range")
	// ErrWriteFailure means a temporary or target file could not be written.
	ErrWriteFailure = errors.New("write failure")
	// ErrNoMatch means a search found no line equal to the target.
	ErrNoMatch = errors.New("no match")

	// ErrInvalidPath means a path is empty or escapes the storage root.
	ErrInvalidPath = errors.New("invalid path")

	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
)
