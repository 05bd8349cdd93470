package source

import "errors"

var (
	// ErrNotDirectory is returned when a filesystem source root is not a directory.
	ErrNotDirectory = errors.New("source root is not a directory")

	// ErrNoHeader is returned when a CSV feed has no header line.
	ErrNoHeader = errors.New("no header line, empty file?")

	// ErrMissingColumn is returned when a CSV header lacks a required column.
	ErrMissingColumn = errors.New("missing required column")

	// ErrAlreadyWalked is returned when a non-restartable source is walked twice.
	ErrAlreadyWalked = errors.New("source already walked")
)
