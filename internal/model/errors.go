package model

import (
	"github.com/pkg/errors"
)

var (
	// ErrArchiveCorrupt is returned when the archive container cannot be read,
	// no entries are enumerated and no report is produced.
	ErrArchiveCorrupt = errors.New("archive corrupt")

	// Per entry errors, an entry failing with one of these is rejected and the batch continues.
	ErrEntryTooLarge       = errors.New("entry too large")
	ErrUnrecognized        = errors.New("unrecognized file")
	ErrParse               = errors.New("parse error")
	ErrValidationFailed    = errors.New("validation failed")
	ErrUnresolvedReference = errors.Wrap(ErrValidationFailed, "unresolved asset reference")
)

// ErrorKind names the taxonomy class of err, as listed in processing reports.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrArchiveCorrupt):
		return "ArchiveCorrupt"
	case errors.Is(err, ErrEntryTooLarge):
		return "EntryTooLarge"
	case errors.Is(err, ErrUnrecognized):
		return "Unrecognized"
	case errors.Is(err, ErrParse):
		return "ParseError"
	case errors.Is(err, ErrUnresolvedReference):
		return "UnresolvedReference"
	case errors.Is(err, ErrValidationFailed):
		return "ValidationFailed"
	default:
		return "Internal"
	}
}
