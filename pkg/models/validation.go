package models

import "errors"

// Validation failures for raw ad observations. The reconciler treats these as
// per-record problems: the record is skipped and logged, never fatal.
var (
	ErrMissingSourceAdID = errors.New("raw ad has no source ad id")
	ErrMissingPageID     = errors.New("raw ad has no page id")
	ErrUnknownMediaType  = errors.New("raw ad has unknown media type")
)
