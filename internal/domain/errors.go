package domain

import "github.com/cockroachdb/errors"

// Format errors are raised before any staging row exists.
var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrUnreadableFile    = errors.New("unreadable file")
	ErrFileTooLarge      = errors.New("file exceeds the maximum upload size")
)

var (
	ErrBatchNotFound   = errors.New("import batch not found")
	ErrInvalidState    = errors.New("invalid batch state")
	ErrInvalidMapping  = errors.New("invalid column mapping")
	ErrDuplicateUpload = errors.New("file was already uploaded")
	ErrPersistence     = errors.New("persistence failure")
	ErrValidation      = errors.New("validation error")
)
