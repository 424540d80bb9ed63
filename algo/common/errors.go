package common

import "errors"

// Sentinel errors realizing the error taxonomy: callers match against these
// with errors.Is instead of parsing messages.
var (
	// ErrFileTypeMismatch means the container magic/trailer did not
	// identify a known format.
	ErrFileTypeMismatch = errors.New("common: file type mismatch")

	// ErrUnsupportedFileType means the container was recognized but its key
	// format is not supported and fallback recovery was not requested or
	// failed.
	ErrUnsupportedFileType = errors.New("common: unsupported file type")

	// ErrInvalidData means a structural field violated an invariant (bad
	// pad length, wrong QTag field count, and similar).
	ErrInvalidData = errors.New("common: invalid data")

	// ErrValidation means the optional Tencent-TEA-CBC zero-check failed.
	ErrValidation = errors.New("common: validation failed")

	// ErrInvalidParam means the caller supplied a wrong-length key, odd TEA
	// round count, unknown cipher kind, or similar.
	ErrInvalidParam = errors.New("common: invalid parameter")

	// ErrNotSeekable means Seek was called on a cipher with
	// SupportsOffset() == false.
	ErrNotSeekable = errors.New("common: stream is not seekable")

	// ErrNotReadable means Read was called on a stream whose cipher has
	// SupportsDecrypt() == false.
	ErrNotReadable = errors.New("common: stream is not readable")

	// ErrNotWritable means Write was called on a cipher with
	// SupportsEncrypt() == false.
	ErrNotWritable = errors.New("common: stream is not writable")

	// ErrClosed means an operation was attempted after Close.
	ErrClosed = errors.New("common: stream is closed")

	// ErrLengthMismatch means XOR was attempted on unequal-length byte
	// strings.
	ErrLengthMismatch = errors.New("common: length mismatch")
)
