package transfer

import "errors"

var (
	// ErrSegmentOutOfRange is returned when a segment index is negative or not below the segment count.
	ErrSegmentOutOfRange = errors.New("segment index out of range")

	// ErrDuplicateSegment is returned when a segment index has already been inserted.
	ErrDuplicateSegment = errors.New("duplicate segment")

	// ErrSegmentLength is returned when a segment's content length does not match its position.
	ErrSegmentLength = errors.New("segment length does not match chunk size")

	// ErrNotCompleting is returned when segments are inserted outside the completing state.
	ErrNotCompleting = errors.New("assembler is not accepting segments")

	// ErrInvalidStateTransition is returned when an assembler operation is not valid in its current state.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrInvalidChunkSize is returned when a chunk size is not positive or is out of the configured bounds.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidMetaInfo is returned when meta info and segment count disagree.
	ErrInvalidMetaInfo = errors.New("invalid file meta info")

	// ErrSizeMismatch is returned when the reassembled length differs from the announced size.
	ErrSizeMismatch = errors.New("reassembled size mismatch")

	// ErrChecksumMismatch is returned when the reassembled bytes fail checksum verification.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrRangeOutOfBounds is returned by byte sources for reads past the end of the data.
	ErrRangeOutOfBounds = errors.New("read range out of bounds")

	// ErrUnknownMessageType is returned when decoding a message with an unrecognised type.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrInvalidConfiguration is returned when configuration validation fails.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)
