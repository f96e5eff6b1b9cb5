// Package dataset defines the flash-resident data set: a header followed by
// palette, keyframe, track, animation, condition, action, rule and behavior
// tables. Polymorphic categories are reached through u16 offset tables and
// begin with a one-byte type tag.
package dataset

import "errors"

var (
	ErrInvalid     = errors.New("dataset: invalid header")
	ErrIndex       = errors.New("dataset: index out of range")
	ErrTruncated   = errors.New("dataset: record truncated")
	ErrUnknownType = errors.New("dataset: unknown record type")
	ErrLayout      = errors.New("dataset: invalid layout")
)
