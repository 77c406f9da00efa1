package mmrstore

import "errors"

var (
	ErrCorrupted         = errors.New("mmrstore: file length is not a multiple of the record size")
	ErrRecordSizeInvalid = errors.New("mmrstore: record size must be > 0")
	ErrOutOfRange        = errors.New("mmrstore: record index out of range")
	ErrDiscarded         = errors.New("mmrstore: operation invalid after discard")
)
