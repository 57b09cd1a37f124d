package zarr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks an invalid array configuration: bad shape, chunks, data
	// type, fill value or compressor parameters
	ErrConfig = errors.New("invalid array configuration")
	// ErrFormat marks persisted metadata that is missing, unreadable or declares
	// an unsupported format version
	ErrFormat = errors.New("invalid zarr format")
	// ErrRange marks a region outside the array bounds, a rank mismatch or a
	// buffer that does not fit the requested region
	ErrRange = errors.New("region out of range")
	// ErrCodec marks chunk bytes that could not be decompressed or decoded
	ErrCodec = errors.New("chunk codec failure")
	// ErrIO marks a failure of the backing store
	ErrIO = errors.New("store i/o failure")
	// ErrReadOnly is returned by writes to an array opened with ModeRead
	ErrReadOnly = errors.New("array is read-only")
)

// FormatError reports metadata declaring a zarr_format other than 2. Version
// holds the raw decoded value, nil when the field is missing.
type FormatError struct {
	Key     string
	Version interface{}
}

func (e *FormatError) Error() string {
	if e.Version == nil {
		return fmt.Sprintf("%s: zarr format %d expected but is missing", e.Key, ZarrFormat)
	}
	return fmt.Sprintf("%s: zarr format %d expected but is '%v'", e.Key, ZarrFormat, e.Version)
}

// Is makes every FormatError match ErrFormat
func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// ioError marks err as a store failure while keeping it inspectable
func ioError(err error) error {
	return fmt.Errorf("%w: %w", ErrIO, err)
}
