// Package diskguard validates that a file selection fits on disk before any
// byte is transferred.
package diskguard

import (
	"github.com/modzoo/hubfetch/internal/download"
)

// unknownSizeEstimate is charged for files the hub reported no size for.
// Erring high keeps a selection of unknown-size files from passing the gate
// and failing mid-transfer instead.
const unknownSizeEstimate = 512 * 1024 * 1024

// Required returns the bytes the selection needs on disk.
func Required(selection []download.FileDescriptor) int64 {
	var total int64

	for _, f := range selection {
		if f.SizeKnown() {
			total += f.Size
		} else {
			total += unknownSizeEstimate
		}
	}

	return total
}

// EnsureCapacity returns an InsufficientStorageError when the selection does
// not fit within availableBytes. It must run strictly before the transfer
// starts.
func EnsureCapacity(selection []download.FileDescriptor, availableBytes int64) error {
	required := Required(selection)

	if required > availableBytes {
		return &download.InsufficientStorageError{
			Required:  required,
			Available: availableBytes,
		}
	}

	return nil
}
