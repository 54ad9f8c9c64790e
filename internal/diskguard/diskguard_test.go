package diskguard

import (
	"errors"
	"testing"

	"github.com/modzoo/hubfetch/internal/download"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCapacity_Fits(t *testing.T) {
	selection := []download.FileDescriptor{
		{Path: "weights.gguf", Size: 2 << 30},
		{Path: "config.json", Size: 512},
	}

	assert.NoError(t, EnsureCapacity(selection, 8<<30))
}

func TestEnsureCapacity_Insufficient(t *testing.T) {
	selection := []download.FileDescriptor{
		{Path: "weights.gguf", Size: 7 << 30},
	}

	err := EnsureCapacity(selection, 4<<30)
	require.Error(t, err)

	var insufficient *download.InsufficientStorageError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(7<<30), insufficient.Required)
	assert.Equal(t, int64(4<<30), insufficient.Available)
	assert.False(t, download.IsRetryable(err))
}

func TestRequired_UnknownSizesCountedConservatively(t *testing.T) {
	selection := []download.FileDescriptor{
		{Path: "weights.gguf"}, // size unreported by the hub
		{Path: "config.json", Size: 512},
	}

	assert.Equal(t, int64(unknownSizeEstimate+512), Required(selection))
}

func TestEnsureCapacity_EmptySelection(t *testing.T) {
	assert.NoError(t, EnsureCapacity(nil, 0))
}
