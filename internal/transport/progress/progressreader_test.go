package progress

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_ReportsAtInterval(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1000)

	var reports []int64

	r := NewReader(bytes.NewReader(data), 1000, 256, func(written, total int64) {
		reports = append(reports, written)
		assert.Equal(t, int64(1000), total)
	})

	n, err := io.Copy(io.Discard, r)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), n)

	require.NotEmpty(t, reports)

	// Cumulative counts never decrease and the final report covers all bytes.
	prev := int64(0)
	for _, w := range reports {
		assert.GreaterOrEqual(t, w, prev)
		prev = w
	}

	assert.Equal(t, int64(1000), reports[len(reports)-1])
}

func TestReader_FinalShortReadReported(t *testing.T) {
	data := []byte("abc")

	var last int64

	r := NewReader(bytes.NewReader(data), 3, 1024, func(written, total int64) {
		last = written
	})

	_, err := io.Copy(io.Discard, r)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}
