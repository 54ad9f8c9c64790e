package selection

import (
	"testing"

	"github.com/modzoo/hubfetch/internal/download"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gib = int64(1024 * 1024 * 1024)

func ggufListing() []download.FileDescriptor {
	return []download.FileDescriptor{
		{Path: "llama-7b.Q2_K.gguf", Size: 2 * gib},
		{Path: "llama-7b.Q4_K_M.gguf", Size: 4 * gib},
		{Path: "llama-7b.Q6_K.gguf", Size: 5 * gib},
		{Path: "llama-7b.Q8_0.gguf", Size: 7 * gib},
		{Path: "config.json", Size: 512},
		{Path: "README.md", Size: 1024},
	}
}

func TestGGUFSelect_HighestTierWithinBudget(t *testing.T) {
	s := NewGGUFSelector()

	got := s.Select(ggufListing(), Hints{AvailableMemory: 16 * gib})
	require.Len(t, got, 1)
	assert.Equal(t, "llama-7b.Q8_0.gguf", got[0].Path)
}

func TestGGUFSelect_FallsBackWhenTooLarge(t *testing.T) {
	s := NewGGUFSelector()

	// Q8_0 (7GB) and Q6_K (5GB) don't fit; Q4_K_M (4GB) does.
	got := s.Select(ggufListing(), Hints{AvailableMemory: 4 * gib})
	require.Len(t, got, 1)
	assert.Equal(t, "llama-7b.Q4_K_M.gguf", got[0].Path)
}

func TestGGUFSelect_UnconstrainedBudgetPicksHighestTier(t *testing.T) {
	s := NewGGUFSelector()

	got := s.Select(ggufListing(), Hints{})
	require.Len(t, got, 1)
	assert.Equal(t, "llama-7b.Q8_0.gguf", got[0].Path)
}

func TestGGUFSelect_TieBrokenTowardLargerFile(t *testing.T) {
	s := NewGGUFSelector()

	files := []download.FileDescriptor{
		{Path: "a/llama.Q4_K_M.gguf", Size: 3 * gib},
		{Path: "b/llama.Q4_K_M.gguf", Size: 4 * gib},
	}

	got := s.Select(files, Hints{AvailableMemory: 8 * gib})
	require.Len(t, got, 1)
	assert.Equal(t, "b/llama.Q4_K_M.gguf", got[0].Path)
}

func TestGGUFSelect_OverrideExactMatch(t *testing.T) {
	s := NewGGUFSelector()

	got := s.Select(ggufListing(), Hints{FilenameOverride: "Q2_K"})
	require.Len(t, got, 1)
	assert.Equal(t, "llama-7b.Q2_K.gguf", got[0].Path)
}

func TestGGUFSelect_OverrideMissReturnsEmpty(t *testing.T) {
	s := NewGGUFSelector()

	// Exact-match-or-nothing: no fallback to the heuristic.
	got := s.Select(ggufListing(), Hints{FilenameOverride: "Q5_K_M"})
	assert.Empty(t, got)
}

func TestGGUFSelect_NoRecognizableQuantReturnsEmpty(t *testing.T) {
	s := NewGGUFSelector()

	files := []download.FileDescriptor{
		{Path: "model.safetensors", Size: gib},
		{Path: "config.json", Size: 512},
	}

	assert.Empty(t, s.Select(files, Hints{AvailableMemory: 8 * gib}))
	assert.Empty(t, s.Select(nil, Hints{}))
}

func TestGGUFSelect_Stable(t *testing.T) {
	s := NewGGUFSelector()
	hints := Hints{AvailableMemory: 8 * gib}

	first := s.Select(ggufListing(), hints)

	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Select(ggufListing(), hints))
	}
}

func TestQuantTier_TokenBoundaries(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"llama.Q4_K_M.gguf", "Q4_K_M"},
		{"llama.q4_k_m.gguf", "Q4_K_M"},
		{"llama-Q3_K_S-v2.gguf", "Q3_K_S"},
		{"llama.F16.gguf", "F16"},
	}

	for _, tt := range tests {
		tier, ok := quantTier(tt.path)
		require.True(t, ok, "no tier found in %q", tt.path)
		assert.Equal(t, tt.want, quantScale[tier], "path %q", tt.path)
	}
}
