package selection

import (
	"testing"

	"github.com/modzoo/hubfetch/internal/download"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coremlListing() []download.FileDescriptor {
	return []download.FileDescriptor{
		{Path: "README.md", Size: 2048},
		{Path: "LICENSE", Size: 1024},
		{Path: ".gitattributes", Size: 128},
		{Path: "config.json", Size: 512},
		{Path: "tokenizer.json", Size: 2 * 1024 * 1024},
		{Path: "split_einsum/Model.mlmodelc.zip", Size: 900 * 1024 * 1024},
		{Path: "split_einsum/Model.mlpackage/Manifest.json", Size: 4096},
		{Path: "split_einsum/Model.mlpackage/Data/weights.bin", Size: 950 * 1024 * 1024},
		{Path: "original/Model.mlmodelc.zip", Size: 1100 * 1024 * 1024},
		{Path: "original/Model.mlpackage/Manifest.json", Size: 4096},
	}
}

func paths(files []download.FileDescriptor) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Path)
	}

	return out
}

func TestCoreMLSelect_PrefersPreferredVariantCompiledArchive(t *testing.T) {
	s := NewCoreMLSelector()

	got := s.Select(coremlListing(), Hints{})
	require.NotEmpty(t, got)

	assert.Contains(t, paths(got), "split_einsum/Model.mlmodelc.zip")
	assert.NotContains(t, paths(got), "original/Model.mlmodelc.zip")
	assert.NotContains(t, paths(got), "split_einsum/Model.mlpackage/Data/weights.bin")
}

func TestCoreMLSelect_ExactlyOneWeightsArtifact(t *testing.T) {
	s := NewCoreMLSelector()

	got := s.Select(coremlListing(), Hints{})

	archives := 0
	for _, p := range paths(got) {
		if p == "split_einsum/Model.mlmodelc.zip" || p == "original/Model.mlmodelc.zip" {
			archives++
		}
	}

	assert.Equal(t, 1, archives)
}

func TestCoreMLSelect_FallbackVariantWhenPreferredAbsent(t *testing.T) {
	s := NewCoreMLSelector()

	files := []download.FileDescriptor{
		{Path: "original/Model.mlmodelc.zip", Size: 1100 * 1024 * 1024},
		{Path: "config.json", Size: 512},
	}

	got := s.Select(files, Hints{})
	assert.ElementsMatch(t, []string{"original/Model.mlmodelc.zip", "config.json"}, paths(got))
}

func TestCoreMLSelect_PackageFormWhenNoArchive(t *testing.T) {
	s := NewCoreMLSelector()

	files := []download.FileDescriptor{
		{Path: "split_einsum/Model.mlpackage/Manifest.json", Size: 4096},
		{Path: "split_einsum/Model.mlpackage/Data/weights.bin", Size: 950 * 1024 * 1024},
		{Path: "original/Model.mlmodelc.zip", Size: 1100 * 1024 * 1024},
	}

	// The preferred variant exists (package form only), so the fallback
	// variant's archive must not be chosen.
	got := s.Select(files, Hints{})
	assert.ElementsMatch(t, []string{
		"split_einsum/Model.mlpackage/Manifest.json",
		"split_einsum/Model.mlpackage/Data/weights.bin",
	}, paths(got))
}

func TestCoreMLSelect_LegacyRootLayout(t *testing.T) {
	s := NewCoreMLSelector()

	files := []download.FileDescriptor{
		{Path: "Model.mlmodelc.zip", Size: 800 * 1024 * 1024},
		{Path: "tokenizer.json", Size: 1024},
	}

	got := s.Select(files, Hints{})
	assert.ElementsMatch(t, []string{"Model.mlmodelc.zip", "tokenizer.json"}, paths(got))
}

func TestCoreMLSelect_MetadataAllowListIncluded(t *testing.T) {
	s := NewCoreMLSelector()

	got := paths(s.Select(coremlListing(), Hints{}))
	assert.Contains(t, got, "config.json")
	assert.Contains(t, got, "tokenizer.json")
}

func TestCoreMLSelect_NeverSelectsDocsOrVCSFiles(t *testing.T) {
	s := NewCoreMLSelector()

	got := paths(s.Select(coremlListing(), Hints{}))
	assert.NotContains(t, got, "README.md")
	assert.NotContains(t, got, "LICENSE")
	assert.NotContains(t, got, ".gitattributes")
}

func TestCoreMLSelect_EmptyAndUnrecognizableInput(t *testing.T) {
	s := NewCoreMLSelector()

	assert.Empty(t, s.Select(nil, Hints{}))

	// Metadata without a weights artifact is not a usable model.
	files := []download.FileDescriptor{
		{Path: "config.json", Size: 512},
		{Path: "README.md", Size: 2048},
	}
	assert.Empty(t, s.Select(files, Hints{}))
}
