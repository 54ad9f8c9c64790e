package selection

import (
	"strings"

	"github.com/modzoo/hubfetch/internal/download"
)

const (
	preferredVariant = "split_einsum"
	fallbackVariant  = "original"

	compiledSuffix = ".mlmodelc.zip"
	packageMarker  = ".mlpackage"
)

// metadataAllowList are the exact root-level paths always included alongside
// the weights artifact when the repository carries them.
var metadataAllowList = []string{
	"config.json",
	"generation_config.json",
	"tokenizer.json",
	"tokenizer_config.json",
	"special_tokens_map.json",
	"vocab.json",
	"merges.txt",
	"model.safetensors.index.json",
}

// CoreMLSelector picks exactly one packaged-model artifact. Repositories lay
// variants out in directories (split_einsum preferred over original), each
// holding a compiled archive and/or an uncompiled .mlpackage; some older
// repositories keep the artifact at the root instead.
type CoreMLSelector struct{}

func NewCoreMLSelector() *CoreMLSelector {
	return &CoreMLSelector{}
}

// Select implements Selector. The weights artifact comes first, then the
// allow-listed metadata files in listing order. Documentation, license and
// VCS files are never selected.
func (s *CoreMLSelector) Select(files []download.FileDescriptor, _ Hints) []download.FileDescriptor {
	candidates := dedupe(files)

	artifact := weightsArtifact(candidates, preferredVariant)
	if artifact == nil {
		artifact = weightsArtifact(candidates, fallbackVariant)
	}
	if artifact == nil {
		// Legacy layout: artifact at the repository root.
		artifact = weightsArtifact(candidates, "")
	}

	if artifact == nil {
		return nil
	}

	out := artifact

	allowed := make(map[string]struct{}, len(metadataAllowList))
	for _, p := range metadataAllowList {
		allowed[p] = struct{}{}
	}

	for _, f := range candidates {
		if _, ok := allowed[f.Path]; ok {
			out = append(out, f)
		}
	}

	return dedupe(out)
}

// weightsArtifact finds the weights artifact within one variant directory
// ("" means the repository root). The compiled archive wins over the
// uncompiled package; the package form spans every file under its directory.
func weightsArtifact(files []download.FileDescriptor, variant string) []download.FileDescriptor {
	prefix := ""
	if variant != "" {
		prefix = variant + "/"
	}

	// Compiled archive first: a single zip is cheaper to fetch and ready to
	// load without an on-device compile step.
	for _, f := range files {
		if !inVariant(f.Path, prefix) {
			continue
		}

		if strings.HasSuffix(f.Path, compiledSuffix) {
			return []download.FileDescriptor{f}
		}
	}

	// Then the uncompiled package: all files under the first *.mlpackage
	// directory of this variant form one artifact.
	for _, f := range files {
		if !inVariant(f.Path, prefix) {
			continue
		}

		rel := strings.TrimPrefix(f.Path, prefix)

		i := strings.Index(rel, packageMarker+"/")
		if i < 0 {
			continue
		}

		pkgPrefix := prefix + rel[:i] + packageMarker + "/"

		var artifact []download.FileDescriptor

		for _, g := range files {
			if strings.HasPrefix(g.Path, pkgPrefix) {
				artifact = append(artifact, g)
			}
		}

		return artifact
	}

	return nil
}

// inVariant reports whether path lives directly under the variant directory.
// With an empty prefix only root-level files qualify, which keeps the legacy
// scan from stealing files that belong to a variant.
func inVariant(path, prefix string) bool {
	if prefix == "" {
		return !strings.Contains(path, "/") ||
			strings.Contains(path, packageMarker+"/") &&
				!strings.HasPrefix(path, preferredVariant+"/") &&
				!strings.HasPrefix(path, fallbackVariant+"/")
	}

	return strings.HasPrefix(path, prefix)
}
