package selection

import (
	"path"

	"github.com/modzoo/hubfetch/internal/download"
)

// PatternSelector filters the listing by suffix globs matched against file
// basenames. Unlike the specialized strategies it has no single-artifact
// constraint: every matching file is selected.
type PatternSelector struct {
	patterns []string
}

func NewPatternSelector(patterns []string) *PatternSelector {
	return &PatternSelector{patterns: patterns}
}

// Select implements Selector.
func (s *PatternSelector) Select(files []download.FileDescriptor, _ Hints) []download.FileDescriptor {
	var out []download.FileDescriptor

	for _, f := range dedupe(files) {
		base := path.Base(f.Path)

		for _, pattern := range s.patterns {
			if ok, err := path.Match(pattern, base); err == nil && ok {
				out = append(out, f)

				break
			}
		}
	}

	return out
}

// defaultPatterns maps a backend to the suffix globs of its usual artifact
// layout. Unknown backends fetch the common tensor and tokenizer files.
func defaultPatterns(backend download.Backend) []string {
	switch backend {
	case download.BackendMLX:
		return []string{"*.safetensors", "*.json", "*.txt", "*.model"}
	case download.BackendONNX:
		return []string{"*.onnx", "*.onnx_data", "*.json", "*.txt"}
	default:
		return []string{"*.safetensors", "*.bin", "*.json", "*.txt", "*.model"}
	}
}
