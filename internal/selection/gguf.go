package selection

import (
	"sort"
	"strings"

	"github.com/modzoo/hubfetch/internal/download"
)

// quantScale orders GGUF quantization levels from lowest to highest fidelity.
// The position in this slice is the quality tier.
var quantScale = []string{
	"Q2_K",
	"Q3_K_S",
	"Q3_K_M",
	"Q3_K_L",
	"Q4_0",
	"Q4_K_S",
	"Q4_K_M",
	"Q5_0",
	"Q5_K_S",
	"Q5_K_M",
	"Q6_K",
	"Q8_0",
	"F16",
	"F32",
}

// quantTokensBySpecificity holds the scale sorted longest-token-first so that
// "Q4_K_M" is recognized before its prefix "Q4_0"-style siblings.
var quantTokensBySpecificity = func() []string {
	tokens := make([]string, len(quantScale))
	copy(tokens, quantScale)
	sort.Slice(tokens, func(i, j int) bool { return len(tokens[i]) > len(tokens[j]) })

	return tokens
}()

// GGUFSelector picks exactly one quantized-weights file: the highest
// quantization tier that fits the device memory budget, falling back tier by
// tier when the preferred one is too large.
type GGUFSelector struct{}

func NewGGUFSelector() *GGUFSelector {
	return &GGUFSelector{}
}

// Select implements Selector. With an explicit filename override the match is
// exact-or-nothing; otherwise the best fitting tier wins, ties broken toward
// the larger (higher fidelity) file.
func (s *GGUFSelector) Select(files []download.FileDescriptor, hints Hints) []download.FileDescriptor {
	candidates := dedupe(files)

	if hints.FilenameOverride != "" {
		for _, f := range candidates {
			if strings.Contains(f.Path, hints.FilenameOverride) {
				return []download.FileDescriptor{f}
			}
		}

		return nil
	}

	byTier := make(map[int][]download.FileDescriptor)

	for _, f := range candidates {
		if !strings.HasSuffix(strings.ToLower(f.Path), ".gguf") {
			continue
		}

		tier, ok := quantTier(f.Path)
		if !ok {
			continue
		}

		byTier[tier] = append(byTier[tier], f)
	}

	// Walk tiers from highest fidelity down, taking the first tier with a
	// file that fits the budget.
	for tier := len(quantScale) - 1; tier >= 0; tier-- {
		best, ok := bestFit(byTier[tier], hints.AvailableMemory)
		if ok {
			return []download.FileDescriptor{best}
		}
	}

	return nil
}

// bestFit returns the largest file within budget. An unconstrained budget
// admits everything.
func bestFit(files []download.FileDescriptor, budget int64) (download.FileDescriptor, bool) {
	var best download.FileDescriptor

	found := false

	for _, f := range files {
		if budget > 0 && f.Size > budget {
			continue
		}

		if !found || f.Size > best.Size {
			best = f
			found = true
		}
	}

	return best, found
}

// quantTier extracts the quantization tier from a filename. Returns false when
// no token of the scale appears.
func quantTier(path string) (int, bool) {
	upper := strings.ToUpper(path)

	for _, token := range quantTokensBySpecificity {
		if !containsToken(upper, token) {
			continue
		}

		for i, t := range quantScale {
			if t == token {
				return i, true
			}
		}
	}

	return 0, false
}

// containsToken matches a quant token bounded by non-identifier runes, so
// "Q4_K_M" in "llama-7b.Q4_K_M.gguf" matches but "Q4_K" inside "Q4_K_M" does
// not produce a spurious standalone match.
func containsToken(upper, token string) bool {
	for start := 0; ; {
		i := strings.Index(upper[start:], token)
		if i < 0 {
			return false
		}

		i += start
		end := i + len(token)

		leftOK := i == 0 || isBoundary(upper[i-1])
		rightOK := end == len(upper) || isBoundary(upper[end])

		if leftOK && rightOK {
			return true
		}

		start = i + 1
	}
}

func isBoundary(c byte) bool {
	return !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_')
}
