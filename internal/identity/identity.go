// Package identity derives stable local identifiers from hub resource ids.
//
// The mapping is deterministic: the same resource id yields the same identity
// across processes and machines, so concurrent callers and restarted services
// always agree on scratch directories and catalog keys.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// namespace keeps digests distinct from any other sha256 use of the same input.
const namespace = "hubfetch.model.v1:"

const digestLen = 12

// Resolver maps resource ids to identities. The zero value is ready to use.
type Resolver struct {
	mu    sync.Mutex
	cache map[string]string
}

// NewResolver returns a Resolver with a warm cache.
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]string)}
}

// Resolve returns the identity for resourceID. The result is a sanitized slug
// of the resource id joined with a truncated namespaced sha256 digest, e.g.
// "acme/llama-7b" -> "acme--llama-7b-1f2e3d4c5b6a". Pure apart from caching.
func (r *Resolver) Resolve(resourceID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cache == nil {
		r.cache = make(map[string]string)
	}

	if id, ok := r.cache[resourceID]; ok {
		return id
	}

	id := slug(resourceID) + "-" + digest(resourceID)
	r.cache[resourceID] = id

	return id
}

func digest(resourceID string) string {
	sum := sha256.Sum256([]byte(namespace + resourceID))

	return hex.EncodeToString(sum[:])[:digestLen]
}

// slug flattens a resource id into a filesystem-safe name. Path separators
// become "--" so "org/model" stays readable; anything outside
// [a-zA-Z0-9._-] becomes "_".
func slug(resourceID string) string {
	var b strings.Builder

	for _, c := range resourceID {
		switch {
		case c == '/':
			b.WriteString("--")
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}

	return b.String()
}
