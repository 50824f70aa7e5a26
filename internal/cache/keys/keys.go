// Package keys builds byte-cache keys for layer bodies.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/itogeo/hometownmap/internal/core/model"
)

// Layer returns the byte-cache key for a (tenant, layer) pair. The
// human-readable parts are sanitized so keys stay grep-able in Redis;
// the xxhash suffix keeps distinct raw ids from colliding after
// sanitization.
func Layer(tenant model.TenantID, layer model.LayerID) string {
	rawT := strings.TrimSpace(string(tenant))
	rawL := strings.TrimSpace(string(layer))
	sum := xxhash.Sum64String(rawT + "/" + rawL)
	return fmt.Sprintf("layer:%s:%s:%016x", sanitize(rawT), sanitize(rawL), sum)
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
