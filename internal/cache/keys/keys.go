// Package keys builds the shared-tier cache keys for rendered tiles.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/model"
)

const prefix = "tile"

// Style captures every render setting that changes the encoded bytes. Two
// servers with different styles must not share tiles.
type Style struct {
	Size  int
	Alpha uint8
	Crop  bool
}

// Fingerprint is a stable 64-bit digest of the style.
func (s Style) Fingerprint() uint64 {
	return xxhash.Sum64String(fmt.Sprintf("size=%d;alpha=%d;crop=%t", s.Size, s.Alpha, s.Crop))
}

// Key returns "tile:<pollutant>:<z>:<x>:<y>:s=<hex64>".
func Key(pollutant string, a model.TileAddress, st Style) string {
	return fmt.Sprintf("%s:%s:%d:%d:%d:s=%016x",
		prefix, sanitizePollutant(pollutant), a.Z, a.X, a.Y, st.Fingerprint())
}

// Pattern matches every key of a pollutant regardless of style.
func Pattern(pollutant string) string {
	return fmt.Sprintf("%s:%s:*", prefix, sanitizePollutant(pollutant))
}

func sanitizePollutant(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := '-'
		if isAlphaNum(r) || r == '_' {
			out = r
		}
		if out == '-' && out == prev {
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
