package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jward/pinset/internal/req"
)

// Signature computes the canonical cache key of a lookup for r against the
// index named by identity. It covers the normalized name, the canonical
// constraint, the sorted extras, the source identity and the pre-release
// policy. Markers do not affect which candidate is selected and are
// excluded.
func Signature(r req.Requirement, prereleases bool, identity string) string {
	h := sha256.New()
	fmt.Fprintf(h, "index:%s\n", identity)
	fmt.Fprintf(h, "name:%s\n", req.NormalizeName(r.Name))
	fmt.Fprintf(h, "constraint:%s\n", r.Constraint.String())
	fmt.Fprintf(h, "extras:%s\n", strings.Join(r.Extras, ","))
	fmt.Fprintf(h, "source:%s:%s\n", r.Source.Kind, r.Source.Identity())
	fmt.Fprintf(h, "pre:%t\n", prereleases)
	return hex.EncodeToString(h.Sum(nil))
}
