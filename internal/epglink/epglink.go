// Package epglink maps loosely identified playlist channels onto guide
// channels through an ordered list of matching tiers.
package epglink

import (
	"strings"

	"github.com/snapetech/iptvguide/internal/guide"
	"github.com/snapetech/iptvguide/internal/playlist"
)

type Method string

const (
	MethodTVGIDExact     Method = "tvg_id_exact"
	MethodTVGIDFold      Method = "tvg_id_fold"
	MethodAlias          Method = "alias_exact"
	MethodNameNormalized Method = "name_normalized"
)

// minContainLen is the normalized length both names must exceed before
// substring containment counts as a match. Keeps "tv", "hd" and friends from
// matching everything.
const minContainLen = 3

// NormalizeName lowercases s and drops everything that is not a-z or 0-9.
func NormalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Key is a playlist channel prepared for matching.
type Key struct {
	TVGID string
	Names []string // normalized Name and TVGName, empty ones dropped
}

func NewKey(pc playlist.Channel) Key {
	k := Key{TVGID: pc.TVGID}
	for _, n := range []string{pc.Name, pc.TVGName} {
		if nn := NormalizeName(n); nn != "" {
			k.Names = append(k.Names, nn)
		}
	}
	return k
}

// Tier is one matching rule. Match must be pure.
type Tier struct {
	Method Method
	Match  func(key Key, ch guide.Channel) bool
}

var (
	TierTVGIDExact = Tier{Method: MethodTVGIDExact, Match: func(k Key, ch guide.Channel) bool {
		return k.TVGID != "" && k.TVGID == ch.ID
	}}
	TierTVGIDFold = Tier{Method: MethodTVGIDFold, Match: func(k Key, ch guide.Channel) bool {
		return k.TVGID != "" && strings.EqualFold(k.TVGID, ch.ID)
	}}
	TierNameNormalized = Tier{Method: MethodNameNormalized, Match: func(k Key, ch guide.Channel) bool {
		gn := NormalizeName(ch.Name)
		if gn == "" {
			return false
		}
		for _, n := range k.Names {
			if namesMatch(n, gn) {
				return true
			}
		}
		return false
	}}
)

func namesMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if len(a) <= minContainLen || len(b) <= minContainLen {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// DefaultTiers returns exact id, case-insensitive id, then normalized name.
func DefaultTiers() []Tier {
	return []Tier{TierTVGIDExact, TierTVGIDFold, TierNameNormalized}
}

// Matcher is anything that resolves playlist channels against a guide.
// Resolver and *CachedResolver both qualify.
type Matcher interface {
	Resolve(pc playlist.Channel, g *guide.Guide) (guide.Channel, Method, bool)
}

// Resolver tries Tiers in order; the first tier with any hit wins, and within
// a tier the first guide channel in document order wins.
type Resolver struct {
	Tiers []Tier
}

func NewResolver() Resolver { return Resolver{Tiers: DefaultTiers()} }

// WithAliases returns a copy of r with an alias tier inserted before the
// normalized-name tier.
func (r Resolver) WithAliases(a AliasOverrides) Resolver {
	if len(a.NameToGuideID) == 0 {
		return r
	}
	alias := a.Tier()
	out := Resolver{Tiers: make([]Tier, 0, len(r.Tiers)+1)}
	inserted := false
	for _, t := range r.Tiers {
		if !inserted && t.Method == MethodNameNormalized {
			out.Tiers = append(out.Tiers, alias)
			inserted = true
		}
		out.Tiers = append(out.Tiers, t)
	}
	if !inserted {
		out.Tiers = append(out.Tiers, alias)
	}
	return out
}

func (r Resolver) Resolve(pc playlist.Channel, g *guide.Guide) (guide.Channel, Method, bool) {
	if g == nil {
		return guide.Channel{}, "", false
	}
	key := NewKey(pc)
	for _, t := range r.Tiers {
		var hit guide.Channel
		found := false
		g.Range(func(ch guide.Channel) bool {
			if t.Match(key, ch) {
				hit, found = ch, true
				return false
			}
			return true
		})
		if found {
			return hit, t.Method, true
		}
	}
	return guide.Channel{}, "", false
}

var defaultResolver = NewResolver()

// Resolve uses the default tiers.
func Resolve(pc playlist.Channel, g *guide.Guide) (guide.Channel, bool) {
	ch, _, ok := defaultResolver.Resolve(pc, g)
	return ch, ok
}
