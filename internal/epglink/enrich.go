package epglink

import (
	"github.com/snapetech/iptvguide/internal/guide"
	"github.com/snapetech/iptvguide/internal/playlist"
)

// LogoLookup is a read-only name -> icon table.
type LogoLookup interface {
	Logo(name string) (string, bool)
}

// Enrichment is the result of EnrichLogos. Channels is a copy of the input
// with logos filled in; Gained lists the indexes that got one.
type Enrichment struct {
	Channels []playlist.Channel
	Gained   []int
}

// GainedChannels returns the subset of channels that gained a logo.
func (e Enrichment) GainedChannels() []playlist.Channel {
	out := make([]playlist.Channel, 0, len(e.Gained))
	for _, i := range e.Gained {
		out = append(out, e.Channels[i])
	}
	return out
}

// EnrichLogos proposes logos for channels that have none: the matched guide
// channel's icon first, then logos (may be nil) by Name and TVGName. The input
// slice is not modified.
func EnrichLogos(channels []playlist.Channel, g *guide.Guide, m Matcher, logos LogoLookup) Enrichment {
	out := Enrichment{Channels: append([]playlist.Channel(nil), channels...)}
	for i := range out.Channels {
		pc := &out.Channels[i]
		if pc.Logo != "" {
			continue
		}
		if ch, _, ok := m.Resolve(*pc, g); ok && ch.Icon != "" {
			pc.Logo = ch.Icon
			out.Gained = append(out.Gained, i)
			continue
		}
		if logos == nil {
			continue
		}
		for _, name := range []string{pc.Name, pc.TVGName} {
			if name == "" {
				continue
			}
			if logo, ok := logos.Logo(name); ok {
				pc.Logo = logo
				out.Gained = append(out.Gained, i)
				break
			}
		}
	}
	return out
}
