package epglink

import (
	"fmt"
	"sort"
	"strings"

	"github.com/snapetech/iptvguide/internal/guide"
	"github.com/snapetech/iptvguide/internal/playlist"
)

type ChannelMatch struct {
	Name       string `json:"name"`
	TVGID      string `json:"tvg_id,omitempty"`
	TVGName    string `json:"tvg_name,omitempty"`
	Normalized string `json:"normalized_name,omitempty"`
	Matched    bool   `json:"matched"`
	GuideID    string `json:"guide_id,omitempty"`
	GuideName  string `json:"guide_name,omitempty"`
	Method     Method `json:"method,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type Report struct {
	TotalChannels int            `json:"total_channels"`
	Matched       int            `json:"matched"`
	Unmatched     int            `json:"unmatched"`
	Methods       map[string]int `json:"methods"`
	Rows          []ChannelMatch `json:"rows"`
}

// MatchReport resolves every playlist channel and tallies the outcome.
// Rows are ordered matched first, then by name.
func MatchReport(channels []playlist.Channel, g *guide.Guide, m Matcher) Report {
	rep := Report{
		TotalChannels: len(channels),
		Methods:       map[string]int{},
		Rows:          make([]ChannelMatch, 0, len(channels)),
	}
	for _, pc := range channels {
		row := ChannelMatch{
			Name:       pc.Name,
			TVGID:      pc.TVGID,
			TVGName:    pc.TVGName,
			Normalized: NormalizeName(pc.Name),
		}
		if ch, method, ok := m.Resolve(pc, g); ok {
			row.Matched, row.GuideID, row.GuideName, row.Method = true, ch.ID, ch.Name, method
			rep.Matched++
			rep.Methods[string(method)]++
		} else if pc.TVGID == "" && row.Normalized == "" && NormalizeName(pc.TVGName) == "" {
			row.Reason = "no identifiers"
		} else {
			row.Reason = "no match"
		}
		rep.Rows = append(rep.Rows, row)
	}
	rep.Unmatched = rep.TotalChannels - rep.Matched
	sort.SliceStable(rep.Rows, func(i, j int) bool {
		if rep.Rows[i].Matched != rep.Rows[j].Matched {
			return rep.Rows[i].Matched
		}
		return strings.ToLower(rep.Rows[i].Name) < strings.ToLower(rep.Rows[j].Name)
	})
	return rep
}

func (r Report) UnmatchedRows() []ChannelMatch {
	out := make([]ChannelMatch, 0, r.Unmatched)
	for _, row := range r.Rows {
		if !row.Matched {
			out = append(out, row)
		}
	}
	return out
}

func (r Report) SummaryString() string {
	methods := make([]string, 0, len(r.Methods))
	for k := range r.Methods {
		methods = append(methods, k)
	}
	sort.Strings(methods)
	var b strings.Builder
	fmt.Fprintf(&b, "EPG matches: %d/%d (%.1f%%)", r.Matched, r.TotalChannels, pct(r.Matched, r.TotalChannels))
	if len(methods) > 0 {
		b.WriteString(" [")
		for i, k := range methods {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%d", k, r.Methods[k])
		}
		b.WriteString("]")
	}
	return b.String()
}

func pct(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) * 100 / float64(b)
}
