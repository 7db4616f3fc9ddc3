// Package guide holds the in-memory EPG snapshot (channels + per-channel
// programme lists) and the XMLTV parser that builds it.
//
// A Guide is immutable once built. Refreshes produce a new Guide and the old
// one is dropped; nothing is merged or patched in place.
package guide

import (
	"sort"
	"time"
)

// Channel is one <channel> declaration. ID is opaque and case-sensitive.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Icon string `json:"icon,omitempty"`
}

// Program is one <programme>. Optional text fields use "" for absent.
type Program struct {
	ChannelID   string    `json:"channel_id"`
	Title       string    `json:"title"`
	SubTitle    string    `json:"sub_title,omitempty"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"` // first category
	Categories  []string  `json:"categories,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	Episode     string    `json:"episode,omitempty"`
	Rating      string    `json:"rating,omitempty"`
	Start       time.Time `json:"start"`
	Stop        time.Time `json:"stop"`
}

// Duration returns Stop-Start (may be <= 0 for degenerate programmes).
func (p Program) Duration() time.Duration { return p.Stop.Sub(p.Start) }

// Guide is a parsed EPG snapshot.
type Guide struct {
	channels map[string]Channel
	programs map[string][]Program
	order    []string // channel ids in document order

	// Skipped counts programmes dropped because start/stop could not be decoded.
	Skipped  int
	ParsedAt time.Time
}

// Channel returns the channel declared with id.
func (g *Guide) Channel(id string) (Channel, bool) {
	if g == nil {
		return Channel{}, false
	}
	ch, ok := g.channels[id]
	return ch, ok
}

// Channels returns all channels in document order. The slice is a copy.
func (g *Guide) Channels() []Channel {
	if g == nil {
		return nil
	}
	out := make([]Channel, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.channels[id])
	}
	return out
}

// ChannelIDs returns channel ids in document order.
func (g *Guide) ChannelIDs() []string {
	if g == nil {
		return nil
	}
	return append([]string(nil), g.order...)
}

// Programs returns the start-sorted programmes for channel id. Callers must
// not modify the returned slice.
func (g *Guide) Programs(id string) []Program {
	if g == nil {
		return nil
	}
	return g.programs[id]
}

// Range calls fn for each channel in document order until fn returns false.
func (g *Guide) Range(fn func(Channel) bool) {
	if g == nil {
		return
	}
	for _, id := range g.order {
		if !fn(g.channels[id]) {
			return
		}
	}
}

func (g *Guide) ChannelCount() int {
	if g == nil {
		return 0
	}
	return len(g.order)
}

func (g *Guide) ProgramCount() int {
	if g == nil {
		return 0
	}
	n := 0
	for _, ps := range g.programs {
		n += len(ps)
	}
	return n
}

// Builder accumulates channels and programmes and produces a sorted Guide.
// Not safe for concurrent use.
type Builder struct {
	g *Guide
}

func NewBuilder() *Builder {
	return &Builder{g: &Guide{
		channels: make(map[string]Channel),
		programs: make(map[string][]Program),
	}}
}

// AddChannel records ch. The first declaration of an id wins.
func (b *Builder) AddChannel(ch Channel) bool {
	if ch.ID == "" {
		return false
	}
	if _, dup := b.g.channels[ch.ID]; dup {
		return false
	}
	b.g.channels[ch.ID] = ch
	b.g.order = append(b.g.order, ch.ID)
	return true
}

// AddProgram appends p to its channel's list. Programmes may reference
// channels that were never declared.
func (b *Builder) AddProgram(p Program) {
	b.g.programs[p.ChannelID] = append(b.g.programs[p.ChannelID], p)
}

func (b *Builder) skip() { b.g.Skipped++ }

// Build sorts every channel's programmes by start (stable, so equal starts keep
// document order) and returns the finished Guide. The Builder must not be
// reused afterwards.
func (b *Builder) Build() *Guide {
	g := b.g
	for id := range g.programs {
		ps := g.programs[id]
		sort.SliceStable(ps, func(i, j int) bool { return ps[i].Start.Before(ps[j].Start) })
	}
	g.ParsedAt = time.Now().UTC()
	b.g = nil
	return g
}

func (b *Builder) empty() bool {
	return len(b.g.channels) == 0 && len(b.g.programs) == 0
}
