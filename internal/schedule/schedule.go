// Package schedule answers point-in-time and window queries over one
// channel's programme list.
//
// Every function assumes the list is sorted by start (guide.Parse guarantees
// this). Lists are small (a day or a week of one channel) so the scans are
// linear. Overlapping programmes are not repaired: the first programme in
// start order that satisfies a query wins.
package schedule

import (
	"iter"
	"time"

	"github.com/snapetech/iptvguide/internal/guide"
)

// Current returns the first programme with start <= now < stop.
func Current(programs []guide.Program, now time.Time) (guide.Program, bool) {
	for _, p := range programs {
		if p.Start.After(now) {
			break
		}
		if now.Before(p.Stop) {
			return p, true
		}
	}
	return guide.Program{}, false
}

// Next returns the first programme starting strictly after now.
func Next(programs []guide.Program, now time.Time) (guide.Program, bool) {
	for _, p := range programs {
		if p.Start.After(now) {
			return p, true
		}
	}
	return guide.Program{}, false
}

// Progress returns how far now is through p as a percentage in [0,100].
// A programme with stop <= start reports 0.
func Progress(p guide.Program, now time.Time) float64 {
	total := p.Stop.Sub(p.Start)
	if total <= 0 {
		return 0
	}
	elapsed := now.Sub(p.Start)
	switch {
	case elapsed <= 0:
		return 0
	case elapsed >= total:
		return 100
	}
	return float64(elapsed) / float64(total) * 100
}

// Slot is a programme intersecting a window, with start/stop clipped to it.
type Slot struct {
	guide.Program
	ClipStart time.Time `json:"clip_start"`
	ClipStop  time.Time `json:"clip_stop"`
}

// Width returns the clipped duration, used for timeline layout.
func (s Slot) Width() time.Duration { return s.ClipStop.Sub(s.ClipStart) }

// Window yields every programme whose [start,stop) intersects [from,to).
// The sequence is lazy and may be ranged over any number of times.
func Window(programs []guide.Program, from, to time.Time) iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		if !from.Before(to) {
			return
		}
		for _, p := range programs {
			if !p.Start.Before(to) {
				return
			}
			if !p.Stop.After(from) {
				continue
			}
			s := Slot{Program: p, ClipStart: p.Start, ClipStop: p.Stop}
			if s.ClipStart.Before(from) {
				s.ClipStart = from
			}
			if s.ClipStop.After(to) {
				s.ClipStop = to
			}
			if !yield(s) {
				return
			}
		}
	}
}

// Collect drains a Window into a slice.
func Collect(seq iter.Seq[Slot]) []Slot {
	var out []Slot
	for s := range seq {
		out = append(out, s)
	}
	return out
}

// NowNext bundles what a channel card needs on each render tick.
type NowNext struct {
	Current  *guide.Program `json:"current,omitempty"`
	Next     *guide.Program `json:"next,omitempty"`
	Progress float64        `json:"progress"`
}

// At computes NowNext for now.
func At(programs []guide.Program, now time.Time) NowNext {
	var nn NowNext
	if cur, ok := Current(programs, now); ok {
		nn.Current = &cur
		nn.Progress = Progress(cur, now)
	}
	if nxt, ok := Next(programs, now); ok {
		nn.Next = &nxt
	}
	return nn
}
